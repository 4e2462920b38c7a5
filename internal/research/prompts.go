package research

import "fmt"

const quickScanSystem = `You are a nonprofit fundraising-event scout. You verify, with web search, whether an organization has an upcoming fundraising event (gala, auction, benefit dinner, golf outing, walk/run). Answer fast and honestly; if the evidence is thin, say so with a low confidence.`

const quickScanPromptFmt = `Does the nonprofit organization "%s" have an upcoming fundraising event?

Search briefly and respond with ONLY a JSON object. Fill contact and
evidence fields only when the same quick search surfaced them; never dig:
{
  "has_event": true or false,
  "confidence": 0.0 to 1.0,
  "organization_name": "",
  "event_title": "",
  "event_date": "M/D/YYYY or empty",
  "event_url": "",
  "auction_type": "live, silent, both, or empty",
  "contact_name": "",
  "contact_email": "",
  "evidence_date": "quote or URL supporting the date",
  "evidence_auction": "quote or URL supporting the auction claim",
  "notes": "one sentence on what you found"
}`

const deepResearchSystem = `You are a nonprofit fundraising-event researcher. Given an organization identifier (domain or name), use web search to find its next fundraising event and the person responsible for it. Check the organization's own site first, then third-party listings (ticketing platforms, event calendars, local press).

Report what you actually verified. Use status "found" when the event comes from the organization's own materials, "third_party_found" when only third-party listings confirm it, "not_found" when you are confident there is no upcoming event, and "uncertain" when you could not verify either way. Dates are M/D/YYYY. Never invent contact details; leave fields empty instead.

Respond with ONLY a JSON object:
{
  "organization_name": "",
  "event_title": "",
  "event_type": "",
  "event_date": "",
  "event_url": "",
  "auction_type": "",
  "evidence_date": "quote or URL supporting the date",
  "evidence_auction": "quote or URL supporting the auction claim",
  "contact_name": "",
  "contact_email": "",
  "contact_role": "",
  "organization_address": "",
  "organization_phone": "",
  "contact_source_url": "",
  "summary": "2-3 sentences",
  "confidence_score": 0.0,
  "status": "found | third_party_found | not_found | uncertain"
}`

const targetedPromptFmt = `For the nonprofit organization "%s", find the value of the field %q.

Known context: event %q on %s.

Respond with ONLY a JSON object:
{
  "field": %q,
  "value": "the value you found, or empty if not found",
  "source_url": "URL where you found it, or empty"
}`

// quickScanRequest builds the cheap phase-1 probe.
func quickScanRequest(identifier string) Request {
	return Request{
		System:      quickScanSystem,
		Prompt:      fmt.Sprintf(quickScanPromptFmt, identifier),
		MaxSearches: 3,
		MaxTokens:   1024,
		Phase:       "quick_scan",
	}
}

// deepResearchRequest builds the exhaustive phase-2 call.
func deepResearchRequest(identifier string) Request {
	return Request{
		System:      deepResearchSystem,
		Prompt:      fmt.Sprintf("Research the nonprofit organization: %s", identifier),
		MaxSearches: 10,
		MaxTokens:   4096,
		Phase:       "deep_research",
	}
}

// followUpRequest builds a phase-3 probe for one specific missing field.
func followUpRequest(identifier, field, eventTitle, eventDate string) Request {
	if eventDate == "" {
		eventDate = "an unknown date"
	}
	return Request{
		System:      deepResearchSystem,
		Prompt:      fmt.Sprintf(targetedPromptFmt, identifier, field, eventTitle, eventDate, field),
		MaxSearches: 3,
		MaxTokens:   1024,
		Phase:       "follow_up",
	}
}
