package lead

import (
	"net/mail"
	"net/url"
	"strings"
)

// Tier is the billing category for a record, ordered from most to least
// valuable. Tier is a pure function of the record's fields.
type Tier string

const (
	TierDecisionMaker Tier = "decision_maker"
	TierOutreachReady Tier = "outreach_ready"
	TierEventVerified Tier = "event_verified"
	TierNotBillable   Tier = "not_billable"
)

// tierPriceCents holds the per-lead price in cents for each billable tier.
var tierPriceCents = map[Tier]int{
	TierDecisionMaker: 175,
	TierOutreachReady: 125,
	TierEventVerified: 75,
	TierNotBillable:   0,
}

// PriceCents returns the charge in cents for a tier. Unknown tiers price at 0.
func PriceCents(t Tier) int {
	return tierPriceCents[t]
}

// Classify derives the billing tier and price from a record. The decision
// table is evaluated top-down, first match wins:
//
//  1. event_title, event_date, and a valid http(s) event_url must ALL be
//     present, otherwise the lead is not billable at all.
//  2. valid contact_email and non-empty contact_name → decision_maker.
//  3. valid contact_email only → outreach_ready.
//  4. otherwise → event_verified.
func Classify(r Record) (Tier, int) {
	if r.EventTitle == "" || r.EventDate == "" || !ValidURL(r.EventURL) {
		return TierNotBillable, 0
	}
	if ValidEmail(r.ContactEmail) {
		if r.ContactName != "" {
			return TierDecisionMaker, tierPriceCents[TierDecisionMaker]
		}
		return TierOutreachReady, tierPriceCents[TierOutreachReady]
	}
	return TierEventVerified, tierPriceCents[TierEventVerified]
}

// MissingFields lists the record's empty fields in follow-up priority
// order: billing-relevant fields first, then completeness fields.
func MissingFields(r Record) []string {
	checks := []struct {
		name  string
		value string
	}{
		{"event_url", r.EventURL},
		{"contact_email", r.ContactEmail},
		{"event_date", r.EventDate},
		{"auction_type", r.AuctionType},
		{"contact_role", r.ContactRole},
		{"organization_address", r.OrganizationAddress},
		{"organization_phone", r.OrganizationPhone},
	}

	var missing []string
	for _, c := range checks {
		if strings.TrimSpace(c.value) == "" {
			missing = append(missing, c.name)
		}
	}
	return missing
}

// ValidEmail reports whether s parses as a bare RFC 5322 address.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	// Reject display-name forms; the record should carry a bare address.
	return addr.Address == s
}

// ValidURL reports whether s is an absolute http or https URL.
func ValidURL(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
