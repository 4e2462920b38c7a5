package lead

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Status is the terminal disposition of one research attempt.
type Status string

const (
	StatusFound           Status = "found"
	StatusThirdPartyFound Status = "third_party_found"
	StatusNotFound        Status = "not_found"
	StatusUncertain       Status = "uncertain"
	StatusError           Status = "error"
)

// Record is the enrichment result for one organization identifier. All
// string fields default to "" rather than being omitted, so downstream
// consumers never have to guard against missing keys.
type Record struct {
	Identifier          string  `json:"identifier"`
	OrganizationName    string  `json:"organization_name"`
	EventTitle          string  `json:"event_title"`
	EventType           string  `json:"event_type"`
	EventDate           string  `json:"event_date"` // M/D/YYYY or empty
	EventURL            string  `json:"event_url"`
	AuctionType         string  `json:"auction_type"`
	EvidenceDate        string  `json:"evidence_date"`
	EvidenceAuction     string  `json:"evidence_auction"`
	ContactName         string  `json:"contact_name"`
	ContactEmail        string  `json:"contact_email"`
	ContactRole         string  `json:"contact_role"`
	OrganizationAddress string  `json:"organization_address"`
	OrganizationPhone   string  `json:"organization_phone"`
	ContactSourceURL    string  `json:"contact_source_url"`
	Summary             string  `json:"summary"`
	ConfidenceScore     float64 `json:"confidence_score"`
	Status              Status  `json:"status"`

	Tier        Tier       `json:"lead_tier"`
	PriceCents  int        `json:"price_cents"`
	Source      string     `json:"source,omitempty"` // "claude" or "cache"
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	APICalls    int        `json:"api_calls,omitempty"`
}

// eventDateRe matches the M/D/YYYY format produced by the research capability.
var eventDateRe = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)

// ParseEventDate parses an M/D/YYYY event date into midnight UTC of that day.
// Returns false for empty strings or anything that doesn't match the format.
func ParseEventDate(s string) (time.Time, bool) {
	m := eventDateRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// Reject normalized rollovers like 2/31.
	if t.Day() != day || t.Month() != time.Month(month) {
		return time.Time{}, false
	}
	return t, true
}

// ErrorRecord builds a terminal error record for an identifier that could
// not be researched. The summary carries the human-readable cause.
func ErrorRecord(identifier string, cause error) Record {
	return Record{
		Identifier: identifier,
		Status:     StatusError,
		Summary:    fmt.Sprintf("research failed: %v", cause),
		Tier:       TierNotBillable,
	}
}
