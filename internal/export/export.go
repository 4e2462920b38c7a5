// Package export writes finished job results as CSV, JSON, or XLSX.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/auctionintel/leadfinder/internal/lead"
)

// Columns is the stable output column order. Billing-relevant fields sit
// where downstream spreadsheet consumers expect them; do not reorder.
var Columns = []string{
	"identifier",
	"organization_name",
	"event_title",
	"evidence_date",
	"auction_type",
	"event_date",
	"event_url",
	"confidence_score",
	"evidence_auction",
	"contact_name",
	"contact_email",
	"contact_role",
	"organization_address",
	"organization_phone",
	"contact_source_url",
	"summary",
	"status",
	"lead_tier",
	"price_cents",
}

func recordRow(rec lead.Record) []string {
	return []string{
		rec.Identifier,
		rec.OrganizationName,
		rec.EventTitle,
		rec.EvidenceDate,
		rec.AuctionType,
		rec.EventDate,
		rec.EventURL,
		strconv.FormatFloat(rec.ConfidenceScore, 'f', 2, 64),
		rec.EvidenceAuction,
		rec.ContactName,
		rec.ContactEmail,
		rec.ContactRole,
		rec.OrganizationAddress,
		rec.OrganizationPhone,
		rec.ContactSourceURL,
		rec.Summary,
		string(rec.Status),
		string(rec.Tier),
		strconv.Itoa(rec.PriceCents),
	}
}

// WriteCSV writes all records with the fixed header.
func WriteCSV(w io.Writer, records []lead.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, rec := range records {
		if err := cw.Write(recordRow(rec)); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// Meta describes the job that produced the results.
type Meta struct {
	JobID             string    `json:"job_id,omitempty"`
	TotalIdentifiers  int       `json:"total_identifiers"`
	ProcessingSeconds float64   `json:"processing_time_seconds"`
	Model             string    `json:"model,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Envelope is the JSON output shape: run metadata, status tallies, then
// the records in input order.
type Envelope struct {
	Meta    Meta                `json:"meta"`
	Summary map[lead.Status]int `json:"summary"`
	Results []lead.Record       `json:"results"`
}

// WriteJSON writes the meta/summary/results envelope, indented.
func WriteJSON(w io.Writer, meta Meta, records []lead.Record) error {
	meta.TotalIdentifiers = len(records)
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}

	summary := map[lead.Status]int{
		lead.StatusFound:           0,
		lead.StatusThirdPartyFound: 0,
		lead.StatusNotFound:        0,
		lead.StatusUncertain:       0,
		lead.StatusError:           0,
	}
	for _, rec := range records {
		summary[rec.Status]++
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err := enc.Encode(Envelope{Meta: meta, Summary: summary, Results: records})
	return eris.Wrap(err, "export: encode json")
}

// WriteXLSX writes a single "Results" sheet with the fixed header row.
func WriteXLSX(w io.Writer, records []lead.Record) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Results")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range Columns {
		header.AddCell().SetString(col)
	}
	for _, rec := range records {
		row := sheet.AddRow()
		for _, val := range recordRow(rec) {
			row.AddCell().SetString(val)
		}
	}

	return eris.Wrap(f.Write(w), "export: write xlsx")
}
