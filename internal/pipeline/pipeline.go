// Package pipeline runs the three-phase enrichment for one identifier:
// quick scan, deep research, targeted follow-up. Failures are absorbed
// into error-status records; callers never see a raw error.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/auctionintel/leadfinder/internal/cache"
	"github.com/auctionintel/leadfinder/internal/lead"
	"github.com/auctionintel/leadfinder/internal/research"
)

// Researcher is the research capability surface the pipeline drives.
// *research.Client satisfies it in production.
type Researcher interface {
	QuickScan(ctx context.Context, identifier string) (research.ScanResult, error)
	DeepResearch(ctx context.Context, identifier string) (lead.Record, error)
	FollowUp(ctx context.Context, identifier, field string, rec lead.Record) (research.FollowUpAnswer, error)
}

// Config tunes phase transitions. The confidence thresholds gate the
// phase-1 early stops; they are tuning knobs, not derived values.
type Config struct {
	// QuickNegativeConfidence is the minimum confidence for a "no event"
	// quick scan to finalize as not_found. Default: 0.80.
	QuickNegativeConfidence float64

	// QuickPositiveConfidence is the minimum confidence for a fully
	// populated positive quick scan to finalize early. Default: 0.85.
	QuickPositiveConfidence float64

	// MaxFollowups bounds phase-3 calls per identifier. Default: 3.
	MaxFollowups int
}

func (c Config) withDefaults() Config {
	if c.QuickNegativeConfidence <= 0 {
		c.QuickNegativeConfidence = 0.80
	}
	if c.QuickPositiveConfidence <= 0 {
		c.QuickPositiveConfidence = 0.85
	}
	if c.MaxFollowups <= 0 {
		c.MaxFollowups = 3
	}
	return c
}

// Pipeline enriches identifiers through the cache and research phases.
type Pipeline struct {
	store    cache.Store
	research Researcher
	cfg      Config
	now      func() time.Time
}

// New creates a Pipeline over a cache store and a research capability.
func New(store cache.Store, researcher Researcher, cfg Config) *Pipeline {
	return &Pipeline{
		store:    store,
		research: researcher,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// Enrich produces the terminal record for one identifier. It always
// returns a record: research failures become status=error records with
// the cause in the summary.
func (p *Pipeline) Enrich(ctx context.Context, identifier string) lead.Record {
	log := zap.L().With(zap.String("identifier", identifier))

	cached, err := p.store.Get(ctx, identifier)
	if err != nil {
		log.Warn("pipeline: cache read failed", zap.Error(err))
	}
	if cached != nil {
		rec := *cached
		rec.Identifier = identifier
		rec.Source = "cache"
		log.Debug("pipeline: cache hit", zap.String("status", string(rec.Status)))
		return rec
	}

	rec, runErr := p.runPhases(ctx, log, identifier)
	return p.finalize(ctx, log, identifier, rec, runErr)
}

// runPhases executes the research phases and returns the pre-finalize record.
func (p *Pipeline) runPhases(ctx context.Context, log *zap.Logger, identifier string) (lead.Record, error) {
	apiCalls := 0

	// Phase 1: one cheap probe.
	scan, err := p.research.QuickScan(ctx, identifier)
	switch {
	case err == nil:
		apiCalls++
		if !scan.HasEvent && scan.Confidence >= p.cfg.QuickNegativeConfidence {
			rec := scanToRecord(identifier, scan)
			rec.Status = lead.StatusNotFound
			rec.APICalls = apiCalls
			log.Debug("pipeline: quick scan negative, stopping early",
				zap.Float64("confidence", scan.Confidence))
			return rec, nil
		}
		if scan.HasEvent && scan.Confidence >= p.cfg.QuickPositiveConfidence {
			rec := scanToRecord(identifier, scan)
			rec.Status = lead.StatusFound
			if scanComplete(rec) {
				rec.APICalls = apiCalls
				log.Debug("pipeline: quick scan positive and complete, stopping early",
					zap.Float64("confidence", scan.Confidence))
				return rec, nil
			}
		}
	case research.IsParseError(err):
		// An unusable probe response is not worth an error record; the
		// deep call answers the same question.
		apiCalls++
		log.Warn("pipeline: quick scan unparseable, continuing", zap.Error(err))
	default:
		return lead.Record{}, err
	}

	// Phase 2: the exhaustive call replaces whatever phase 1 produced.
	rec, err := p.research.DeepResearch(ctx, identifier)
	if err != nil {
		return lead.Record{}, err
	}
	apiCalls++
	rec.APICalls = apiCalls

	if rec.Status == lead.StatusNotFound {
		return rec, nil
	}
	tier, _ := lead.Classify(rec)
	missing := lead.MissingFields(rec)
	if tier != lead.TierNotBillable && len(missing) == 0 {
		return rec, nil
	}

	// Phase 3: targeted follow-ups for the highest-priority gaps.
	// Individual failures just leave the field empty. Backpressure stops
	// the loop outright; every later follow-up would hit the same wall.
	limit := p.cfg.MaxFollowups
	if limit > len(missing) {
		limit = len(missing)
	}
	for _, field := range missing[:limit] {
		ans, fuErr := p.research.FollowUp(ctx, identifier, field, rec)
		apiCalls++
		if fuErr != nil {
			log.Warn("pipeline: follow-up failed",
				zap.String("field", field), zap.Error(fuErr))
			if research.IsRateLimited(fuErr) || ctx.Err() != nil {
				break
			}
			continue
		}
		mergeFollowUp(&rec, field, ans)
	}
	rec.APICalls = apiCalls
	return rec, nil
}

// finalize classifies, stamps, and writes through to the cache. Errors
// caused by rate-limit exhaustion are never cached so the identifier is
// retried on the very next attempt instead of being pinned for 7 days.
func (p *Pipeline) finalize(ctx context.Context, log *zap.Logger, identifier string, rec lead.Record, cause error) lead.Record {
	if cause != nil {
		apiCalls := rec.APICalls
		rec = lead.ErrorRecord(identifier, cause)
		rec.APICalls = apiCalls
		log.Warn("pipeline: research failed", zap.Error(cause))
	}
	rec.Identifier = identifier
	rec.Tier, rec.PriceCents = lead.Classify(rec)
	now := p.now().UTC()
	rec.ProcessedAt = &now
	rec.Source = "claude"

	if cause != nil && research.IsRateLimited(cause) {
		log.Debug("pipeline: skipping cache write for rate-limited failure")
		return rec
	}
	if err := p.store.Put(ctx, identifier, rec); err != nil {
		log.Warn("pipeline: cache write failed", zap.Error(err))
	}
	return rec
}

// scanToRecord lifts a phase-1 envelope into a record.
func scanToRecord(identifier string, scan research.ScanResult) lead.Record {
	return lead.Record{
		Identifier:       identifier,
		OrganizationName: scan.OrganizationName,
		EventTitle:       scan.EventTitle,
		EventDate:        scan.EventDate,
		EventURL:         scan.EventURL,
		AuctionType:      scan.AuctionType,
		ContactName:      scan.ContactName,
		ContactEmail:     scan.ContactEmail,
		EvidenceDate:     scan.EvidenceDate,
		EvidenceAuction:  scan.EvidenceAuction,
		Summary:          scan.Notes,
		ConfidenceScore:  scan.Confidence,
	}
}

// scanComplete reports whether a quick-scan record already carries every
// field the top tier bills on plus both evidence fields. Contact role,
// address, and phone are deep-research work; the early stop never waits
// for them.
func scanComplete(rec lead.Record) bool {
	return rec.EventTitle != "" &&
		rec.EventDate != "" &&
		lead.ValidURL(rec.EventURL) &&
		rec.ContactName != "" &&
		lead.ValidEmail(rec.ContactEmail) &&
		rec.EvidenceDate != "" &&
		rec.EvidenceAuction != ""
}

// mergeFollowUp folds one non-empty answer into the record.
func mergeFollowUp(rec *lead.Record, field string, ans research.FollowUpAnswer) {
	if ans.Value == "" {
		return
	}
	switch field {
	case "event_url":
		rec.EventURL = ans.Value
	case "contact_email":
		rec.ContactEmail = ans.Value
	case "event_date":
		rec.EventDate = ans.Value
	case "auction_type":
		rec.AuctionType = ans.Value
	case "contact_role":
		rec.ContactRole = ans.Value
	case "organization_address":
		rec.OrganizationAddress = ans.Value
	case "organization_phone":
		rec.OrganizationPhone = ans.Value
	default:
		return
	}
	if ans.SourceURL != "" {
		rec.ContactSourceURL = ans.SourceURL
	}
}
