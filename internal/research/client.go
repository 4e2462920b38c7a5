// Package research adapts the external research capability (an LLM with
// web-search grounding) into typed calls that return structured records
// or classified failures.
package research

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/auctionintel/leadfinder/internal/lead"
	"github.com/auctionintel/leadfinder/internal/resilience"
)

// Request is one prompt for the research capability. Phase tags the call
// for cost attribution in logs.
type Request struct {
	System      string
	Prompt      string
	MaxSearches int
	MaxTokens   int64
	Phase       string
}

// Caller performs a single call to the external capability and returns its
// raw text output. Implementations classify provider failures into
// RateLimitedError / resilience.TransientError; everything else is fatal.
type Caller interface {
	Invoke(ctx context.Context, req Request) (string, error)
}

// Options tunes the client's retry and pacing behavior.
type Options struct {
	// CallTimeout bounds a single capability call. Default: 120s.
	CallTimeout time.Duration

	// TransientRetries is the attempt count for non-rate-limit transient
	// failures. Default: 3.
	TransientRetries int

	// TransientBackoff is the base delay between transient retries.
	// Default: 2s.
	TransientBackoff time.Duration

	// RateLimitCooldown is the fixed sleep after each rate-limit hit
	// before the call is retried. Default: 60s.
	RateLimitCooldown time.Duration

	// MaxRetries is the rate-limit retry ceiling before FatalError.
	// Default: 20.
	MaxRetries int

	// RequestsPerSecond paces calls across all workers. 0 disables pacing.
	RequestsPerSecond float64
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 120 * time.Second
	}
	if o.TransientRetries <= 0 {
		o.TransientRetries = 3
	}
	if o.TransientBackoff <= 0 {
		o.TransientBackoff = 2 * time.Second
	}
	if o.RateLimitCooldown <= 0 {
		o.RateLimitCooldown = 60 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 20
	}
	return o
}

// ScanResult is the phase-1 quick scan envelope. Contact and evidence
// fields are usually empty; they matter only for the positive early-stop.
type ScanResult struct {
	HasEvent         bool    `json:"has_event"`
	Confidence       float64 `json:"confidence"`
	OrganizationName string  `json:"organization_name"`
	EventTitle       string  `json:"event_title"`
	EventDate        string  `json:"event_date"`
	EventURL         string  `json:"event_url"`
	AuctionType      string  `json:"auction_type"`
	ContactName      string  `json:"contact_name"`
	ContactEmail     string  `json:"contact_email"`
	EvidenceDate     string  `json:"evidence_date"`
	EvidenceAuction  string  `json:"evidence_auction"`
	Notes            string  `json:"notes"`
}

// FollowUpAnswer is the phase-3 targeted response for one field.
type FollowUpAnswer struct {
	Field     string `json:"field"`
	Value     string `json:"value"`
	SourceURL string `json:"source_url"`
}

// Client wraps a Caller with the full retry stack: shared adaptive backoff
// and steady pacing before every call, a per-call timeout, a short
// transient-retry schedule, and the rate-limit cooldown loop.
type Client struct {
	caller  Caller
	backoff *SharedBackoff
	limiter *rate.Limiter
	opts    Options
}

// NewClient builds a Client. The SharedBackoff is injected so that all
// workers of an orchestrator observe the same adaptive delay.
func NewClient(caller Caller, backoff *SharedBackoff, opts Options) *Client {
	opts = opts.withDefaults()
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	if backoff == nil {
		backoff = NewSharedBackoff(0, 0)
	}
	return &Client{caller: caller, backoff: backoff, limiter: limiter, opts: opts}
}

// QuickScan runs the cheap phase-1 probe for an identifier.
func (c *Client) QuickScan(ctx context.Context, identifier string) (ScanResult, error) {
	raw, err := c.call(ctx, quickScanRequest(identifier))
	if err != nil {
		return ScanResult{}, err
	}
	return extractScan(raw)
}

// DeepResearch runs the exhaustive phase-2 call for an identifier.
func (c *Client) DeepResearch(ctx context.Context, identifier string) (lead.Record, error) {
	raw, err := c.call(ctx, deepResearchRequest(identifier))
	if err != nil {
		return lead.Record{}, err
	}
	rec, err := ExtractRecord(raw)
	if err != nil {
		return lead.Record{}, err
	}
	rec.Identifier = identifier
	return rec, nil
}

// FollowUp asks for one specific missing field plus its source URL.
func (c *Client) FollowUp(ctx context.Context, identifier, field string, rec lead.Record) (FollowUpAnswer, error) {
	raw, err := c.call(ctx, followUpRequest(identifier, field, rec.EventTitle, rec.EventDate))
	if err != nil {
		return FollowUpAnswer{}, err
	}
	return extractFollowUp(raw, field)
}

// call runs the rate-limit loop around one logical capability call. Each
// 429 bumps the shared backoff (felt by every worker's next call) and then
// sleeps the fixed cooldown before retrying, up to the ceiling.
func (c *Client) call(ctx context.Context, req Request) (string, error) {
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		if err := c.backoff.Wait(ctx); err != nil {
			return "", eris.Wrap(err, "research: backoff wait")
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return "", eris.Wrap(err, "research: limiter wait")
			}
		}

		raw, err := c.invoke(ctx, req)
		if err == nil {
			return raw, nil
		}

		if IsRateLimited(err) {
			delay := c.backoff.Bump()
			zap.L().Warn("research capability rate limited",
				zap.String("phase", req.Phase),
				zap.Int("attempt", attempt),
				zap.Duration("shared_delay", delay),
				zap.Duration("cooldown", c.opts.RateLimitCooldown),
			)
			if sleepErr := sleepCtx(ctx, c.opts.RateLimitCooldown); sleepErr != nil {
				return "", &FatalError{Err: err, Attempts: attempt, RateLimited: true}
			}
			continue
		}

		return "", &FatalError{Err: err, Attempts: attempt}
	}
	return "", &FatalError{
		Err:         eris.New("research: rate limit retry ceiling reached"),
		Attempts:    c.opts.MaxRetries,
		RateLimited: true,
	}
}

// invoke makes one attempt group: a per-call timeout around the capability
// call, retried on transient failures with the short backoff schedule. A
// fired timeout counts as transient. Rate limits are never retried here;
// they belong to the outer loop.
func (c *Client) invoke(ctx context.Context, req Request) (string, error) {
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = c.opts.TransientRetries
	retryCfg.InitialBackoff = c.opts.TransientBackoff
	retryCfg.ShouldRetry = func(err error) bool {
		return !IsRateLimited(err) && resilience.IsTransient(err)
	}
	retryCfg.OnRetry = resilience.RetryLogger("research", req.Phase)

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		defer cancel()

		raw, err := c.caller.Invoke(callCtx, req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return "", resilience.NewTransientError(err, 0)
			}
			return "", err
		}
		return raw, nil
	})
}

func extractScan(raw string) (ScanResult, error) {
	for _, candidate := range jsonCandidates(raw) {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
			continue
		}
		if _, ok := probe["has_event"]; !ok {
			continue
		}
		var scan ScanResult
		if err := json.Unmarshal([]byte(candidate), &scan); err != nil {
			continue
		}
		if scan.Confidence < 0 {
			scan.Confidence = 0
		}
		if scan.Confidence > 1 {
			scan.Confidence = 1
		}
		return scan, nil
	}
	return ScanResult{}, &ParseError{
		Raw: truncate(raw, 300),
		Err: eris.New("research: no scan envelope in response"),
	}
}

func extractFollowUp(raw string, field string) (FollowUpAnswer, error) {
	for _, candidate := range jsonCandidates(raw) {
		var ans FollowUpAnswer
		if err := json.Unmarshal([]byte(candidate), &ans); err != nil {
			continue
		}
		if ans.Field == "" {
			ans.Field = field
		}
		return ans, nil
	}
	return FollowUpAnswer{}, &ParseError{
		Raw: truncate(raw, 300),
		Err: eris.New("research: no follow-up answer in response"),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
