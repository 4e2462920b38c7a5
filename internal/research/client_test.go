package research

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auctionintel/leadfinder/internal/lead"
	"github.com/auctionintel/leadfinder/internal/resilience"
)

// fakeCaller scripts responses per call number.
type fakeCaller struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, req Request) (string, error)
}

func (f *fakeCaller) Invoke(_ context.Context, req Request) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fn(n, req)
}

func (f *fakeCaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastOptions() Options {
	return Options{
		CallTimeout:       time.Second,
		TransientRetries:  3,
		TransientBackoff:  time.Millisecond,
		RateLimitCooldown: time.Millisecond,
		MaxRetries:        5,
	}
}

func TestClient_QuickScan(t *testing.T) {
	caller := &fakeCaller{fn: func(_ int, req Request) (string, error) {
		assert.Equal(t, "quick_scan", req.Phase)
		assert.Contains(t, req.Prompt, "helpinghands.org")
		return `{"has_event": true, "confidence": 0.92, "event_title": "Spring Gala", "event_date": "3/5/2026"}`, nil
	}}
	c := NewClient(caller, nil, fastOptions())

	scan, err := c.QuickScan(context.Background(), "helpinghands.org")
	require.NoError(t, err)
	assert.True(t, scan.HasEvent)
	assert.Equal(t, 0.92, scan.Confidence)
	assert.Equal(t, "Spring Gala", scan.EventTitle)
}

func TestClient_DeepResearch_SetsIdentifier(t *testing.T) {
	caller := &fakeCaller{fn: func(_ int, req Request) (string, error) {
		assert.Equal(t, "deep_research", req.Phase)
		return sampleRecordJSON, nil
	}}
	c := NewClient(caller, nil, fastOptions())

	rec, err := c.DeepResearch(context.Background(), "helpinghands.org")
	require.NoError(t, err)
	assert.Equal(t, "helpinghands.org", rec.Identifier)
	assert.Equal(t, "Spring Charity Gala", rec.EventTitle)
}

func TestClient_FollowUp(t *testing.T) {
	caller := &fakeCaller{fn: func(_ int, req Request) (string, error) {
		assert.Equal(t, "follow_up", req.Phase)
		assert.Contains(t, req.Prompt, "contact_email")
		return `{"field": "contact_email", "value": "events@helpinghands.org", "source_url": "https://helpinghands.org/contact"}`, nil
	}}
	c := NewClient(caller, nil, fastOptions())

	rec := lead.Record{EventTitle: "Spring Charity Gala", EventDate: "3/5/2026"}
	ans, err := c.FollowUp(context.Background(), "helpinghands.org", "contact_email", rec)
	require.NoError(t, err)
	assert.Equal(t, "contact_email", ans.Field)
	assert.Equal(t, "events@helpinghands.org", ans.Value)
	assert.Equal(t, "https://helpinghands.org/contact", ans.SourceURL)
}

func TestClient_RateLimitBumpsSharedBackoff(t *testing.T) {
	backoff := NewSharedBackoff(7*time.Millisecond, time.Second)
	caller := &fakeCaller{fn: func(call int, _ Request) (string, error) {
		if call == 1 {
			return "", &RateLimitedError{Err: errors.New("429")}
		}
		return `{"has_event": false, "confidence": 0.9}`, nil
	}}
	c := NewClient(caller, backoff, fastOptions())

	_, err := c.QuickScan(context.Background(), "example.org")
	require.NoError(t, err)
	assert.Equal(t, 2, caller.callCount())

	// The bump must persist: a second client sharing this backoff now waits too.
	assert.Equal(t, 7*time.Millisecond, backoff.Delay())
}

func TestClient_RateLimitCeiling(t *testing.T) {
	backoff := NewSharedBackoff(time.Millisecond, 2*time.Millisecond)
	caller := &fakeCaller{fn: func(_ int, _ Request) (string, error) {
		return "", &RateLimitedError{Err: errors.New("429")}
	}}
	opts := fastOptions()
	opts.MaxRetries = 3
	c := NewClient(caller, backoff, opts)

	_, err := c.QuickScan(context.Background(), "example.org")
	require.Error(t, err)

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.True(t, fatal.RateLimited)
	assert.Equal(t, 3, fatal.Attempts)
	assert.True(t, IsRateLimited(err))
	assert.Equal(t, 3, caller.callCount())
}

func TestClient_TransientRetriesThenSuccess(t *testing.T) {
	caller := &fakeCaller{fn: func(call int, _ Request) (string, error) {
		if call < 3 {
			return "", resilience.NewTransientError(errors.New("overloaded"), 529)
		}
		return `{"has_event": true, "confidence": 0.5}`, nil
	}}
	c := NewClient(caller, nil, fastOptions())

	scan, err := c.QuickScan(context.Background(), "example.org")
	require.NoError(t, err)
	assert.True(t, scan.HasEvent)
	assert.Equal(t, 3, caller.callCount())
}

func TestClient_FatalErrorNotRetried(t *testing.T) {
	caller := &fakeCaller{fn: func(_ int, _ Request) (string, error) {
		return "", errors.New("invalid request")
	}}
	c := NewClient(caller, nil, fastOptions())

	_, err := c.QuickScan(context.Background(), "example.org")
	require.Error(t, err)

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.False(t, fatal.RateLimited)
	assert.Equal(t, 1, fatal.Attempts)
	assert.Equal(t, 1, caller.callCount())
}

func TestClient_CallTimeoutIsTransient(t *testing.T) {
	blocking := &blockingCaller{}
	opts := fastOptions()
	opts.CallTimeout = 20 * time.Millisecond
	opts.TransientRetries = 2
	c := NewClient(blocking, nil, opts)

	_, err := c.QuickScan(context.Background(), "example.org")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, blocking.callCount())

	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.False(t, fatal.RateLimited)
}

// blockingCaller never returns before its context expires.
type blockingCaller struct {
	mu    sync.Mutex
	calls int
}

func (b *blockingCaller) Invoke(ctx context.Context, _ Request) (string, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-ctx.Done()
	return "", ctx.Err()
}

func (b *blockingCaller) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func TestClient_ParseFailureSurfaces(t *testing.T) {
	caller := &fakeCaller{fn: func(_ int, _ Request) (string, error) {
		return "no structured output here", nil
	}}
	c := NewClient(caller, nil, fastOptions())

	_, err := c.QuickScan(context.Background(), "example.org")
	require.Error(t, err)
	assert.True(t, IsParseError(err))
}
