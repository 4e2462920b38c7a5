package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auctionintel/leadfinder/internal/lead"
)

// fakeEnricher returns canned records, optionally delaying per identifier.
type fakeEnricher struct {
	mu     sync.Mutex
	calls  []string
	delays map[string]time.Duration
	build  func(identifier string) lead.Record
}

func newFakeEnricher() *fakeEnricher {
	return &fakeEnricher{
		delays: map[string]time.Duration{},
		build: func(identifier string) lead.Record {
			return lead.Record{
				Identifier: identifier,
				Status:     lead.StatusFound,
				Tier:       lead.TierEventVerified,
				PriceCents: 75,
			}
		},
	}
}

func (f *fakeEnricher) Enrich(ctx context.Context, identifier string) lead.Record {
	f.mu.Lock()
	f.calls = append(f.calls, identifier)
	delay := f.delays[identifier]
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}
	return f.build(identifier)
}

func (f *fakeEnricher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// recordingSink collects events under a mutex; emits are asynchronous so
// tests poll with Eventually.
type recordingSink struct {
	mu       sync.Mutex
	started  []ProgressEvent
	finished []ProgressEvent
}

func (s *recordingSink) OnStarted(ev ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, ev)
}

func (s *recordingSink) OnFinished(ev ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, ev)
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.started), len(s.finished)
}

func TestRun_OrderPreservedWithSlowMiddleIdentifier(t *testing.T) {
	enricher := newFakeEnricher()
	enricher.delays["b.org"] = 150 * time.Millisecond

	o := New(enricher, Config{WorkerCount: 3}, nil, nil)
	job, err := o.Run(context.Background(), []string{"a.org", "b.org", "c.org"})
	require.NoError(t, err)

	view := job.Snapshot()
	assert.Equal(t, JobStatusComplete, view.Status)
	require.Len(t, view.Results, 3)
	assert.Equal(t, "a.org", view.Results[0].Identifier)
	assert.Equal(t, "b.org", view.Results[1].Identifier)
	assert.Equal(t, "c.org", view.Results[2].Identifier)
}

func TestRun_EmptyInputRejected(t *testing.T) {
	o := New(newFakeEnricher(), Config{}, nil, nil)
	_, err := o.Run(context.Background(), nil)
	require.Error(t, err)
}

func TestRun_TrimsOversizedJob(t *testing.T) {
	enricher := newFakeEnricher()
	o := New(enricher, Config{WorkerCount: 4, MaxIdentifiersPerJob: 5}, nil, nil)

	ids := make([]string, 12)
	for i := range ids {
		ids[i] = "org" + string(rune('a'+i)) + ".org"
	}
	job, err := o.Run(context.Background(), ids)
	require.NoError(t, err)

	view := job.Snapshot()
	assert.Equal(t, 5, view.Total)
	assert.Equal(t, 5, enricher.callCount())
}

func TestRun_ProgressEventsEmitted(t *testing.T) {
	enricher := newFakeEnricher()
	sink := &recordingSink{}
	o := New(enricher, Config{WorkerCount: 2}, sink, nil)

	_, err := o.Run(context.Background(), []string{"a.org", "b.org", "c.org"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		started, finished := sink.counts()
		return started == 3 && finished == 3
	}, time.Second, 10*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, ev := range sink.finished {
		assert.Equal(t, 3, ev.Total)
		assert.Equal(t, lead.StatusFound, ev.Status)
		assert.Equal(t, lead.TierEventVerified, ev.Tier)
	}
}

// panicSink panics on every event; the job must still complete.
type panicSink struct{}

func (panicSink) OnStarted(ProgressEvent)  { panic("sink broken") }
func (panicSink) OnFinished(ProgressEvent) { panic("sink broken") }

func TestRun_PanickingSinkDoesNotStallJob(t *testing.T) {
	o := New(newFakeEnricher(), Config{WorkerCount: 2}, panicSink{}, nil)
	job, err := o.Run(context.Background(), []string{"a.org", "b.org"})
	require.NoError(t, err)
	assert.Equal(t, JobStatusComplete, job.Snapshot().Status)
}

// stingyBiller allows a fixed number of charges, then refuses.
type stingyBiller struct {
	mu      sync.Mutex
	allowed int
	charges int
}

func (b *stingyBiller) Charge(_ context.Context, _ lead.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.charges++
	if b.charges > b.allowed {
		return ErrInsufficientBalance
	}
	return nil
}

func TestRun_BillerAbortStopsFurtherDispatch(t *testing.T) {
	enricher := newFakeEnricher()
	biller := &stingyBiller{allowed: 2}
	// Single worker so dispatch order is deterministic.
	o := New(enricher, Config{WorkerCount: 1}, nil, biller)

	job, err := o.Run(context.Background(), []string{"a.org", "b.org", "c.org", "d.org", "e.org"})
	require.NoError(t, err)

	view := job.Snapshot()
	assert.Equal(t, JobStatusError, view.Status)
	assert.Equal(t, "insufficient balance", view.Error)

	// a and b charged fine; c's charge failed, so d and e are skipped.
	assert.Equal(t, 3, enricher.callCount())
	assert.Equal(t, lead.StatusFound, view.Results[2].Status)
	assert.Equal(t, lead.StatusError, view.Results[3].Status)
	assert.Contains(t, view.Results[3].Summary, "insufficient balance")
	assert.Equal(t, lead.StatusError, view.Results[4].Status)
}

func TestRun_DuplicateIdentifiersEnrichedOnce(t *testing.T) {
	enricher := newFakeEnricher()
	o := New(enricher, Config{WorkerCount: 4}, nil, nil)

	job, err := o.Run(context.Background(), []string{"a.org", "A.ORG", "  a.org ", "b.org"})
	require.NoError(t, err)

	// One enrichment per distinct normalized identifier.
	assert.Equal(t, 2, enricher.callCount())

	view := job.Snapshot()
	for i, want := range []string{"a.org", "A.ORG", "  a.org ", "b.org"} {
		assert.Equal(t, want, view.Results[i].Identifier)
		assert.Equal(t, lead.StatusFound, view.Results[i].Status)
	}
}

func TestRun_CancellationSkipsRemaining(t *testing.T) {
	enricher := newFakeEnricher()
	enricher.delays["a.org"] = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	o := New(enricher, Config{WorkerCount: 1}, nil, nil)
	job, err := o.Run(ctx, []string{"a.org", "b.org", "c.org"})
	require.NoError(t, err)

	view := job.Snapshot()
	assert.Equal(t, JobStatusCancelled, view.Status)
	assert.Equal(t, lead.StatusError, view.Results[1].Status)
	assert.Contains(t, view.Results[1].Summary, "cancelled")
	assert.Equal(t, 1, enricher.callCount())
}

func TestConfig_WorkerCountHardCap(t *testing.T) {
	cfg := Config{WorkerCount: 500}.withDefaults()
	assert.Equal(t, HardMaxWorkers, cfg.WorkerCount)
}

func TestStart_ReturnsImmediately(t *testing.T) {
	enricher := newFakeEnricher()
	enricher.delays["a.org"] = 100 * time.Millisecond
	o := New(enricher, Config{WorkerCount: 1}, nil, nil)

	job, err := o.Start(context.Background(), []string{"a.org"})
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, job.Snapshot().Status)

	assert.Eventually(t, func() bool {
		return job.Snapshot().Status == JobStatusComplete
	}, time.Second, 10*time.Millisecond)
	assert.Same(t, job, o.Jobs().Get(job.ID))
}

func TestJobStore_Cleanup(t *testing.T) {
	s := NewJobStore()

	old := newJob([]string{"a.org"})
	old.finish(JobStatusComplete, "")
	old.mu.Lock()
	old.FinishedAt = time.Now().UTC().Add(-2 * time.Hour)
	old.mu.Unlock()
	s.put(old)

	fresh := newJob([]string{"b.org"})
	fresh.finish(JobStatusComplete, "")
	s.put(fresh)

	running := newJob([]string{"c.org"})
	s.put(running)

	removed := s.Cleanup(time.Hour)
	assert.Equal(t, 1, removed)
	assert.Nil(t, s.Get(old.ID))
	assert.NotNil(t, s.Get(fresh.ID))
	assert.NotNil(t, s.Get(running.ID))
}

func TestJobSnapshot_Summary(t *testing.T) {
	job := newJob([]string{"a.org", "b.org", "c.org"})
	job.setResult(0, lead.Record{Status: lead.StatusFound, Tier: lead.TierDecisionMaker, PriceCents: 175, APICalls: 2})
	job.setResult(1, lead.Record{Status: lead.StatusNotFound, Tier: lead.TierNotBillable, APICalls: 1})

	view := job.Snapshot()
	assert.Equal(t, 2, view.Completed)
	assert.Equal(t, 1, view.Summary.ByStatus[lead.StatusFound])
	assert.Equal(t, 1, view.Summary.ByStatus[lead.StatusNotFound])
	assert.Equal(t, 175, view.Summary.TotalPriceCents)
	assert.Equal(t, 3, view.Summary.APICalls)
}
