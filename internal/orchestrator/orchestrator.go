// Package orchestrator fans a batch of identifiers across a bounded pool
// of workers, each running the enrichment pipeline strictly one
// identifier at a time, and reassembles results in input order.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/auctionintel/leadfinder/internal/cache"
	"github.com/auctionintel/leadfinder/internal/lead"
)

// HardMaxWorkers caps worker count regardless of configuration.
const HardMaxWorkers = 32

// ErrInsufficientBalance is returned by a Biller to stop further dispatch.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Enricher produces the terminal record for one identifier.
// *pipeline.Pipeline satisfies it.
type Enricher interface {
	Enrich(ctx context.Context, identifier string) lead.Record
}

// Biller is consulted once per finalized record. Returning
// ErrInsufficientBalance (possibly wrapped) aborts the rest of the job
// before the next dispatch.
type Biller interface {
	Charge(ctx context.Context, rec lead.Record) error
}

// NopBiller accepts every charge.
type NopBiller struct{}

func (NopBiller) Charge(context.Context, lead.Record) error { return nil }

// Config bounds a job's size and concurrency.
type Config struct {
	// WorkerCount is the concurrency bound. Default: 10, capped at
	// HardMaxWorkers.
	WorkerCount int

	// MaxIdentifiersPerJob trims oversized input lists. Default: 1000.
	MaxIdentifiersPerJob int
}

func (c Config) withDefaults() Config {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 10
	}
	if c.WorkerCount > HardMaxWorkers {
		c.WorkerCount = HardMaxWorkers
	}
	if c.MaxIdentifiersPerJob <= 0 {
		c.MaxIdentifiersPerJob = 1000
	}
	return c
}

// Orchestrator owns a job registry and runs batches against an Enricher.
type Orchestrator struct {
	enricher Enricher
	sink     ProgressSink
	biller   Biller
	cfg      Config
	jobs     *JobStore
}

// New builds an Orchestrator. A nil sink or biller falls back to the
// no-op implementation.
func New(enricher Enricher, cfg Config, sink ProgressSink, biller Biller) *Orchestrator {
	if sink == nil {
		sink = NopSink{}
	}
	if biller == nil {
		biller = NopBiller{}
	}
	return &Orchestrator{
		enricher: enricher,
		sink:     sink,
		biller:   biller,
		cfg:      cfg.withDefaults(),
		jobs:     NewJobStore(),
	}
}

// Jobs exposes this instance's job registry.
func (o *Orchestrator) Jobs() *JobStore { return o.jobs }

// flight tracks one in-progress enrichment so duplicate identifiers in
// the same job wait on the first run instead of racing it.
type flight struct {
	done chan struct{}
	rec  lead.Record
}

// Run processes identifiers and blocks until the job is terminal. The
// returned job's Results align positionally with the (possibly trimmed)
// input list.
func (o *Orchestrator) Run(ctx context.Context, identifiers []string) (*Job, error) {
	if len(identifiers) == 0 {
		return nil, eris.New("orchestrator: no identifiers")
	}
	if len(identifiers) > o.cfg.MaxIdentifiersPerJob {
		zap.L().Warn("orchestrator: trimming oversized job",
			zap.Int("submitted", len(identifiers)),
			zap.Int("cap", o.cfg.MaxIdentifiersPerJob),
		)
		identifiers = identifiers[:o.cfg.MaxIdentifiersPerJob]
	}

	job := newJob(identifiers)
	o.jobs.put(job)
	o.runJob(ctx, job)
	return job, nil
}

// Start is Run without blocking: the job is returned immediately and
// processed in the background. Used by the HTTP server.
func (o *Orchestrator) Start(ctx context.Context, identifiers []string) (*Job, error) {
	if len(identifiers) == 0 {
		return nil, eris.New("orchestrator: no identifiers")
	}
	if len(identifiers) > o.cfg.MaxIdentifiersPerJob {
		identifiers = identifiers[:o.cfg.MaxIdentifiersPerJob]
	}
	job := newJob(identifiers)
	o.jobs.put(job)
	go o.runJob(ctx, job)
	return job, nil
}

func (o *Orchestrator) runJob(ctx context.Context, job *Job) {
	log := zap.L().With(zap.String("job_id", job.ID))
	total := len(job.Identifiers)

	workers := o.cfg.WorkerCount
	if workers > total {
		workers = total
	}
	log.Info("orchestrator: job started",
		zap.Int("identifiers", total),
		zap.Int("workers", workers),
	)

	var (
		aborted  atomic.Bool
		abortMsg atomic.Value

		inflightMu sync.Mutex
		inflight   = map[string]*flight{}

		sem = semaphore.NewWeighted(int64(workers))
		wg  sync.WaitGroup
	)

	// Round-robin partition: worker w owns indices w, w+N, w+2N, ...
	// Each worker is strictly sequential over its own slice of the input.
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for idx := w; idx < total; idx += workers {
				identifier := job.Identifiers[idx]

				if ctx.Err() != nil {
					job.setResult(idx, skippedRecord(identifier, "job cancelled before dispatch"))
					continue
				}
				if aborted.Load() {
					job.setResult(idx, skippedRecord(identifier, "job aborted: insufficient balance"))
					continue
				}

				if err := sem.Acquire(ctx, 1); err != nil {
					job.setResult(idx, skippedRecord(identifier, "job cancelled before dispatch"))
					continue
				}
				emitStarted(o.sink, ProgressEvent{Index: idx, Total: total, Identifier: identifier})
				rec := o.enrichOnce(ctx, &inflightMu, inflight, identifier)
				sem.Release(1)

				rec.Identifier = identifier
				job.setResult(idx, rec)
				emitFinished(o.sink, ProgressEvent{
					Index: idx, Total: total, Identifier: identifier,
					Status: rec.Status, Tier: rec.Tier,
				})

				if err := o.biller.Charge(ctx, rec); err != nil {
					if errors.Is(err, ErrInsufficientBalance) {
						abortMsg.Store(err.Error())
						aborted.Store(true)
						log.Warn("orchestrator: billing aborted job", zap.Error(err))
					} else {
						log.Warn("orchestrator: charge failed",
							zap.String("identifier", identifier), zap.Error(err))
					}
				}
			}
		}(w)
	}
	wg.Wait()

	switch {
	case ctx.Err() != nil:
		job.finish(JobStatusCancelled, ctx.Err().Error())
	case aborted.Load():
		msg, _ := abortMsg.Load().(string)
		job.finish(JobStatusError, msg)
	default:
		job.finish(JobStatusComplete, "")
	}

	view := job.Snapshot()
	log.Info("orchestrator: job finished",
		zap.String("status", string(view.Status)),
		zap.Int("completed", view.Completed),
		zap.Int("total_price_cents", view.Summary.TotalPriceCents),
	)
}

// enrichOnce guarantees at most one in-flight pipeline per normalized
// identifier within the job; duplicates wait for and reuse the first
// occurrence's record.
func (o *Orchestrator) enrichOnce(ctx context.Context, mu *sync.Mutex, inflight map[string]*flight, identifier string) lead.Record {
	key := cache.Normalize(identifier)

	mu.Lock()
	if f, ok := inflight[key]; ok {
		mu.Unlock()
		select {
		case <-f.done:
			return f.rec
		case <-ctx.Done():
			return skippedRecord(identifier, "job cancelled before dispatch")
		}
	}
	f := &flight{done: make(chan struct{})}
	inflight[key] = f
	mu.Unlock()

	f.rec = o.enricher.Enrich(ctx, identifier)
	close(f.done)
	return f.rec
}

func skippedRecord(identifier, reason string) lead.Record {
	return lead.Record{
		Identifier: identifier,
		Status:     lead.StatusError,
		Summary:    reason,
		Tier:       lead.TierNotBillable,
	}
}
