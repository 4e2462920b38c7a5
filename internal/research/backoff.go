package research

import (
	"context"
	"sync"
	"time"
)

// SharedBackoff is the adaptive rate-limit delay shared by every worker.
// Each rate-limit hit anywhere raises the base delay applied before all
// future calls, from any worker. Guarded by a mutex: a race here would
// silently lose bumps and defeat the backoff.
type SharedBackoff struct {
	mu   sync.Mutex
	base time.Duration
	step time.Duration
	max  time.Duration
}

// NewSharedBackoff returns a backoff that grows by step per rate-limit hit,
// capped at max. Zero arguments fall back to 5s / 2m.
func NewSharedBackoff(step, max time.Duration) *SharedBackoff {
	if step <= 0 {
		step = 5 * time.Second
	}
	if max <= 0 {
		max = 2 * time.Minute
	}
	return &SharedBackoff{step: step, max: max}
}

// Delay returns the current base delay.
func (b *SharedBackoff) Delay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.base
}

// Bump raises the base delay by one step and returns the new value.
func (b *SharedBackoff) Bump() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.base += b.step
	if b.base > b.max {
		b.base = b.max
	}
	return b.base
}

// Wait sleeps for the current base delay, returning early if ctx is done.
func (b *SharedBackoff) Wait(ctx context.Context) error {
	delay := b.Delay()
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
