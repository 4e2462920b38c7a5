package orchestrator

import (
	"go.uber.org/zap"

	"github.com/auctionintel/leadfinder/internal/lead"
)

// ProgressEvent is one per-identifier notification. Status and Tier are
// set only on finished events.
type ProgressEvent struct {
	Index      int         `json:"index"`
	Total      int         `json:"total"`
	Identifier string      `json:"identifier"`
	Status     lead.Status `json:"status,omitempty"`
	Tier       lead.Tier   `json:"tier,omitempty"`
}

// ProgressSink receives started/finished events. Sinks are observational
// only; a slow or panicking sink must never stall the workers, so every
// call is dispatched on its own goroutine.
type ProgressSink interface {
	OnStarted(ev ProgressEvent)
	OnFinished(ev ProgressEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) OnStarted(ProgressEvent)  {}
func (NopSink) OnFinished(ProgressEvent) {}

func emitStarted(sink ProgressSink, ev ProgressEvent) {
	go func() {
		defer recoverSink("started")
		sink.OnStarted(ev)
	}()
}

func emitFinished(sink ProgressSink, ev ProgressEvent) {
	go func() {
		defer recoverSink("finished")
		sink.OnFinished(ev)
	}()
}

func recoverSink(kind string) {
	if r := recover(); r != nil {
		zap.L().Warn("orchestrator: progress sink panicked",
			zap.String("event", kind),
			zap.Any("panic", r),
		)
	}
}
