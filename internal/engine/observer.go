package engine

import (
	"context"
	"time"
)

// Step outcomes reported to an Observer.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeFiltered = "filtered"
	OutcomeStopped  = "stopped"
)

// StepEvent describes one finished step dispatch.
type StepEvent struct {
	AutomationID string
	ID           string
	StepID       string
	Position     int
	Outcome      string
	Duration     time.Duration
	Err          error
}

// LoopEvent describes a finished loop.
type LoopEvent struct {
	AutomationID string
	ID           string
	Position     int
	Status       string // empty on natural completion
	Success      bool
	Iterations   int
}

// Observer receives step and loop notifications from running orchestrators.
// Implementations must be safe for concurrent use: independent runs report
// to the same Observer.
type Observer interface {
	StepFinished(ctx context.Context, ev StepEvent)
	LoopFinished(ctx context.Context, ev LoopEvent)
}

// Observers fans notifications out to several observers.
type Observers []Observer

func (o Observers) StepFinished(ctx context.Context, ev StepEvent) {
	for _, obs := range o {
		obs.StepFinished(ctx, ev)
	}
}

func (o Observers) LoopFinished(ctx context.Context, ev LoopEvent) {
	for _, obs := range o {
		obs.LoopFinished(ctx, ev)
	}
}

type noopObserver struct{}

func (noopObserver) StepFinished(context.Context, StepEvent) {}
func (noopObserver) LoopFinished(context.Context, LoopEvent) {}
