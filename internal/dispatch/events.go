package dispatch

import (
	"context"
	"log/slog"

	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// eventObserver writes step and loop notifications to the run's event log.
// Notifications outside a run (no run ID on the context) are ignored.
type eventObserver struct {
	events *store.EventLog
	logger *slog.Logger
}

var stepEventTypes = map[string]string{
	engine.OutcomeSuccess:  schema.EventStepCompleted,
	engine.OutcomeFiltered: schema.EventFilterStopped,
	engine.OutcomeStopped:  schema.EventStepStopped,
	engine.OutcomeFailed:   schema.EventStepFailed,
}

func (o *eventObserver) StepFinished(ctx context.Context, ev engine.StepEvent) {
	runID := logging.RunID(ctx)
	if runID == "" {
		return
	}
	eventType, ok := stepEventTypes[ev.Outcome]
	if !ok {
		eventType = schema.EventStepCompleted
	}
	payload := store.StepEventPayload{
		StepType:   ev.StepID,
		Position:   ev.Position,
		Outcome:    ev.Outcome,
		DurationMs: ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		payload.Error = ev.Err.Error()
	}
	o.append(ctx, runID, ev.ID, eventType, payload)
}

func (o *eventObserver) LoopFinished(ctx context.Context, ev engine.LoopEvent) {
	runID := logging.RunID(ctx)
	if runID == "" {
		return
	}
	o.append(ctx, runID, ev.ID, schema.EventLoopCompleted, store.StepEventPayload{
		StepType:   schema.StepLoop,
		Position:   ev.Position,
		Status:     ev.Status,
		Iterations: ev.Iterations,
	})
}

func (o *eventObserver) append(ctx context.Context, runID, stepID, eventType string, payload store.StepEventPayload) {
	if err := o.events.AppendStepEvent(context.WithoutCancel(ctx), runID, stepID, eventType, payload); err != nil {
		o.logger.Warn("failed to append step event",
			slog.String("run_id", runID),
			slog.String("step_id", stepID),
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
	}
}

var _ engine.Observer = (*eventObserver)(nil)
