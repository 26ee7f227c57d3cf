package engine

import (
	"context"

	"github.com/rendis/autoflow/internal/actions"
	"github.com/rendis/autoflow/pkg/schema"
)

// ChainSink accepts trigger events emitted by running automations. The
// dispatcher implements it and owns the chain depth limit.
type ChainSink interface {
	Dispatch(ctx context.Context, event schema.TriggerEvent) (runID string, err error)
}

// ChainGuard carries the chain count of one run to the steps that can start
// further automations. It never enforces a ceiling itself; it only makes
// sure every emitted event carries the incremented count.
type ChainGuard struct {
	count int
	appID string
	sink  ChainSink
}

// NewChainGuard computes the chain count for a run triggered by event:
// the event's count plus one, or 1 when the event carries no metadata.
func NewChainGuard(event schema.TriggerEvent, sink ChainSink) *ChainGuard {
	return &ChainGuard{
		count: event.ChainCount() + 1,
		appID: event.AppID,
		sink:  sink,
	}
}

// ChainCount returns the count of the current run.
func (g *ChainGuard) ChainCount() int { return g.count }

// Emit dispatches a new trigger event for automationID carrying the current
// chain count.
func (g *ChainGuard) Emit(ctx context.Context, automationID string, payload map[string]any) (string, error) {
	if g.sink == nil {
		return "", schema.NewError(schema.ErrCodeExecution, "automation chaining is not configured")
	}
	if automationID == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "automation id is required")
	}
	return g.sink.Dispatch(ctx, schema.TriggerEvent{
		AutomationID: automationID,
		AppID:        g.appID,
		Metadata:     &schema.TriggerMetadata{AutomationChainCount: g.count},
		Payload:      payload,
	})
}

var _ actions.Emitter = (*ChainGuard)(nil)
