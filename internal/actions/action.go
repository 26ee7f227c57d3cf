package actions

import (
	"context"

	"github.com/rendis/autoflow/pkg/schema"
)

// Action is a step type that can be dispatched by the orchestrator.
type Action interface {
	StepID() string
	Info() StepInfo
	Validate(inputs map[string]any) error
	Execute(ctx context.Context, in StepInput) (map[string]any, error)
}

// StepFunc is a resolved, directly callable step.
type StepFunc func(ctx context.Context, in StepInput) (map[string]any, error)

// StepResolver maps a step id to its function. Resolve returns nil for an
// unknown id.
type StepResolver interface {
	Resolve(stepID string) StepFunc
}

// StepInput is everything a step function receives for one invocation.
type StepInput struct {
	Inputs  map[string]any // resolved and cleaned
	AppID   string
	Emitter Emitter        // chain-aware trigger of further automations
	Context map[string]any // read-only snapshot: {"trigger": ..., "steps": [...]}
}

// Emitter starts further automation runs on behalf of a running one. It
// carries the chain count of the emitting run so the receiver can bound
// recursive chains.
type Emitter interface {
	ChainCount() int
	Emit(ctx context.Context, automationID string, payload map[string]any) (runID string, err error)
}

// StepInfo describes a registered step. Its Inputs are the cleaning rules of
// steps that declare none of their own.
type StepInfo struct {
	StepID      string             `json:"stepId"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Inputs      schema.InputSchema `json:"inputs"`
	Intrinsic   bool               `json:"intrinsic,omitempty"`
}
