package actions

import (
	"context"

	"github.com/rendis/autoflow/pkg/schema"
)

// LoopAction registers the LOOP marker so definitions using it pass registry
// checks. The orchestrator interprets LOOP itself; executing it directly is
// an error.
type LoopAction struct{}

func (LoopAction) StepID() string { return schema.StepLoop }

func (LoopAction) Info() StepInfo {
	return StepInfo{
		StepID:      schema.StepLoop,
		Name:        "Looping",
		Description: "Loop the step directly below over an array or the lines of a string",
		Intrinsic:   true,
		Inputs: schema.InputSchema{
			Properties: map[string]schema.InputRule{
				"option":     {Type: "string", Title: "Input type"},
				"binding":    {Title: "Binding / Value"},
				"iterations": {Type: "number", Title: "Max loop iterations"},
				"failure":    {Title: "Failure Condition"},
			},
			Required: []string{"option", "binding"},
		},
	}
}

func (LoopAction) Validate(map[string]any) error { return nil }

func (LoopAction) Execute(context.Context, StepInput) (map[string]any, error) {
	return nil, schema.NewError(schema.ErrCodeExecution, "LOOP is interpreted by the orchestrator and cannot be dispatched")
}

var _ Action = LoopAction{}
