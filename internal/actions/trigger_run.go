package actions

import (
	"context"

	"github.com/rendis/autoflow/pkg/schema"
)

// TriggerRunAction starts another automation through the run's Emitter,
// carrying the chain count forward.
type TriggerRunAction struct{}

func (TriggerRunAction) StepID() string { return "TRIGGER_AUTOMATION_RUN" }

func (TriggerRunAction) Info() StepInfo {
	return StepInfo{
		StepID:      "TRIGGER_AUTOMATION_RUN",
		Name:        "Trigger an automation",
		Description: "Triggers an automation run",
		Inputs: schema.InputSchema{
			Properties: map[string]schema.InputRule{
				"automationId": {Type: "string", Title: "Automation"},
				"fields":       {Type: "object", Title: "Fields"},
			},
			Required: []string{"automationId"},
		},
	}
}

func (TriggerRunAction) Validate(inputs map[string]any) error {
	if stringInput(inputs, "automationId", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "TRIGGER_AUTOMATION_RUN requires 'automationId'")
	}
	return nil
}

func (TriggerRunAction) Execute(ctx context.Context, in StepInput) (map[string]any, error) {
	if in.Emitter == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "TRIGGER_AUTOMATION_RUN: no emitter available")
	}
	fields, _ := objectInput(in.Inputs, "fields")
	if fields == nil {
		fields = map[string]any{}
	}

	runID, err := in.Emitter.Emit(ctx, stringInput(in.Inputs, "automationId", ""), fields)
	if err != nil {
		if schema.ErrorCode(err) == schema.ErrCodeChainLimit {
			return map[string]any{"success": false, "status": schema.ErrCodeChainLimit, "response": err.Error()}, nil
		}
		return nil, err
	}
	return map[string]any{"success": true, "runId": runID, "chainCount": in.Emitter.ChainCount()}, nil
}

var _ Action = TriggerRunAction{}
