package actions

import (
	"context"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// DelayAction pauses the run for a number of milliseconds.
type DelayAction struct {
	// Max caps a single delay. Zero means no cap.
	Max time.Duration
}

func (a DelayAction) StepID() string { return "DELAY" }

func (a DelayAction) Info() StepInfo {
	return StepInfo{
		StepID:      "DELAY",
		Name:        "Delay",
		Description: "Delay the automation until an amount of time has passed",
		Inputs: schema.InputSchema{
			Properties: map[string]schema.InputRule{"time": {Type: "number", Title: "Delay in milliseconds"}},
			Required:   []string{"time"},
		},
	}
}

func (a DelayAction) Validate(inputs map[string]any) error {
	if intInput(inputs, "time", -1) < 0 {
		return schema.NewError(schema.ErrCodeValidation, "DELAY requires a non-negative 'time' in milliseconds")
	}
	return nil
}

func (a DelayAction) Execute(ctx context.Context, in StepInput) (map[string]any, error) {
	d := durationMillis(in.Inputs, "time")
	if a.Max > 0 && d > a.Max {
		d = a.Max
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, schema.NewError(schema.ErrCodeCancelled, "DELAY interrupted").WithCause(ctx.Err())
	case <-timer.C:
		return map[string]any{"success": true}, nil
	}
}

var _ Action = DelayAction{}
