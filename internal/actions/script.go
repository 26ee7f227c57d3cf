package actions

import (
	"context"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
)

// ScriptAction evaluates an expr-lang program against the run context.
// The program sees trigger, steps and any "data" input.
type ScriptAction struct {
	engine *expressions.ExprEngine
}

// NewScriptAction creates the EXECUTE_SCRIPT step.
func NewScriptAction(engine *expressions.ExprEngine) *ScriptAction {
	if engine == nil {
		engine = expressions.NewExprEngine()
	}
	return &ScriptAction{engine: engine}
}

func (a *ScriptAction) StepID() string { return "EXECUTE_SCRIPT" }

func (a *ScriptAction) Info() StepInfo {
	return StepInfo{
		StepID:      "EXECUTE_SCRIPT",
		Name:        "Scripting",
		Description: "Run an expression against the automation context",
		Inputs: schema.InputSchema{
			Properties: map[string]schema.InputRule{
				"code": {Type: "string", Title: "Code"},
				"data": {Title: "Data"},
			},
			Required: []string{"code"},
		},
	}
}

func (a *ScriptAction) Validate(inputs map[string]any) error {
	if stringInput(inputs, "code", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "EXECUTE_SCRIPT requires non-empty 'code'")
	}
	return nil
}

// Execute reports evaluation failures as an unsuccessful output rather
// than an error, so a faulty script does not abort the run.
func (a *ScriptAction) Execute(ctx context.Context, in StepInput) (map[string]any, error) {
	env := make(map[string]any, 3)
	for k, v := range in.Context {
		env[k] = v
	}
	if data, ok := in.Inputs["data"]; ok {
		env["data"] = data
	}

	value, err := a.engine.Evaluate(ctx, stringInput(in.Inputs, "code", ""), env)
	if err != nil {
		return map[string]any{"success": false, "response": err.Error()}, nil
	}
	return map[string]any{"success": true, "value": value}, nil
}

var _ Action = (*ScriptAction)(nil)
