package actions

import (
	"context"
	"encoding/json"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
)

// QueryAction runs a jq query over a JSON value.
type QueryAction struct {
	engine *expressions.GoJQEngine
}

// NewQueryAction creates the JSON_QUERY step.
func NewQueryAction(engine *expressions.GoJQEngine) *QueryAction {
	if engine == nil {
		engine = expressions.NewGoJQEngine()
	}
	return &QueryAction{engine: engine}
}

func (a *QueryAction) StepID() string { return "JSON_QUERY" }

func (a *QueryAction) Info() StepInfo {
	return StepInfo{
		StepID:      "JSON_QUERY",
		Name:        "JSON query",
		Description: "Extract or reshape data with a jq query",
		Inputs: schema.InputSchema{
			Properties: map[string]schema.InputRule{
				"json":  {Title: "JSON"},
				"query": {Type: "string", Title: "jq query"},
			},
			Required: []string{"query"},
		},
	}
}

func (a *QueryAction) Validate(inputs map[string]any) error {
	if stringInput(inputs, "query", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "JSON_QUERY requires non-empty 'query'")
	}
	return nil
}

// Execute accepts the document either as structured data or as a JSON
// string. Query errors are reported in the output.
func (a *QueryAction) Execute(ctx context.Context, in StepInput) (map[string]any, error) {
	doc := in.Inputs["json"]
	if s, ok := doc.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err == nil {
			doc = parsed
		}
	}

	result, err := a.engine.Query(ctx, stringInput(in.Inputs, "query", ""), doc)
	if err != nil {
		return map[string]any{"success": false, "response": err.Error()}, nil
	}
	return map[string]any{"success": true, "result": result}, nil
}

var _ Action = (*QueryAction)(nil)
