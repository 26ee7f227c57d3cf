package actions

import (
	"context"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
	"github.com/spf13/cast"
)

// FilterAction implements the intrinsic FILTER step. It compares field to
// value with condition, or evaluates a CEL expression when one is given.
// A false result makes the orchestrator stop the run.
type FilterAction struct {
	cel *expressions.CELEngine
}

// NewFilterAction creates the FILTER step.
func NewFilterAction(cel *expressions.CELEngine) *FilterAction {
	return &FilterAction{cel: cel}
}

func (a *FilterAction) StepID() string { return schema.StepFilter }

func (a *FilterAction) Info() StepInfo {
	return StepInfo{
		StepID:      schema.StepFilter,
		Name:        "Condition",
		Description: "Conditionally halt automations which do not meet certain conditions",
		Intrinsic:   true,
		Inputs: schema.InputSchema{
			Properties: map[string]schema.InputRule{
				"field":      {Title: "Reference Value"},
				"condition":  {Type: "string", Title: "Condition"},
				"value":      {Title: "Comparison Value"},
				"expression": {Type: "string", Title: "CEL Expression"},
			},
		},
	}
}

func (a *FilterAction) Validate(inputs map[string]any) error {
	if expr := stringInput(inputs, "expression", ""); expr != "" {
		return nil
	}
	cond := stringInput(inputs, "condition", "")
	if !slices.Contains(schema.FilterConditions, cond) {
		return schema.NewErrorf(schema.ErrCodeValidation, "FILTER: unknown condition %q", cond)
	}
	return nil
}

func (a *FilterAction) Execute(ctx context.Context, in StepInput) (map[string]any, error) {
	field, value := in.Inputs["field"], in.Inputs["value"]

	var result bool
	if expr := stringInput(in.Inputs, "expression", ""); expr != "" {
		if a.cel == nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "FILTER: expression given but no CEL engine configured")
		}
		data := map[string]any{"field": field, "value": value}
		if in.Context != nil {
			data["trigger"] = in.Context["trigger"]
			data["steps"] = in.Context["steps"]
		}
		ok, err := a.cel.EvaluateBool(ctx, expr, data)
		if err != nil {
			return nil, err
		}
		result = ok
	} else {
		result = Compare(stringInput(in.Inputs, "condition", ""), field, value)
	}

	return map[string]any{"success": result, "result": result}, nil
}

// Compare applies a FILTER condition. Operands are compared as numbers when
// both convert, then as RFC 3339 times, then structurally or as strings.
func Compare(condition string, field, value any) bool {
	switch condition {
	case schema.FilterEqual:
		return equalValues(field, value)
	case schema.FilterNotEqual:
		return !equalValues(field, value)
	case schema.FilterGreaterThan:
		c, ok := order(field, value)
		return ok && c > 0
	case schema.FilterLessThan:
		c, ok := order(field, value)
		return ok && c < 0
	default:
		return false
	}
}

func equalValues(a, b any) bool {
	if fa, fb, ok := bothNumbers(a, b); ok {
		return fa == fb
	}
	if ta, tb, ok := bothTimes(a, b); ok {
		return ta.Equal(tb)
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	return expressions.Stringify(a) == expressions.Stringify(b)
}

func order(a, b any) (int, bool) {
	if fa, fb, ok := bothNumbers(a, b); ok {
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	if ta, tb, ok := bothTimes(a, b); ok {
		return ta.Compare(tb), true
	}
	sa, sb := expressions.Stringify(a), expressions.Stringify(b)
	if sa == "" || sb == "" {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

// NumericValue converts numbers and numeric strings to float64.
func NumericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case nil, bool, map[string]any, []any:
		return 0, false
	case string:
		if strings.TrimSpace(n) == "" {
			return 0, false
		}
		f, err := cast.ToFloat64E(strings.TrimSpace(n))
		return f, err == nil
	default:
		f, err := cast.ToFloat64E(n)
		return f, err == nil
	}
}

func bothNumbers(a, b any) (float64, float64, bool) {
	fa, okA := NumericValue(a)
	fb, okB := NumericValue(b)
	return fa, fb, okA && okB
}

func bothTimes(a, b any) (time.Time, time.Time, bool) {
	sa, okA := a.(string)
	sb, okB := b.(string)
	if !okA || !okB {
		return time.Time{}, time.Time{}, false
	}
	ta, errA := time.Parse(time.RFC3339, sa)
	tb, errB := time.Parse(time.RFC3339, sb)
	return ta, tb, errA == nil && errB == nil
}

var _ Action = (*FilterAction)(nil)

