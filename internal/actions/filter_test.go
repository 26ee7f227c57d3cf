package actions

import (
	"context"
	"testing"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFilter(t *testing.T) *FilterAction {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	return NewFilterAction(cel)
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name         string
		cond         string
		field, value any
		want         bool
	}{
		{"equal numbers across types", schema.FilterEqual, "10", 10, true},
		{"equal strings", schema.FilterEqual, "open", "open", true},
		{"equal objects", schema.FilterEqual, map[string]any{"a": 1}, map[string]any{"a": 1}, true},
		{"not equal", schema.FilterNotEqual, "open", "closed", true},
		{"not equal same", schema.FilterNotEqual, 1, 1.0, false},
		{"greater numeric not lexical", schema.FilterGreaterThan, "10", "9", true},
		{"less than", schema.FilterLessThan, 2.5, 3, true},
		{"less than strings", schema.FilterLessThan, "apple", "banana", true},
		{"times", schema.FilterGreaterThan, "2024-02-01T00:00:00Z", "2024-01-01T00:00:00Z", true},
		{"nil not ordered", schema.FilterGreaterThan, nil, 1, false},
		{"unknown condition", "ROUGHLY", 1, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.cond, tt.field, tt.value))
		})
	}
}

func TestFilter_Condition(t *testing.T) {
	f := newFilter(t)

	out, err := f.Execute(context.Background(), StepInput{Inputs: map[string]any{
		"field": 5, "condition": schema.FilterGreaterThan, "value": 3,
	}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"success": true, "result": true}, out)

	out, err = f.Execute(context.Background(), StepInput{Inputs: map[string]any{
		"field": 1, "condition": schema.FilterGreaterThan, "value": 3,
	}})
	require.NoError(t, err)
	assert.Equal(t, false, out["success"])
}

func TestFilter_Expression(t *testing.T) {
	f := newFilter(t)
	in := StepInput{
		Inputs: map[string]any{"expression": `trigger.status == "open" && size(steps) == 2`},
		Context: map[string]any{
			"trigger": map[string]any{"status": "open"},
			"steps":   []any{map[string]any{}, map[string]any{"success": true}},
		},
	}

	out, err := f.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
}

func TestFilter_ExpressionError(t *testing.T) {
	f := newFilter(t)
	_, err := f.Execute(context.Background(), StepInput{Inputs: map[string]any{"expression": "field +"}})
	require.Error(t, err)
}

func TestFilter_Validate(t *testing.T) {
	f := newFilter(t)
	assert.NoError(t, f.Validate(map[string]any{"condition": schema.FilterEqual}))
	assert.NoError(t, f.Validate(map[string]any{"expression": "true"}))
	assert.Error(t, f.Validate(map[string]any{"condition": "NOPE"}))
	assert.Error(t, f.Validate(map[string]any{}))
}
