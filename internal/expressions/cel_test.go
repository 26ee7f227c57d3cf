package expressions

import (
	"context"
	"testing"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCEL(t *testing.T) *CELEngine {
	t.Helper()
	e, err := NewCELEngine()
	require.NoError(t, err)
	return e
}

func TestNewCELEngine(t *testing.T) {
	e := newCEL(t)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_FieldValueComparison(t *testing.T) {
	e := newCEL(t)
	ctx := context.Background()

	ok, err := e.EvaluateBool(ctx, "field > value", map[string]any{"field": 10, "value": 5})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvaluateBool(ctx, `field.startsWith(value)`, map[string]any{"field": "budget", "value": "bud"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCEL_StepsAndTrigger(t *testing.T) {
	e := newCEL(t)
	data := map[string]any{
		"trigger": map[string]any{"row": map[string]any{"status": "open"}},
		"steps":   []any{map[string]any{}, map[string]any{"success": true}},
	}

	ok, err := e.EvaluateBool(context.Background(), `trigger.row.status == "open" && steps[1].success`, data)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCEL_MissingVariablesDefault(t *testing.T) {
	e := newCEL(t)

	out, err := e.Evaluate(context.Background(), "size(steps)", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, out)

	ok, err := e.EvaluateBool(context.Background(), "field == null", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCEL_Errors(t *testing.T) {
	e := newCEL(t)
	ctx := context.Background()

	_, err := e.Evaluate(ctx, "", nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))

	_, err = e.Evaluate(ctx, "field >", nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))

	_, err = e.Evaluate(ctx, "undeclared == 1", nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))

	_, err = e.EvaluateBool(ctx, "1 + 1", nil)
	assert.Equal(t, schema.ErrCodeExecution, schema.ErrorCode(err))
}

func TestCEL_ProgramCaching(t *testing.T) {
	e := newCEL(t)
	for i := 0; i < 3; i++ {
		_, err := e.Evaluate(context.Background(), "field == value", map[string]any{"field": i, "value": i})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, e.cache.len())
}
