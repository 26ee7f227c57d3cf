package expressions

import (
	"context"
	"testing"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScope() map[string]any {
	return map[string]any{
		"trigger": map[string]any{
			"row": map[string]any{"name": "ada", "tags": []any{"a", "b"}},
		},
		"steps": []any{
			map[string]any{},
			map[string]any{"success": true, "count": 3, "rows": []any{map[string]any{"id": 7}}},
		},
	}
}

func TestResolver_SingleBindingKeepsType(t *testing.T) {
	r := NewResolver(nil)
	out, err := r.Resolve(context.Background(), map[string]any{
		"count": "{{ steps.1.count }}",
		"rows":  "{{ steps.1.rows }}",
		"ok":    "{{{ steps.1.success }}}",
	}, testScope())
	require.NoError(t, err)

	assert.Equal(t, 3, out["count"])
	assert.Equal(t, []any{map[string]any{"id": 7}}, out["rows"])
	assert.Equal(t, true, out["ok"])
}

func TestResolver_MixedTemplateRendersString(t *testing.T) {
	r := NewResolver(nil)
	out, err := r.String(context.Background(), "{{ trigger.row.name }} has {{ steps.1.count }} rows: {{ trigger.row.tags }}", testScope())
	require.NoError(t, err)
	assert.Equal(t, `ada has 3 rows: ["a","b"]`, out)
}

func TestResolver_MissingPath(t *testing.T) {
	r := NewResolver(nil)
	ctx := context.Background()

	out, err := r.String(ctx, "{{ steps.9.count }}", testScope())
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = r.String(ctx, "x{{ trigger.nope }}y", testScope())
	require.NoError(t, err)
	assert.Equal(t, "xy", out)
}

func TestResolver_ExpressionBinding(t *testing.T) {
	r := NewResolver(nil)
	out, err := r.String(context.Background(), "{{ steps[1].count + 1 }}", testScope())
	require.NoError(t, err)
	assert.Equal(t, 4, out)
}

func TestResolver_NestedStructures(t *testing.T) {
	r := NewResolver(nil)
	out, err := r.Resolve(context.Background(), map[string]any{
		"body": map[string]any{
			"list": []any{"{{ trigger.row.name }}", 5, "plain"},
		},
		"n": 1.5,
	}, testScope())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"list": []any{"ada", 5, "plain"}}, out["body"])
	assert.Equal(t, 1.5, out["n"])
}

func TestResolver_DoesNotMutate(t *testing.T) {
	r := NewResolver(nil)
	scope := testScope()
	inputs := map[string]any{"rows": "{{ steps.1.rows }}"}

	out, err := r.Resolve(context.Background(), inputs, scope)
	require.NoError(t, err)

	out["rows"].([]any)[0].(map[string]any)["id"] = 99
	assert.Equal(t, "{{ steps.1.rows }}", inputs["rows"])
	assert.Equal(t, 7, scope["steps"].([]any)[1].(map[string]any)["rows"].([]any)[0].(map[string]any)["id"])
}

func TestResolver_Deterministic(t *testing.T) {
	r := NewResolver(nil)
	inputs := map[string]any{"a": "{{ trigger.row.name }}-{{ steps.1.count }}", "b": "{{ steps.1.rows }}"}

	first, err := r.Resolve(context.Background(), inputs, testScope())
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), inputs, testScope())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolver_ErrorNamesInput(t *testing.T) {
	r := NewResolver(nil)
	_, err := r.Resolve(context.Background(), map[string]any{"bad": "{{ trigger.row"}, testScope())
	require.Error(t, err)

	var ae *schema.AutomationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, schema.ErrCodeTemplate, ae.Code)
	assert.Equal(t, "bad", ae.Details["input"])
}

func TestRewriteLoopRefs(t *testing.T) {
	inputs := map[string]any{
		"id":     "{{ loop.currentItem.id }}",
		"nested": map[string]any{"deep": []any{"{{ loop.currentItem }}", "{{ trigger.loop }}"}},
		"num":    4,
	}
	out := RewriteLoopRefs(inputs, 2)

	assert.Equal(t, "{{ steps.2.currentItem.id }}", out["id"])
	assert.Equal(t, map[string]any{"deep": []any{"{{ steps.2.currentItem }}", "{{ trigger.loop }}"}}, out["nested"])
	assert.Equal(t, 4, out["num"])
	assert.Equal(t, "{{ loop.currentItem.id }}", inputs["id"])
}

func TestLookup(t *testing.T) {
	v, ok := Lookup(testScope(), []string{"steps", "1", "rows", "0", "id"})
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = Lookup(testScope(), []string{"steps", "x"})
	assert.False(t, ok)
}

func TestDeepCopy(t *testing.T) {
	src := map[string]any{"a": []any{map[string]any{"b": 1}}}
	cp := DeepCopyMap(src)
	cp["a"].([]any)[0].(map[string]any)["b"] = 2
	assert.Equal(t, 1, src["a"].([]any)[0].(map[string]any)["b"])
	assert.Nil(t, DeepCopyMap(nil))
}
