package expressions

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/spf13/cast"
)

// Resolver substitutes bindings in step inputs against a context snapshot.
// It never mutates its arguments.
//
// A string that is exactly one binding resolves to the raw referenced value,
// keeping its type. Any other string with bindings renders to a string.
// Paths that do not exist resolve to nil (rendered as "").
type Resolver struct {
	expr *ExprEngine
}

// NewResolver creates a Resolver. A nil engine gets a private ExprEngine.
func NewResolver(engine *ExprEngine) *Resolver {
	if engine == nil {
		engine = NewExprEngine()
	}
	return &Resolver{expr: engine}
}

// Resolve returns a new inputs map with every string leaf resolved.
func (r *Resolver) Resolve(ctx context.Context, inputs map[string]any, scope map[string]any) (map[string]any, error) {
	if inputs == nil {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		resolved, err := r.Value(ctx, v, scope)
		if err != nil {
			return nil, withInput(err, k)
		}
		out[k] = resolved
	}
	return out, nil
}

// Value resolves a single input value, descending into maps and slices.
func (r *Resolver) Value(ctx context.Context, v any, scope map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return r.String(ctx, val, scope)
	case map[string]any:
		return r.Resolve(ctx, val, scope)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := r.Value(ctx, item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return DeepCopy(v), nil
	}
}

// String resolves a template string.
func (r *Resolver) String(ctx context.Context, s string, scope map[string]any) (any, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	tmpl, err := ParseTemplate(s)
	if err != nil {
		return nil, err
	}
	if b, ok := tmpl.SingleBinding(); ok {
		v, err := r.binding(ctx, b, scope)
		if err != nil {
			return nil, err
		}
		return DeepCopy(v), nil
	}

	var sb strings.Builder
	for _, seg := range tmpl.Segments {
		if seg.Binding == nil {
			sb.WriteString(seg.Literal)
			continue
		}
		v, err := r.binding(ctx, seg.Binding, scope)
		if err != nil {
			return nil, err
		}
		sb.WriteString(Stringify(v))
	}
	return sb.String(), nil
}

func (r *Resolver) binding(ctx context.Context, b *Binding, scope map[string]any) (any, error) {
	if path, ok := ParsePath(b.Expr); ok {
		v, _ := Lookup(scope, path)
		return v, nil
	}
	return r.expr.Evaluate(ctx, b.Expr, scope)
}

// Lookup walks path through nested maps and slices. The bool is false when
// any segment is missing.
func Lookup(root any, path []string) (any, bool) {
	cur := root
	for _, seg := range path {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		case []map[string]any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Stringify renders a resolved value for interpolation into surrounding text.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any, []map[string]any:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		b, jerr := json.Marshal(v)
		if jerr != nil {
			return ""
		}
		return string(b)
	}
	return s
}

// RewriteRefs returns a copy of v in which every binding rooted at from is
// re-rooted at to, at any nesting depth. Strings that fail to parse are
// copied unchanged.
func RewriteRefs(v any, from string, to []string) any {
	switch val := v.(type) {
	case string:
		if !strings.Contains(val, "{{") {
			return val
		}
		tmpl, err := ParseTemplate(val)
		if err != nil {
			return val
		}
		return tmpl.RewriteRoot(from, to).String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = RewriteRefs(item, from, to)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = RewriteRefs(item, from, to)
		}
		return out
	default:
		return DeepCopy(v)
	}
}

// RewriteLoopRefs re-roots loop.* references in inputs at steps.<position>.
func RewriteLoopRefs(inputs map[string]any, position int) map[string]any {
	if inputs == nil {
		return map[string]any{}
	}
	return RewriteRefs(inputs, "loop", []string{"steps", strconv.Itoa(position)}).(map[string]any)
}

func withInput(err error, key string) error {
	if ae, ok := err.(*schema.AutomationError); ok {
		details := map[string]any{"input": key}
		for k, v := range ae.Details {
			details[k] = v
		}
		cp := *ae
		cp.Details = details
		return &cp
	}
	return schema.NewErrorf(schema.ErrCodeTemplate, "resolve input %q: %s", key, err.Error()).WithCause(err)
}
