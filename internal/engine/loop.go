package engine

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/rendis/autoflow/internal/actions"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/validation"
	"github.com/rendis/autoflow/pkg/schema"
	"github.com/spf13/cast"
)

// LoopState is the progress of one loop unit.
type LoopState struct {
	Position   int   // declared position of the LOOP step
	Iteration  int   // zero-based index of the current iteration
	Items      []any // outputs of the body, one per completed iteration
	LastOutput map[string]any
	Status     string // terminal status; empty on natural completion
	Success    bool
}

// Aggregate returns the loop result written into the context and record.
func (s *LoopState) Aggregate() map[string]any {
	items := s.Items
	if items == nil {
		items = []any{}
	}
	out := map[string]any{
		"success":    s.Success,
		"items":      items,
		"iterations": len(s.Items),
	}
	if s.Status != "" {
		out["status"] = s.Status
	}
	return out
}

// loopController runs a LOOP step and its body as one unit. The body sits
// at position+1; while iterating, the loop's own slot holds
// {"currentItem": ...} and loop.* references in the body's inputs are
// re-rooted at that slot.
type loopController struct {
	o     *Orchestrator
	loop  schema.Step
	body  schema.Step
	state LoopState

	bodyInputs map[string]any
}

func newLoopController(o *Orchestrator, loop, body schema.Step, position int) *loopController {
	return &loopController{
		o:          o,
		loop:       loop,
		body:       body,
		state:      LoopState{Position: position},
		bodyInputs: expressions.RewriteLoopRefs(body.Inputs, position),
	}
}

// run iterates until a terminal condition. Terminal outcomes are recorded,
// not returned; only a failing body step is an error, in which case the
// partially collected items are discarded.
func (lc *loopController) run(ctx context.Context) error {
	st := &lc.state
	for ; ; st.Iteration++ {
		inputs, err := lc.resolveInputs(ctx)
		if err != nil {
			return err
		}

		items, ok := bindingItems(inputs)
		if !ok {
			lc.finish(ctx, schema.StatusIncorrectType, false)
			return nil
		}
		if st.Iteration >= len(items) {
			lc.finish(ctx, "", true)
			return nil
		}

		current := items[st.Iteration]
		lc.o.context.Set(st.Position, map[string]any{"currentItem": current})

		if lc.reachedMax(inputs) {
			lc.finish(ctx, schema.StatusMaxIterations, true)
			return nil
		}
		if failure, set := failureValue(inputs); set && sameValue(current, failure) {
			lc.finish(ctx, schema.StatusFailureCondition, false)
			return nil
		}

		out, err := lc.o.dispatch(ctx, lc.body, lc.bodyInputs, st.Position+1)
		if err != nil {
			return err
		}
		lc.o.context.Set(st.Position+1, out)
		st.Items = append(st.Items, out)
		st.LastOutput = out

		if lc.o.filterStop(lc.body, out) {
			lc.finish(ctx, schema.StatusStopped, false)
			return nil
		}
	}
}

// resolveInputs resolves the LOOP step's inputs against a fresh copy of the
// context and cleans them with the step's rules.
func (lc *loopController) resolveInputs(ctx context.Context) (map[string]any, error) {
	resolved, err := lc.o.engine.deps.Resolver.Resolve(ctx, lc.loop.Inputs, lc.o.context.Snapshot())
	if err != nil {
		return nil, templateError(err, lc.loop)
	}
	return validation.CleanInputs(resolved, lc.o.engine.inputRules(lc.loop)), nil
}

func (lc *loopController) reachedMax(inputs map[string]any) bool {
	i := lc.state.Iteration
	if limit := lc.o.engine.config.MaxIterations; limit > 0 && i == limit {
		return true
	}
	if n, ok := actions.NumericValue(inputs["iterations"]); ok && n >= 0 && float64(i) == n {
		return true
	}
	return false
}

// finish writes the aggregate at the loop's position and the last body
// output at the body's position, then appends the single record entry of
// the loop unit.
func (lc *loopController) finish(ctx context.Context, status string, success bool) {
	st := &lc.state
	st.Status, st.Success = status, success

	agg := st.Aggregate()
	last := st.LastOutput
	if last == nil {
		last = map[string]any{}
	}
	lc.o.context.Set(st.Position, agg)
	lc.o.context.Set(st.Position+1, last)
	lc.o.recorder.Append(lc.body.ID, lc.body.StepID, lc.body.Inputs, agg)

	logging.LogWith(ctx, lc.o.engine.deps.Logger).Info("loop finished",
		"step", lc.body.ID,
		"position", st.Position,
		"status", status,
		"success", success,
		"iterations", len(st.Items))
	lc.o.engine.deps.Observer.LoopFinished(ctx, LoopEvent{
		AutomationID: lc.o.automation.ID,
		ID:           lc.body.ID,
		Position:     st.Position,
		Status:       status,
		Success:      success,
		Iterations:   len(st.Items),
	})
}

// bindingItems returns the items to iterate over. The option input selects
// the expected kind of binding; without one the kind is inferred. A string
// binding iterates over its lines. ok is false on a kind mismatch.
func bindingItems(inputs map[string]any) ([]any, bool) {
	binding := inputs["binding"]
	option, _ := inputs["option"].(string)
	if option == "" {
		if _, isString := binding.(string); isString {
			option = schema.LoopOptionString
		} else {
			option = schema.LoopOptionArray
		}
	}

	switch option {
	case schema.LoopOptionArray:
		switch b := binding.(type) {
		case nil, string, map[string]any:
			return nil, false
		case []any:
			return b, true
		default:
			items, err := cast.ToSliceE(b)
			return items, err == nil
		}
	case schema.LoopOptionString:
		s, isString := binding.(string)
		if !isString {
			return nil, false
		}
		if s == "" {
			return []any{}, true
		}
		lines := strings.Split(s, "\n")
		items := make([]any, len(lines))
		for i, line := range lines {
			items[i] = strings.TrimSuffix(line, "\r")
		}
		return items, true
	default:
		return nil, false
	}
}

// failureValue returns the loop's failure sentinel. An absent, null or empty
// string sentinel is not set.
func failureValue(inputs map[string]any) (any, bool) {
	v, ok := inputs["failure"]
	if !ok || v == nil {
		return nil, false
	}
	if s, isString := v.(string); isString && s == "" {
		return nil, false
	}
	return v, true
}

// sameValue is the strict equality of the failure sentinel: no coercion
// between kinds, so "01" never matches "1". Numbers of different Go types
// compare by value.
func sameValue(a, b any) bool {
	if fa, ok := numberValue(a); ok {
		fb, ok := numberValue(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return cast.ToFloat64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
