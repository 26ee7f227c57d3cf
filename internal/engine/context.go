package engine

import (
	"github.com/rendis/autoflow/internal/expressions"
)

// ExecutionContext is the binding environment of one run. Step outputs are
// addressed by their 1-based declared position; position 0 is reserved and
// always holds an empty object so that steps.N in a template means the N-th
// declared step.
//
// An ExecutionContext is owned by a single run and is not safe for
// concurrent use.
type ExecutionContext struct {
	trigger map[string]any
	steps   []map[string]any
}

// NewContext creates a context holding trigger and the reserved slot 0.
func NewContext(trigger map[string]any) *ExecutionContext {
	if trigger == nil {
		trigger = map[string]any{}
	}
	return &ExecutionContext{
		trigger: trigger,
		steps:   []map[string]any{{}},
	}
}

// Trigger returns the trigger output.
func (c *ExecutionContext) Trigger() map[string]any { return c.trigger }

// Set stores value at position, growing the container with empty objects
// when position lies beyond the current end. Position 0 is never written.
func (c *ExecutionContext) Set(position int, value map[string]any) {
	if position <= 0 {
		return
	}
	for len(c.steps) <= position {
		c.steps = append(c.steps, map[string]any{})
	}
	if value == nil {
		value = map[string]any{}
	}
	c.steps[position] = value
}

// Get returns the value at position, or nil when nothing was stored there.
func (c *ExecutionContext) Get(position int) map[string]any {
	if position < 0 || position >= len(c.steps) {
		return nil
	}
	return c.steps[position]
}

// Len returns the number of slots including the reserved one.
func (c *ExecutionContext) Len() int { return len(c.steps) }

// Snapshot returns a deep copy shaped {"trigger": ..., "steps": [...]}, the
// scope templates and steps are evaluated against. Mutating the snapshot
// never affects the context.
func (c *ExecutionContext) Snapshot() map[string]any {
	steps := make([]any, len(c.steps))
	for i, s := range c.steps {
		steps[i] = expressions.DeepCopyMap(s)
	}
	return map[string]any{
		"trigger": expressions.DeepCopyMap(c.trigger),
		"steps":   steps,
	}
}
