package actions

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/autoflow/pkg/schema"
)

// Registry is the thread-safe step registry.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]Action),
	}
}

// Register adds an action. Returns CONFLICT on a duplicate step id.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	id := action.StepID()
	if id == "" {
		return schema.NewError(schema.ErrCodeValidation, "action step id is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "step %q already registered", id)
	}

	r.actions[id] = action
	return nil
}

// RegisterFunc registers a plain function as a step.
func (r *Registry) RegisterFunc(stepID, description string, fn StepFunc) error {
	if fn == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "step %q has a nil function", stepID)
	}
	return r.Register(&funcAction{info: StepInfo{StepID: stepID, Name: stepID, Description: description}, fn: fn})
}

// Get retrieves an action by step id.
func (r *Registry) Get(stepID string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[stepID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeStepNotFound, "cannot find automation step by name %s", stepID)
	}
	return action, nil
}

// Resolve returns a StepFunc that validates inputs and executes the action,
// or nil when stepID is not registered.
func (r *Registry) Resolve(stepID string) StepFunc {
	action, err := r.Get(stepID)
	if err != nil {
		return nil
	}
	return func(ctx context.Context, in StepInput) (map[string]any, error) {
		if err := action.Validate(in.Inputs); err != nil {
			return nil, err
		}
		return action.Execute(ctx, in)
	}
}

// Has reports whether stepID is registered.
func (r *Registry) Has(stepID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[stepID]
	return ok
}

// InputRules returns the default input rules of a registered step.
func (r *Registry) InputRules(stepID string) (schema.InputSchema, bool) {
	action, err := r.Get(stepID)
	if err != nil {
		return schema.InputSchema{}, false
	}
	return action.Info().Inputs, true
}

// List returns info for all registered steps, sorted by step id.
func (r *Registry) List() []StepInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]StepInfo, 0, len(r.actions))
	for _, a := range r.actions {
		infos = append(infos, a.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StepID < infos[j].StepID
	})
	return infos
}

// StepIDs returns the sorted registered step ids.
func (r *Registry) StepIDs() []string {
	infos := r.List()
	ids := make([]string, len(infos))
	for i, info := range infos {
		ids[i] = info.StepID
	}
	return ids
}

// Count returns the number of registered steps.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// funcAction adapts a StepFunc to Action.
type funcAction struct {
	info StepInfo
	fn   StepFunc
}

func (f *funcAction) StepID() string                { return f.info.StepID }
func (f *funcAction) Info() StepInfo                { return f.info }
func (f *funcAction) Validate(map[string]any) error { return nil }

func (f *funcAction) Execute(ctx context.Context, in StepInput) (map[string]any, error) {
	return f.fn(ctx, in)
}

var _ StepResolver = (*Registry)(nil)
