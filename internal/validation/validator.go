package validation

import "github.com/rendis/autoflow/pkg/schema"

// Validator checks automation definitions before they are stored or run.
// Uses JSON Schema Draft 2020-12 for structure and trigger payloads.
type Validator interface {
	ValidateDefinition(def *schema.AutomationDefinition) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// StepLookup reports whether a step id can be resolved to a step function.
type StepLookup interface {
	Has(stepID string) bool
}

// StepRules is implemented by lookups that know the default input rules of
// their steps.
type StepRules interface {
	InputRules(stepID string) (schema.InputSchema, bool)
}
