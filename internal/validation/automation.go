package validation

import (
	"encoding/json"

	"github.com/rendis/autoflow/pkg/schema"
)

// AutomationValidator runs the two-stage validation pipeline:
// 1. Structural (JSON Schema, duplicate step ids)
// 2. Semantic (registry lookups, loop shape, bindings)
type AutomationValidator struct {
	jsonSchema *JSONSchemaValidator
	steps      StepLookup
}

// NewAutomationValidator creates an AutomationValidator.
// lookup may be nil to skip registry checks.
func NewAutomationValidator(lookup StepLookup) (*AutomationValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &AutomationValidator{jsonSchema: jsv, steps: lookup}, nil
}

// Validate runs the pipeline and returns an aggregated result.
// Structural errors short-circuit the semantic stage.
func (av *AutomationValidator) Validate(def *schema.AutomationDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.AddError("/", schema.ErrCodeValidation, "automation definition is nil")
		return result
	}

	if err := av.jsonSchema.ValidateDefinition(def); err != nil {
		addStructural(result, err)
		return result
	}

	result.Merge(CheckSteps(def, av.steps))
	return result
}

// ValidateDefinition satisfies the Validator interface.
func (av *AutomationValidator) ValidateDefinition(def *schema.AutomationDefinition) error {
	return av.Validate(def).ToError()
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (av *AutomationValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return av.jsonSchema.ValidateInput(input, inputSchema)
}

// ValidateTrigger checks an event payload against the optional JSON Schema
// carried in the trigger's "schema" input.
func (av *AutomationValidator) ValidateTrigger(trigger schema.TriggerDefinition, payload map[string]any) error {
	raw, ok := trigger.Inputs["schema"]
	if !ok || raw == nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "trigger schema is not serializable").WithCause(err)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return av.jsonSchema.ValidateInput(payload, b)
}

func addStructural(result *schema.ValidationResult, err error) {
	ae, ok := err.(*schema.AutomationError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return
	}
	if violations, ok := ae.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return
	}
	result.AddError("/", schema.ErrCodeValidation, ae.Message)
}

var _ Validator = (*AutomationValidator)(nil)
