package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rendis/autoflow/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// automationSchemaJSON is the JSON Schema for AutomationDefinition.
// Unknown properties are allowed: builders attach display metadata to steps.
const automationSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://autoflow.dev/schemas/automation.json",
  "type": "object",
  "required": ["trigger", "steps"],
  "properties": {
    "trigger": { "$ref": "#/$defs/trigger" },
    "steps": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "$defs": {
    "trigger": {
      "type": "object",
      "required": ["stepId"],
      "properties": {
        "id": { "type": "string" },
        "stepId": { "type": "string", "minLength": 1 },
        "inputs": { "type": ["object", "null"] }
      }
    },
    "step": {
      "type": "object",
      "required": ["id", "stepId"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "stepId": {
          "type": "string",
          "minLength": 1,
          "pattern": "^[A-Z][A-Z0-9_]*$"
        },
        "inputs": { "type": ["object", "null"] },
        "schema": { "$ref": "#/$defs/stepSchema" }
      }
    },
    "stepSchema": {
      "type": "object",
      "properties": {
        "inputs": {
          "type": "object",
          "properties": {
            "properties": {
              "type": ["object", "null"],
              "additionalProperties": { "$ref": "#/$defs/inputRule" }
            },
            "required": {
              "type": ["array", "null"],
              "items": { "type": "string" }
            }
          }
        }
      }
    },
    "inputRule": {
      "type": "object",
      "properties": {
        "type": {
          "type": "string",
          "enum": ["", "string", "number", "boolean", "array", "object"]
        },
        "title": { "type": "string" },
        "description": { "type": "string" }
      }
    }
  }
}`

const automationSchemaURL = "https://autoflow.dev/schemas/automation.json"

// JSONSchemaValidator checks definition structure and trigger payloads
// against JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	definitionSchema *jsonschema.Schema

	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator compiles the automation definition schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newInputCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(automationSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal automation schema: %w", err)
	}
	if err := c.AddResource(automationSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add automation schema resource: %w", err)
	}

	defSchema, err := c.Compile(automationSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile automation schema: %w", err)
	}

	return &JSONSchemaValidator{
		definitionSchema: defSchema,
		cache:            make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDefinition checks def against the automation JSON Schema and
// rejects duplicate step ids.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.AutomationDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "automation definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize automation definition").WithCause(err)
	}

	if err := v.definitionSchema.Validate(doc); err != nil {
		return toAutomationError(err)
	}

	seen := make(map[string]int, len(def.Steps))
	for i, step := range def.Steps {
		if prev, exists := seen[step.ID]; exists {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"duplicate step id %q at steps[%d] and steps[%d]", step.ID, prev, i)
		}
		seen[step.ID] = i
	}

	return nil
}

// ValidateInput checks a trigger payload against a JSON Schema given as raw
// bytes. Compiled schemas are cached by their source.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	// Convert input to JSON-compatible value (json.Number for numbers).
	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toAutomationError(err)
	}

	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := fmt.Sprintf("autoflow://trigger-schema/%d", len(v.cache))
	c := newInputCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// newInputCompiler returns a compiler that asserts "format" keywords.
func newInputCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips v through JSON so numbers become json.Number.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toAutomationError flattens a jsonschema.ValidationError into a
// VALIDATION_ERROR carrying one violation per leaf cause.
func toAutomationError(err error) *schema.AutomationError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations returns "location: message" for every leaf of the tree.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
