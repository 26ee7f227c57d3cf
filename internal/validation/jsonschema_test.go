package validation

import (
	"sync"
	"testing"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDefinition() *schema.AutomationDefinition {
	return &schema.AutomationDefinition{
		Trigger: schema.TriggerDefinition{ID: "t1", StepID: "ROW_SAVED"},
		Steps: []schema.Step{
			{ID: "s1", StepID: "SERVER_LOG", Inputs: map[string]any{"text": "{{ trigger.row.name }}"}},
			{
				ID:     "s2",
				StepID: "EXECUTE_SCRIPT",
				Inputs: map[string]any{"code": "1 + 1"},
				Schema: schema.StepSchema{Inputs: schema.InputSchema{
					Properties: map[string]schema.InputRule{"code": {Type: "string"}},
					Required:   []string{"code"},
				}},
			},
		},
	}
}

func TestNewJSONSchemaValidator(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NotNil(t, v.definitionSchema)
}

func TestValidateDefinition_Nil(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestValidateDefinition_Valid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NoError(t, v.ValidateDefinition(validDefinition()))
}

func TestValidateDefinition_EmptyStepsAllowed(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	def := &schema.AutomationDefinition{Trigger: schema.TriggerDefinition{StepID: "WEBHOOK"}}
	assert.NoError(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_StructuralErrors(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*schema.AutomationDefinition)
	}{
		{"missing trigger stepId", func(d *schema.AutomationDefinition) { d.Trigger.StepID = "" }},
		{"missing step id", func(d *schema.AutomationDefinition) { d.Steps[0].ID = "" }},
		{"missing step stepId", func(d *schema.AutomationDefinition) { d.Steps[1].StepID = "" }},
		{"lowercase stepId", func(d *schema.AutomationDefinition) { d.Steps[0].StepID = "server_log" }},
		{"unknown rule type", func(d *schema.AutomationDefinition) {
			d.Steps[1].Schema.Inputs.Properties["code"] = schema.InputRule{Type: "datetime"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(def)
			err := v.ValidateDefinition(def)
			require.Error(t, err)

			var ae *schema.AutomationError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, schema.ErrCodeValidation, ae.Code)
			assert.NotEmpty(t, ae.Details["violations"])
		})
	}
}

func TestValidateDefinition_DuplicateStepID(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := validDefinition()
	def.Steps[1].ID = "s1"
	err = v.ValidateDefinition(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate step id "s1"`)
}

func TestValidateInput(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	inputSchema := []byte(`{
		"type": "object",
		"required": ["email"],
		"properties": {"email": {"type": "string", "format": "email"}, "age": {"type": "integer"}}
	}`)

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, v.ValidateInput(map[string]any{"email": "a@b.co", "age": 3}, inputSchema))
	})

	t.Run("format asserted", func(t *testing.T) {
		err := v.ValidateInput(map[string]any{"email": "nope"}, inputSchema)
		require.Error(t, err)
		assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
	})

	t.Run("missing required", func(t *testing.T) {
		assert.Error(t, v.ValidateInput(map[string]any{"age": 3}, inputSchema))
	})

	t.Run("empty schema skips", func(t *testing.T) {
		assert.NoError(t, v.ValidateInput(map[string]any{}, nil))
	})

	t.Run("nil input", func(t *testing.T) {
		assert.Error(t, v.ValidateInput(nil, inputSchema))
	})

	t.Run("invalid schema", func(t *testing.T) {
		assert.Error(t, v.ValidateInput(map[string]any{}, []byte(`{not json`)))
	})
}

func TestValidateInput_CachesSchemas(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	s := []byte(`{"type":"object"}`)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.ValidateInput(map[string]any{"x": 1}, s))
		}()
	}
	wg.Wait()
	assert.Len(t, v.cache, 1)
}
