package validation

import (
	"testing"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLookup map[string]bool

func (s stubLookup) Has(stepID string) bool { return s[stepID] }

var knownSteps = stubLookup{"SERVER_LOG": true, "EXECUTE_SCRIPT": true}

func errorPaths(r *schema.ValidationResult) []string {
	var paths []string
	for _, e := range r.Errors {
		paths = append(paths, e.Path)
	}
	return paths
}

func TestCheckSteps_Valid(t *testing.T) {
	r := CheckSteps(validDefinition(), knownSteps)
	assert.True(t, r.Valid(), r.Errors)
	assert.Empty(t, r.Warnings)
}

func TestCheckSteps_UnknownStep(t *testing.T) {
	def := validDefinition()
	def.Steps[1].StepID = "SEND_EMAIL"

	r := CheckSteps(def, knownSteps)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "steps[1].stepId", r.Errors[0].Path)
	assert.Equal(t, schema.ErrCodeStepNotFound, r.Errors[0].Code)
}

func TestCheckSteps_NilLookupSkipsRegistry(t *testing.T) {
	def := validDefinition()
	def.Steps[1].StepID = "SEND_EMAIL"
	assert.True(t, CheckSteps(def, nil).Valid())
}

func TestCheckSteps_Loop(t *testing.T) {
	loop := schema.Step{ID: "l", StepID: schema.StepLoop, Inputs: map[string]any{
		"option": schema.LoopOptionArray, "binding": "{{ trigger.items }}",
	}}
	body := schema.Step{ID: "b", StepID: "SERVER_LOG", Inputs: map[string]any{"text": "{{ loop.currentItem }}"}}

	t.Run("valid loop", func(t *testing.T) {
		def := &schema.AutomationDefinition{Trigger: schema.TriggerDefinition{StepID: "APP"}, Steps: []schema.Step{loop, body}}
		r := CheckSteps(def, knownSteps)
		assert.True(t, r.Valid(), r.Errors)
		assert.Empty(t, r.Warnings)
	})

	t.Run("loop without body", func(t *testing.T) {
		def := &schema.AutomationDefinition{Trigger: schema.TriggerDefinition{StepID: "APP"}, Steps: []schema.Step{loop}}
		assert.Equal(t, []string{"steps[0]"}, errorPaths(CheckSteps(def, knownSteps)))
	})

	t.Run("nested loop", func(t *testing.T) {
		def := &schema.AutomationDefinition{Trigger: schema.TriggerDefinition{StepID: "APP"}, Steps: []schema.Step{loop, loop, body}}
		r := CheckSteps(def, knownSteps)
		assert.Contains(t, errorPaths(r), "steps[1].stepId")
	})

	t.Run("bad option", func(t *testing.T) {
		bad := loop
		bad.Inputs = map[string]any{"option": "Map", "binding": "x"}
		def := &schema.AutomationDefinition{Trigger: schema.TriggerDefinition{StepID: "APP"}, Steps: []schema.Step{bad, body}}
		assert.Equal(t, []string{"steps[0].inputs.option"}, errorPaths(CheckSteps(def, knownSteps)))
	})

	t.Run("missing binding warns", func(t *testing.T) {
		noBinding := loop
		noBinding.Inputs = map[string]any{"option": schema.LoopOptionArray}
		def := &schema.AutomationDefinition{Trigger: schema.TriggerDefinition{StepID: "APP"}, Steps: []schema.Step{noBinding, body}}
		r := CheckSteps(def, knownSteps)
		assert.True(t, r.Valid())
		require.Len(t, r.Warnings, 1)
		assert.Equal(t, "steps[0].inputs.binding", r.Warnings[0].Path)
	})
}

func TestCheckSteps_LoopReferenceOutsideBody(t *testing.T) {
	def := validDefinition()
	def.Steps[0].Inputs = map[string]any{"text": "{{ loop.currentItem }}"}

	r := CheckSteps(def, knownSteps)
	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "steps[0].inputs.text", r.Warnings[0].Path)
}

func TestCheckSteps_CronOnlyAsTrigger(t *testing.T) {
	def := validDefinition()
	def.Steps[0].StepID = schema.TriggerCron

	r := CheckSteps(def, knownSteps)
	assert.Equal(t, []string{"steps[0].stepId"}, errorPaths(r))
}

func TestCheckSteps_CronTrigger(t *testing.T) {
	def := validDefinition()
	def.Trigger = schema.TriggerDefinition{StepID: schema.TriggerCron, Inputs: map[string]any{"cron": "*/5 * * * *"}}
	assert.True(t, CheckSteps(def, knownSteps).Valid())

	def.Trigger.Inputs["cron"] = "every five minutes"
	assert.Equal(t, []string{"trigger.inputs.cron"}, errorPaths(CheckSteps(def, knownSteps)))

	def.Trigger.Inputs = nil
	assert.Equal(t, []string{"trigger.inputs.cron"}, errorPaths(CheckSteps(def, knownSteps)))
}

func TestCheckSteps_IntrinsicTrigger(t *testing.T) {
	def := validDefinition()
	def.Trigger.StepID = schema.StepFilter
	assert.Equal(t, []string{"trigger.stepId"}, errorPaths(CheckSteps(def, knownSteps)))
}

func TestCheckSteps_Filter(t *testing.T) {
	filter := func(inputs map[string]any) *schema.AutomationDefinition {
		return &schema.AutomationDefinition{
			Trigger: schema.TriggerDefinition{StepID: "APP"},
			Steps:   []schema.Step{{ID: "f", StepID: schema.StepFilter, Inputs: inputs}},
		}
	}

	assert.True(t, CheckSteps(filter(map[string]any{"field": 1, "condition": schema.FilterEqual, "value": 1}), nil).Valid())
	assert.True(t, CheckSteps(filter(map[string]any{"expression": "field > 1"}), nil).Valid())
	assert.True(t, CheckSteps(filter(map[string]any{"condition": "{{ trigger.cond }}"}), nil).Valid())
	assert.False(t, CheckSteps(filter(map[string]any{"condition": "ROUGHLY"}), nil).Valid())
	assert.False(t, CheckSteps(filter(map[string]any{"field": 1}), nil).Valid())
}

func TestCheckSteps_Bindings(t *testing.T) {
	def := validDefinition()
	def.Steps[0].Inputs = map[string]any{
		"nested": map[string]any{"list": []any{"{{ steps.1.x"}},
	}
	r := CheckSteps(def, knownSteps)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "steps[0].inputs.nested.list[0]", r.Errors[0].Path)
	assert.Equal(t, schema.ErrCodeTemplate, r.Errors[0].Code)
}

func TestCheckSteps_ForwardReferenceWarns(t *testing.T) {
	def := validDefinition()
	def.Steps[0].Inputs = map[string]any{"text": "{{ steps.2.value }}"}

	r := CheckSteps(def, knownSteps)
	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
}

func TestCheckSteps_Nil(t *testing.T) {
	assert.False(t, CheckSteps(nil, nil).Valid())
}

type rulesLookup struct {
	stubLookup
	stubRules
}

func TestCheckSteps_MissingRequiredInput(t *testing.T) {
	lookup := rulesLookup{
		stubLookup: knownSteps,
		stubRules: stubRules{"SERVER_LOG": schema.InputSchema{
			Properties: map[string]schema.InputRule{"text": {Type: TypeString}},
			Required:   []string{"text"},
		}},
	}
	def := validDefinition()
	def.Steps[0].Inputs = map[string]any{}

	r := CheckSteps(def, lookup)
	assert.True(t, r.Valid(), r.Errors)
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "steps[0].inputs.text", r.Warnings[0].Path)
	assert.Contains(t, r.Warnings[0].Message, `missing required input "text"`)

	assert.Empty(t, CheckSteps(validDefinition(), lookup).Warnings)
}
