package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_WarningsDoNotInvalidate(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("steps[1].inputs.iterations", ErrCodeValidation, "iteration cap above process maximum")

	assert.True(t, r.Valid())
	assert.Nil(t, r.ToError())
}

func TestValidationResult_MergeCollectsBoth(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("steps[0].stepId", ErrCodeStepNotFound, "unknown step")

	r2 := &ValidationResult{}
	r2.AddError("steps[2]", ErrCodeValidation, "loop has no body")
	r2.AddWarning("trigger", ErrCodeValidation, "trigger id empty")

	r1.Merge(r2)
	r1.Merge(nil)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 1)
	assert.Equal(t, SeverityError, r1.Errors[1].Severity)
}

func TestValidationResult_ToError(t *testing.T) {
	t.Run("single error keeps its message", func(t *testing.T) {
		r := &ValidationResult{}
		r.AddError("steps[0].stepId", ErrCodeStepNotFound, "step \"NOPE\" not registered")

		err := r.ToError()
		require.Error(t, err)

		var ae *AutomationError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, ErrCodeValidation, ae.Code)
		assert.Equal(t, "step \"NOPE\" not registered", ae.Message)
		assert.Equal(t, 1, ae.Details["error_count"])
	})

	t.Run("several errors are counted", func(t *testing.T) {
		r := &ValidationResult{}
		r.AddError("/", ErrCodeValidation, "err1")
		r.AddError("/", ErrCodeValidation, "err2")

		var ae *AutomationError
		require.True(t, errors.As(r.ToError(), &ae))
		assert.Contains(t, ae.Message, "2 errors")
	})
}

func TestStepPath(t *testing.T) {
	assert.Equal(t, "steps[2]", StepPath(2))
	assert.Equal(t, "steps[1].inputs.text", StepPath(1, "inputs", "text"))
	assert.Equal(t, "steps[0].inputs.list[3]", StepPath(0, "inputs.list[3]"))
}

func TestValidationResult_StepIssues(t *testing.T) {
	loop := &Step{ID: "each_row", StepID: StepLoop}
	r := &ValidationResult{}
	r.AddStepError(3, loop, "", ErrCodeValidation, "LOOP must be followed by a body step")
	r.AddStepWarning(3, loop, "inputs.binding", ErrCodeValidation, "LOOP has no binding")
	r.AddStepError(0, nil, "stepId", ErrCodeStepNotFound, "step \"NOPE\" is not registered")

	require.Len(t, r.Errors, 2)
	assert.Equal(t, "steps[3]", r.Errors[0].Path)
	assert.Equal(t, "each_row", r.Errors[0].StepID)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "steps[3].inputs.binding", r.Warnings[0].Path)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)

	issue, ok := r.FirstError(ErrCodeStepNotFound)
	require.True(t, ok)
	assert.Equal(t, "steps[0].stepId: step \"NOPE\" is not registered", issue.String())
	assert.Empty(t, issue.StepID)
	_, ok = r.FirstError(ErrCodeTemplate)
	assert.False(t, ok)
}

func TestValidationResult_ToErrorNamesStep(t *testing.T) {
	r := &ValidationResult{}
	r.AddStepError(1, &Step{ID: "pick"}, "inputs.condition", ErrCodeValidation, "unknown filter condition \"ABOUT\"")

	var ae *AutomationError
	require.True(t, errors.As(r.ToError(), &ae))
	assert.Equal(t, "pick", ae.StepID)
	assert.Equal(t, "[VALIDATION_ERROR] step pick: unknown filter condition \"ABOUT\"", ae.Error())
}

func TestAutomationError_Format(t *testing.T) {
	cause := errors.New("boom")
	err := NewErrorf(ErrCodeStepFailed, "step failed: %v", cause).WithStep("s1").WithCause(cause)

	assert.Equal(t, "[STEP_FAILED] step s1: step failed: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeStepFailed, ErrorCode(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, "", ErrorCode(cause))
}

func TestTriggerEvent_JSON(t *testing.T) {
	raw := `{"automationId":"au_1","appId":"app_1","metadata":{"automationChainCount":2},"row":{"name":"a"},"count":3}`

	var ev TriggerEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))

	assert.Equal(t, "au_1", ev.AutomationID)
	assert.Equal(t, "app_1", ev.AppID)
	assert.Equal(t, 2, ev.ChainCount())
	assert.Equal(t, map[string]any{"name": "a"}, ev.Payload["row"])
	assert.NotContains(t, ev.Payload, "appId")
	assert.NotContains(t, ev.Payload, "metadata")
	assert.NotContains(t, ev.Payload, "automationId")

	out, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestTriggerEvent_ChainCountAbsent(t *testing.T) {
	assert.Equal(t, 0, TriggerEvent{}.ChainCount())
}

func TestAppMetadata_Tenant(t *testing.T) {
	var nilApp *AppMetadata
	assert.Equal(t, DefaultTenantID, nilApp.Tenant())
	assert.Equal(t, DefaultTenantID, (&AppMetadata{AppID: "a"}).Tenant())
	assert.Equal(t, "t1", (&AppMetadata{AppID: "a", TenantID: "t1"}).Tenant())
}
