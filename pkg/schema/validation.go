package schema

import (
	"fmt"
	"strings"
)

// ValidationSeverity tells a blocking issue from an advisory one.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one problem found in an automation definition. Path
// locates it ("steps[2].inputs.binding"); StepID names the declared step it
// belongs to, when there is one.
type ValidationIssue struct {
	Path     string             `json:"path"`
	StepID   string             `json:"stepId,omitempty"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// String renders the issue as "path: message".
func (i ValidationIssue) String() string {
	if i.Path == "" || i.Path == "/" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// StepPath addresses the step at index, or a field below it:
// StepPath(1, "inputs", "text") is "steps[1].inputs.text".
func StepPath(index int, fields ...string) string {
	p := fmt.Sprintf("steps[%d]", index)
	if len(fields) == 0 {
		return p
	}
	return p + "." + strings.Join(fields, ".")
}

// ValidationResult collects the issues of one definition. Only errors make
// it invalid.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether no errors were found.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError records an error at path.
func (r *ValidationResult) AddError(path, code, message string) {
	r.add(ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

// AddWarning records a warning at path.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.add(ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// AddStepError records an error on the step at index. field is a dotted
// path below the step and may be empty.
func (r *ValidationResult) AddStepError(index int, step *Step, field, code, message string) {
	r.add(stepIssue(index, step, field, code, message, SeverityError))
}

// AddStepWarning records a warning on the step at index.
func (r *ValidationResult) AddStepWarning(index int, step *Step, field, code, message string) {
	r.add(stepIssue(index, step, field, code, message, SeverityWarning))
}

func stepIssue(index int, step *Step, field, code, message string, sev ValidationSeverity) ValidationIssue {
	issue := ValidationIssue{Path: StepPath(index), Code: code, Message: message, Severity: sev}
	if field != "" {
		issue.Path = StepPath(index, field)
	}
	if step != nil {
		issue.StepID = step.ID
	}
	return issue
}

func (r *ValidationResult) add(issue ValidationIssue) {
	if issue.Severity == SeverityError {
		r.Errors = append(r.Errors, issue)
		return
	}
	r.Warnings = append(r.Warnings, issue)
}

// FirstError returns the first error carrying code.
func (r *ValidationResult) FirstError(code string) (ValidationIssue, bool) {
	for _, issue := range r.Errors {
		if issue.Code == code {
			return issue, true
		}
	}
	return ValidationIssue{}, false
}

// Merge appends the issues of other.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError returns a VALIDATION_ERROR carrying every issue, or nil when the
// result is valid. A single error keeps its own message.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(r.Errors))
	}

	err := NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
	if len(r.Errors) == 1 && r.Errors[0].StepID != "" {
		err = err.WithStep(r.Errors[0].StepID)
	}
	return err
}
