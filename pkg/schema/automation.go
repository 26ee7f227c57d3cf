package schema

import "time"

// Intrinsic step identifiers. FILTER and LOOP are interpreted by the
// orchestrator itself; CRON may only appear as a trigger.
const (
	StepFilter  = "FILTER"
	StepLoop    = "LOOP"
	TriggerCron = "CRON"
)

// Loop binding kinds accepted in a LOOP step's "option" input.
const (
	LoopOptionArray  = "Array"
	LoopOptionString = "String"
)

// Automation is a stored automation: one trigger plus an ordered list of steps.
type Automation struct {
	ID         string               `json:"_id" yaml:"id"`
	AppID      string               `json:"appId" yaml:"appId"`
	Name       string               `json:"name,omitempty" yaml:"name,omitempty"`
	Definition AutomationDefinition `json:"definition" yaml:"definition"`
	CreatedAt  time.Time            `json:"createdAt,omitempty" yaml:"-"`
	UpdatedAt  time.Time            `json:"updatedAt,omitempty" yaml:"-"`
}

// AutomationDefinition is the declarative part of an automation. The engine
// never mutates it.
type AutomationDefinition struct {
	Trigger TriggerDefinition `json:"trigger" yaml:"trigger"`
	Steps   []Step            `json:"steps" yaml:"steps"`
}

// TriggerDefinition identifies what starts an automation. Inputs carries
// trigger configuration such as the cron expression of a CRON trigger.
type TriggerDefinition struct {
	ID     string         `json:"id" yaml:"id"`
	StepID string         `json:"stepId" yaml:"stepId"`
	Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// Step is one unit of work. Inputs is a template object whose string leaves
// may contain {{ }} bindings against the execution context.
type Step struct {
	ID     string         `json:"id" yaml:"id"`
	StepID string         `json:"stepId" yaml:"stepId"`
	Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Schema StepSchema     `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// StepSchema carries the input-cleaning rules of a step.
type StepSchema struct {
	Inputs InputSchema `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// InputSchema describes the expected shape of resolved step inputs.
type InputSchema struct {
	Properties map[string]InputRule `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required   []string             `json:"required,omitempty" yaml:"required,omitempty"`
}

// InputRule is the cleaning rule for a single input key.
type InputRule struct {
	Type        string `json:"type,omitempty" yaml:"type,omitempty"` // string | number | boolean | array | object
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// IsLoop reports whether the step is the intrinsic LOOP marker.
func (s Step) IsLoop() bool { return s.StepID == StepLoop }

// IsFilter reports whether the step is the intrinsic FILTER step.
func (s Step) IsFilter() bool { return s.StepID == StepFilter }

// AppMetadata is the per-app document the engine reads its tenant from.
type AppMetadata struct {
	AppID    string `json:"appId" yaml:"appId"`
	TenantID string `json:"tenantId,omitempty" yaml:"tenantId,omitempty"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
}

// DefaultTenantID is used when an app carries no tenant.
const DefaultTenantID = "default"

// Tenant returns the app's tenant, falling back to DefaultTenantID.
func (a *AppMetadata) Tenant() string {
	if a == nil || a.TenantID == "" {
		return DefaultTenantID
	}
	return a.TenantID
}

// FILTER step conditions.
const (
	FilterEqual       = "EQUAL"
	FilterNotEqual    = "NOT_EQUAL"
	FilterGreaterThan = "GREATER_THAN"
	FilterLessThan    = "LESS_THAN"
)

// FilterConditions lists the accepted FILTER conditions.
var FilterConditions = []string{FilterEqual, FilterNotEqual, FilterGreaterThan, FilterLessThan}
