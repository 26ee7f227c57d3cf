package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// Run is the persisted outcome of one dispatched trigger event.
type Run struct {
	ID           string                  `json:"id"`
	AutomationID string                  `json:"automation_id"`
	AppID        string                  `json:"app_id"`
	Status       schema.RunStatus        `json:"status"`
	ChainCount   int                     `json:"chain_count"`
	Trigger      json.RawMessage         `json:"trigger,omitempty"`
	Record       *schema.ExecutionRecord `json:"record,omitempty"`
	Error        json.RawMessage         `json:"error,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
}

// Event is an immutable entry in a run's event log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	StepID    string          `json:"step_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// Schedule is the next fire time of an automation with a CRON trigger.
type Schedule struct {
	AutomationID   string     `json:"automation_id"`
	AppID          string     `json:"app_id"`
	CronExpression string     `json:"cron_expression"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
}

// --- Filter and update types ---

// AutomationFilter specifies criteria for listing automations.
type AutomationFilter struct {
	AppID         string `json:"app_id,omitempty"`
	TriggerStepID string `json:"trigger_step_id,omitempty"`
	Limit         int    `json:"limit,omitempty"`
	Offset        int    `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	AutomationID string            `json:"automation_id,omitempty"`
	AppID        string            `json:"app_id,omitempty"`
	Status       *schema.RunStatus `json:"status,omitempty"`
	Since        *time.Time        `json:"since,omitempty"`
	Limit        int               `json:"limit,omitempty"`
	Offset       int               `json:"offset,omitempty"`
}

// RunUpdate specifies the fields written when a run finishes.
type RunUpdate struct {
	Status      schema.RunStatus        `json:"status"`
	Record      *schema.ExecutionRecord `json:"record,omitempty"`
	Error       json.RawMessage         `json:"error,omitempty"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	RunID  string     `json:"run_id,omitempty"`
	StepID string     `json:"step_id,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Limit  int        `json:"limit,omitempty"`
}

// ScheduleUpdate specifies mutable fields of a schedule.
type ScheduleUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}
