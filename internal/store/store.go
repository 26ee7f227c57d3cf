package store

import (
	"context"

	"github.com/rendis/autoflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Automations
	SaveAutomation(ctx context.Context, a *schema.Automation) error
	GetAutomation(ctx context.Context, id string) (*schema.Automation, error)
	ListAutomations(ctx context.Context, filter AutomationFilter) ([]*schema.Automation, error)
	DeleteAutomation(ctx context.Context, id string) error

	// Apps
	SaveApp(ctx context.Context, app *schema.AppMetadata) error
	GetAppMetadata(ctx context.Context, appID string) (*schema.AppMetadata, error)

	// Runs
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id string, update RunUpdate) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Schedules
	UpsertSchedule(ctx context.Context, sched *Schedule) error
	GetSchedule(ctx context.Context, automationID string) (*Schedule, error)
	UpdateSchedule(ctx context.Context, automationID string, update ScheduleUpdate) error
	ListSchedules(ctx context.Context, enabledOnly bool) ([]*Schedule, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
