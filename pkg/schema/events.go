package schema

// Event type constants for the run event log.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
	EventRunRejected  = "run_rejected"

	EventStepCompleted = "step_completed"
	EventStepStopped   = "step_stopped"
	EventStepFailed    = "step_failed"
	EventFilterStopped = "filter_stopped"

	EventLoopCompleted = "loop_completed"
)

// RunStatus represents the lifecycle state of a persisted run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusSuccess  RunStatus = "success"
	RunStatusStopped  RunStatus = "stopped"
	RunStatusFailed   RunStatus = "failed"
	RunStatusRejected RunStatus = "rejected"
)
