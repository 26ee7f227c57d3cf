package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// EventLog provides append and replay operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// StepEventPayload is the payload of step and loop events.
type StepEventPayload struct {
	StepType   string `json:"step_type,omitempty"`
	Position   int    `json:"position"`
	Outcome    string `json:"outcome,omitempty"`
	Status     string `json:"status,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// AppendEvent appends an event with a monotonically increasing per-run
// sequence. The write lock is taken before the sequence is read so that
// concurrent appenders cannot interleave.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx may start a deferred transaction; a write forces
	// the lock.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, step_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.StepID), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// AppendStepEvent marshals payload and appends it as an event of type
// eventType for stepID.
func (el *EventLog) AppendStepEvent(ctx context.Context, runID, stepID, eventType string, payload StepEventPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return el.AppendEvent(ctx, &Event{RunID: runID, StepID: stepID, Type: eventType, Payload: raw})
}

// GetEvents returns events of a run with sequence > since, ordered by sequence.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// GetEventsByType returns events of a specific type matching the filter.
func (el *EventLog) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	return el.store.GetEventsByType(ctx, eventType, filter)
}

// StepTrace summarizes the events of one step within a run. A loop body
// is invoked once per iteration, so Invocations may exceed one.
type StepTrace struct {
	StepID      string `json:"step_id"`
	Outcome     string `json:"outcome"`
	Invocations int    `json:"invocations"`
	DurationMs  int64  `json:"duration_ms"`
	LoopStatus  string `json:"loop_status,omitempty"`
	Iterations  int    `json:"iterations,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Timeline replays the events of a run into per-step traces, in the order
// steps first appear. Returns an error if sequence gaps are detected.
func (el *EventLog) Timeline(ctx context.Context, runID string) ([]*StepTrace, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	var order []*StepTrace
	traces := make(map[string]*StepTrace)
	for _, e := range events {
		if e.StepID == "" {
			continue
		}
		tr, ok := traces[e.StepID]
		if !ok {
			tr = &StepTrace{StepID: e.StepID}
			traces[e.StepID] = tr
			order = append(order, tr)
		}

		var p StepEventPayload
		if len(e.Payload) > 0 {
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, fmt.Errorf("decode event %d: %w", e.Sequence, err)
			}
		}

		switch e.Type {
		case schema.EventStepCompleted, schema.EventFilterStopped:
			tr.Invocations++
			tr.DurationMs += p.DurationMs
			tr.Outcome = p.Outcome
		case schema.EventStepFailed:
			tr.Invocations++
			tr.DurationMs += p.DurationMs
			tr.Outcome = p.Outcome
			tr.Error = p.Error
		case schema.EventStepStopped:
			tr.Outcome = p.Outcome
		case schema.EventLoopCompleted:
			tr.LoopStatus = p.Status
			tr.Iterations = p.Iterations
		}
	}
	return order, nil
}
