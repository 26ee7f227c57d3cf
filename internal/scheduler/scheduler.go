// Package scheduler fires automations whose trigger is CRON.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/validation"
	"github.com/rendis/autoflow/pkg/schema"
)

// DefaultInterval is how often schedules are checked.
const DefaultInterval = 60 * time.Second

// Dispatcher starts a run for a trigger event. Satisfied by the dispatcher
// (avoids import cycle).
type Dispatcher interface {
	Dispatch(ctx context.Context, event schema.TriggerEvent) (runID string, err error)
}

// ScheduleStore is the part of store.Store the scheduler needs.
type ScheduleStore interface {
	UpsertSchedule(ctx context.Context, sched *store.Schedule) error
	UpdateSchedule(ctx context.Context, automationID string, update store.ScheduleUpdate) error
	ListSchedules(ctx context.Context, enabledOnly bool) ([]*store.Schedule, error)
}

// Scheduler polls the store for due schedules and dispatches them.
type Scheduler struct {
	store      ScheduleStore
	dispatcher Dispatcher
	interval   time.Duration
	now        func() time.Time
	logger     *slog.Logger
	cancel     context.CancelFunc
	done       chan struct{}
	mu         sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]*inflightRun // automation ID -> scheduled run not yet finished
}

// inflightRun holds an automation's scheduler slot from dispatch until its
// run finishes. runID is empty while Dispatch has not returned; runs that
// finish in that window are remembered in early.
type inflightRun struct {
	runID string
	early map[string]struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a new Scheduler. A scheduled run keeps its
// automation from firing again until RunFinished reports it, so the
// scheduler must be added to the dispatcher's run observers.
func NewScheduler(s ScheduleStore, d Dispatcher, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	sched := &Scheduler{
		store:      s,
		dispatcher: d,
		interval:   DefaultInterval,
		now:        time.Now,
		logger:     logger,
		inflight:   make(map[string]*inflightRun),
	}
	for _, opt := range opts {
		opt(sched)
	}
	return sched
}

// Register creates or refreshes the schedule of a saved automation. An
// automation whose trigger is not CRON gets its schedule disabled, if it
// had one.
func (s *Scheduler) Register(ctx context.Context, a *schema.Automation) error {
	trigger := a.Definition.Trigger
	if trigger.StepID != schema.TriggerCron {
		disabled := false
		err := s.store.UpdateSchedule(ctx, a.ID, store.ScheduleUpdate{Enabled: &disabled})
		if err != nil && schema.ErrorCode(err) != schema.ErrCodeNotFound {
			return err
		}
		return nil
	}

	expr, _ := trigger.Inputs["cron"].(string)
	next, err := s.CalculateNextRun(expr, s.now().UTC())
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "automation %s: %s", a.ID, err.Error()).WithCause(err)
	}
	if err := s.store.UpsertSchedule(ctx, &store.Schedule{
		AutomationID:   a.ID,
		AppID:          a.AppID,
		CronExpression: strings.TrimSpace(expr),
		Enabled:        true,
		NextRunAt:      &next,
	}); err != nil {
		return err
	}
	s.logger.Info("automation scheduled",
		slog.String("automation_id", a.ID),
		slog.String("cron", expr),
		slog.Time("next_run_at", next),
	)
	return nil
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick dispatches every enabled schedule that is due.
func (s *Scheduler) tick(ctx context.Context) int {
	schedules, err := s.store.ListSchedules(ctx, true)
	if err != nil {
		s.logger.Error("failed to list schedules", slog.String("error", err.Error()))
		return 0
	}

	now := s.now().UTC()
	fired := 0
	for _, sched := range schedules {
		if sched.NextRunAt != nil && sched.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(sched.AutomationID) {
			continue
		}
		runID, err := s.fire(ctx, sched, now)
		s.hold(sched.AutomationID, runID)
		if err != nil {
			s.logger.Error("failed to fire schedule",
				slog.String("automation_id", sched.AutomationID),
				slog.String("error", err.Error()),
			)
			continue
		}
		fired++
	}
	return fired
}

// fire dispatches one schedule and moves it to its next fire time. The
// returned run ID is empty when the dispatch was refused.
func (s *Scheduler) fire(ctx context.Context, sched *store.Schedule, now time.Time) (string, error) {
	runID, err := s.dispatcher.Dispatch(ctx, schema.TriggerEvent{
		AutomationID: sched.AutomationID,
		AppID:        sched.AppID,
		Payload:      map[string]any{},
	})
	status := "success"
	if err != nil {
		status = "error"
		runID = ""
		s.logger.Error("scheduled dispatch failed",
			slog.String("automation_id", sched.AutomationID),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Info("scheduled run dispatched",
			slog.String("automation_id", sched.AutomationID),
			slog.String("run_id", runID),
		)
	}

	next, nerr := s.CalculateNextRun(sched.CronExpression, now)
	if nerr != nil {
		return runID, fmt.Errorf("calculate next run for %q: %w", sched.AutomationID, nerr)
	}
	return runID, s.store.UpdateSchedule(ctx, sched.AutomationID, store.ScheduleUpdate{
		LastRunAt:     &now,
		NextRunAt:     &next,
		LastRunStatus: status,
	})
}

// tryAcquire takes the slot of an automation. It fails while a scheduled
// run of that automation is dispatching or running.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = &inflightRun{}
	return true
}

// hold keeps the slot of automation id until runID finishes. An empty
// runID, or a run that already finished, releases it at once.
func (s *Scheduler) hold(id, runID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	slot, ok := s.inflight[id]
	if !ok {
		return
	}
	if _, done := slot.early[runID]; runID == "" || done {
		delete(s.inflight, id)
		return
	}
	slot.runID, slot.early = runID, nil
}

// RunFinished frees the slot held by a scheduled run. Attach the scheduler
// to the dispatcher's run observers.
func (s *Scheduler) RunFinished(runID, automationID string, _ schema.RunStatus, _ time.Duration) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	slot, ok := s.inflight[automationID]
	if !ok {
		return
	}
	switch slot.runID {
	case "":
		if slot.early == nil {
			slot.early = make(map[string]struct{})
		}
		slot.early[runID] = struct{}{}
	case runID:
		delete(s.inflight, automationID)
	}
}

// CalculateNextRun computes the next fire time of a 5-field cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := validation.ParseCron(strings.TrimSpace(cronExpr))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed fires, once, every schedule whose fire time passed while
// the process was down.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	schedules, err := s.store.ListSchedules(ctx, true)
	if err != nil {
		return fmt.Errorf("list missed schedules: %w", err)
	}

	now := s.now().UTC()
	recovered := 0
	for _, sched := range schedules {
		if sched.NextRunAt == nil || !sched.NextRunAt.Before(now) {
			continue
		}
		if !s.tryAcquire(sched.AutomationID) {
			continue
		}
		runID, err := s.fire(ctx, sched, now)
		s.hold(sched.AutomationID, runID)
		if err != nil {
			s.logger.Error("failed to recover missed schedule",
				slog.String("automation_id", sched.AutomationID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed schedules", slog.Int("count", recovered))
	}
	return nil
}
