package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// mockScheduleStore is an in-memory ScheduleStore.
type mockScheduleStore struct {
	mu    sync.Mutex
	items map[string]*store.Schedule
}

func newMockScheduleStore() *mockScheduleStore {
	return &mockScheduleStore{items: make(map[string]*store.Schedule)}
}

func (m *mockScheduleStore) UpsertSchedule(_ context.Context, sched *store.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sched
	m.items[sched.AutomationID] = &cp
	return nil
}

func (m *mockScheduleStore) get(id string) *store.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (m *mockScheduleStore) UpdateSchedule(_ context.Context, id string, update store.ScheduleUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "schedule %q not found", id)
	}
	if update.Enabled != nil {
		s.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		s.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		s.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		s.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (m *mockScheduleStore) ListSchedules(_ context.Context, enabledOnly bool) ([]*store.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Schedule
	for _, s := range m.items {
		if enabledOnly && !s.Enabled {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

// mockDispatcher records dispatched events. onDispatch, when set, runs
// before Dispatch returns.
type mockDispatcher struct {
	mu         sync.Mutex
	events     []schema.TriggerEvent
	err        error
	onDispatch func(runID string)
}

func (d *mockDispatcher) Dispatch(_ context.Context, ev schema.TriggerEvent) (string, error) {
	d.mu.Lock()
	d.events = append(d.events, ev)
	runID := fmt.Sprintf("run_%d", len(d.events))
	hook := d.onDispatch
	d.mu.Unlock()
	if hook != nil {
		hook(runID)
	}
	return runID, d.err
}

func (d *mockDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

var fixedNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func newTestScheduler(s ScheduleStore, d Dispatcher) *Scheduler {
	return NewScheduler(s, d, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return fixedNow }))
}

func cronAutomation(id, expr string) *schema.Automation {
	return &schema.Automation{
		ID:    id,
		AppID: "app_1",
		Definition: schema.AutomationDefinition{
			Trigger: schema.TriggerDefinition{ID: "t", StepID: schema.TriggerCron, Inputs: map[string]any{"cron": expr}},
		},
	}
}

// --- Tests ---

func TestCalculateNextRun(t *testing.T) {
	sched := newTestScheduler(newMockScheduleStore(), &mockDispatcher{})
	from := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	next, err := sched.CalculateNextRun("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC), next)

	next, err = sched.CalculateNextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 12, 15, 0, 0, time.UTC), next)

	next, err = sched.CalculateNextRun(" 0 0 * * * ", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC), next)

	_, err = sched.CalculateNextRun("invalid cron", from)
	require.Error(t, err)
}

func TestRegister_CronAutomation(t *testing.T) {
	ms := newMockScheduleStore()
	sched := newTestScheduler(ms, &mockDispatcher{})

	require.NoError(t, sched.Register(context.Background(), cronAutomation("au_1", "*/5 * * * *")))

	got := ms.get("au_1")
	require.NotNil(t, got)
	assert.True(t, got.Enabled)
	assert.Equal(t, "app_1", got.AppID)
	assert.Equal(t, time.Date(2026, 2, 10, 12, 5, 0, 0, time.UTC), *got.NextRunAt)
}

func TestRegister_InvalidCron(t *testing.T) {
	sched := newTestScheduler(newMockScheduleStore(), &mockDispatcher{})
	err := sched.Register(context.Background(), cronAutomation("au_1", "nope"))
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestRegister_NonCronDisables(t *testing.T) {
	ms := newMockScheduleStore()
	sched := newTestScheduler(ms, &mockDispatcher{})
	ctx := context.Background()

	require.NoError(t, sched.Register(ctx, cronAutomation("au_1", "* * * * *")))

	a := cronAutomation("au_1", "")
	a.Definition.Trigger = schema.TriggerDefinition{ID: "t", StepID: "ROW_SAVED"}
	require.NoError(t, sched.Register(ctx, a))
	assert.False(t, ms.get("au_1").Enabled)

	a.ID = "never_scheduled"
	assert.NoError(t, sched.Register(ctx, a))
}

func TestTickFiresDueSchedules(t *testing.T) {
	ms := newMockScheduleStore()
	d := &mockDispatcher{}
	sched := newTestScheduler(ms, d)
	ctx := context.Background()

	past := fixedNow.Add(-time.Hour)
	require.NoError(t, ms.UpsertSchedule(ctx, &store.Schedule{
		AutomationID: "au_1", AppID: "app_1", CronExpression: "0 * * * *", Enabled: true, NextRunAt: &past,
	}))

	assert.Equal(t, 1, sched.tick(ctx))
	require.Equal(t, 1, d.count())
	assert.Equal(t, "au_1", d.events[0].AutomationID)
	assert.Equal(t, "app_1", d.events[0].AppID)
	assert.Equal(t, 0, d.events[0].ChainCount())

	got := ms.get("au_1")
	assert.Equal(t, "success", got.LastRunStatus)
	assert.Equal(t, fixedNow, *got.LastRunAt)
	assert.Equal(t, fixedNow.Add(time.Hour), *got.NextRunAt)
}

func TestTickSkipsNotDue(t *testing.T) {
	ms := newMockScheduleStore()
	d := &mockDispatcher{}
	sched := newTestScheduler(ms, d)
	ctx := context.Background()

	future := fixedNow.Add(time.Hour)
	require.NoError(t, ms.UpsertSchedule(ctx, &store.Schedule{
		AutomationID: "au_1", CronExpression: "0 * * * *", Enabled: true, NextRunAt: &future,
	}))

	assert.Equal(t, 0, sched.tick(ctx))
	assert.Equal(t, 0, d.count())
}

func TestTickSkipsDisabled(t *testing.T) {
	ms := newMockScheduleStore()
	d := &mockDispatcher{}
	sched := newTestScheduler(ms, d)
	ctx := context.Background()

	past := fixedNow.Add(-time.Hour)
	require.NoError(t, ms.UpsertSchedule(ctx, &store.Schedule{
		AutomationID: "au_1", CronExpression: "0 * * * *", Enabled: false, NextRunAt: &past,
	}))

	sched.tick(ctx)
	assert.Equal(t, 0, d.count())
}

// makeDue moves a schedule's fire time into the past.
func makeDue(t *testing.T, ms *mockScheduleStore, id string) {
	t.Helper()
	past := fixedNow.Add(-time.Hour)
	require.NoError(t, ms.UpdateSchedule(context.Background(), id, store.ScheduleUpdate{NextRunAt: &past}))
}

func TestTickHoldsSlotUntilRunFinishes(t *testing.T) {
	ms := newMockScheduleStore()
	d := &mockDispatcher{}
	sched := newTestScheduler(ms, d)
	ctx := context.Background()

	require.NoError(t, ms.UpsertSchedule(ctx, &store.Schedule{
		AutomationID: "au_1", CronExpression: "0 * * * *", Enabled: true,
	}))
	makeDue(t, ms, "au_1")
	assert.Equal(t, 1, sched.tick(ctx))

	makeDue(t, ms, "au_1")
	assert.Equal(t, 0, sched.tick(ctx), "run_1 still in flight")

	sched.RunFinished("run_other", "au_1", schema.RunStatusSuccess, time.Millisecond)
	sched.RunFinished("run_1", "au_2", schema.RunStatusSuccess, time.Millisecond)
	assert.Equal(t, 0, sched.tick(ctx), "unrelated runs keep the slot")

	sched.RunFinished("run_1", "au_1", schema.RunStatusSuccess, time.Millisecond)
	assert.Equal(t, 1, sched.tick(ctx))
	assert.Equal(t, 2, d.count())
}

func TestTickReleasesRefusedDispatch(t *testing.T) {
	ms := newMockScheduleStore()
	d := &mockDispatcher{err: schema.NewError(schema.ErrCodeNotFound, "gone")}
	sched := newTestScheduler(ms, d)
	ctx := context.Background()

	require.NoError(t, ms.UpsertSchedule(ctx, &store.Schedule{
		AutomationID: "au_1", CronExpression: "0 * * * *", Enabled: true,
	}))
	makeDue(t, ms, "au_1")
	sched.tick(ctx)
	makeDue(t, ms, "au_1")
	sched.tick(ctx)

	assert.Equal(t, 2, d.count())
}

func TestTickRunFinishingBeforeDispatchReturns(t *testing.T) {
	ms := newMockScheduleStore()
	d := &mockDispatcher{}
	sched := newTestScheduler(ms, d)
	d.onDispatch = func(runID string) {
		sched.RunFinished(runID, "au_1", schema.RunStatusSuccess, 0)
	}
	ctx := context.Background()

	require.NoError(t, ms.UpsertSchedule(ctx, &store.Schedule{
		AutomationID: "au_1", CronExpression: "0 * * * *", Enabled: true,
	}))
	makeDue(t, ms, "au_1")
	assert.Equal(t, 1, sched.tick(ctx))
	makeDue(t, ms, "au_1")
	assert.Equal(t, 1, sched.tick(ctx))
}

func TestDispatchFailureRecorded(t *testing.T) {
	ms := newMockScheduleStore()
	d := &mockDispatcher{err: schema.NewError(schema.ErrCodeChainLimit, "too deep")}
	sched := newTestScheduler(ms, d)
	ctx := context.Background()

	past := fixedNow.Add(-time.Hour)
	require.NoError(t, ms.UpsertSchedule(ctx, &store.Schedule{
		AutomationID: "au_1", CronExpression: "0 * * * *", Enabled: true, NextRunAt: &past,
	}))

	sched.tick(ctx)
	got := ms.get("au_1")
	assert.Equal(t, "error", got.LastRunStatus)
	assert.True(t, got.NextRunAt.After(fixedNow))
}

func TestRecoverMissed(t *testing.T) {
	ms := newMockScheduleStore()
	d := &mockDispatcher{}
	sched := newTestScheduler(ms, d)
	ctx := context.Background()

	past := fixedNow.Add(-2 * time.Hour)
	future := fixedNow.Add(time.Hour)
	require.NoError(t, ms.UpsertSchedule(ctx, &store.Schedule{
		AutomationID: "missed", CronExpression: "0 * * * *", Enabled: true, NextRunAt: &past,
	}))
	require.NoError(t, ms.UpsertSchedule(ctx, &store.Schedule{
		AutomationID: "upcoming", CronExpression: "0 * * * *", Enabled: true, NextRunAt: &future,
	}))

	require.NoError(t, sched.RecoverMissed(ctx))
	require.Equal(t, 1, d.count())
	assert.Equal(t, "missed", d.events[0].AutomationID)
	assert.Equal(t, "success", ms.get("missed").LastRunStatus)
}

func TestStartStop(t *testing.T) {
	ms := newMockScheduleStore()
	d := &mockDispatcher{}
	sched := NewScheduler(ms, d, slog.New(slog.NewTextHandler(io.Discard, nil)), WithInterval(10*time.Millisecond))

	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, ms.UpsertSchedule(context.Background(), &store.Schedule{
		AutomationID: "au_1", CronExpression: "0 * * * *", Enabled: true, NextRunAt: &past,
	}))

	require.NoError(t, sched.Start(context.Background()))
	assert.Error(t, sched.Start(context.Background()), "double start")

	assert.Eventually(t, func() bool { return d.count() >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, sched.Stop())
	require.NoError(t, sched.Stop(), "stop is idempotent")
}
