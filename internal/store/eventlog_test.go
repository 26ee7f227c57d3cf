package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/pkg/schema"
)

func newTestEventLog(t *testing.T) (*EventLog, *LibSQLStore) {
	t.Helper()
	s := newTestStore(t)
	return NewEventLog(s), s
}

func TestEventLog_AppendEvent_MonotonicSequence(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	run := seedRun(t, s)

	for i := 0; i < 5; i++ {
		e := &Event{RunID: run.ID, StepID: "s1", Type: schema.EventStepCompleted}
		require.NoError(t, el.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence, "sequence should be monotonic")
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestEventLog_SequencePerRun(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	r1, r2 := seedRun(t, s), seedRun(t, s)

	e1 := &Event{RunID: r1.ID, Type: schema.EventRunStarted}
	e2 := &Event{RunID: r2.ID, Type: schema.EventRunStarted}
	require.NoError(t, el.AppendEvent(ctx, e1))
	require.NoError(t, el.AppendEvent(ctx, e2))
	assert.Equal(t, int64(1), e1.Sequence)
	assert.Equal(t, int64(1), e2.Sequence)
}

func TestEventLog_ConcurrentAppend(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	run := seedRun(t, s)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, el.AppendEvent(ctx, &Event{RunID: run.ID, StepID: "s1", Type: schema.EventStepCompleted}))
		}()
	}
	wg.Wait()

	events, err := el.GetEvents(ctx, run.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, n)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestEventLog_GetEvents(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	run := seedRun(t, s)

	for _, et := range []string{schema.EventRunStarted, schema.EventStepCompleted, schema.EventRunCompleted} {
		require.NoError(t, el.AppendEvent(ctx, &Event{RunID: run.ID, Type: et}))
	}

	events, err := el.GetEvents(ctx, run.ID, 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	events, err = el.GetEvents(ctx, run.ID, 1)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Sequence)
}

func TestEventLog_GetEventsByType(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	run := seedRun(t, s)

	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: run.ID, StepID: "s1", Type: schema.EventStepCompleted}))
	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: run.ID, StepID: "s2", Type: schema.EventStepFailed}))
	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: run.ID, StepID: "s3", Type: schema.EventStepCompleted}))

	events, err := el.GetEventsByType(ctx, schema.EventStepCompleted, EventFilter{RunID: run.ID})
	require.NoError(t, err)
	assert.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, schema.EventStepCompleted, e.Type)
	}

	events, err = el.GetEventsByType(ctx, schema.EventStepCompleted, EventFilter{RunID: run.ID, StepID: "s3"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEventLog_Timeline(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	run := seedRun(t, s)

	require.NoError(t, el.AppendEvent(ctx, &Event{RunID: run.ID, Type: schema.EventRunStarted}))
	require.NoError(t, el.AppendStepEvent(ctx, run.ID, "s1", schema.EventStepCompleted,
		StepEventPayload{Position: 1, Outcome: "success", DurationMs: 5}))
	for i := 0; i < 3; i++ {
		require.NoError(t, el.AppendStepEvent(ctx, run.ID, "body", schema.EventStepCompleted,
			StepEventPayload{Position: 3, Outcome: "success", DurationMs: 2}))
	}
	require.NoError(t, el.AppendStepEvent(ctx, run.ID, "body", schema.EventLoopCompleted,
		StepEventPayload{Position: 2, Status: schema.StatusMaxIterations, Iterations: 3}))
	require.NoError(t, el.AppendStepEvent(ctx, run.ID, "f", schema.EventFilterStopped,
		StepEventPayload{Position: 4, Outcome: "filtered"}))
	require.NoError(t, el.AppendStepEvent(ctx, run.ID, "s5", schema.EventStepStopped,
		StepEventPayload{Position: 5, Outcome: "stopped"}))

	traces, err := el.Timeline(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, traces, 4)

	assert.Equal(t, "s1", traces[0].StepID)
	assert.Equal(t, 1, traces[0].Invocations)

	body := traces[1]
	assert.Equal(t, 3, body.Invocations)
	assert.Equal(t, int64(6), body.DurationMs)
	assert.Equal(t, schema.StatusMaxIterations, body.LoopStatus)
	assert.Equal(t, 3, body.Iterations)

	assert.Equal(t, "filtered", traces[2].Outcome)
	assert.Equal(t, "stopped", traces[3].Outcome)
	assert.Equal(t, 0, traces[3].Invocations)
}

func TestEventLog_Timeline_Failure(t *testing.T) {
	el, s := newTestEventLog(t)
	ctx := context.Background()
	run := seedRun(t, s)

	require.NoError(t, el.AppendStepEvent(ctx, run.ID, "s1", schema.EventStepFailed,
		StepEventPayload{Position: 1, Outcome: "failed", Error: "boom"}))

	traces, err := el.Timeline(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "failed", traces[0].Outcome)
	assert.Equal(t, "boom", traces[0].Error)
}

func TestEventLog_Timeline_Empty(t *testing.T) {
	el, s := newTestEventLog(t)
	run := seedRun(t, s)

	traces, err := el.Timeline(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Empty(t, traces)
}
