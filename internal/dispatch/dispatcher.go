// Package dispatch turns trigger events into persisted automation runs. It
// loads the automation, enforces the chain depth limit, executes the run on
// a bounded worker pool and stores the record or error.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/autoflow/internal/actions"
	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/tenancy"
	"github.com/rendis/autoflow/internal/validation"
	"github.com/rendis/autoflow/pkg/schema"
)

// Defaults applied by New.
const (
	DefaultPoolSize      = 10
	DefaultMaxChainDepth = 5
)

// Config holds dispatcher configuration.
type Config struct {
	PoolSize      int // concurrent runs
	MaxChainDepth int // highest chain count a run may reach; 0 disables the limit
	Engine        engine.Config
}

// RunObserver is told how every run ended.
type RunObserver interface {
	RunFinished(runID, automationID string, status schema.RunStatus, duration time.Duration)
}

// RunObservers fans run notifications out to several observers.
type RunObservers []RunObserver

func (o RunObservers) RunFinished(runID, automationID string, status schema.RunStatus, duration time.Duration) {
	for _, obs := range o {
		obs.RunFinished(runID, automationID, status, duration)
	}
}

// Registrar keeps the schedule of a saved automation up to date.
type Registrar interface {
	Register(ctx context.Context, a *schema.Automation) error
}

// Deps are the dispatcher's collaborators.
type Deps struct {
	Store    store.Store          // required
	Steps    actions.StepResolver // required
	Events   *store.EventLog      // nil = no event log
	Resolver *expressions.Resolver
	Tenants  tenancy.Runner
	Observer engine.Observer // notified next to the event log
	Runs     RunObserver
	Logger   *slog.Logger
}

// Result is the outcome of a synchronous run.
type Result struct {
	RunID  string                  `json:"run_id"`
	Status schema.RunStatus        `json:"status"`
	Record *schema.ExecutionRecord `json:"record,omitempty"`
}

// Dispatcher runs automations for trigger events. It is the ChainSink of
// the engine it owns, so TRIGGER_AUTOMATION_RUN steps come back through
// Dispatch and the chain limit.
type Dispatcher struct {
	store     store.Store
	events    *store.EventLog
	engine    *engine.Engine
	validator *validation.AutomationValidator
	pool      *WorkerPool
	runs      RunObservers
	registrar Registrar
	logger    *slog.Logger
	config    Config

	base     context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup // accepted runs not yet finished
}

// New creates a Dispatcher and the engine it executes runs with.
func New(deps Deps, cfg Config) (*Dispatcher, error) {
	if deps.Store == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "dispatcher requires a store")
	}
	if deps.Steps == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "dispatcher requires a step resolver")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.MaxChainDepth < 0 {
		cfg.MaxChainDepth = 0
	}

	validator, err := validation.NewAutomationValidator(stepLookup{deps.Steps})
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		store:     deps.Store,
		events:    deps.Events,
		validator: validator,
		pool:      NewWorkerPool(cfg.PoolSize, deps.Logger),
		logger:    deps.Logger,
		config:    cfg,
	}
	d.base, d.cancel = context.WithCancel(context.Background())
	if deps.Runs != nil {
		d.runs = RunObservers{deps.Runs}
	}

	observers := engine.Observers{}
	if deps.Events != nil {
		observers = append(observers, &eventObserver{events: deps.Events, logger: deps.Logger})
	}
	if deps.Observer != nil {
		observers = append(observers, deps.Observer)
	}

	d.engine, err = engine.New(engine.Deps{
		Steps:    deps.Steps,
		Resolver: deps.Resolver,
		Tenants:  deps.Tenants,
		Apps:     deps.Store,
		Chain:    d,
		Observer: observers,
		Logger:   deps.Logger,
	}, cfg.Engine)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// SetRegistrar attaches the scheduler Define keeps in sync. Call it before
// the dispatcher is used.
func (d *Dispatcher) SetRegistrar(r Registrar) { d.registrar = r }

// AddRunObserver adds o to the observers told how every run ended. Call it
// before the dispatcher is used.
func (d *Dispatcher) AddRunObserver(o RunObserver) { d.runs = append(d.runs, o) }

// Validator returns the validator used by Define and trigger payload checks.
func (d *Dispatcher) Validator() *validation.AutomationValidator { return d.validator }

// Pool returns the worker pool runs execute on.
func (d *Dispatcher) Pool() *WorkerPool { return d.pool }

// Define validates and saves an automation and refreshes its schedule. An
// automation without an ID gets one. Warnings are returned even when the
// definition is accepted.
func (d *Dispatcher) Define(ctx context.Context, a *schema.Automation) (*schema.ValidationResult, error) {
	if a == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "automation is nil")
	}
	result := d.validator.Validate(&a.Definition)
	if err := result.ToError(); err != nil {
		return result, err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := d.store.SaveAutomation(ctx, a); err != nil {
		return result, err
	}
	if d.registrar != nil {
		if err := d.registrar.Register(ctx, a); err != nil {
			return result, err
		}
	}
	d.logger.Info("automation defined",
		slog.String("automation_id", a.ID),
		slog.String("trigger", a.Definition.Trigger.StepID),
		slog.Int("steps", len(a.Definition.Steps)),
	)
	return result, nil
}

// SaveApp creates or replaces the app document runs of that app read their
// tenant from.
func (d *Dispatcher) SaveApp(ctx context.Context, app *schema.AppMetadata) error {
	if app == nil || app.AppID == "" {
		return schema.NewError(schema.ErrCodeValidation, "app requires an appId")
	}
	if err := d.store.SaveApp(ctx, app); err != nil {
		return err
	}
	d.logger.Info("app saved",
		slog.String("app_id", app.AppID),
		slog.String("tenant_id", app.Tenant()),
	)
	return nil
}

// Delete removes a saved automation and its schedule. Runs already stored
// are kept.
func (d *Dispatcher) Delete(ctx context.Context, automationID string) error {
	if err := d.store.DeleteAutomation(ctx, automationID); err != nil {
		return err
	}
	d.logger.Info("automation deleted", slog.String("automation_id", automationID))
	return nil
}

// Dispatch accepts event and runs the automation it names in the
// background. The returned run ID is persisted before Dispatch returns; a
// refused event (unknown automation, payload rejected, chain limit) returns
// an error and is never executed.
//
// Called from inside a run, Dispatch never waits for a pool slot: the
// emitting run holds one and waiting for another could exhaust the pool.
func (d *Dispatcher) Dispatch(ctx context.Context, event schema.TriggerEvent) (string, error) {
	chained := logging.RunID(ctx) != ""
	if err := d.begin(chained); err != nil {
		return "", err
	}
	a, run, err := d.accept(ctx, event)
	if err != nil {
		d.inflight.Done()
		if run != nil {
			return run.ID, err
		}
		return "", err
	}

	job := func(ctx context.Context) error {
		defer d.inflight.Done()
		_, err := d.execute(ctx, run, a, event)
		return err
	}

	if chained {
		go func() {
			if err := d.pool.Submit(d.base, job); err != nil {
				d.abandon(run, err)
			}
		}()
		return run.ID, nil
	}

	if err := d.pool.Submit(d.base, job); err != nil {
		d.abandon(run, err)
		return run.ID, schema.NewError(schema.ErrCodeExecution, "dispatch run: "+err.Error()).WithCause(err)
	}
	return run.ID, nil
}

// Run executes event synchronously on the pool and returns the result. On
// failure the result carries the partial record.
func (d *Dispatcher) Run(ctx context.Context, event schema.TriggerEvent) (*Result, error) {
	if err := d.begin(false); err != nil {
		return nil, err
	}
	a, run, err := d.accept(ctx, event)
	if err != nil {
		d.inflight.Done()
		if run != nil {
			return &Result{RunID: run.ID, Status: run.Status}, err
		}
		return nil, err
	}

	type outcome struct {
		res *Result
		err error
	}
	ch := make(chan outcome, 1)
	submitErr := d.pool.Submit(ctx, func(ctx context.Context) error {
		defer d.inflight.Done()
		res, err := d.execute(ctx, run, a, event)
		ch <- outcome{res, err}
		return err
	})
	if submitErr != nil {
		d.abandon(run, submitErr)
		return &Result{RunID: run.ID, Status: schema.RunStatusFailed}, cancelled(submitErr)
	}
	out := <-ch
	return out.res, out.err
}

// Close refuses new events and waits for accepted runs to finish,
// including the runs they chain into.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()

	d.inflight.Wait()
	d.pool.Shutdown()
	d.cancel()
}

// begin counts an event about to be accepted. Chained events are still
// accepted while closing: their parent run is in flight, and the chain
// depth limit bounds them.
func (d *Dispatcher) begin(chained bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing && !chained {
		return schema.NewError(schema.ErrCodeExecution, "dispatcher is closed")
	}
	d.inflight.Add(1)
	return nil
}

// accept loads the automation named by event and creates its run. Refused
// events produce a rejected run when the automation exists.
func (d *Dispatcher) accept(ctx context.Context, event schema.TriggerEvent) (*schema.Automation, *store.Run, error) {
	if event.AutomationID == "" {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "trigger event has no automationId")
	}
	a, err := d.store.GetAutomation(ctx, event.AutomationID)
	if err != nil {
		return nil, nil, err
	}

	appID := event.AppID
	if appID == "" {
		appID = a.AppID
	}
	trigger, err := json.Marshal(event)
	if err != nil {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "trigger event is not serializable").WithCause(err)
	}
	run := &store.Run{
		ID:           uuid.NewString(),
		AutomationID: a.ID,
		AppID:        appID,
		Status:       schema.RunStatusRunning,
		ChainCount:   event.ChainCount() + 1,
		Trigger:      trigger,
		CreatedAt:    time.Now().UTC(),
	}

	if refusal := d.refuse(a, event); refusal != nil {
		if err := d.reject(ctx, run, refusal); err != nil {
			return nil, nil, err
		}
		return a, run, refusal
	}

	if err := d.store.CreateRun(ctx, run); err != nil {
		return nil, nil, err
	}
	d.appendRunEvent(ctx, run.ID, schema.EventRunStarted, runEventPayload{
		Status:     schema.RunStatusRunning,
		ChainCount: run.ChainCount,
	})
	return a, run, nil
}

// refuse returns why event must not run, or nil.
func (d *Dispatcher) refuse(a *schema.Automation, event schema.TriggerEvent) *schema.AutomationError {
	if limit := d.config.MaxChainDepth; limit > 0 && event.ChainCount()+1 > limit {
		return schema.NewErrorf(schema.ErrCodeChainLimit,
			"automation %s: chain count %d exceeds the limit of %d", a.ID, event.ChainCount()+1, limit).
			WithDetails(map[string]any{"chainCount": event.ChainCount() + 1, "limit": limit})
	}
	if err := d.validator.ValidateTrigger(a.Definition.Trigger, event.Payload); err != nil {
		var ae *schema.AutomationError
		if errors.As(err, &ae) {
			return ae
		}
		return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}
	return nil
}

func (d *Dispatcher) reject(ctx context.Context, run *store.Run, refusal *schema.AutomationError) error {
	now := time.Now().UTC()
	run.Status = schema.RunStatusRejected
	run.Error = errorJSON(refusal)
	run.CompletedAt = &now
	if err := d.store.CreateRun(ctx, run); err != nil {
		return err
	}
	d.appendRunEvent(ctx, run.ID, schema.EventRunRejected, runEventPayload{
		Status:     schema.RunStatusRejected,
		ChainCount: run.ChainCount,
		Error:      refusal.Error(),
	})
	d.logger.Warn("automation run rejected",
		slog.String("automation_id", run.AutomationID),
		slog.String("run_id", run.ID),
		slog.String("code", refusal.Code),
		slog.String("error", refusal.Message),
	)
	if d.runs != nil {
		d.runs.RunFinished(run.ID, run.AutomationID, schema.RunStatusRejected, 0)
	}
	return nil
}

// execute runs an accepted event and persists its outcome.
// A panicking step fails the run instead of the worker.
func (d *Dispatcher) execute(ctx context.Context, run *store.Run, a *schema.Automation, event schema.TriggerEvent) (res *Result, err error) {
	ctx = logging.WithRunID(logging.WithAutomationID(ctx, a.ID), run.ID)
	start := time.Now()

	var (
		o      *engine.Orchestrator
		record *schema.ExecutionRecord
	)
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "run panicked: %v", r)
			if o != nil {
				record = o.Record()
			}
			d.finish(ctx, run, schema.RunStatusFailed, record, err, time.Since(start))
			res = &Result{RunID: run.ID, Status: schema.RunStatusFailed, Record: record}
		}
	}()

	o, err = d.engine.NewOrchestrator(a, event)
	if err == nil {
		record, err = o.Execute(ctx)
		if err != nil {
			record = o.Record()
		}
	}

	status := schema.RunStatusSuccess
	switch {
	case err != nil:
		status = schema.RunStatusFailed
	case o.Stopped():
		status = schema.RunStatusStopped
	}

	d.finish(ctx, run, status, record, err, time.Since(start))
	return &Result{RunID: run.ID, Status: status, Record: record}, err
}

// abandon marks an accepted run that never got a pool slot as failed.
func (d *Dispatcher) abandon(run *store.Run, cause error) {
	defer d.inflight.Done()
	d.finish(d.base, run, schema.RunStatusFailed, nil, cancelled(cause), 0)
}

func (d *Dispatcher) finish(ctx context.Context, run *store.Run, status schema.RunStatus, record *schema.ExecutionRecord, runErr error, elapsed time.Duration) {
	// The run context may be cancelled; the outcome is still persisted.
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()

	update := store.RunUpdate{Status: status, Record: record, CompletedAt: &now}
	payload := runEventPayload{Status: status, ChainCount: run.ChainCount, DurationMs: elapsed.Milliseconds()}
	eventType := schema.EventRunCompleted
	if runErr != nil {
		update.Error = errorJSON(runErr)
		payload.Error = runErr.Error()
		eventType = schema.EventRunFailed
	}

	if err := d.store.FinishRun(ctx, run.ID, update); err != nil {
		d.logger.Error("failed to persist run outcome",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
	d.appendRunEvent(ctx, run.ID, eventType, payload)
	if d.runs != nil {
		d.runs.RunFinished(run.ID, run.AutomationID, status, elapsed)
	}
}

type runEventPayload struct {
	Status     schema.RunStatus `json:"status"`
	ChainCount int              `json:"chain_count,omitempty"`
	DurationMs int64            `json:"duration_ms,omitempty"`
	Error      string           `json:"error,omitempty"`
}

func (d *Dispatcher) appendRunEvent(ctx context.Context, runID, eventType string, payload runEventPayload) {
	if d.events == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err == nil {
		err = d.events.AppendEvent(ctx, &store.Event{RunID: runID, Type: eventType, Payload: raw})
	}
	if err != nil {
		d.logger.Warn("failed to append run event",
			slog.String("run_id", runID),
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
	}
}

// errorJSON serializes err as an AutomationError.
func errorJSON(err error) json.RawMessage {
	var ae *schema.AutomationError
	if !errors.As(err, &ae) {
		ae = schema.NewError(schema.ErrCodeExecution, err.Error())
	}
	raw, mErr := json.Marshal(ae)
	if mErr != nil {
		return nil
	}
	return raw
}

// cancelled maps a pool submission failure to an AutomationError.
func cancelled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return schema.NewError(schema.ErrCodeCancelled, "run cancelled before it started").WithCause(err)
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err)
}

type stepLookup struct{ steps actions.StepResolver }

func (l stepLookup) Has(stepID string) bool { return l.steps.Resolve(stepID) != nil }

func (l stepLookup) InputRules(stepID string) (schema.InputSchema, bool) {
	if rules, ok := l.steps.(validation.StepRules); ok {
		return rules.InputRules(stepID)
	}
	return schema.InputSchema{}, false
}

var _ engine.ChainSink = (*Dispatcher)(nil)
