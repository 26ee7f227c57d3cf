// Package engine executes automations: it walks the step list of one
// definition in order, resolves each step's inputs against the run's
// context, dispatches the step and records what it produced.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rendis/autoflow/internal/actions"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/tenancy"
	"github.com/rendis/autoflow/internal/validation"
	"github.com/rendis/autoflow/pkg/schema"
)

// DefaultMaxIterations bounds every loop unless configured otherwise.
const DefaultMaxIterations = 200

// Config holds engine configuration.
type Config struct {
	MaxIterations int              // process-wide loop bound; 0 disables it
	Now           func() time.Time // clock for CRON trigger timestamps (nil = time.Now)
}

// AppSource fetches the app document a run reads its tenant from.
type AppSource interface {
	GetAppMetadata(ctx context.Context, appID string) (*schema.AppMetadata, error)
}

// Deps are the collaborators shared by every orchestrator an Engine builds.
type Deps struct {
	Steps    actions.StepResolver  // required
	Resolver *expressions.Resolver // nil = private resolver
	Tenants  tenancy.Runner        // nil = tenancy.ContextRunner
	Apps     AppSource             // nil = every app uses the default tenant
	Chain    ChainSink             // nil = chaining disabled
	Observer Observer              // nil = no notifications
	Logger   *slog.Logger          // nil = slog.Default()
}

// Engine builds orchestrators. It is safe for concurrent use; each run gets
// its own Orchestrator and state.
type Engine struct {
	deps   Deps
	config Config
}

// New creates an Engine.
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Steps == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine requires a step resolver")
	}
	if deps.Resolver == nil {
		deps.Resolver = expressions.NewResolver(nil)
	}
	if deps.Tenants == nil {
		deps.Tenants = tenancy.ContextRunner{}
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{deps: deps, config: cfg}, nil
}

// Execute runs automation once for event.
func (e *Engine) Execute(ctx context.Context, automation *schema.Automation, event schema.TriggerEvent) (*schema.ExecutionRecord, error) {
	o, err := e.NewOrchestrator(automation, event)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx)
}

// NewOrchestrator prepares a single run. Unknown step ids and malformed
// loops are rejected here, before anything is dispatched.
func (e *Engine) NewOrchestrator(automation *schema.Automation, event schema.TriggerEvent) (*Orchestrator, error) {
	if automation == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "automation is nil")
	}
	if err := checkDefinition(&automation.Definition, e.deps.Steps); err != nil {
		return nil, err
	}

	appID := event.AppID
	if appID == "" {
		appID = automation.AppID
	}
	trigger := e.triggerOutputs(automation.Definition.Trigger, event)

	return &Orchestrator{
		engine:     e,
		automation: automation,
		appID:      appID,
		context:    NewContext(trigger),
		recorder:   NewRecorder(automation.Definition.Trigger.ID, automation.Definition.Trigger.StepID, trigger),
		chain:      NewChainGuard(schema.TriggerEvent{AppID: appID, Metadata: event.Metadata}, e.deps.Chain),
	}, nil
}

// triggerOutputs builds the trigger output: the event payload without its
// routing fields, plus a timestamp for CRON triggers.
func (e *Engine) triggerOutputs(def schema.TriggerDefinition, event schema.TriggerEvent) map[string]any {
	out := expressions.DeepCopyMap(event.Payload)
	if out == nil {
		out = map[string]any{}
	}
	delete(out, "appId")
	delete(out, "metadata")
	if def.StepID == schema.TriggerCron {
		out["timestamp"] = e.config.Now().UnixMilli()
	}
	return out
}

func checkDefinition(def *schema.AutomationDefinition, steps actions.StepResolver) error {
	result := validation.CheckSteps(def, resolverLookup{steps})
	if issue, ok := result.FirstError(schema.ErrCodeStepNotFound); ok {
		return schema.NewError(schema.ErrCodeStepNotFound, issue.String()).WithStep(issue.StepID)
	}
	return result.ToError()
}

type resolverLookup struct{ steps actions.StepResolver }

func (l resolverLookup) Has(stepID string) bool { return l.steps.Resolve(stepID) != nil }

func (l resolverLookup) InputRules(stepID string) (schema.InputSchema, bool) {
	if rules, ok := l.steps.(validation.StepRules); ok {
		return rules.InputRules(stepID)
	}
	return schema.InputSchema{}, false
}

// inputRules returns the cleaning rules of step.
func (e *Engine) inputRules(step schema.Step) schema.InputSchema {
	return validation.RulesFor(step, resolverLookup{e.deps.Steps})
}

// Orchestrator runs one automation for one trigger event. It owns the run's
// context and record and is not reusable: Execute may be called once.
type Orchestrator struct {
	engine     *Engine
	automation *schema.Automation
	appID      string
	context    *ExecutionContext
	recorder   *Recorder
	chain      *ChainGuard

	app      *schema.AppMetadata
	stopped  bool
	executed bool
}

// ChainCount returns the chain count of this run.
func (o *Orchestrator) ChainCount() int { return o.chain.ChainCount() }

// Stopped reports whether a FILTER stopped the run.
func (o *Orchestrator) Stopped() bool { return o.stopped }

// Record returns the record built so far. After a failed Execute it holds
// every entry appended before the failure.
func (o *Orchestrator) Record() *schema.ExecutionRecord { return o.recorder.Record() }

// Execute walks the definition. A FILTER stop is not an error: the walk
// completes and every later step is recorded as STOPPED. An unknown step or
// a failing step function aborts the run with an error.
func (o *Orchestrator) Execute(ctx context.Context) (*schema.ExecutionRecord, error) {
	if o.executed {
		return nil, schema.NewError(schema.ErrCodeConflict, "orchestrator already executed")
	}
	o.executed = true

	ctx = logging.WithAutomationID(ctx, o.automation.ID)
	log := logging.LogWith(ctx, o.engine.deps.Logger)
	start := time.Now()
	log.Info("automation run started", "steps", len(o.automation.Definition.Steps), "chain_count", o.chain.ChainCount())

	if _, err := o.appMetadata(ctx); err != nil {
		log.Error("automation run failed", "error", err)
		return nil, err
	}

	steps := o.automation.Definition.Steps
	for i := 0; i < len(steps); i++ {
		step := steps[i]
		position := i + 1

		if step.IsLoop() {
			body := steps[i+1]
			if o.stopped {
				o.context.Set(position, schema.StoppedOutputs())
				o.context.Set(position+1, schema.StoppedOutputs())
				o.recorder.AppendStopped(body.ID, body.StepID)
				o.observeStopped(ctx, body, position+1)
			} else if err := newLoopController(o, step, body, position).run(ctx); err != nil {
				log.Error("automation run failed", "step", body.ID, "error", err)
				return nil, err
			}
			i++
			continue
		}

		if o.stopped {
			o.context.Set(position, schema.StoppedOutputs())
			o.recorder.AppendStopped(step.ID, step.StepID)
			o.observeStopped(ctx, step, position)
			continue
		}

		out, err := o.dispatch(ctx, step, step.Inputs, position)
		if err != nil {
			log.Error("automation run failed", "step", step.ID, "error", err)
			return nil, err
		}
		o.context.Set(position, out)
		if o.filterStop(step, out) {
			o.recorder.Append(step.ID, step.StepID, step.Inputs, stoppedMerge(out))
			continue
		}
		o.recorder.Append(step.ID, step.StepID, step.Inputs, out)
	}

	log.Info("automation run finished",
		"stopped", o.stopped,
		"records", o.recorder.Len(),
		"duration_ms", time.Since(start).Milliseconds())
	return o.recorder.Record(), nil
}

// filterStop sets the stopped flag when a FILTER step reports
// success == false.
func (o *Orchestrator) filterStop(step schema.Step, out map[string]any) bool {
	if !step.IsFilter() {
		return false
	}
	if ok, isBool := out["success"].(bool); isBool && !ok {
		o.stopped = true
		return true
	}
	return false
}

func stoppedMerge(out map[string]any) map[string]any {
	merged := expressions.DeepCopyMap(out)
	for k, v := range schema.StoppedOutputs() {
		merged[k] = v
	}
	return merged
}

// dispatch resolves inputs against a copy of the context, cleans them with
// the step's rules and calls the step function inside the tenant scope.
func (o *Orchestrator) dispatch(ctx context.Context, step schema.Step, inputs map[string]any, position int) (map[string]any, error) {
	fn := o.engine.deps.Steps.Resolve(step.StepID)
	if fn == nil {
		return nil, schema.NewErrorf(schema.ErrCodeStepNotFound,
			"cannot find automation step by name %s", step.StepID).WithStep(step.ID)
	}

	snapshot := o.context.Snapshot()
	resolved, err := o.engine.deps.Resolver.Resolve(ctx, inputs, snapshot)
	if err != nil {
		return nil, templateError(err, step)
	}
	resolved = validation.CleanInputs(resolved, o.engine.inputRules(step))

	app, err := o.appMetadata(ctx)
	if err != nil {
		return nil, err
	}

	stepCtx := logging.WithStepID(ctx, step.ID)
	logging.LogWith(stepCtx, o.engine.deps.Logger).Debug("dispatching step", "step_type", step.StepID, "position", position)

	start := time.Now()
	out, err := o.engine.deps.Tenants.RunScoped(stepCtx, app.Tenant(), func(scoped context.Context) (map[string]any, error) {
		return fn(scoped, actions.StepInput{
			Inputs:  resolved,
			AppID:   o.appID,
			Emitter: o.chain,
			Context: snapshot,
		})
	})
	ev := StepEvent{
		AutomationID: o.automation.ID,
		ID:           step.ID,
		StepID:       step.StepID,
		Position:     position,
		Duration:     time.Since(start),
	}
	if err != nil {
		ev.Outcome, ev.Err = OutcomeFailed, err
		o.engine.deps.Observer.StepFinished(stepCtx, ev)
		return nil, stepError(err, step)
	}
	if out == nil {
		out = map[string]any{}
	}

	ev.Outcome = OutcomeSuccess
	if ok, isBool := out["success"].(bool); step.IsFilter() && isBool && !ok {
		ev.Outcome = OutcomeFiltered
	}
	o.engine.deps.Observer.StepFinished(stepCtx, ev)
	return out, nil
}

func (o *Orchestrator) observeStopped(ctx context.Context, step schema.Step, position int) {
	o.engine.deps.Observer.StepFinished(ctx, StepEvent{
		AutomationID: o.automation.ID,
		ID:           step.ID,
		StepID:       step.StepID,
		Position:     position,
		Outcome:      OutcomeStopped,
	})
}

// appMetadata fetches the app document once per run. A failed fetch is not
// memoized.
func (o *Orchestrator) appMetadata(ctx context.Context) (*schema.AppMetadata, error) {
	if o.app != nil {
		return o.app, nil
	}
	if o.engine.deps.Apps == nil {
		o.app = &schema.AppMetadata{AppID: o.appID}
		return o.app, nil
	}
	app, err := o.engine.deps.Apps.GetAppMetadata(ctx, o.appID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		app = &schema.AppMetadata{AppID: o.appID}
	}
	o.app = app
	return app, nil
}

// templateError reports a failure to resolve the inputs of step.
func templateError(err error, step schema.Step) error {
	var ae *schema.AutomationError
	if errors.As(err, &ae) && ae.Code == schema.ErrCodeTemplate {
		cp := *ae
		return cp.WithStep(step.ID)
	}
	return schema.NewErrorf(schema.ErrCodeTemplate, "resolve inputs of step %s: %s", step.ID, err.Error()).
		WithStep(step.ID).WithCause(err)
}

// stepError tags a step function failure with the failing step. Cancellation
// keeps its code; anything else becomes STEP_FAILED wrapping the cause.
func stepError(err error, step schema.Step) error {
	var ae *schema.AutomationError
	if errors.As(err, &ae) && ae.Code == schema.ErrCodeCancelled {
		cp := *ae
		return cp.WithStep(step.ID)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return schema.NewErrorf(schema.ErrCodeCancelled, "step %s cancelled", step.ID).
			WithStep(step.ID).WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodeStepFailed, "step %s (%s) failed: %s", step.ID, step.StepID, err.Error()).
		WithStep(step.ID).WithCause(err)
}
