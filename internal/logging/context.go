// Package logging carries correlation IDs on the context and injects them
// into slog records.
package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	automationIDKey ctxKey = iota
	runIDKey
	stepIDKey
	tenantIDKey
)

// correlationAttrs lists the context keys copied into log records, in
// output order.
var correlationAttrs = []struct {
	key  ctxKey
	name string
}{
	{automationIDKey, "automation_id"},
	{runIDKey, "run_id"},
	{stepIDKey, "step_id"},
	{tenantIDKey, "tenant_id"},
}

// WithAutomationID returns a context with the automation ID set.
func WithAutomationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, automationIDKey, id)
}

// WithRunID returns a context with the run ID set.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithStepID returns a context with the step ID set.
func WithStepID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, stepIDKey, id)
}

// WithTenantID returns a context with the tenant ID set.
func WithTenantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tenantIDKey, id)
}

func value(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// AutomationID extracts the automation ID from the context, or "" if absent.
func AutomationID(ctx context.Context) string { return value(ctx, automationIDKey) }

// RunID extracts the run ID from the context, or "" if absent.
func RunID(ctx context.Context) string { return value(ctx, runIDKey) }

// StepID extracts the step ID from the context, or "" if absent.
func StepID(ctx context.Context) string { return value(ctx, stepIDKey) }

// TenantID extracts the tenant ID from the context, or "" if absent.
func TenantID(ctx context.Context) string { return value(ctx, tenantIDKey) }

// LogWith returns a logger enriched with the correlation IDs present in ctx.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	var args []any
	for _, c := range correlationAttrs {
		if v := value(ctx, c.key); v != "" {
			args = append(args, slog.String(c.name, v))
		}
	}
	if len(args) == 0 {
		return logger
	}
	return logger.With(args...)
}

// CorrelationHandler wraps an slog.Handler and adds the correlation IDs
// found in the record's context, so logger.InfoContext(ctx, ...) is enough.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps inner with correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, c := range correlationAttrs {
		if v := value(ctx, c.key); v != "" {
			r.AddAttrs(slog.String(c.name, v))
		}
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
