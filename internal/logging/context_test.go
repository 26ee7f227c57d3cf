package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fullContext() context.Context {
	ctx := context.Background()
	ctx = WithAutomationID(ctx, "au_1")
	ctx = WithRunID(ctx, "run-9")
	ctx = WithStepID(ctx, "step-x")
	return WithTenantID(ctx, "acme")
}

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", AutomationID(ctx))
	assert.Equal(t, "", RunID(ctx))
	assert.Equal(t, "", StepID(ctx))
	assert.Equal(t, "", TenantID(ctx))

	ctx = fullContext()
	assert.Equal(t, "au_1", AutomationID(ctx))
	assert.Equal(t, "run-9", RunID(ctx))
	assert.Equal(t, "step-x", StepID(ctx))
	assert.Equal(t, "acme", TenantID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	LogWith(fullContext(), logger).Info("hello")

	out := buf.String()
	assert.Contains(t, out, "automation_id=au_1")
	assert.Contains(t, out, "run_id=run-9")
	assert.Contains(t, out, "step_id=step-x")
	assert.Contains(t, out, "tenant_id=acme")
}

func TestLogWithEmptyContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, logger, LogWith(context.Background(), logger))
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	logger.InfoContext(WithRunID(context.Background(), "run-1"), "step done")

	out := buf.String()
	assert.Contains(t, out, "run_id=run-1")
	assert.NotContains(t, out, "automation_id")
	assert.NotContains(t, out, "tenant_id")
}

func TestCorrelationHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	logger.With("component", "engine").WithGroup("g").InfoContext(fullContext(), "msg", "k", "v")

	out := buf.String()
	assert.Contains(t, out, "component=engine")
	assert.Contains(t, out, "g.k=v")
	assert.Contains(t, out, "g.tenant_id=acme")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNew_Formats(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "debug", "json").DebugContext(WithTenantID(context.Background(), "t1"), "x")
	assert.Contains(t, buf.String(), `"tenant_id":"t1"`)

	buf.Reset()
	New(&buf, "warn", "text").Info("hidden")
	assert.Empty(t, buf.String())
}
