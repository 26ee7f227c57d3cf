// Package tenancy scopes step invocations to a tenant by passing the tenant
// explicitly on the context handed to the step.
package tenancy

import (
	"context"

	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/pkg/schema"
)

type ctxKey struct{}

// WithTenant returns a context carrying tenantID.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, tenantID)
}

// TenantID returns the tenant carried by ctx and whether one was set.
func TenantID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// MustTenantID returns the tenant carried by ctx, or DefaultTenantID.
func MustTenantID(ctx context.Context) string {
	if id, ok := TenantID(ctx); ok {
		return id
	}
	return schema.DefaultTenantID
}

// Runner runs fn inside a tenant scope. The scope is active only for the
// duration of fn and only through the context fn receives.
type Runner interface {
	RunScoped(ctx context.Context, tenantID string, fn func(ctx context.Context) (map[string]any, error)) (map[string]any, error)
}

// ContextRunner is the default Runner: it derives a tenant-scoped context
// and hands it to fn. The caller's context is left untouched.
type ContextRunner struct{}

func (ContextRunner) RunScoped(ctx context.Context, tenantID string, fn func(ctx context.Context) (map[string]any, error)) (map[string]any, error) {
	if tenantID == "" {
		tenantID = schema.DefaultTenantID
	}
	scoped := logging.WithTenantID(WithTenant(ctx, tenantID), tenantID)
	return fn(scoped)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, tenantID string, fn func(ctx context.Context) (map[string]any, error)) (map[string]any, error)

func (f RunnerFunc) RunScoped(ctx context.Context, tenantID string, fn func(ctx context.Context) (map[string]any, error)) (map[string]any, error) {
	return f(ctx, tenantID, fn)
}

var (
	_ Runner = ContextRunner{}
	_ Runner = RunnerFunc(nil)
)
