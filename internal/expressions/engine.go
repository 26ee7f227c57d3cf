// Package expressions resolves {{ }} bindings in step inputs against an
// execution context and hosts the expression engines used by built-in steps.
package expressions

import "context"

// Engine evaluates expressions against a data map.
// Implementations: Expr (bindings, scripts), CEL (filter conditions), GoJQ (JSON queries).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
