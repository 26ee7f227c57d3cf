package actions

import (
	"log/slog"
	"time"

	"github.com/rendis/autoflow/internal/expressions"
)

// BuiltinConfig configures the built-in steps.
type BuiltinConfig struct {
	HTTP     HTTPConfig
	MaxDelay time.Duration
	Logger   *slog.Logger
	Expr     *expressions.ExprEngine
	JQ       *expressions.GoJQEngine
	CEL      *expressions.CELEngine
}

// RegisterBuiltins registers the intrinsic FILTER and LOOP steps plus the
// built-in step library. Missing engines are created.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	if cfg.CEL == nil {
		cel, err := expressions.NewCELEngine()
		if err != nil {
			return err
		}
		cfg.CEL = cel
	}

	all := []Action{
		NewFilterAction(cfg.CEL),
		LoopAction{},
		NewServerLogAction(cfg.Logger),
		NewScriptAction(cfg.Expr),
		NewQueryAction(cfg.JQ),
		NewWebhookAction(cfg.HTTP),
		DelayAction{Max: cfg.MaxDelay},
		TriggerRunAction{},
	}

	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}
