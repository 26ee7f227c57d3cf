package actions

import (
	"context"
	"log/slog"

	"github.com/rendis/autoflow/pkg/schema"
)

// ServerLogAction writes a message to the server log.
type ServerLogAction struct {
	logger *slog.Logger
}

// NewServerLogAction creates the SERVER_LOG step. A nil logger uses slog.Default.
func NewServerLogAction(logger *slog.Logger) *ServerLogAction {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServerLogAction{logger: logger}
}

func (a *ServerLogAction) StepID() string { return "SERVER_LOG" }

func (a *ServerLogAction) Info() StepInfo {
	return StepInfo{
		StepID:      "SERVER_LOG",
		Name:        "Backend log",
		Description: "Logs the given text to the server",
		Inputs: schema.InputSchema{
			Properties: map[string]schema.InputRule{"text": {Type: "string", Title: "Log"}},
			Required:   []string{"text"},
		},
	}
}

func (a *ServerLogAction) Validate(map[string]any) error { return nil }

func (a *ServerLogAction) Execute(ctx context.Context, in StepInput) (map[string]any, error) {
	msg := stringInput(in.Inputs, "text", "")
	a.logger.InfoContext(ctx, "automation log", slog.String("app_id", in.AppID), slog.String("text", msg))
	return map[string]any{"success": true, "message": "App " + in.AppID + " - " + msg}, nil
}

var _ Action = (*ServerLogAction)(nil)
