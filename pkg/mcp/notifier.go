package mcp

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/autoflow/internal/dispatch"
	"github.com/rendis/autoflow/pkg/schema"
)

// notificationMethod is the MCP method run notifications are sent with.
const notificationMethod = "notifications/message"

// RunNotifier pushes run completions to the sessions watching the
// automation. It is a dispatch.RunObserver; it stays silent until an
// AutoflowServer attaches its MCP server.
type RunNotifier struct {
	sessions  *SessionRegistry
	mcpServer atomic.Pointer[server.MCPServer]
}

// NewRunNotifier creates a notifier with an empty session registry.
func NewRunNotifier() *RunNotifier {
	return &RunNotifier{sessions: NewSessionRegistry()}
}

// Sessions returns the registry of watching sessions.
func (n *RunNotifier) Sessions() *SessionRegistry { return n.sessions }

func (n *RunNotifier) attach(s *server.MCPServer) { n.mcpServer.Store(s) }

// RunFinished notifies every watching session. Best-effort: expired
// sessions are dropped and other send errors are ignored.
func (n *RunNotifier) RunFinished(runID, automationID string, status schema.RunStatus, d time.Duration) {
	srv := n.mcpServer.Load()
	if srv == nil {
		return
	}
	payload := map[string]any{
		"level": "info",
		"data": map[string]any{
			"run_id":        runID,
			"automation_id": automationID,
			"status":        string(status),
			"duration_ms":   d.Milliseconds(),
		},
	}
	for _, sid := range n.sessions.SessionsFor(automationID) {
		err := srv.SendNotificationToSpecificClient(sid, notificationMethod, payload)
		if errors.Is(err, server.ErrSessionNotFound) {
			n.sessions.Remove(sid)
		}
	}
}

var _ dispatch.RunObserver = (*RunNotifier)(nil)
