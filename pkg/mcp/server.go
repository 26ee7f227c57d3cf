package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/autoflow/internal/actions"
	"github.com/rendis/autoflow/internal/dispatch"
	"github.com/rendis/autoflow/internal/store"
)

// AutoflowServerDeps holds the dependencies for creating an AutoflowServer.
type AutoflowServerDeps struct {
	Dispatcher *dispatch.Dispatcher
	Store      store.Store
	Events     *store.EventLog   // nil disables the timeline resource
	Steps      *actions.Registry // nil disables the steps resource
	Notifier   *RunNotifier      // nil = no run notifications
	Logger     *slog.Logger
}

// AutoflowServer wraps an MCP server with the automation tool handlers.
type AutoflowServer struct {
	dispatcher *dispatch.Dispatcher
	store      store.Store
	events     *store.EventLog
	steps      *actions.Registry
	notifier   *RunNotifier
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

// NewAutoflowServer creates a new AutoflowServer with its 4 tools registered.
func NewAutoflowServer(deps AutoflowServerDeps) *AutoflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &AutoflowServer{
		dispatcher: deps.Dispatcher,
		store:      deps.Store,
		events:     deps.Events,
		steps:      deps.Steps,
		notifier:   deps.Notifier,
		logger:     logger,
	}

	mcpSrv := server.NewMCPServer(
		"autoflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Autoflow executes trigger-driven automations. Use automation.define to save an automation, automation.run to execute it for a trigger payload, automation.delete to remove it, and automation.query to list automations, runs, events, run timelines or the registered steps."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	if s.notifier != nil {
		s.notifier.attach(mcpSrv)
	}
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *AutoflowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *AutoflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *AutoflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: deleteTool(), Handler: s.handleDelete},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("automation.run",
		mcp.WithDescription("Execute a saved automation for a trigger payload"),
		mcp.WithString("automation_id", mcp.Required(), mcp.Description("ID of the automation to run")),
		mcp.WithObject("payload", mcp.Description("Trigger payload; becomes the trigger outputs")),
		mcp.WithString("app_id", mcp.Description("App the event belongs to (default: the automation's app)")),
		mcp.WithBoolean("async", mcp.Description("Return the run ID immediately and notify this session when the run finishes")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("automation.define",
		mcp.WithDescription("Validate and save an automation"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Automation definition: {trigger, steps}")),
		mcp.WithString("app_id", mcp.Required(), mcp.Description("App that owns the automation")),
		mcp.WithString("name", mcp.Description("Automation name")),
		mcp.WithString("id", mcp.Description("Automation ID; an existing automation with this ID is replaced")),
		mcp.WithString("tenant_id", mcp.Description("Tenant the app's steps run under; saved on the app")),
	)
}

func deleteTool() mcp.Tool {
	return mcp.NewTool("automation.delete",
		mcp.WithDescription("Delete a saved automation and its schedule; stored runs are kept"),
		mcp.WithString("automation_id", mcp.Required(), mcp.Description("ID of the automation to delete")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("automation.query",
		mcp.WithDescription("Query automations, runs, events, run timelines or steps"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("automations", "runs", "events", "timeline", "steps"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (app_id, automation_id, run_id, status, event_type, since, limit, offset)")),
	)
}
