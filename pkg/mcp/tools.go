package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cast"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/pkg/schema"
)

// handleRun executes a saved automation for a trigger payload.
func (s *AutoflowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	automationID, err := req.RequireString("automation_id")
	if err != nil {
		return mcp.NewToolResultError("automation_id is required"), nil
	}
	event := schema.TriggerEvent{
		AutomationID: automationID,
		AppID:        req.GetString("app_id", ""),
		Payload:      mcp.ParseStringMap(req, "payload", nil),
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}

	if req.GetBool("async", false) {
		s.captureSession(ctx, automationID)
		runID, dispatchErr := s.dispatcher.Dispatch(ctx, event)
		if dispatchErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("dispatch failed: %v", dispatchErr)), nil
		}
		return marshalResult(map[string]any{
			"run_id": runID,
			"status": schema.RunStatusRunning,
		})
	}

	result, runErr := s.dispatcher.Run(ctx, event)
	if runErr != nil {
		if result != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run %s %s: %v", result.RunID, result.Status, runErr)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", runErr)), nil
	}
	return marshalResult(result)
}

// handleDefine validates and saves an automation.
func (s *AutoflowServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appID, err := req.RequireString("app_id")
	if err != nil {
		return mcp.NewToolResultError("app_id is required"), nil
	}
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	// Marshal then unmarshal the definition to get a proper AutomationDefinition.
	defBytes, marshalErr := json.Marshal(defRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", marshalErr)), nil
	}
	var def schema.AutomationDefinition
	if unmarshalErr := json.Unmarshal(defBytes, &def); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", unmarshalErr)), nil
	}

	a := &schema.Automation{
		ID:         req.GetString("id", ""),
		AppID:      appID,
		Name:       req.GetString("name", ""),
		Definition: def,
	}
	result, defineErr := s.dispatcher.Define(ctx, a)
	if defineErr != nil {
		if result != nil && !result.Valid() {
			return mcp.NewToolResultError(formatIssues(result.Errors)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to save automation: %v", defineErr)), nil
	}

	out := map[string]any{"id": a.ID}
	if tenantID := req.GetString("tenant_id", ""); tenantID != "" {
		if err := s.dispatcher.SaveApp(ctx, &schema.AppMetadata{AppID: appID, TenantID: tenantID}); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("automation %s saved, app not saved: %v", a.ID, err)), nil
		}
		out["tenant_id"] = tenantID
	}
	if len(result.Warnings) > 0 {
		out["warnings"] = result.Warnings
	}
	return marshalResult(out)
}

// handleDelete removes a saved automation.
func (s *AutoflowServer) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	automationID, err := req.RequireString("automation_id")
	if err != nil {
		return mcp.NewToolResultError("automation_id is required"), nil
	}
	if err := s.dispatcher.Delete(ctx, automationID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"id": automationID, "deleted": true})
}

// handleQuery lists automations, runs, events, timelines or steps.
func (s *AutoflowServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "automations":
		return s.queryAutomations(ctx, filter)
	case "runs":
		return s.queryRuns(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	case "timeline":
		return s.queryTimeline(ctx, filter)
	case "steps":
		return s.querySteps()
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *AutoflowServer) queryAutomations(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	af := store.AutomationFilter{
		AppID:         extractString(filter, "app_id"),
		TriggerStepID: extractString(filter, "trigger_step_id"),
		Limit:         extractInt(filter, "limit", 50),
		Offset:        extractInt(filter, "offset", 0),
	}
	automations, err := s.store.ListAutomations(ctx, af)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"automations": automations})
}

func (s *AutoflowServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	if runID := extractString(filter, "run_id"); runID != "" {
		run, err := s.store.GetRun(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"runs": []*store.Run{run}})
	}

	rf := store.RunFilter{
		AutomationID: extractString(filter, "automation_id"),
		AppID:        extractString(filter, "app_id"),
		Since:        extractTime(filter, "since"),
		Limit:        extractInt(filter, "limit", 50),
		Offset:       extractInt(filter, "offset", 0),
	}
	if status := extractString(filter, "status"); status != "" {
		rs := schema.RunStatus(status)
		rf.Status = &rs
	}
	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *AutoflowServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.EventFilter{
		RunID:  extractString(filter, "run_id"),
		StepID: extractString(filter, "step_id"),
		Since:  extractTime(filter, "since"),
		Limit:  extractInt(filter, "limit", 100),
	}

	if eventType := extractString(filter, "event_type"); eventType != "" {
		events, err := s.store.GetEventsByType(ctx, eventType, ef)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"events": events})
	}

	// No event type filter: GetEvents requires run_id.
	if ef.RunID == "" {
		return mcp.NewToolResultError("event query requires either 'event_type' or 'run_id' in filter"), nil
	}
	events, err := s.store.GetEvents(ctx, ef.RunID, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

func (s *AutoflowServer) queryTimeline(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	if s.events == nil {
		return mcp.NewToolResultError("timeline queries are not available"), nil
	}
	runID := extractString(filter, "run_id")
	if runID == "" {
		return mcp.NewToolResultError("timeline query requires 'run_id' in filter"), nil
	}
	traces, err := s.events.Timeline(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"run_id": runID, "timeline": traces})
}

func (s *AutoflowServer) querySteps() (*mcp.CallToolResult, error) {
	if s.steps == nil {
		return mcp.NewToolResultError("step queries are not available"), nil
	}
	return marshalResult(map[string]any{"steps": s.steps.List()})
}

// --- Internal helpers ---

// extractString returns a string filter value, or "" when absent.
func extractString(filter map[string]any, key string) string {
	if filter == nil {
		return ""
	}
	return cast.ToString(filter[key])
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// extractTime parses an RFC 3339 filter value. Malformed values are ignored.
func extractTime(filter map[string]any, key string) *time.Time {
	raw := extractString(filter, key)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

// formatIssues renders validation errors as one message.
func formatIssues(issues []schema.ValidationIssue) string {
	parts := make([]string, len(issues))
	for i, issue := range issues {
		parts[i] = issue.String()
	}
	return "invalid automation: " + strings.Join(parts, "; ")
}

// captureSession subscribes the calling MCP session to the automation's runs.
func (s *AutoflowServer) captureSession(ctx context.Context, automationID string) {
	if s.notifier == nil {
		return
	}
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.notifier.Sessions().Watch(automationID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
