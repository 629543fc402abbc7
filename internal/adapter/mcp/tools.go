package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/message"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
	"github.com/mhylle/multi-agent-coding-system/internal/router"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.submitTaskTool(),
		s.routerHealthTool(),
		s.routerHistoryTool(),
		s.validateMessageTool(),
	)
}

func (s *Server) submitTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("submit_task",
		mcplib.WithDescription("Submit a task to an agent and wait for its reviewed response"),
		mcplib.WithString("agent_id", mcplib.Required(), mcplib.Description("Recipient agent id")),
		mcplib.WithString("title", mcplib.Required(), mcplib.Description("Task title")),
		mcplib.WithString("description", mcplib.Description("Task description")),
		mcplib.WithArray("requirements",
			mcplib.Description("Requirements the result must satisfy"),
			mcplib.WithStringItems(),
		),
		mcplib.WithString("priority",
			mcplib.Description("Task priority"),
			mcplib.Enum(string(task.PriorityCritical), string(task.PriorityHigh), string(task.PriorityMedium), string(task.PriorityLow)),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleSubmitTask}
}

func (s *Server) routerHealthTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("router_health",
		mcplib.WithDescription("Report router health, queue depths and warnings"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleRouterHealth}
}

func (s *Server) routerHistoryTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("router_history",
		mcplib.WithDescription("List recent message deliveries, newest last"),
		mcplib.WithString("agent_id", mcplib.Description("Only messages sent by or to this agent")),
		mcplib.WithNumber("limit", mcplib.Description("Maximum entries to return")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleRouterHistory}
}

func (s *Server) validateMessageTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("validate_message",
		mcplib.WithDescription("Check a JSON-encoded message for format and content problems"),
		mcplib.WithString("message", mcplib.Required(), mcplib.Description("The message as JSON")),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleValidateMessage}
}

func (s *Server) handleSubmitTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task submitter not configured"), nil
	}
	args := req.GetArguments()
	agentID, _ := args["agent_id"].(string)
	if agentID == "" {
		return mcplib.NewToolResultError("agent_id is required"), nil
	}
	title, _ := args["title"].(string)
	description, _ := args["description"].(string)

	t := task.New(title, description, stringList(args["requirements"])...)
	if p, ok := args["priority"].(string); ok {
		t.Priority = task.ParsePriority(p)
	}

	resp, err := s.deps.Tasks.Submit(ctx, agentID, t)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("task %s failed", t.ID), err), nil
	}
	return jsonResult(map[string]any{"task_id": t.ID, "response": resp})
}

func (s *Server) handleRouterHealth(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Router == nil {
		return mcplib.NewToolResultError("router not configured"), nil
	}
	return jsonResult(s.deps.Router.HealthCheck())
}

func (s *Server) handleRouterHistory(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Router == nil {
		return mcplib.NewToolResultError("router not configured"), nil
	}
	args := req.GetArguments()
	agentID, _ := args["agent_id"].(string)
	limit := router.DefaultHistoryLimit
	if n, ok := args["limit"].(float64); ok && n > 0 {
		limit = int(n)
	}
	return jsonResult(s.deps.Router.History(agentID, limit))
}

func (s *Server) handleValidateMessage(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	raw, _ := req.GetArguments()["message"].(string)
	if raw == "" {
		return mcplib.NewToolResultError("message is required"), nil
	}
	msg, err := message.Unmarshal([]byte(raw))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("message is not decodable", err), nil
	}
	return jsonResult(map[string]any{
		"format":   message.ValidateFormat(msg, 0),
		"security": message.CheckContentSecurity(msg.Content),
	})
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
