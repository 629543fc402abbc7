package mcp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	cfmcp "github.com/mhylle/multi-agent-coding-system/internal/adapter/mcp"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/agent"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/message"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
	"github.com/mhylle/multi-agent-coding-system/internal/router"
)

// --- Mocks ---

type mockSubmitter struct {
	gotAgent string
	gotTask  task.Task
	resp     agent.Response
	err      error
}

func (m *mockSubmitter) Submit(_ context.Context, agentID string, t task.Task) (agent.Response, error) {
	m.gotAgent = agentID
	m.gotTask = t
	return m.resp, m.err
}

type mockRouter struct {
	history []router.Entry
	gotID   string
	gotN    int
}

func (m *mockRouter) HealthCheck() router.Health {
	return router.Health{Status: "healthy", Healthy: true, RegisteredAgents: 2, Issues: []string{}}
}

func (m *mockRouter) Statistics() router.Stats {
	return router.Stats{Running: true, MessagesSent: 7, QueueSizes: map[string]int{}}
}

func (m *mockRouter) History(agentID string, limit int) []router.Entry {
	m.gotID, m.gotN = agentID, limit
	return m.history
}

func (m *mockRouter) Recipients() []string { return []string{"gateway", "agent-1"} }

// --- Helpers ---

func callTool(t *testing.T, s *cfmcp.Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool, ok := s.MCPServer().ListTools()[name]
	if !ok {
		t.Fatalf("%s tool not found", name)
	}
	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return result
}

func decodeText(t *testing.T, result *mcplib.CallToolResult, dst any) {
	t.Helper()
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}
	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	if err := json.Unmarshal([]byte(text.Text), dst); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
}

func newServer(deps cfmcp.ServerDeps) *cfmcp.Server {
	return cfmcp.NewServer(cfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, deps)
}

// --- Tests ---

func TestToolRegistration(t *testing.T) {
	s := newServer(cfmcp.ServerDeps{})

	tools := s.MCPServer().ListTools()
	expected := []string{"submit_task", "router_health", "router_history", "validate_message"}
	if len(tools) != len(expected) {
		t.Fatalf("expected %d tools, got %d", len(expected), len(tools))
	}
	for _, name := range expected {
		if _, ok := tools[name]; !ok {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestHandleSubmitTask(t *testing.T) {
	sub := &mockSubmitter{resp: agent.Response{Success: true, Confidence: 0.9}}
	s := newServer(cfmcp.ServerDeps{Tasks: sub})

	result := callTool(t, s, "submit_task", map[string]any{
		"agent_id":     "agent-1",
		"title":        "Build login",
		"description":  "Add a login endpoint",
		"requirements": []any{"hash passwords", 3, ""},
		"priority":     "high",
	})

	var out struct {
		TaskID   string         `json:"task_id"`
		Response agent.Response `json:"response"`
	}
	decodeText(t, result, &out)
	if !out.Response.Success || out.TaskID != sub.gotTask.ID {
		t.Errorf("out = %+v", out)
	}
	if sub.gotAgent != "agent-1" || sub.gotTask.Priority != task.PriorityHigh {
		t.Errorf("submitted %s %+v", sub.gotAgent, sub.gotTask)
	}
	if len(sub.gotTask.Requirements) != 1 || sub.gotTask.Requirements[0] != "hash passwords" {
		t.Errorf("requirements = %v", sub.gotTask.Requirements)
	}
}

func TestHandleSubmitTaskErrors(t *testing.T) {
	tests := []struct {
		name string
		deps cfmcp.ServerDeps
		args map[string]any
	}{
		{"no submitter", cfmcp.ServerDeps{}, map[string]any{"agent_id": "a", "title": "t"}},
		{"missing agent", cfmcp.ServerDeps{Tasks: &mockSubmitter{}}, map[string]any{"title": "t"}},
		{"submit fails", cfmcp.ServerDeps{Tasks: &mockSubmitter{err: router.ErrRequestTimeout}}, map[string]any{"agent_id": "a", "title": "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := callTool(t, newServer(tt.deps), "submit_task", tt.args); !result.IsError {
				t.Error("expected error result")
			}
		})
	}
}

func TestHandleRouterHealthAndHistory(t *testing.T) {
	rt := &mockRouter{history: []router.Entry{{MessageID: "m1", Status: router.StatusDelivered}}}
	s := newServer(cfmcp.ServerDeps{Router: rt})

	var health router.Health
	decodeText(t, callTool(t, s, "router_health", nil), &health)
	if !health.Healthy || health.RegisteredAgents != 2 {
		t.Errorf("health = %+v", health)
	}

	var entries []router.Entry
	decodeText(t, callTool(t, s, "router_history", map[string]any{"agent_id": "agent-1", "limit": float64(5)}), &entries)
	if len(entries) != 1 || entries[0].MessageID != "m1" {
		t.Errorf("entries = %+v", entries)
	}
	if rt.gotID != "agent-1" || rt.gotN != 5 {
		t.Errorf("History called with %q, %d", rt.gotID, rt.gotN)
	}

	callTool(t, s, "router_history", nil)
	if rt.gotN != router.DefaultHistoryLimit {
		t.Errorf("default limit = %d", rt.gotN)
	}
}

func TestHandleValidateMessage(t *testing.T) {
	s := newServer(cfmcp.ServerDeps{})

	msg := message.New(message.TypeStatusUpdate, "", "agent-1", map[string]any{"note": "<script>alert(1)</script>"})
	raw, err := message.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	var out struct {
		Format   message.Report         `json:"format"`
		Security message.SecurityReport `json:"security"`
	}
	decodeText(t, callTool(t, s, "validate_message", map[string]any{"message": string(raw)}), &out)
	if out.Format.Valid || len(out.Format.Issues) == 0 {
		t.Errorf("format = %+v, want missing sender issue", out.Format)
	}
	if out.Format.MessageID != msg.ID {
		t.Errorf("message id = %q", out.Format.MessageID)
	}

	if result := callTool(t, s, "validate_message", map[string]any{"message": "{not json"}); !result.IsError {
		t.Error("expected error for undecodable message")
	}
	if result := callTool(t, s, "validate_message", nil); !result.IsError {
		t.Error("expected error for missing message")
	}
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name   string
		key    string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusOK},
		{"missing header", "secret", "", http.StatusUnauthorized},
		{"bearer token", "secret", "Bearer secret", http.StatusOK},
		{"bare key", "secret", "secret", http.StatusOK},
		{"wrong key", "secret", "Bearer nope", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			cfmcp.AuthMiddleware(tt.key, ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHandlerRejectsUnauthenticated(t *testing.T) {
	configs := map[string]cfmcp.ServerConfig{
		"static key": {Name: "test", Version: "0.1.0", APIKey: "secret"},
		"key source": {Name: "test", Version: "0.1.0", KeySource: func() string { return "secret" }},
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			s := cfmcp.NewServer(cfg, cfmcp.ServerDeps{})
			req := httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d", rec.Code)
			}
		})
	}
}


func TestKeyAuthMiddlewareFollowsRotation(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	key := "old"
	h := cfmcp.KeyAuthMiddleware(func() string { return key }, ok)
	do := func(header string) int {
		req := httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("Bearer old"); code != http.StatusOK {
		t.Fatalf("old key status = %d", code)
	}
	key = "new"
	if code := do("Bearer old"); code != http.StatusForbidden {
		t.Errorf("rotated-out key status = %d", code)
	}
	if code := do("Bearer new"); code != http.StatusOK {
		t.Errorf("new key status = %d", code)
	}
	key = ""
	if code := do(""); code != http.StatusOK {
		t.Errorf("cleared key status = %d", code)
	}
}
