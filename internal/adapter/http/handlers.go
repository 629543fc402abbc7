package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/agent"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/message"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
	"github.com/mhylle/multi-agent-coding-system/internal/router"
	"github.com/mhylle/multi-agent-coding-system/internal/service"
)

const (
	defaultMaxRequestBodySize = 1 << 20 // 1 MB
	maxHistoryLimit           = 1000
	providerHealthTimeout     = 5 * time.Second
)

// TaskSubmitter sends a task to an agent and waits for its response.
type TaskSubmitter interface {
	Submit(ctx context.Context, agentID string, t task.Task) (agent.Response, error)
}

// RouterView is the read-only router surface served by the API.
type RouterView interface {
	HealthCheck() router.Health
	Statistics() router.Stats
	History(agentID string, limit int) []router.Entry
	Recipients() []string
	Running() bool
}

// LLMView reports model invocation activity.
type LLMView interface {
	Stats() service.InvokerStats
	Providers() []string
}

// HealthChecker is implemented by model providers that can be probed.
type HealthChecker interface {
	Health(ctx context.Context) (bool, error)
}

// Limits bounds request handling.
type Limits struct {
	MaxRequestBodySize int64
	// SubmitTimeout bounds how long POST /tasks waits for the agent.
	SubmitTimeout time.Duration
}

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Tasks     TaskSubmitter
	Router    RouterView
	LLM       LLMView
	Providers map[string]HealthChecker
	Limits    Limits
}

func (h *Handlers) bodyLimit() int64 {
	if h.Limits.MaxRequestBodySize > 0 {
		return h.Limits.MaxRequestBodySize
	}
	return defaultMaxRequestBodySize
}

// submitTaskRequest is the body of POST /api/v1/tasks.
type submitTaskRequest struct {
	AgentID      string         `json:"agent_id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Requirements []string       `json:"requirements"`
	Priority     string         `json:"priority"`
	RequiredRole task.Role      `json:"required_agent_role"`
	Dependencies []string       `json:"dependencies"`
	Metadata     map[string]any `json:"metadata"`
	Context      map[string]any `json:"context"`
	Deadline     *time.Time     `json:"deadline"`
}

func (req submitTaskRequest) task() task.Task {
	t := task.New(req.Title, req.Description, req.Requirements...)
	if t.Requirements == nil {
		t.Requirements = []string{}
	}
	t.Priority = task.ParsePriority(req.Priority)
	t.RequiredRole = req.RequiredRole
	t.Deadline = req.Deadline
	if req.Dependencies != nil {
		t.Dependencies = req.Dependencies
	}
	if req.Metadata != nil {
		t.Metadata = req.Metadata
	}
	if req.Context != nil {
		t.Context = req.Context
	}
	return t
}

// submitTaskResponse is the body returned by POST /api/v1/tasks.
type submitTaskResponse struct {
	TaskID   string         `json:"task_id"`
	AgentID  string         `json:"agent_id"`
	Response agent.Response `json:"response"`
}

// SubmitTask handles POST /api/v1/tasks. A task the pipeline rejects is
// still a 200 with success false; router failures map to 4xx/5xx.
func (h *Handlers) SubmitTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[submitTaskRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	if !requireField(w, req.AgentID, "agent_id") || !requireField(w, req.Title, "title") {
		return
	}

	ctx := r.Context()
	if h.Limits.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Limits.SubmitTimeout)
		defer cancel()
	}

	t := req.task()
	resp, err := h.Tasks.Submit(ctx, req.AgentID, t)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitTaskResponse{TaskID: t.ID, AgentID: req.AgentID, Response: resp})
}

func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrTitleRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, router.ErrNotQueued):
		writeError(w, http.StatusServiceUnavailable, "agent unknown or its queue is full")
	case errors.Is(err, router.ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "agent did not respond in time")
	case errors.Is(err, router.ErrRequestCancelled):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	case errors.Is(err, service.ErrAgentReportedError):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("task submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// RouterHealth handles GET /api/v1/router/health.
func (h *Handlers) RouterHealth(w http.ResponseWriter, _ *http.Request) {
	health := h.Router.HealthCheck()
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// RouterStats handles GET /api/v1/router/stats.
func (h *Handlers) RouterStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Router.Statistics())
}

// RouterHistory handles GET /api/v1/router/history?agent_id=&limit=.
func (h *Handlers) RouterHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", router.DefaultHistoryLimit, maxHistoryLimit)
	entries := h.Router.History(r.URL.Query().Get("agent_id"), limit)
	if entries == nil {
		entries = []router.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListAgents handles GET /api/v1/agents.
func (h *Handlers) ListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": h.Router.Recipients()})
}

// validateMessageResponse is the body returned by POST /api/v1/messages/validate.
type validateMessageResponse struct {
	Format    message.Report         `json:"format"`
	Security  message.SecurityReport `json:"security"`
	Sanitized map[string]any         `json:"sanitized_content"`
}

// ValidateMessage handles POST /api/v1/messages/validate. It diagnoses a
// message without routing it.
func (h *Handlers) ValidateMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := readJSON[message.Message](w, r, h.bodyLimit())
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, validateMessageResponse{
		Format:    message.ValidateFormat(msg, 0),
		Security:  message.CheckContentSecurity(msg.Content),
		Sanitized: message.SanitizeContent(msg.Content),
	})
}

// LLMStats handles GET /api/v1/llm/stats.
func (h *Handlers) LLMStats(w http.ResponseWriter, _ *http.Request) {
	if h.LLM == nil {
		writeError(w, http.StatusServiceUnavailable, "model invocation not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": h.LLM.Providers(),
		"stats":     h.LLM.Stats(),
	})
}

// providerHealth is one entry of GET /api/v1/llm/health.
type providerHealth struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// LLMHealth handles GET /api/v1/llm/health by probing every provider.
func (h *Handlers) LLMHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), providerHealthTimeout)
	defer cancel()

	out := make(map[string]providerHealth, len(h.Providers))
	status := http.StatusOK
	for name, p := range h.Providers {
		ok, err := p.Health(ctx)
		ph := providerHealth{Healthy: ok && err == nil}
		if err != nil {
			ph.Error = err.Error()
		}
		if !ph.Healthy {
			status = http.StatusServiceUnavailable
		}
		out[name] = ph
	}
	writeJSON(w, status, out)
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	running := h.Router != nil && h.Router.Running()
	status, code := "ok", http.StatusOK
	if !running {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "router_running": running})
}
