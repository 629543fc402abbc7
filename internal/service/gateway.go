package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/agent"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/message"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
	"github.com/mhylle/multi-agent-coding-system/internal/router"
)

// DefaultGatewayID is the recipient id external submissions are sent from.
const DefaultGatewayID = "gateway"

// ErrAgentReportedError is returned when an agent answers with an error_report.
var ErrAgentReportedError = errors.New("agent reported an error")

// Gateway submits tasks from outside the router (HTTP, MCP) and waits for
// the agent's correlated response.
type Gateway struct {
	id      string
	router  *router.Router
	timeout time.Duration
}

// NewGateway creates a gateway sending as id. A non-positive timeout uses the
// router's default request timeout.
func NewGateway(id string, r *router.Router, timeout time.Duration) *Gateway {
	if id == "" {
		id = DefaultGatewayID
	}
	return &Gateway{id: id, router: r, timeout: timeout}
}

// ID returns the sender id used for submissions.
func (g *Gateway) ID() string { return g.id }

// Register adds the gateway as a recipient so agents can address it with
// status updates and error reports.
func (g *Gateway) Register() error {
	return g.router.Register(g.id, func(_ context.Context, msg message.Message) (any, error) {
		switch msg.Type {
		case message.TypeErrorReport:
			slog.Warn("gateway received error report", "sender", msg.Sender, "error", msg.Content["error"])
		default:
			slog.Debug("gateway received message", "type", msg.Type, "sender", msg.Sender)
		}
		return nil, nil
	})
}

// Submit sends t to agentID and returns the agent's response. Router
// failures (not queued, timeout, cancellation) are returned as errors; a
// pipeline failure is a Response with Success false.
func (g *Gateway) Submit(ctx context.Context, agentID string, t task.Task) (agent.Response, error) {
	if err := t.Validate(); err != nil {
		return agent.Response{}, err
	}
	req, err := message.NewTaskRequest(g.id, agentID, t, t.Priority)
	if err != nil {
		return agent.Response{}, err
	}

	slog.Info("gateway submitting task", "task_id", t.ID, "agent_id", agentID, "message_id", req.ID)
	reply, err := g.router.SendRequest(ctx, req, g.timeout)
	if err != nil {
		return agent.Response{}, fmt.Errorf("submit task %s to %s: %w", t.ID, agentID, err)
	}
	if reply.Type == message.TypeErrorReport {
		errText, _ := reply.Content["error"].(string)
		return agent.Response{}, fmt.Errorf("%w: %s", ErrAgentReportedError, errText)
	}
	return message.ResponseFromMessage(*reply)
}
