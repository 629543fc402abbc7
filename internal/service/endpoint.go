package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/agent"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/message"
	"github.com/mhylle/multi-agent-coding-system/internal/logger"
	"github.com/mhylle/multi-agent-coding-system/internal/pool"
	"github.com/mhylle/multi-agent-coding-system/internal/router"
)

var (
	// ErrUnsupportedMessage is returned for message types an agent does not handle.
	ErrUnsupportedMessage = errors.New("unsupported message")
	// ErrEndpointClosed is returned for tasks arriving after Close.
	ErrEndpointClosed = errors.New("agent endpoint closed")
)

// DefaultMaxConcurrentTasks bounds the tasks an endpoint runs at once.
const DefaultMaxConcurrentTasks = 4

// Status values broadcast by an endpoint.
const (
	StatusTaskStarted   = "task_started"
	StatusTaskCompleted = "task_completed"
	StatusTaskFailed    = "task_failed"
)

// AgentEndpoint exposes a Coordinator as a router recipient. Task requests
// run off the delivery goroutine, bounded by a worker pool, and are answered
// with a correlated task_response.
type AgentEndpoint struct {
	coord  *Coordinator
	router *router.Router
	pool   *pool.Pool

	// Broadcast status updates to other recipients when set.
	announce bool

	mu      sync.Mutex
	base    context.Context
	running map[string]context.CancelFunc // by task id
	closed  bool
	wg      sync.WaitGroup
}

// EndpointStatus answers the "status" workflow command.
type EndpointStatus struct {
	Agent AgentStatus `json:"agent"`
	Pool  pool.Stats  `json:"pool"`
}

// NewAgentEndpoint creates an endpoint for coord on r.
func NewAgentEndpoint(coord *Coordinator, r *router.Router, maxConcurrent int64, announce bool) *AgentEndpoint {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentTasks
	}
	return &AgentEndpoint{
		coord:    coord,
		router:   r,
		pool:     pool.New(int(maxConcurrent)),
		announce: announce,
		base:     context.Background(),
		running:  map[string]context.CancelFunc{},
	}
}

// ID returns the recipient id the endpoint registers under.
func (e *AgentEndpoint) ID() string { return e.coord.AgentID() }

// Register adds the endpoint to the router. Tasks run under ctx.
func (e *AgentEndpoint) Register(ctx context.Context) error {
	e.mu.Lock()
	e.base = ctx
	e.mu.Unlock()
	return e.router.Register(e.ID(), e.handle)
}

// Wait blocks until every running task has been answered.
func (e *AgentEndpoint) Wait() { e.wg.Wait() }

// Close stops accepting tasks, removes the endpoint from the router and
// waits for running tasks to be answered.
func (e *AgentEndpoint) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.router.Unregister(e.ID())
	e.wg.Wait()
}

func (e *AgentEndpoint) handle(ctx context.Context, msg message.Message) (any, error) {
	switch msg.Type {
	case message.TypeTaskRequest:
		return e.acceptTask(msg)
	case message.TypeWorkflowControl:
		return e.control(msg)
	case message.TypeStatusUpdate, message.TypeTaskResponse:
		slog.Debug("agent received notification", "agent_id", e.ID(), "type", msg.Type, "sender", msg.Sender)
		return nil, nil
	case message.TypeErrorReport:
		slog.Warn("agent received error report", "agent_id", e.ID(), "sender", msg.Sender, "error", msg.Content["error"])
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedMessage, msg.Type)
}

func (e *AgentEndpoint) acceptTask(msg message.Message) (any, error) {
	t, err := message.TaskFromMessage(msg)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: task %s", ErrEndpointClosed, t.ID)
	}
	if _, dup := e.running[t.ID]; dup {
		e.mu.Unlock()
		return nil, fmt.Errorf("task %s already running", t.ID)
	}
	ctx, cancel := context.WithCancel(logger.WithRequestID(e.base, msg.ID))
	e.running[t.ID] = cancel
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		var resp agent.Response
		err := e.pool.Run(ctx, func() error {
			e.status(StatusTaskStarted, t.ID, nil)
			resp = e.coord.ProcessTask(ctx, t, t.Context)
			status := StatusTaskCompleted
			if !resp.Success {
				status = StatusTaskFailed
			}
			e.status(status, t.ID, map[string]any{"confidence": resp.Confidence})
			return nil
		})
		e.finish(t.ID)
		if err != nil {
			resp = agent.Failed(fmt.Sprintf("%s: %v", errProcessing, err), 0, nil)
		}
		e.reply(msg, t.ID, resp)
	}()

	if msg.RequiresResponse {
		return nil, router.ErrReplyLater
	}
	return nil, nil
}

func (e *AgentEndpoint) finish(taskID string) {
	e.mu.Lock()
	cancel := e.running[taskID]
	delete(e.running, taskID)
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// cancelTask cancels the context of a running task.
func (e *AgentEndpoint) cancelTask(taskID string) bool {
	e.mu.Lock()
	cancel, ok := e.running[taskID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// reply answers req. Without a pending request the response is routed to
// the sender like any other message.
func (e *AgentEndpoint) reply(req message.Message, taskID string, resp agent.Response) {
	if !req.RequiresResponse {
		return
	}
	out, err := message.NewTaskResponse(e.ID(), req.Sender, taskID, req.ID, resp)
	if err != nil {
		slog.Error("encode task response failed", "agent_id", e.ID(), "task_id", taskID, "error", err)
		return
	}
	out.Priority = req.Priority
	if !e.router.Send(out) {
		slog.Warn("task response not delivered", "agent_id", e.ID(), "task_id", taskID, "recipient", req.Sender)
	}
}

func (e *AgentEndpoint) status(status, taskID string, details map[string]any) {
	if !e.announce {
		return
	}
	e.router.Broadcast(message.NewStatusUpdate(e.ID(), "", status, taskID, details))
}

func (e *AgentEndpoint) control(msg message.Message) (any, error) {
	cmd, _ := msg.Content["command"].(string)
	switch cmd {
	case "status", "get_status":
		return EndpointStatus{Agent: e.coord.Status(), Pool: e.pool.Stats()}, nil
	case "cancel", "cancel_task":
		data, _ := msg.Content["workflow_data"].(map[string]any)
		taskID, _ := data["task_id"].(string)
		if taskID == "" {
			return nil, errors.New("cancel: task_id is required")
		}
		cancelled := e.cancelTask(taskID)
		slog.Info("task cancel requested", "agent_id", e.ID(), "task_id", taskID, "cancelled", cancelled)
		return map[string]any{"task_id": taskID, "cancelled": cancelled}, nil
	}
	return nil, fmt.Errorf("%w: workflow command %q", ErrUnsupportedMessage, cmd)
}
