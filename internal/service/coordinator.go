package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cfotel "github.com/mhylle/multi-agent-coding-system/internal/adapter/otel"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/agent"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
	"github.com/mhylle/multi-agent-coding-system/internal/port/llm"
)

// Errors reported in failed responses.
const (
	errNoPlan         = "Orchestration failed to create execution plan"
	errExecution      = "Execution failed"
	errReviewRejected = "Quality review failed"
	errProcessing     = "Agent processing failed"
)

// DefaultMaxAttempts bounds how often a rejected task is retried.
const DefaultMaxAttempts = 3

// CoordinatorConfig identifies an agent and tunes its pipeline.
type CoordinatorConfig struct {
	AgentID           string
	Role              task.Role
	MaxAttempts       int
	ApprovalThreshold float64
	Validation        ModelParams
	Revision          ModelParams
}

// AgentStatus is a snapshot of a coordinator's activity.
type AgentStatus struct {
	AgentID     string      `json:"agent_id"`
	Role        task.Role   `json:"agent_role"`
	Status      task.Status `json:"status"`
	ActiveTasks int64       `json:"active_tasks"`
	Processed   int64       `json:"processed"`
	Succeeded   int64       `json:"succeeded"`
	Uptime      string      `json:"uptime"`
}

// Coordinator runs tasks through orchestrate, execute and review, retrying
// rejected attempts with accumulated reviewer feedback.
type Coordinator struct {
	cfg          CoordinatorConfig
	orchestrator *Orchestrator
	executor     *Executor
	reviewer     *Reviewer
	metrics      *cfotel.Metrics
	started      time.Time

	active    atomic.Int64
	processed atomic.Int64
	succeeded atomic.Int64

	mu   sync.Mutex
	last task.Status
}

// NewCoordinator assembles the pipeline for one agent. client is used for
// plan validation and revision and may be nil.
func NewCoordinator(cfg CoordinatorConfig, s Strategy, client llm.Client, prompts *Prompts) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.ApprovalThreshold <= 0 {
		cfg.ApprovalThreshold = agent.DefaultApprovalThreshold
	}
	if cfg.Role == "" {
		cfg.Role = task.RoleMasterOrchestrator
	}
	return &Coordinator{
		cfg:          cfg,
		orchestrator: NewOrchestrator(cfg.AgentID, s, client, prompts, cfg.Validation, cfg.Revision),
		executor:     NewExecutor(cfg.AgentID, s),
		reviewer:     NewReviewer(cfg.AgentID, s, cfg.ApprovalThreshold),
		started:      time.Now(),
		last:         task.StatusPending,
	}
}

// SetMetrics attaches otel instruments.
func (c *Coordinator) SetMetrics(m *cfotel.Metrics) { c.metrics = m }

// AgentID returns the agent's identifier.
func (c *Coordinator) AgentID() string { return c.cfg.AgentID }

// Status reports the coordinator's current activity.
func (c *Coordinator) Status() AgentStatus {
	status := task.StatusInProgress
	if c.active.Load() == 0 {
		c.mu.Lock()
		status = c.last
		c.mu.Unlock()
	}
	return AgentStatus{
		AgentID:     c.cfg.AgentID,
		Role:        c.cfg.Role,
		Status:      status,
		ActiveTasks: c.active.Load(),
		Processed:   c.processed.Load(),
		Succeeded:   c.succeeded.Load(),
		Uptime:      time.Since(c.started).Round(time.Second).String(),
	}
}

// attempt holds the outcome of one pass through the pipeline.
type attempt struct {
	orchestration Orchestration
	execution     agent.ExecutionResult
	review        agent.ReviewResult
	executionTime time.Duration
	aborted       *agent.Response
}

// ProcessTask runs t through the pipeline. It always returns a well-formed
// response: failures and panics become an unsuccessful response with zero
// confidence.
func (c *Coordinator) ProcessTask(ctx context.Context, t task.Task, taskCtx map[string]any) (resp agent.Response) {
	start := time.Now()
	attempts := 0

	c.active.Add(1)
	if c.metrics != nil {
		c.metrics.TaskStarted(ctx, c.cfg.AgentID)
	}
	ctx, span := cfotel.StartTaskSpan(ctx, c.cfg.AgentID, t.ID)

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("agent processing panicked", "agent_id", c.cfg.AgentID, "task_id", t.ID, "panic", rec)
			resp = agent.Failed(fmt.Sprintf("%s: %v", errProcessing, rec), time.Since(start), c.baseMetadata(t))
		}
		c.finish(ctx, resp, attempts, time.Since(start))
		var spanErr error
		if !resp.Success {
			spanErr = errors.New(resp.Error)
		}
		cfotel.EndSpan(span, spanErr)
	}()

	if err := t.Validate(); err != nil {
		return agent.Failed(fmt.Sprintf("%s: %v", errProcessing, err), time.Since(start), c.baseMetadata(t))
	}
	if taskCtx == nil {
		taskCtx = t.Context
	}

	slog.Info("processing task", "agent_id", c.cfg.AgentID, "task_id", t.ID, "title", t.Title)

	var ic agent.ImprovementContext
	var last attempt
	for n := 1; n <= c.cfg.MaxAttempts; n++ {
		attempts = n
		attemptCtx := cloneContext(taskCtx)
		attemptCtx[ContextAttempt] = n
		if n > 1 {
			snapshot := ic
			attemptCtx[ContextImprovement] = &snapshot
		}

		last = c.runAttempt(ctx, t, attemptCtx, n, start)
		if last.aborted != nil {
			last.aborted.Metadata["total_attempts"] = n
			return *last.aborted
		}
		if last.review.Approved {
			break
		}
		ic.Record(last.execution, last.review)
		if ctx.Err() != nil {
			break
		}
		if n < c.cfg.MaxAttempts {
			slog.Info("review rejected attempt, retrying",
				"agent_id", c.cfg.AgentID, "task_id", t.ID, "attempt", n, "score", last.review.Score)
		}
	}

	return c.respond(t, last, attempts, &ic, start)
}

// runAttempt performs one orchestrate, execute, review pass.
func (c *Coordinator) runAttempt(ctx context.Context, t task.Task, attemptCtx map[string]any, n int, start time.Time) attempt {
	var a attempt

	phaseCtx, span := cfotel.StartPhaseSpan(ctx, "orchestrate", n)
	a.orchestration = c.orchestrator.Orchestrate(phaseCtx, t, attemptCtx)
	cfotel.EndSpan(span, nil)
	if len(a.orchestration.Plan) == 0 {
		resp := agent.Failed(errNoPlan, time.Since(start), c.baseMetadata(t))
		a.aborted = &resp
		return a
	}

	phaseCtx, span = cfotel.StartPhaseSpan(ctx, "execute", n)
	execStart := time.Now()
	a.execution = c.executor.Execute(phaseCtx, t, a.orchestration.Plan, attemptCtx)
	a.executionTime = time.Since(execStart)
	if !a.execution.Success {
		cfotel.EndSpan(span, errors.New(a.execution.Error))
		msg := a.execution.Error
		if msg == "" {
			msg = errExecution
		}
		md := c.baseMetadata(t)
		md["orchestration"] = a.orchestration
		md["execution"] = a.execution
		resp := agent.Failed(msg, time.Since(start), md)
		a.aborted = &resp
		return a
	}
	cfotel.EndSpan(span, nil)

	phaseCtx, span = cfotel.StartPhaseSpan(ctx, "review", n)
	a.review = c.reviewer.Review(phaseCtx, t, a.execution, attemptCtx)
	cfotel.EndSpan(span, nil)
	return a
}

// respond builds the response from the final attempt's review.
func (c *Coordinator) respond(t task.Task, a attempt, attempts int, ic *agent.ImprovementContext, start time.Time) agent.Response {
	elapsed := time.Since(start)
	md := c.baseMetadata(t)
	md["orchestration"] = a.orchestration
	md["execution"] = a.execution
	md["review"] = a.review
	md["workflow_times"] = map[string]any{
		"total_time":     elapsed.Seconds(),
		"execution_time": a.executionTime.Seconds(),
	}
	md["total_attempts"] = attempts
	if ic.AttemptNumber > 0 {
		md["improvement_context"] = ic
	}

	feedback := append(append([]string{}, a.review.Issues...), a.review.Suggestions...)
	resp := agent.Response{
		Success:       a.review.Approved,
		Result:        a.execution.Result,
		Feedback:      feedback,
		Confidence:    a.review.Score,
		ExecutionTime: elapsed,
		Metadata:      md,
		Suggestions:   nonNil(a.review.Suggestions),
	}
	if !resp.Success {
		resp.Error = errReviewRejected
	}

	slog.Info("task processed",
		"agent_id", c.cfg.AgentID, "task_id", t.ID,
		"success", resp.Success, "confidence", resp.Confidence,
		"attempts", attempts, "duration", elapsed)
	return resp
}

func (c *Coordinator) baseMetadata(t task.Task) map[string]any {
	return map[string]any{
		"agent_id":   c.cfg.AgentID,
		"agent_role": c.cfg.Role,
		"task_id":    t.ID,
	}
}

func (c *Coordinator) finish(ctx context.Context, resp agent.Response, attempts int, elapsed time.Duration) {
	c.active.Add(-1)
	c.processed.Add(1)
	status := task.StatusFailed
	if resp.Success {
		c.succeeded.Add(1)
		status = task.StatusCompleted
	}
	c.mu.Lock()
	c.last = status
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.TaskFinished(ctx, c.cfg.AgentID, resp, attempts, elapsed)
	}
}
