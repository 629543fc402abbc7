package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/agent"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
)

var errNoExecute = errors.New("agent has no execute capability")

// Executor runs a plan through the strategy's execute capability.
type Executor struct {
	agentID  string
	strategy Strategy
}

// NewExecutor creates an Executor.
func NewExecutor(agentID string, s Strategy) *Executor {
	return &Executor{agentID: agentID, strategy: s}
}

// Execute runs the plan and times it. Errors and panics become a
// non-success result carrying the error.
func (e *Executor) Execute(ctx context.Context, t task.Task, plan agent.ExecutionPlan, taskCtx map[string]any) (res agent.ExecutionResult) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			res = e.failed(t, fmt.Errorf("execution panicked: %v", rec), time.Since(start))
		}
	}()

	if e.strategy.Execute == nil {
		return e.failed(t, errNoExecute, 0)
	}
	result, err := e.strategy.Execute(ctx, t, plan, taskCtx)
	elapsed := time.Since(start)
	if err != nil {
		return e.failed(t, err, elapsed)
	}
	if result == nil {
		result = map[string]any{}
	}

	slog.Info("execution completed", "agent_id", e.agentID, "task_id", t.ID, "duration", elapsed)
	return agent.ExecutionResult{
		Success:  true,
		Result:   result,
		Duration: elapsed,
		Metadata: map[string]any{
			"agent_id":            e.agentID,
			"task_id":             t.ID,
			"execution_plan_used": plan,
		},
	}
}

func (e *Executor) failed(t task.Task, err error, elapsed time.Duration) agent.ExecutionResult {
	slog.Error("execution failed", "agent_id", e.agentID, "task_id", t.ID, "error", err)
	return agent.ExecutionResult{
		Success:  false,
		Result:   map[string]any{},
		Error:    err.Error(),
		Duration: elapsed,
		Metadata: map[string]any{"agent_id": e.agentID, "task_id": t.ID},
	}
}
