package service

import (
	"context"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/agent"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
)

// Context keys the pipeline adds to the per-task context map.
const (
	ContextImprovement = "improvement_context"
	ContextAttempt     = "attempt"
)

// PlanFunc produces an execution plan for a task.
type PlanFunc func(ctx context.Context, t task.Task, taskCtx map[string]any) (agent.ExecutionPlan, error)

// ExecuteFunc carries out a plan and returns the result payload.
type ExecuteFunc func(ctx context.Context, t task.Task, plan agent.ExecutionPlan, taskCtx map[string]any) (map[string]any, error)

// ReviewFunc performs the domain-specific quality check of a result.
type ReviewFunc func(ctx context.Context, t task.Task, result agent.ExecutionResult, taskCtx map[string]any) (agent.ReviewResult, error)

// Strategy bundles the three capabilities an agent supplies to the pipeline.
// FallbackPlan is used whenever planning fails; nil selects DefaultFallbackPlan.
type Strategy struct {
	Plan         PlanFunc
	Execute      ExecuteFunc
	Review       ReviewFunc
	FallbackPlan func(t task.Task) agent.ExecutionPlan
}

func (s Strategy) fallbackPlan(t task.Task) agent.ExecutionPlan {
	if s.FallbackPlan != nil {
		if p := s.FallbackPlan(t); len(p) > 0 {
			return p
		}
	}
	return DefaultFallbackPlan(t)
}

// DefaultFallbackPlan is the static minimal plan used when plan generation
// yields nothing usable.
func DefaultFallbackPlan(t task.Task) agent.ExecutionPlan {
	return agent.ExecutionPlan{
		"analysis_type": "general_analysis",
		"task_id":       t.ID,
		"focus_areas":   []any{"domain_modeling", "requirements_analysis", "technical_specs"},
		"extraction_steps": []any{
			map[string]any{
				"step":        "domain_analysis",
				"description": "Extract entities, relationships, and business rules",
				"outputs":     []any{"domain_model"},
			},
			map[string]any{
				"step":        "requirements_analysis",
				"description": "Categorize and analyze requirements",
				"outputs":     []any{"functional_requirements", "non_functional_requirements"},
			},
			map[string]any{
				"step":        "technical_specification",
				"description": "Create technical specifications",
				"outputs":     []any{"technical_specifications"},
			},
		},
		"quality_gates":      []any{"completeness_check", "consistency_validation"},
		"estimated_duration": float64(15),
		"required_resources": []any{"business_requirements", "domain_context"},
		"fallback":           true,
	}
}

// cloneContext returns a shallow copy of a task context map.
func cloneContext(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}
