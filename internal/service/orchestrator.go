package service

import (
	"context"
	"log/slog"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/agent"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
	"github.com/mhylle/multi-agent-coding-system/internal/port/llm"
)

// DefaultEstimatedDuration is used when a plan carries no estimate.
const DefaultEstimatedDuration = 300

// PlanValidation is the verdict of the plan validation pass.
type PlanValidation struct {
	Valid       bool     `json:"valid"`
	Confidence  float64  `json:"confidence"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

func defaultValidation() PlanValidation {
	return PlanValidation{Valid: true, Confidence: 0.5, Issues: []string{}, Suggestions: []string{}}
}

// Orchestration is the outcome of the orchestrate phase.
type Orchestration struct {
	Plan              agent.ExecutionPlan `json:"execution_plan"`
	EstimatedDuration float64             `json:"estimated_duration"`
	RequiredResources []string            `json:"required_resources"`
	SuccessCriteria   []string            `json:"success_criteria"`
	QualityGates      []string            `json:"quality_gates"`
	Validation        PlanValidation      `json:"validation"`
	Revised           bool                `json:"revised"`
	Fallback          bool                `json:"fallback"`
}

// Orchestrator builds, validates and, when needed, revises execution plans.
type Orchestrator struct {
	agentID    string
	strategy   Strategy
	llm        llm.Client
	prompts    *Prompts
	validation ModelParams
	revision   ModelParams
}

// NewOrchestrator creates an Orchestrator. client may be nil, in which case
// plans are accepted unvalidated.
func NewOrchestrator(agentID string, s Strategy, client llm.Client, prompts *Prompts, validation, revision ModelParams) *Orchestrator {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &Orchestrator{
		agentID:    agentID,
		strategy:   s,
		llm:        client,
		prompts:    prompts,
		validation: validation,
		revision:   revision,
	}
}

// Orchestrate produces an execution plan for t. It always returns a plan:
// when generation fails the strategy's static fallback plan is used.
func (o *Orchestrator) Orchestrate(ctx context.Context, t task.Task, taskCtx map[string]any) Orchestration {
	var out Orchestration

	var plan agent.ExecutionPlan
	var err error
	if o.strategy.Plan != nil {
		plan, err = o.strategy.Plan(ctx, t, taskCtx)
	}
	if err != nil || len(plan) == 0 {
		slog.Warn("plan generation failed, using fallback plan",
			"agent_id", o.agentID, "task_id", t.ID, "error", err)
		plan = o.strategy.fallbackPlan(t)
		out.Fallback = true
	}

	out.Validation = o.validate(ctx, t, plan)
	if !out.Validation.Valid {
		if revised, ok := o.revise(ctx, t, plan, out.Validation.Issues); ok {
			plan = revised
			out.Revised = true
		}
	}

	out.Plan = plan
	out.EstimatedDuration = plan.EstimatedDuration(DefaultEstimatedDuration)
	out.RequiredResources = plan.Strings("required_resources")
	out.SuccessCriteria = plan.Strings("success_criteria")
	out.QualityGates = plan.Strings("quality_gates")

	slog.Info("execution plan ready",
		"agent_id", o.agentID, "task_id", t.ID,
		"approach", plan.Approach(), "fallback", out.Fallback, "revised", out.Revised,
		"valid", out.Validation.Valid, "confidence", out.Validation.Confidence)
	return out
}

// validate asks the model whether plan covers the task. Any failure yields
// the neutral default verdict.
func (o *Orchestrator) validate(ctx context.Context, t task.Task, plan agent.ExecutionPlan) PlanValidation {
	if o.llm == nil {
		return defaultValidation()
	}
	parsed, _, err := generateStructured(ctx, o.llm, o.prompts, PhaseValidate, o.validation, promptData{Task: t, Plan: plan})
	if err != nil || itemsOnly(parsed) {
		slog.Warn("plan validation unavailable, assuming valid",
			"agent_id", o.agentID, "task_id", t.ID, "error", err)
		return defaultValidation()
	}
	return PlanValidation{
		Valid:       boolOf(parsed["valid"], true),
		Confidence:  clamp01(floatOf(parsed["confidence"], 0.5)),
		Issues:      stringsOf(parsed["issues"]),
		Suggestions: stringsOf(parsed["suggestions"]),
	}
}

// revise runs one revision pass. ok is false when the reply was unusable.
func (o *Orchestrator) revise(ctx context.Context, t task.Task, plan agent.ExecutionPlan, issues []string) (agent.ExecutionPlan, bool) {
	if o.llm == nil {
		return nil, false
	}
	parsed, _, err := generateStructured(ctx, o.llm, o.prompts, PhaseRevise, o.revision, promptData{Task: t, Plan: plan, Issues: issues})
	if err != nil || len(parsed) == 0 || itemsOnly(parsed) {
		slog.Warn("plan revision failed, keeping original plan",
			"agent_id", o.agentID, "task_id", t.ID, "error", err)
		return nil, false
	}
	if p, ok := parsed["execution_plan"].(map[string]any); ok && len(p) > 0 {
		return agent.ExecutionPlan(p), true
	}
	return agent.ExecutionPlan(parsed), true
}
