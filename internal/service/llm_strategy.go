package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/agent"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
	"github.com/mhylle/multi-agent-coding-system/internal/port/llm"
)

// LLMStrategyConfig selects the model parameters per phase.
type LLMStrategyConfig struct {
	Plan    ModelParams
	Execute ModelParams
	Review  ModelParams
}

// NewLLMStrategy returns a prompt-driven Strategy. Every phase asks the
// model for a JSON object and degrades to a static value when the call
// fails or the reply cannot be recovered.
func NewLLMStrategy(client llm.Client, prompts *Prompts, cfg LLMStrategyConfig) Strategy {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	s := &llmStrategy{client: client, prompts: prompts, cfg: cfg}
	return Strategy{Plan: s.plan, Execute: s.execute, Review: s.review}
}

type llmStrategy struct {
	client  llm.Client
	prompts *Prompts
	cfg     LLMStrategyConfig
}

// plan returns an error on failure so the orchestrator applies the
// fallback plan.
func (s *llmStrategy) plan(ctx context.Context, t task.Task, taskCtx map[string]any) (agent.ExecutionPlan, error) {
	parsed, _, err := generateStructured(ctx, s.client, s.prompts, PhasePlan, s.cfg.Plan, promptData{
		Task:        t,
		Improvement: improvementFrom(taskCtx),
	})
	if err != nil {
		return nil, err
	}
	if itemsOnly(parsed) {
		return nil, ErrUnparseable
	}
	if p, ok := parsed["execution_plan"].(map[string]any); ok && len(p) > 0 {
		parsed = p
	}
	if _, ok := parsed["estimated_duration"]; !ok {
		parsed["estimated_duration"] = float64(DefaultEstimatedDuration)
	}
	return agent.ExecutionPlan(parsed), nil
}

func (s *llmStrategy) execute(ctx context.Context, t task.Task, plan agent.ExecutionPlan, taskCtx map[string]any) (map[string]any, error) {
	parsed, raw, err := generateStructured(ctx, s.client, s.prompts, PhaseExecute, s.cfg.Execute, promptData{
		Task:        t,
		Plan:        plan,
		Improvement: improvementFrom(taskCtx),
	})
	switch {
	case err == nil:
		return parsed, nil
	case errors.Is(err, ErrUnparseable):
		return map[string]any{"content": raw, "parsed": false}, nil
	default:
		slog.Warn("execution call failed, returning plan outline",
			"task_id", t.ID, "error", err)
		return map[string]any{
			"status":   "not_executed",
			"approach": plan.Approach(),
			"reason":   err.Error(),
		}, nil
	}
}

func (s *llmStrategy) review(ctx context.Context, t task.Task, res agent.ExecutionResult, taskCtx map[string]any) (agent.ReviewResult, error) {
	parsed, _, err := generateStructured(ctx, s.client, s.prompts, PhaseReview, s.cfg.Review, promptData{
		Task:   t,
		Result: res.Result,
	})
	if err != nil || itemsOnly(parsed) {
		slog.Warn("review call failed, using fallback review", "task_id", t.ID, "error", err)
		return fallbackReview(), nil
	}

	score, ok := parsed["score"]
	if !ok {
		score = parsed["confidence_score"]
	}
	return agent.ReviewResult{
		Approved:    boolOf(parsed["approved"], false),
		Score:       clamp01(floatOf(score, 0)),
		Issues:      stringsOf(parsed["issues"]),
		Suggestions: stringsOf(parsed["suggestions"]),
		Strengths:   stringsOf(parsed["strengths"]),
		Metadata:    map[string]any{},
	}, nil
}

// fallbackReview is the neutral verdict used when the model could not
// review. Its score sits below the approval threshold.
func fallbackReview() agent.ReviewResult {
	return agent.ReviewResult{
		Approved:    false,
		Score:       0.5,
		Issues:      []string{},
		Suggestions: []string{"Review manually, automated review was unavailable"},
		Strengths:   []string{},
		Metadata:    map[string]any{"fallback": true},
	}
}

func improvementFrom(taskCtx map[string]any) *agent.ImprovementContext {
	switch ic := taskCtx[ContextImprovement].(type) {
	case *agent.ImprovementContext:
		return ic
	case agent.ImprovementContext:
		return &ic
	}
	return nil
}
