package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/agent"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
)

const (
	validPlan       = `{"approach": "layered", "steps": [{"step": "design"}], "success_criteria": ["compiles"], "quality_gates": ["review"], "required_resources": ["repo"], "estimated_duration": 120}`
	validPlanCheck  = `{"valid": true, "confidence": 0.9, "issues": [], "suggestions": []}`
	approvingReview = `{"approved": true, "score": 0.92, "issues": [], "suggestions": [], "strengths": ["complete"]}`
)

func newTestTask() task.Task {
	return task.New("Build login", "Add a login endpoint",
		"accept email and password", "return a session token", "rate limit failures")
}

func llmCoordinator(client *stubLLM, maxAttempts int) *Coordinator {
	prompts := DefaultPrompts()
	s := NewLLMStrategy(client, prompts, LLMStrategyConfig{})
	return NewCoordinator(CoordinatorConfig{AgentID: "backend-1", Role: task.RoleBackendCoder, MaxAttempts: maxAttempts}, s, client, prompts)
}

func TestProcessTaskEndToEnd(t *testing.T) {
	client := fixedReplies(map[string]string{
		PhasePlan:     "Sure, here is the plan:\n" + validPlan + "\nLet me know.",
		PhaseValidate: validPlanCheck,
		PhaseExecute:  "<think>draft first</think>\n```json\n{\"design\": \"handler + store\", \"tests\": [\"login_ok\"], \"notes\": \"done\"}\n```",
		PhaseReview:   approvingReview,
	})
	c := llmCoordinator(client, 3)

	resp := c.ProcessTask(context.Background(), newTestTask(), nil)

	if !resp.Success {
		t.Fatalf("expected success, got error %q feedback %v", resp.Error, resp.Feedback)
	}
	if resp.Confidence < 0.7 {
		t.Errorf("confidence = %v, want >= 0.7", resp.Confidence)
	}
	var keys []string
	for k := range resp.Result {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if !slices.Equal(keys, []string{"design", "notes", "tests"}) {
		t.Errorf("result keys = %v", keys)
	}
	if resp.Metadata["total_attempts"] != 1 {
		t.Errorf("total_attempts = %v", resp.Metadata["total_attempts"])
	}
	if _, ok := resp.Metadata["improvement_context"]; ok {
		t.Error("improvement_context present on first-attempt success")
	}
	for _, key := range []string{"agent_id", "agent_role", "task_id", "orchestration", "execution", "review", "workflow_times"} {
		if _, ok := resp.Metadata[key]; !ok {
			t.Errorf("metadata missing %q", key)
		}
	}
	if n := client.count(PhaseRevise); n != 0 {
		t.Errorf("revise called %d times for a valid plan", n)
	}
	orch := resp.Metadata["orchestration"].(Orchestration)
	if orch.Fallback || orch.EstimatedDuration != 120 || orch.Plan.Approach() != "layered" {
		t.Errorf("orchestration = %+v", orch)
	}
}

func TestProcessTaskFallbackPlan(t *testing.T) {
	client := fixedReplies(map[string]string{
		PhasePlan:     "I could not think of a plan.",
		PhaseValidate: `{"valid": false, "confidence": 0.2, "issues": ["no steps"], "suggestions": []}`,
		PhaseRevise:   "Still nothing useful here.",
		PhaseExecute:  `{"summary": "did the general analysis"}`,
		PhaseReview:   approvingReview,
	})
	c := llmCoordinator(client, 1)

	resp := c.ProcessTask(context.Background(), newTestTask(), nil)

	if resp.Metadata == nil || resp.Result == nil || resp.Feedback == nil {
		t.Fatalf("malformed response: %+v", resp)
	}
	orch, ok := resp.Metadata["orchestration"].(Orchestration)
	if !ok {
		t.Fatalf("orchestration metadata = %T", resp.Metadata["orchestration"])
	}
	if !orch.Fallback || orch.Revised {
		t.Errorf("fallback = %v revised = %v", orch.Fallback, orch.Revised)
	}
	if orch.Plan["fallback"] != true || orch.Plan.Approach() != "general_analysis" {
		t.Errorf("plan = %v", orch.Plan)
	}
	if orch.Validation.Valid {
		t.Error("validation verdict lost")
	}
	if client.count(PhaseRevise) != 1 {
		t.Errorf("revise calls = %d, want 1", client.count(PhaseRevise))
	}
	if !resp.Success {
		t.Errorf("fallback plan run should still succeed, got %q", resp.Error)
	}
}

func TestProcessTaskModelUnavailable(t *testing.T) {
	client := newStubLLM(func(string, int) (string, error) { return "", errors.New("connection refused") })
	c := llmCoordinator(client, 2)

	resp := c.ProcessTask(context.Background(), newTestTask(), nil)

	if resp.Success {
		t.Fatal("success without a model")
	}
	if resp.Error != errReviewRejected {
		t.Errorf("error = %q", resp.Error)
	}
	if resp.Metadata["total_attempts"] != 2 {
		t.Errorf("total_attempts = %v", resp.Metadata["total_attempts"])
	}
	orch := resp.Metadata["orchestration"].(Orchestration)
	if !orch.Fallback || !orch.Validation.Valid || orch.Validation.Confidence != 0.5 {
		t.Errorf("orchestration = %+v", orch)
	}
}

func TestProcessTaskCriticalIssueBlocksApproval(t *testing.T) {
	client := fixedReplies(map[string]string{
		PhasePlan:     validPlan,
		PhaseValidate: validPlanCheck,
		PhaseExecute:  `{"code": "..."}`,
		PhaseReview:   `{"approved": true, "score": 1.0, "issues": [{"issue": "stores plaintext passwords", "severity": "critical"}]}`,
	})
	c := llmCoordinator(client, 1)

	resp := c.ProcessTask(context.Background(), newTestTask(), nil)

	if resp.Success {
		t.Fatal("critical issue approved")
	}
	review := resp.Metadata["review"].(agent.ReviewResult)
	if review.Approved {
		t.Error("review approved")
	}
	if len(review.CriticalIssues()) != 1 || !strings.Contains(review.CriticalIssues()[0], "plaintext") {
		t.Errorf("critical issues = %v", review.CriticalIssues())
	}
	if !slices.Contains(resp.Feedback, review.Issues[0]) {
		t.Errorf("feedback %v lacks issue", resp.Feedback)
	}
}

func TestProcessTaskRetriesWithImprovementContext(t *testing.T) {
	var seen atomic.Pointer[agent.ImprovementContext]
	var reviews atomic.Int32

	s := Strategy{
		Plan: func(_ context.Context, _ task.Task, taskCtx map[string]any) (agent.ExecutionPlan, error) {
			if ic := improvementFrom(taskCtx); ic != nil {
				seen.Store(ic)
			}
			return agent.ExecutionPlan{"approach": "tdd", "estimated_duration": float64(10)}, nil
		},
		Execute: func(_ context.Context, _ task.Task, _ agent.ExecutionPlan, taskCtx map[string]any) (map[string]any, error) {
			return map[string]any{"attempt": taskCtx[ContextAttempt]}, nil
		},
		Review: func(context.Context, task.Task, agent.ExecutionResult, map[string]any) (agent.ReviewResult, error) {
			if reviews.Add(1) == 1 {
				return agent.ReviewResult{Score: 0.4, Issues: []string{"missing tests"}, Suggestions: []string{"add tests"}}, nil
			}
			return agent.ReviewResult{Approved: true, Score: 0.9}, nil
		},
	}
	c := NewCoordinator(CoordinatorConfig{AgentID: "coder", MaxAttempts: 3}, s, nil, nil)

	resp := c.ProcessTask(context.Background(), newTestTask(), map[string]any{"repo": "x"})

	if !resp.Success {
		t.Fatalf("second attempt should pass: %q %v", resp.Error, resp.Feedback)
	}
	if resp.Metadata["total_attempts"] != 2 {
		t.Errorf("total_attempts = %v", resp.Metadata["total_attempts"])
	}
	if resp.Result["attempt"] != 2 {
		t.Errorf("result from attempt %v", resp.Result["attempt"])
	}
	ic := seen.Load()
	if ic == nil {
		t.Fatal("second plan call saw no improvement context")
	}
	if ic.AttemptNumber != 1 || !slices.Contains(ic.ReviewerFeedback, "missing tests") || !slices.Contains(ic.ReviewerSuggestions, "add tests") {
		t.Errorf("improvement context = %+v", ic)
	}
	recorded, ok := resp.Metadata["improvement_context"].(*agent.ImprovementContext)
	if !ok || recorded.QualityScores[0] != 0.4 {
		t.Errorf("improvement_context metadata = %v", resp.Metadata["improvement_context"])
	}
}

func TestProcessTaskExecutionFailureSkipsReview(t *testing.T) {
	var reviewed atomic.Bool
	s := Strategy{
		Plan: func(context.Context, task.Task, map[string]any) (agent.ExecutionPlan, error) {
			return agent.ExecutionPlan{"approach": "direct"}, nil
		},
		Execute: func(context.Context, task.Task, agent.ExecutionPlan, map[string]any) (map[string]any, error) {
			return nil, errors.New("compiler crashed")
		},
		Review: func(context.Context, task.Task, agent.ExecutionResult, map[string]any) (agent.ReviewResult, error) {
			reviewed.Store(true)
			return agent.ReviewResult{Approved: true, Score: 1}, nil
		},
	}
	c := NewCoordinator(CoordinatorConfig{AgentID: "coder"}, s, nil, nil)

	resp := c.ProcessTask(context.Background(), newTestTask(), nil)

	if resp.Success || resp.Confidence != 0 {
		t.Errorf("response = %+v", resp)
	}
	if resp.Error != "compiler crashed" {
		t.Errorf("error = %q", resp.Error)
	}
	if reviewed.Load() {
		t.Error("review ran after failed execution")
	}
	if resp.Metadata["total_attempts"] != 1 {
		t.Errorf("total_attempts = %v", resp.Metadata["total_attempts"])
	}
}

func TestProcessTaskPanicBecomesFailedResponse(t *testing.T) {
	s := Strategy{
		Plan: func(context.Context, task.Task, map[string]any) (agent.ExecutionPlan, error) {
			panic("planner bug")
		},
	}
	c := NewCoordinator(CoordinatorConfig{AgentID: "coder"}, s, nil, nil)

	resp := c.ProcessTask(context.Background(), newTestTask(), nil)

	if resp.Success || resp.Confidence != 0 {
		t.Errorf("response = %+v", resp)
	}
	if !strings.HasPrefix(resp.Error, "Agent processing failed: planner bug") {
		t.Errorf("error = %q", resp.Error)
	}
	st := c.Status()
	if st.ActiveTasks != 0 || st.Processed != 1 || st.Status != task.StatusFailed {
		t.Errorf("status = %+v", st)
	}
}

func TestProcessTaskRejectsUntitledTask(t *testing.T) {
	c := NewCoordinator(CoordinatorConfig{AgentID: "coder"}, Strategy{}, nil, nil)
	resp := c.ProcessTask(context.Background(), task.Task{Description: "no title"}, nil)
	if resp.Success || !strings.Contains(resp.Error, task.ErrTitleRequired.Error()) {
		t.Errorf("response = %+v", resp)
	}
}
