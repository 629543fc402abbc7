package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/agent"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
)

// Names of the automated checks run on every execution result.
const (
	CheckHasResult      = "has_result"
	CheckHasSuccessFlag = "has_success_flag"
	CheckNoErrors       = "no_errors"
)

var errNoReview = errors.New("agent has no review capability")

// AutomatedChecks runs the fixed sanity checks on res.
func AutomatedChecks(res agent.ExecutionResult) map[string]bool {
	return map[string]bool{
		CheckHasResult:      len(res.Result) > 0,
		CheckHasSuccessFlag: res.Success,
		CheckNoErrors:       res.Error == "",
	}
}

// automatedReview scores the automated checks: the score is the fraction
// passed and every failed check becomes an issue.
func automatedReview(res agent.ExecutionResult) agent.ReviewResult {
	checks := AutomatedChecks(res)
	passed := 0
	var issues []string
	for _, name := range []string{CheckHasResult, CheckHasSuccessFlag, CheckNoErrors} {
		if checks[name] {
			passed++
			continue
		}
		issues = append(issues, "Failed check: "+name)
	}
	r := agent.ReviewResult{
		Approved: len(issues) == 0,
		Score:    float64(passed) / float64(len(checks)),
		Issues:   issues,
		Metadata: map[string]any{"checks": checks},
	}
	if len(issues) > 0 {
		r.Suggestions = []string{"Address failed automated checks"}
	}
	return r
}

// Reviewer combines the strategy's domain review with the automated checks.
type Reviewer struct {
	agentID   string
	strategy  Strategy
	threshold float64
}

// NewReviewer creates a Reviewer. A non-positive threshold selects
// agent.DefaultApprovalThreshold.
func NewReviewer(agentID string, s Strategy, threshold float64) *Reviewer {
	if threshold <= 0 {
		threshold = agent.DefaultApprovalThreshold
	}
	return &Reviewer{agentID: agentID, strategy: s, threshold: threshold}
}

// Review scores res. The final score is the average of the domain and
// automated scores; approval requires domain approval and no remaining
// issue after merging both lists, and passes the approval gate.
func (r *Reviewer) Review(ctx context.Context, t task.Task, res agent.ExecutionResult, taskCtx map[string]any) (out agent.ReviewResult) {
	defer func() {
		if rec := recover(); rec != nil {
			out = reviewFailed(fmt.Errorf("review panicked: %v", rec))
			slog.Error("review failed", "agent_id", r.agentID, "task_id", t.ID, "panic", rec)
		}
	}()

	domain := r.domainReview(ctx, t, res, taskCtx)
	auto := automatedReview(res)

	issues := append(append([]string{}, domain.Issues...), auto.Issues...)
	suggestions := append(append([]string{}, domain.Suggestions...), auto.Suggestions...)
	metadata := map[string]any{
		"agent_id":         r.agentID,
		"domain_score":     domain.Score,
		"automated_score":  auto.Score,
		"automated_checks": auto.Metadata["checks"],
	}
	for k, v := range domain.Metadata {
		if _, taken := metadata[k]; !taken {
			metadata[k] = v
		}
	}

	out = agent.ReviewResult{
		Approved:    domain.Approved && len(issues) == 0,
		Score:       (domain.Score + auto.Score) / 2,
		Issues:      issues,
		Suggestions: suggestions,
		Strengths:   nonNil(domain.Strengths),
		Metadata:    metadata,
	}.Gate(r.threshold)

	slog.Info("review completed",
		"agent_id", r.agentID, "task_id", t.ID,
		"approved", out.Approved, "score", out.Score, "issues", len(out.Issues))
	return out
}

func (r *Reviewer) domainReview(ctx context.Context, t task.Task, res agent.ExecutionResult, taskCtx map[string]any) agent.ReviewResult {
	if r.strategy.Review == nil {
		return reviewFailed(errNoReview)
	}
	domain, err := r.strategy.Review(ctx, t, res, taskCtx)
	if err != nil {
		slog.Error("domain review failed", "agent_id", r.agentID, "task_id", t.ID, "error", err)
		return reviewFailed(err)
	}
	return domain.Gate(r.threshold)
}

// reviewFailed is the verdict used when the review itself could not run.
func reviewFailed(err error) agent.ReviewResult {
	return agent.ReviewResult{
		Approved:    false,
		Score:       0,
		Issues:      []string{"Review process failed: " + err.Error()},
		Suggestions: []string{"Retry the review process"},
		Strengths:   []string{},
		Metadata:    map[string]any{"review_error": err.Error()},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
