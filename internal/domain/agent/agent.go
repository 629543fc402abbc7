// Package agent defines the values that flow through an agent's
// plan -> execute -> review pipeline.
package agent

import (
	"fmt"
	"strings"
	"time"
)

// DefaultApprovalThreshold is the minimum review score for approval.
const DefaultApprovalThreshold = 0.7

// CriticalTag marks an issue string as critical severity.
const CriticalTag = "[critical]"

// ExecutionPlan is the free-form plan produced by an orchestrator.
type ExecutionPlan map[string]any

// Approach returns the plan's analysis/approach descriptor, if any.
func (p ExecutionPlan) Approach() string {
	for _, key := range []string{"approach", "analysis_type", "analysis"} {
		if v, ok := p[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// EstimatedDuration returns the plan's duration estimate or def.
func (p ExecutionPlan) EstimatedDuration(def float64) float64 {
	switch v := p["estimated_duration"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Strings returns a []string view of a list-valued plan field.
func (p ExecutionPlan) Strings(key string) []string {
	return toStrings(p[key])
}

// ExecutionResult is the outcome of one execution attempt.
type ExecutionResult struct {
	Success  bool           `json:"success"`
	Result   map[string]any `json:"result"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"execution_time"`
	Metadata map[string]any `json:"metadata"`
}

// ReviewResult is a reviewer's verdict on an ExecutionResult.
type ReviewResult struct {
	Approved    bool           `json:"approved"`
	Score       float64        `json:"score"`
	Issues      []string       `json:"issues"`
	Suggestions []string       `json:"suggestions"`
	Strengths   []string       `json:"strengths"`
	Metadata    map[string]any `json:"metadata"`
}

// CriticalIssues returns the issues tagged critical.
func (r ReviewResult) CriticalIssues() []string {
	var out []string
	for _, issue := range r.Issues {
		if IsCritical(issue) {
			out = append(out, issue)
		}
	}
	return out
}

// Gate clamps the score to [0,1] and revokes approval when a critical issue
// is present or the score is below threshold.
func (r ReviewResult) Gate(threshold float64) ReviewResult {
	if r.Score < 0 {
		r.Score = 0
	}
	if r.Score > 1 {
		r.Score = 1
	}
	if r.Approved && (len(r.CriticalIssues()) > 0 || r.Score < threshold) {
		r.Approved = false
	}
	return r
}

// IsCritical reports whether an issue string carries the critical tag.
func IsCritical(issue string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(issue)), CriticalTag)
}

// TagCritical prefixes issue with the critical tag.
func TagCritical(issue string) string {
	if IsCritical(issue) {
		return issue
	}
	return CriticalTag + " " + issue
}

// Response is the externally visible outcome of processing a task.
type Response struct {
	Success       bool           `json:"success"`
	Result        map[string]any `json:"result"`
	Error         string         `json:"error,omitempty"`
	Feedback      []string       `json:"feedback"`
	Confidence    float64        `json:"confidence"`
	ExecutionTime time.Duration  `json:"execution_time"`
	Metadata      map[string]any `json:"metadata"`
	Suggestions   []string       `json:"suggestions"`
}

// Failed builds an unsuccessful response with zero confidence.
func Failed(err string, elapsed time.Duration, metadata map[string]any) Response {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Response{
		Success:       false,
		Result:        map[string]any{},
		Error:         err,
		Feedback:      []string{},
		Confidence:    0,
		ExecutionTime: elapsed,
		Metadata:      metadata,
		Suggestions:   []string{},
	}
}

// ImprovementContext accumulates reviewer feedback across attempts so the
// next orchestration pass can address it.
type ImprovementContext struct {
	AttemptNumber       int              `json:"attempt_number"`
	PreviousResults     []map[string]any `json:"previous_results"`
	ReviewerFeedback    []string         `json:"reviewer_feedback"`
	ReviewerSuggestions []string         `json:"reviewer_suggestions"`
	QualityScores       []float64        `json:"quality_scores"`
	ImprovementHistory  []string         `json:"improvement_history"`
}

// Record appends the outcome of a rejected attempt.
func (ic *ImprovementContext) Record(result ExecutionResult, review ReviewResult) {
	ic.AttemptNumber++
	ic.PreviousResults = append(ic.PreviousResults, result.Result)
	ic.ReviewerFeedback = append(ic.ReviewerFeedback, review.Issues...)
	ic.ReviewerSuggestions = append(ic.ReviewerSuggestions, review.Suggestions...)
	ic.QualityScores = append(ic.QualityScores, review.Score)
	ic.ImprovementHistory = append(ic.ImprovementHistory,
		summarizeAttempt(ic.AttemptNumber, review))
}

func summarizeAttempt(n int, review ReviewResult) string {
	return fmt.Sprintf("attempt %d: score %.2f, %d issues", n, review.Score, len(review.Issues))
}

// toStrings converts a decoded JSON list into strings, formatting
// non-string elements.
func toStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}
