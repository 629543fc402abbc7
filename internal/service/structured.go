package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/agent"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
	"github.com/mhylle/multi-agent-coding-system/internal/logger"
	"github.com/mhylle/multi-agent-coding-system/internal/port/llm"
	"github.com/mhylle/multi-agent-coding-system/internal/recovery"
)

// ErrUnparseable is returned when generated text held no usable object.
var ErrUnparseable = errors.New("generated text held no structured object")

// ModelParams selects the model and sampling settings for one kind of call.
type ModelParams struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// promptData is the data passed to every prompt template.
type promptData struct {
	Task        task.Task
	Plan        agent.ExecutionPlan
	Issues      []string
	Result      map[string]any
	Improvement *agent.ImprovementContext
}

// generateStructured renders the prompt for phase, calls the model and
// recovers an object from the reply. The raw reply is returned alongside
// ErrUnparseable so callers can keep it.
func generateStructured(ctx context.Context, client llm.Client, prompts *Prompts, phase string, params ModelParams, data promptData) (map[string]any, string, error) {
	if client == nil {
		return nil, "", llm.ErrUnavailable
	}
	prompt, err := prompts.Render(phase, data)
	if err != nil {
		return nil, "", err
	}

	resp, err := client.Generate(ctx, llm.Request{
		Prompt:       prompt,
		SystemPrompt: prompts.System(phase),
		Model:        params.Model,
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
		RequestID:    logger.RequestID(ctx),
	})
	if err != nil {
		return nil, "", fmt.Errorf("%s call: %w", phase, err)
	}
	if resp == nil || !resp.Success {
		reason := "no response"
		if resp != nil {
			reason = resp.Error
		}
		return nil, "", fmt.Errorf("%s call: %w: %s", phase, ErrInvocationFailed, reason)
	}

	text := recovery.StripReasoning(resp.Content)
	parsed := recovery.Recover(text)
	if recovery.IsFallback(parsed) {
		slog.Warn("model reply held no structured object",
			"phase", phase, "task_id", data.Task.ID, "content", truncate(text, 200))
		return nil, text, ErrUnparseable
	}
	return parsed, text, nil
}

// itemsOnly reports whether m is a recovered bare array.
func itemsOnly(m map[string]any) bool {
	_, ok := m[recovery.KeyItems]
	return ok && len(m) == 1
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func boolOf(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

func floatOf(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}

func clamp01(f float64) float64 {
	return min(max(f, 0), 1)
}

// stringsOf converts a decoded JSON list into strings. Objects carrying an
// "issue" or "description" field contribute that text; a "severity" of
// critical tags it.
func stringsOf(v any) []string {
	list, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return []string{}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		switch it := item.(type) {
		case string:
			out = append(out, it)
		case map[string]any:
			text, _ := it["issue"].(string)
			if text == "" {
				text, _ = it["description"].(string)
			}
			if text == "" {
				text = fmt.Sprint(it)
			}
			if sev, _ := it["severity"].(string); sev == "critical" {
				text = agent.TagCritical(text)
			}
			out = append(out, text)
		default:
			out = append(out, fmt.Sprint(it))
		}
	}
	return out
}
