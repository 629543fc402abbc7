package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultMaxContentSize is the serialized content size above which
// ValidateFormat warns.
const DefaultMaxContentSize = 100_000

// maxFieldLength is the longest top-level string field CheckContentSecurity
// accepts without flagging it.
const maxFieldLength = 50_000

// Report is the diagnostic outcome of ValidateFormat. It never blocks delivery.
type Report struct {
	Valid       bool     `json:"valid"`
	Issues      []string `json:"issues"`
	Warnings    []string `json:"warnings"`
	MessageID   string   `json:"message_id"`
	MessageType Type     `json:"message_type"`
}

var requiredTaskFields = []string{"task_id", "title", "description", "requirements", "priority", "created_at"}

// ValidateFormat inspects m for structural problems. A maxContentSize of zero
// or less uses DefaultMaxContentSize.
func ValidateFormat(m Message, maxContentSize int) Report {
	if maxContentSize <= 0 {
		maxContentSize = DefaultMaxContentSize
	}
	r := Report{
		Issues:      []string{},
		Warnings:    []string{},
		MessageID:   m.ID,
		MessageType: m.Type,
	}

	if m.Sender == "" {
		r.Issues = append(r.Issues, "missing sender")
	}
	if m.Recipient == "" {
		r.Issues = append(r.Issues, "missing recipient")
	}
	if !m.Type.Valid() {
		r.Issues = append(r.Issues, fmt.Sprintf("unknown message type: %q", m.Type))
	}
	if len(m.Content) == 0 {
		r.Warnings = append(r.Warnings, "empty content")
	}
	if v, ok := m.Content["message_version"]; ok && v != Version {
		r.Warnings = append(r.Warnings, fmt.Sprintf("unsupported message version: %v", v))
	}

	switch m.Type {
	case TypeTaskRequest:
		t, ok := m.Content["task"].(map[string]any)
		if !ok {
			r.Issues = append(r.Issues, "task request missing task data")
			break
		}
		for _, f := range requiredTaskFields {
			if _, ok := t[f]; !ok {
				r.Issues = append(r.Issues, "task request missing "+f)
			}
		}
	case TypeTaskResponse:
		resp, ok := m.Content["response"].(map[string]any)
		if !ok {
			r.Issues = append(r.Issues, "task response missing response data")
			break
		}
		if _, ok := resp["success"]; !ok {
			r.Issues = append(r.Issues, "task response missing success flag")
		}
	}

	data, err := json.Marshal(m.Content)
	switch {
	case err != nil:
		r.Warnings = append(r.Warnings, "could not determine message size")
	case len(data) > maxContentSize:
		r.Warnings = append(r.Warnings, fmt.Sprintf("oversized content: %d bytes", len(data)))
	}

	r.Valid = len(r.Issues) == 0
	return r
}

var dangerousPatterns = []string{
	"eval(",
	"exec(",
	"import os",
	"subprocess",
	"__import__",
	"file://",
	"javascript:",
	"<script",
}

// SecurityReport is the outcome of CheckContentSecurity.
type SecurityReport struct {
	Secure bool     `json:"secure"`
	Issues []string `json:"issues"`
}

// CheckContentSecurity flags executable-looking patterns and very long string
// fields in content.
func CheckContentSecurity(content map[string]any) SecurityReport {
	r := SecurityReport{Issues: []string{}}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(content); err != nil {
		r.Issues = append(r.Issues, "content is not serializable")
		return r
	}
	lower := strings.ToLower(buf.String())
	for _, p := range dangerousPatterns {
		if strings.Contains(lower, p) {
			r.Issues = append(r.Issues, "potentially dangerous content detected: "+p)
		}
	}
	for k, v := range content {
		if s, ok := v.(string); ok && len(s) > maxFieldLength {
			r.Issues = append(r.Issues, fmt.Sprintf("very long string in field %q: %d characters", k, len(s)))
		}
	}

	r.Secure = len(r.Issues) == 0
	return r
}

var scriptEscaper = strings.NewReplacer("<script", "&lt;script", "</script>", "&lt;/script&gt;")

// SanitizeContent returns a deep copy of content with script tags escaped in
// every string value.
func SanitizeContent(content map[string]any) map[string]any {
	out := make(map[string]any, len(content))
	for k, v := range content {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return scriptEscaper.Replace(val)
	case map[string]any:
		return SanitizeContent(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = scriptEscaper.Replace(item)
		}
		return out
	default:
		return v
	}
}
