package recovery

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// StripReasoning removes a leading <think>...</think> block emitted by
// reasoning models. An unterminated block is left in place.
func StripReasoning(text string) string {
	s := strings.TrimLeft(text, " \t\r\n")
	if !strings.HasPrefix(s, thinkOpen) {
		return text
	}
	end := strings.Index(s, thinkClose)
	if end < 0 {
		return text
	}
	return strings.TrimSpace(s[end+len(thinkClose):])
}
