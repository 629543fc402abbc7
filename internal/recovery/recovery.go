// Package recovery extracts a structured object from untrusted generated
// text. Model output is often wrapped in prose or markdown fences, carries
// reasoning before the payload, or contains several malformed candidates
// before a valid one. Recover tries progressively looser strategies and
// never fails: when nothing parses it returns a degraded fallback that
// carries the original text.
package recovery

import (
	"encoding/json"
	"strings"
)

// Keys used by the wrapped and degraded result forms.
const (
	KeyItems   = "items"
	KeyContent = "content"
	KeyParsed  = "parsed"
)

const (
	fence     = "```"
	fenceLang = "json"
)

// Recover returns the first structured object found in text. A top-level
// array is returned wrapped as {"items": [...]}. When nothing parses the
// result is {"content": text, "parsed": false}.
func Recover(text string) map[string]any {
	v, ok := Extract(text)
	if !ok {
		return Fallback(text)
	}
	switch val := v.(type) {
	case map[string]any:
		return val
	case []any:
		return map[string]any{KeyItems: val}
	}
	return Fallback(text)
}

// Fallback builds the degraded result for text.
func Fallback(text string) map[string]any {
	return map[string]any{KeyContent: text, KeyParsed: false}
}

// IsFallback reports whether m is the degraded form produced by Recover.
func IsFallback(m map[string]any) bool {
	if len(m) != 2 {
		return false
	}
	parsed, ok := m[KeyParsed].(bool)
	if !ok || parsed {
		return false
	}
	_, ok = m[KeyContent].(string)
	return ok
}

// Extract returns the raw decoded value (a map[string]any or []any) and
// whether anything was found. Strategies, first success wins:
//  1. the whole trimmed text;
//  2. the interior of a ```json fenced block;
//  3. balanced top-level objects, scanning past candidates that fail to parse;
//  4. balanced top-level arrays, likewise.
func Extract(text string) (any, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, false
	}

	if v, ok := decodeStructured(s); ok {
		return v, true
	}

	if inner, ok := fenced(s); ok {
		if v, ok := decodeStructured(inner); ok {
			return v, true
		}
	}

	if v, ok := scan(s, '{', '}'); ok {
		return v, true
	}
	if v, ok := scan(s, '[', ']'); ok {
		return v, true
	}
	return nil, false
}

// decodeStructured parses s and accepts only objects and arrays.
func decodeStructured(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	}
	return nil, false
}

// fenced returns the trimmed interior of the first ```json block. The tag
// is matched case-insensitively in place; offsets always refer to s.
func fenced(s string) (string, bool) {
	for i := 0; i < len(s); {
		j := strings.Index(s[i:], fence)
		if j < 0 {
			return "", false
		}
		tag := i + j + len(fence)
		if tag+len(fenceLang) <= len(s) && strings.EqualFold(s[tag:tag+len(fenceLang)], fenceLang) {
			start := tag + len(fenceLang)
			end := strings.Index(s[start:], fence)
			if end < 0 {
				return "", false
			}
			return strings.TrimSpace(s[start : start+end]), true
		}
		i = tag
	}
	return "", false
}

// scan tries balanced top-level candidates delimited by open/close, left to
// right, and returns the first that decodes. A candidate that fails to parse
// is skipped whole; an unbalanced one is stepped past by its opening byte.
func scan(s string, open, closing byte) (any, bool) {
	for i := strings.IndexByte(s, open); i >= 0; {
		from := i + 1
		if end := matchBalanced(s, i, open, closing); end > i {
			if v, ok := decodeStructured(s[i : end+1]); ok {
				return v, true
			}
			from = end + 1
		}
		if from >= len(s) {
			break
		}
		next := strings.IndexByte(s[from:], open)
		if next < 0 {
			break
		}
		i = from + next
	}
	return nil, false
}

// matchBalanced returns the index of the delimiter closing the one at start,
// ignoring delimiters inside string literals, or -1 when unbalanced.
func matchBalanced(s string, start int, open, closing byte) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
