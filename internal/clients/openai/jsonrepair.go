package openai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RepairJSON turns almost-JSON model output into a valid JSON object. The
// chain runs cheapest-first: direct parse, then brace extraction for output
// wrapped in prose or code fences, then quote and literal normalization for
// python-flavored objects. Callers fall back to a typed default when every
// stage fails.
func RepairJSON(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty model output")
	}

	if msg, ok := tryParseObject(raw); ok {
		return msg, nil
	}

	if inner, ok := extractBraces(raw); ok {
		if msg, ok := tryParseObject(inner); ok {
			return msg, nil
		}
		if msg, ok := tryParseObject(normalizeLiterals(inner)); ok {
			return msg, nil
		}
	}

	if msg, ok := tryParseObject(normalizeLiterals(raw)); ok {
		return msg, nil
	}

	return nil, fmt.Errorf("unrepairable json output")
}

func tryParseObject(s string) (json.RawMessage, bool) {
	s = strings.TrimSpace(s)
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	return json.RawMessage(s), true
}

// extractBraces returns the substring spanning the first '{' through the
// last '}'.
func extractBraces(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// normalizeLiterals rewrites single-quoted strings and python-cased literals
// into their JSON forms. Quote handling is character-wise so apostrophes
// inside double-quoted strings survive.
func normalizeLiterals(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inDouble := false
	inSingle := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '\\' && i+1 < len(s) && (inDouble || inSingle):
			b.WriteByte(ch)
			i++
			b.WriteByte(s[i])
		case ch == '"' && !inSingle:
			inDouble = !inDouble
			b.WriteByte(ch)
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
			b.WriteByte('"')
		default:
			b.WriteByte(ch)
		}
	}

	out := b.String()
	out = replaceBareWord(out, "True", "true")
	out = replaceBareWord(out, "False", "false")
	out = replaceBareWord(out, "None", "null")
	return out
}

// replaceBareWord swaps word for repl only outside of double-quoted strings.
func replaceBareWord(s, word, repl string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\\' && inString && i+1 < len(s) {
			b.WriteByte(ch)
			i++
			b.WriteByte(s[i])
			continue
		}
		if ch == '"' {
			inString = !inString
			b.WriteByte(ch)
			continue
		}
		if !inString && strings.HasPrefix(s[i:], word) && isWordBoundary(s, i-1) && isWordBoundary(s, i+len(word)) {
			b.WriteString(repl)
			i += len(word) - 1
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func isWordBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	ch := s[i]
	return !(ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || ch == '_')
}
