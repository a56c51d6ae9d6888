package planner

import (
	"regexp"
	"strings"
)

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")

// ExtractJSON implements the three-tier tolerant extractor spec.md §9 calls
// out as load-bearing design, not a hack: (a) strip fenced code blocks and
// try those first, (b) scan for the first balanced JSON object with proper
// string/escape handling, (c) a direct parse of the whole text as a last
// resort. Returns the matched JSON text and true, or "" and false.
func ExtractJSON(text string) (string, bool) {
	if matches := fencedJSONPattern.FindAllStringSubmatch(text, -1); len(matches) > 0 {
		for _, m := range matches {
			if candidate := strings.TrimSpace(m[1]); looksLikeJSONObject(candidate) {
				return candidate, true
			}
		}
	}

	if candidate, ok := scanBalancedObject(text); ok {
		return candidate, true
	}

	trimmed := strings.TrimSpace(text)
	if looksLikeJSONObject(trimmed) {
		return trimmed, true
	}

	return "", false
}

func looksLikeJSONObject(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

// scanBalancedObject scans text for the first top-level {...} span, tracking
// string/escape state so braces inside string literals don't throw off depth.
func scanBalancedObject(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, r := range text {
		if start == -1 {
			if r == '{' {
				start = i
				depth = 1
			}
			continue
		}

		if escaped {
			escaped = false
			continue
		}

		switch {
		case inString && r == '\\':
			escaped = true
		case r == '"':
			inString = !inString
		case !inString && r == '{':
			depth++
		case !inString && r == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}

	return "", false
}
