// Package sanitize strips internal bookkeeping markers from agent output
// before it is posted back to the chat transport. Adapted from the
// teacher's internal/brain/sanitize.go (SanitizeComment, which strips
// "[gap N]" markers) — generalized to this spec's tracking-chunk anchor
// shape, "<docKind>@<timestamp>", which an agent can end up echoing back
// verbatim when it's given prior tracking-doc content as context.
package sanitize

import "regexp"

// anchorPattern matches a bracketed tracking-chunk anchor id, e.g.
// "[[plan@2026-07-30T12:34:56.789012345Z]]".
var anchorPattern = regexp.MustCompile(`\[\[[a-zA-Z0-9_.-]+@[0-9]{4}-[0-9]{2}-[0-9]{2}T[0-9:.]+Z\]\]\s*`)

// Output strips internal markers from content bound for the chat transport.
// Returns the cleaned content and the count of markers stripped.
func Output(content string) (string, int) {
	matches := anchorPattern.FindAllStringIndex(content, -1)
	count := len(matches)
	if count == 0 {
		return content, 0
	}
	return anchorPattern.ReplaceAllString(content, ""), count
}
