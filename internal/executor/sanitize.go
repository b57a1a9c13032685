package executor

import (
	"strings"
	"unicode/utf8"
)

// CommentLimit is the broker protocol's fixed comment length.
const CommentLimit = 31

// strippedChars are rejected outright by the broker's order comment
// field.
const strippedChars = "[]():=,"

// SanitizeComment makes a free-text rationale safe for the broker
// protocol: forbidden characters are removed, whitespace runs collapse,
// and the result is cut to CommentLimit bytes. Sanitizing an already
// sanitized string is a no-op.
func SanitizeComment(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		if strings.ContainsRune(strippedChars, r) {
			continue
		}
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if lastSpace {
				continue
			}
			lastSpace = true
			b.WriteByte(' ')
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	if len(out) > CommentLimit {
		cut := CommentLimit
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = strings.TrimRight(out[:cut], " ")
	}
	return out
}
