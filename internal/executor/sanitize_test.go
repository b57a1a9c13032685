package executor

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeCommentStripsForbiddenChars(t *testing.T) {
	out := SanitizeComment("risk: [adx=15], (close)")
	assert.NotContains(t, out, "[")
	assert.NotContains(t, out, "]")
	assert.NotContains(t, out, "(")
	assert.NotContains(t, out, ")")
	assert.NotContains(t, out, ":")
	assert.NotContains(t, out, "=")
	assert.NotContains(t, out, ",")
	assert.Equal(t, "risk adx15 close", out)
}

func TestSanitizeCommentCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", SanitizeComment("  a \t b\n\n c  "))
}

func TestSanitizeCommentTruncates(t *testing.T) {
	long := strings.Repeat("x", 100)
	out := SanitizeComment(long)
	assert.Equal(t, CommentLimit, len(out))
}

func TestSanitizeCommentIdempotent(t *testing.T) {
	cases := []string{
		"",
		"plain comment",
		"risk: [adx=15], (close)",
		strings.Repeat("word ", 20),
		"ünïcode ätr spike beyond the limit för sure",
		"trailing space at cut point aa b",
	}
	for _, in := range cases {
		once := SanitizeComment(in)
		twice := SanitizeComment(once)
		assert.Equal(t, once, twice, "input %q", in)
		assert.LessOrEqual(t, len(once), CommentLimit)
	}
}

func TestSanitizeCommentKeepsRuneBoundaries(t *testing.T) {
	in := strings.Repeat("é", 40)
	out := SanitizeComment(in)
	assert.True(t, utf8.ValidString(out))
	assert.LessOrEqual(t, len(out), CommentLimit)
	assert.Equal(t, out, SanitizeComment(out))
}
