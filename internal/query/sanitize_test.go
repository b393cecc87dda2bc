package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStripsEscapeSequences(t *testing.T) {
	in := "\x1b[31mred text\x1b[0m"
	out := sanitize(in)
	assert.Equal(t, "red text", out)
}

func TestSanitizeKeepsTabsAndNewlines(t *testing.T) {
	in := "line1\n\tindented"
	assert.Equal(t, in, sanitize(in))
}

func TestSanitizeDropsOtherControlBytes(t *testing.T) {
	in := "a\x00b\x07c"
	assert.Equal(t, "abc", sanitize(in))
}

func TestSanitizeReplacesInvalidUTF8(t *testing.T) {
	in := string([]byte{'a', 0xff, 'b'})
	out := sanitize(in)
	assert.Contains(t, out, "�")
}
