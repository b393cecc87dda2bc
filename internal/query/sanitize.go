package query

import (
	"strings"
	"unicode/utf8"
)

// sanitize strips control bytes (other than tab/newline) and terminal
// escape sequences from s and replaces invalid UTF-8 with U+FFFD, so a
// malicious or merely binary source file can never inject an escape
// sequence into a terminal rendering the response. Callers pass --raw
// to skip this for trusted tooling that wants the byte-exact snippet.
func sanitize(s string) string {
	if !utf8.ValidString(s) {
		s = toValidUTF8(s)
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\x1b':
			// ESC: skip the whole CSI/OSC sequence that follows where
			// recognizable, otherwise just drop the byte.
			i = skipEscape(s, i)
		case c == '\t' || c == '\n' || c == '\r':
			b.WriteByte(c)
		case c < 0x20 || c == 0x7f:
			// other control bytes: drop silently
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// skipEscape returns the index of the last byte of the escape sequence
// starting at s[i], so the caller's loop resumes just past it.
func skipEscape(s string, i int) int {
	j := i + 1
	if j >= len(s) {
		return i
	}
	if s[j] != '[' && s[j] != ']' {
		return j
	}
	j++
	for j < len(s) {
		c := s[j]
		if c >= 0x40 && c <= 0x7e {
			return j
		}
		j++
	}
	return len(s) - 1
}

func toValidUTF8(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
			i++
			continue
		}
		b.WriteRune(r)
		i += size
	}
	return b.String()
}

func sanitizePath(s string) string {
	return sanitize(s)
}
