// Package output is the plain-text CLI surface: status lines with
// icons, code blocks, and an in-place progress bar. Commands that want
// the richer bubbletea UI use internal/ui instead; this package is for
// output that must stay sane when piped.
package output

import (
	"fmt"
	"io"
	"strings"
)

// Writer renders formatted lines onto one io.Writer. Write errors are
// deliberately dropped everywhere: console output failing is not a
// condition any command can act on.
type Writer struct {
	out      io.Writer
	useColor bool
}

// New wraps out; color stays off until something needs it.
func New(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Status prints one icon-prefixed line; an empty icon indents instead.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a checkmarked line.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf is Success with formatting.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning line.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf is Warning with formatting.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error line.
func (w *Writer) Error(msg string) {
	w.Status("❌", msg)
}

// Errorf is Error with formatting.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Code prints content as an indented block with surrounding blank
// lines.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Progress redraws an in-place bar via carriage return, terminating
// the line once current reaches total.
func (w *Writer) Progress(current, total int, msg string) {
	if total <= 0 {
		return
	}

	pct := float64(current) / float64(total) * 100
	bar := renderProgressBar(current, total, 30)
	_, _ = fmt.Fprintf(w.out, "\r[%s] %.0f%% %s", bar, pct, msg)

	if current >= total {
		_, _ = fmt.Fprintln(w.out)
	}
}

// ProgressDone terminates an in-progress bar line early.
func (w *Writer) ProgressDone() {
	_, _ = fmt.Fprintln(w.out)
}

func renderProgressBar(current, total, width int) string {
	if total <= 0 {
		return strings.Repeat("░", width)
	}

	filled := int(float64(current) / float64(total) * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
