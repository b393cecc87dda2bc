package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CheckStatus is a check's verdict.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

// String names the status for display.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// CheckResult is one check's outcome. Required distinguishes hard
// gates (disk, permissions) from advisory ones (embedder model and
// its disk space; --offline uses static embeddings without a model).
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical: a required check that failed blocks startup.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker runs the validation suite; options control output and
// offline behavior.
type Checker struct {
	offline bool
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithOffline records the offline flag on the Checker; no check
// currently reads it, so the results are the same either way.
func WithOffline(offline bool) Option {
	return func(c *Checker) {
		c.offline = offline
	}
}

// WithVerbose prints per-check details.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput redirects the report (io.Discard in MCP mode).
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// New builds a Checker writing to stdout unless overridden.
func New(opts ...Option) *Checker {
	c := &Checker{
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll executes every check: the required host gates first, then
// the advisory embedder probes.
func (c *Checker) RunAll(_ context.Context, projectPath string) []CheckResult {
	var results []CheckResult
	results = append(results, c.CheckDiskSpace(projectPath))
	results = append(results, c.CheckMemory())
	results = append(results, c.CheckWritePermissions(projectPath))
	results = append(results, c.CheckFileDescriptors())
	// Advisory: embedder checks warn but never block startup.
	results = append(results, c.CheckEmbedderModel())
	results = append(results, c.CheckEmbedderDiskSpace())
	return results
}

// HasCriticalFailures reports whether any hard gate failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus collapses the results to ready /
// ready_with_warnings / failed.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	hasCriticalFailure := false

	for _, r := range results {
		if r.IsCritical() {
			hasCriticalFailure = true
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}

	if hasCriticalFailure {
		return "failed"
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults renders the report: per-check lines, the summary
// status, then grouped errors and warnings.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "Ggrep System Check")
	_, _ = fmt.Fprintln(c.output, "====================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		icon := c.statusIcon(r.Status)
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", icon, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	status := c.SummaryStatus(results)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(status))

	var warnings, errors []string
	for _, r := range results {
		if r.IsCritical() {
			errors = append(errors, r.Name+": "+r.Message)
		} else if r.Status == StatusWarn {
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}

	if len(errors) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d error(s):\n", len(errors))
		for _, e := range errors {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", e)
		}
	}

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d warning(s):\n", len(warnings))
		for _, w := range warnings {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", w)
		}
	}
}

func (c *Checker) statusIcon(status CheckStatus) string {
	switch status {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "????"
	}
}

// CheckWritePermissions proves writability by actually creating and
// removing a probe file; stat-based permission checks lie on some
// filesystems.
func (c *Checker) CheckWritePermissions(path string) CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
	}

	testFile := filepath.Join(path, ".ggrep-preflight-test")
	f, err := os.Create(testFile)
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	result.Status = StatusPass
	result.Message = "OK"
	return result
}

