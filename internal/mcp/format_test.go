package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ggrep/ggrep/internal/query"
	"github.com/ggrep/ggrep/internal/snapshot"
)

func TestFormatSearchResults_Basic(t *testing.T) {
	results := []query.Result{
		{
			Path:      "internal/auth/handler.go",
			StartLine: 42,
			Content:   "func AuthMiddleware() {}",
			Score:     0.95,
		},
	}

	markdown := FormatSearchResults("authentication", results)

	assert.Contains(t, markdown, "## Search Results")
	assert.Contains(t, markdown, `"authentication"`)
	assert.Contains(t, markdown, "Found 1 result")
	assert.Contains(t, markdown, "internal/auth/handler.go:42")
	assert.Contains(t, markdown, "score: 0.95")
	assert.Contains(t, markdown, "```go")
	assert.Contains(t, markdown, "func AuthMiddleware()")
}

func TestFormatSearchResults_MultipleResults(t *testing.T) {
	results := []query.Result{
		{Path: "file1.go", StartLine: 10, Content: "func First() {}", Score: 0.9},
		{Path: "file2.go", StartLine: 30, Content: "func Second() {}", Score: 0.8},
	}

	markdown := FormatSearchResults("test", results)

	assert.Contains(t, markdown, "Found 2 results")
	assert.Contains(t, markdown, "file1.go:10")
	assert.Contains(t, markdown, "file2.go:30")
	assert.Contains(t, markdown, "### 1.")
	assert.Contains(t, markdown, "### 2.")
}

func TestFormatSearchResults_EmptyResults(t *testing.T) {
	results := []query.Result{}

	markdown := FormatSearchResults("xyznonexistent", results)

	assert.Contains(t, markdown, "No results found")
	assert.Contains(t, markdown, "xyznonexistent")
	assert.NotContains(t, markdown, "###")
}

func TestFormatSearchResults_IncludesMatchReason(t *testing.T) {
	results := []query.Result{
		{Path: "test.go", StartLine: 1, Content: "x", Score: 0.5, MatchReason: "matched content"},
	}

	markdown := FormatSearchResults("test", results)

	assert.Contains(t, markdown, "**Match:** matched content")
}

func TestFormatCodeResults_WithLanguageFilter(t *testing.T) {
	results := []query.Result{
		{
			Path:      "handler.go",
			StartLine: 10,
			Content:   "func Handle() {\n\t// implementation\n}",
			Score:     0.92,
		},
	}

	markdown := FormatCodeResults("handler", results, "go")

	assert.Contains(t, markdown, "## Code Search Results")
	assert.Contains(t, markdown, "Language filter: `go`")
	assert.Contains(t, markdown, "```go")
	assert.Contains(t, markdown, "func Handle()")
}

func TestFormatCodeResults_NoLanguageFilter(t *testing.T) {
	results := []query.Result{
		{Path: "handler.go", StartLine: 10, Content: "func Handle() {}", Score: 0.92},
	}

	markdown := FormatCodeResults("handler", results, "")

	assert.Contains(t, markdown, "## Code Search Results")
	assert.NotContains(t, markdown, "Language filter:")
}

func TestFormatCodeResults_EmptyResults(t *testing.T) {
	results := []query.Result{}

	markdown := FormatCodeResults("handler", results, "python")

	assert.Contains(t, markdown, "No code results found")
	assert.Contains(t, markdown, "in python files")
}

func TestFormatDocsResults_PreservesMarkdown(t *testing.T) {
	results := []query.Result{
		{Path: "docs/installation.md", Content: "## Installation\n\nRun `go install`...", Score: 0.88},
	}

	markdown := FormatDocsResults("installation", results)

	assert.Contains(t, markdown, "## Documentation Results")
	assert.Contains(t, markdown, "docs/installation.md")
	assert.Contains(t, markdown, "## Installation")
	assert.Contains(t, markdown, "Run `go install`")
	assert.Contains(t, markdown, "---")
}

func TestFormatDocsResults_NonMarkdown(t *testing.T) {
	results := []query.Result{
		{Path: "README.txt", Content: "This is plain text documentation.", Score: 0.75},
	}

	markdown := FormatDocsResults("readme", results)

	assert.Contains(t, markdown, "```")
	assert.Contains(t, markdown, "This is plain text documentation.")
}

func TestFormatDocsResults_Empty(t *testing.T) {
	results := []query.Result{}

	markdown := FormatDocsResults("nonexistent", results)

	assert.Contains(t, markdown, "No documentation found")
	assert.Contains(t, markdown, "nonexistent")
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		name       string
		limit      int
		defaultVal int
		min        int
		max        int
		want       int
	}{
		{"zero uses default", 0, 10, 1, 50, 10},
		{"negative uses default", -5, 10, 1, 50, 10},
		{"below min clamps to min", 0, 10, 1, 50, 10},
		{"above max clamps to max", 100, 10, 1, 50, 50},
		{"valid value unchanged", 25, 10, 1, 50, 25},
		{"at min boundary", 1, 10, 1, 50, 1},
		{"at max boundary", 50, 10, 1, 50, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clampLimit(tt.limit, tt.defaultVal, tt.min, tt.max)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatSearchResults_LargeResults(t *testing.T) {
	results := make([]query.Result, 50)
	for i := 0; i < 50; i++ {
		results[i] = query.Result{
			Path:      "file.go",
			StartLine: i * 10,
			Content:   "func Test() {}",
			Score:     float64(50-i) / 50.0,
		}
	}

	markdown := FormatSearchResults("test", results)

	assert.Contains(t, markdown, "Found 50 results")
	assert.Equal(t, 50, strings.Count(markdown, "### "))
}

func TestFormatSearchResults_DefaultsToTextLanguage(t *testing.T) {
	results := []query.Result{
		{Path: "unknown.xyz", StartLine: 1, Content: "some content", Score: 0.8},
	}

	markdown := FormatSearchResults("test", results)

	assert.Contains(t, markdown, "```text")
}

// =============================================================================
// toSearchOutput tests
// =============================================================================

func TestToSearchOutput_BasicFields(t *testing.T) {
	results := []query.Result{
		{
			Path:        "internal/auth/handler.go",
			StartLine:   10,
			NumLines:    3,
			Content:     "func AuthMiddleware() {}",
			Score:       0.95,
			ChunkType:   snapshot.KindText,
			MatchReason: "matched content",
		},
	}

	output := toSearchOutput(results)

	out := output.Results[0]
	assert.Equal(t, "internal/auth/handler.go", out.FilePath)
	assert.Equal(t, "func AuthMiddleware() {}", out.Content)
	assert.Equal(t, 0.95, out.Score)
	assert.Equal(t, "go", out.Language)
	assert.Equal(t, "matched content", out.MatchReason)
}

func TestToSearchOutput_AnchorRows(t *testing.T) {
	results := []query.Result{
		{Path: "src/lib.rs", ChunkType: snapshot.KindAnchor, IsAnchor: true},
	}

	output := toSearchOutput(results)

	assert.True(t, output.Results[0].IsAnchor)
	assert.Equal(t, "rust", output.Results[0].Language)
}

func TestToSearchOutput_Empty(t *testing.T) {
	output := toSearchOutput(nil)

	assert.Empty(t, output.Results)
}
