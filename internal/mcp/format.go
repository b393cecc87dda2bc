package mcp

import (
	"fmt"
	"strings"

	"github.com/ggrep/ggrep/internal/query"
)

// FormatSearchResults formats generic search results as markdown.
func FormatSearchResults(q string, results []query.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", q)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Search Results for \"%s\"\n\n", q))
	sb.WriteString(fmt.Sprintf("Found %d result", len(results)))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		formatResult(&sb, i+1, r)
	}

	return sb.String()
}

// FormatCodeResults formats code-specific results with syntax highlighting.
func FormatCodeResults(q string, results []query.Result, langFilter string) string {
	if len(results) == 0 {
		msg := fmt.Sprintf("No code results found for \"%s\"", q)
		if langFilter != "" {
			msg += fmt.Sprintf(" in %s files", langFilter)
		}
		return msg
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Code Search Results for \"%s\"\n\n", q))
	if langFilter != "" {
		sb.WriteString(fmt.Sprintf("Language filter: `%s`\n\n", langFilter))
	}
	sb.WriteString(fmt.Sprintf("Found %d result", len(results)))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		formatResult(&sb, i+1, r)
	}

	return sb.String()
}

// FormatDocsResults formats documentation results preserving section hierarchy.
func FormatDocsResults(q string, results []query.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No documentation found for \"%s\"", q)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Documentation Results for \"%s\"\n\n", q))
	sb.WriteString(fmt.Sprintf("Found %d result", len(results)))
	if len(results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range results {
		formatDocsResult(&sb, i+1, r)
	}

	return sb.String()
}

// formatResult formats a single generic result.
func formatResult(sb *strings.Builder, num int, r query.Result) {
	fmt.Fprintf(sb, "### %d. %s:%d (score: %.2f)\n",
		num,
		r.Path,
		r.StartLine,
		r.Score,
	)

	if r.MatchReason != "" {
		fmt.Fprintf(sb, "**Match:** %s\n\n", r.MatchReason)
	}

	lang := languageForPath(r.Path)
	if lang == "" {
		lang = "text"
	}

	fmt.Fprintf(sb, "```%s\n%s\n```\n\n", lang, r.Content)
}

// formatDocsResult formats a documentation result preserving structure.
func formatDocsResult(sb *strings.Builder, num int, r query.Result) {
	fmt.Fprintf(sb, "### %d. %s (score: %.2f)\n\n",
		num,
		r.Path,
		r.Score,
	)

	if isDocPath(r.Path) {
		sb.WriteString(r.Content)
		sb.WriteString("\n\n---\n\n")
	} else {
		fmt.Fprintf(sb, "```\n%s\n```\n\n", r.Content)
	}
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

// toSearchOutput converts engine results to the tool output format.
func toSearchOutput(results []query.Result) SearchOutput {
	output := SearchOutput{
		Results: make([]SearchResultOutput, 0, len(results)),
	}
	for _, r := range results {
		output.Results = append(output.Results, SearchResultOutput{
			FilePath:    r.Path,
			StartLine:   r.StartLine,
			NumLines:    r.NumLines,
			Content:     r.Content,
			Score:       r.Score,
			Language:    languageForPath(r.Path),
			ChunkType:   string(r.ChunkType),
			IsAnchor:    r.IsAnchor,
			MatchReason: r.MatchReason,
		})
	}
	return output
}
