package chunk

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkMarkdown(t *testing.T, path, source string) []*Chunk {
	t.Helper()
	chunker := NewMarkdownChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     path,
		Content:  []byte(source),
		Language: "markdown",
	})
	require.NoError(t, err)
	return chunks
}

func TestMarkdownChunker_SplitsAtHeaders(t *testing.T) {
	chunks := chunkMarkdown(t, "guide.md", `# Guide

Intro paragraph.

## Install

Run the installer.

## Usage

Call the binary.
`)
	require.Len(t, chunks, 3)

	assert.Contains(t, chunks[0].Content, "# Guide")
	assert.Contains(t, chunks[0].Content, "Intro paragraph.")
	assert.Contains(t, chunks[1].Content, "## Install")
	assert.Contains(t, chunks[2].Content, "## Usage")

	for _, ch := range chunks {
		assert.Equal(t, ContentTypeMarkdown, ch.ContentType)
		assert.Equal(t, "markdown", ch.Language)
		assert.Equal(t, "guide.md", ch.FilePath)
	}
}

func TestMarkdownChunker_HeaderPathTracksHierarchy(t *testing.T) {
	chunks := chunkMarkdown(t, "doc.md", `# Top

Top text.

## Middle

Middle text.

### Leaf

Leaf text.

## Sibling

Sibling text.
`)
	require.Len(t, chunks, 4)

	assert.Equal(t, "Top", chunks[0].Metadata["header_path"])
	assert.Equal(t, "Top > Middle", chunks[1].Metadata["header_path"])
	assert.Equal(t, "Top > Middle > Leaf", chunks[2].Metadata["header_path"])
	// A shallower header truncates the stack: Sibling is not under
	// Middle.
	assert.Equal(t, "Top > Sibling", chunks[3].Metadata["header_path"])

	assert.Equal(t, "1", chunks[0].Metadata["header_level"])
	assert.Equal(t, "3", chunks[2].Metadata["header_level"])
	assert.Equal(t, "Sibling", chunks[3].Metadata["section_title"])
}

func TestMarkdownChunker_FrontmatterIsOwnChunk(t *testing.T) {
	chunks := chunkMarkdown(t, "post.md", `---
title: Release Notes
tags: [release]
---

# Notes

Body text.
`)
	require.GreaterOrEqual(t, len(chunks), 2)

	fm := chunks[0]
	assert.Equal(t, "frontmatter", fm.Metadata["type"])
	assert.Contains(t, fm.Content, "title: Release Notes")
	assert.Equal(t, 1, fm.StartLine)

	// Section line anchors account for the stripped frontmatter.
	notes := chunks[1]
	assert.Contains(t, notes.Content, "# Notes")
	assert.Greater(t, notes.StartLine, fm.EndLine-1)
}

func TestMarkdownChunker_NoHeadersChunksByParagraphs(t *testing.T) {
	chunks := chunkMarkdown(t, "plain.md", `First paragraph of a headerless file.

Second paragraph.

Third paragraph.
`)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Content, "First paragraph")
	assert.Equal(t, "0", chunks[0].Metadata["header_level"])
}

func TestMarkdownChunker_EmptySectionEmitsNothing(t *testing.T) {
	chunks := chunkMarkdown(t, "sparse.md", `# Empty

# Full

Actual content.
`)
	// The bare header produces no chunk.
	for _, ch := range chunks {
		assert.NotEqual(t, "Empty", strings.TrimSpace(ch.Metadata["section_title"]))
	}
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "Actual content.")
}

func TestMarkdownChunker_EmptyAndWhitespaceFiles(t *testing.T) {
	assert.Empty(t, chunkMarkdown(t, "empty.md", ""))
	assert.Empty(t, chunkMarkdown(t, "blank.md", "  \n\n\t\n"))
}

func TestMarkdownChunker_LargeSectionSplitsAtParagraphs(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("# Big Section\n\n")
	for i := 0; i < 80; i++ {
		fmt.Fprintf(&sb, "Paragraph %d with enough words to accumulate a meaningful token count for the window packer.\n\n", i)
	}

	chunks := chunkMarkdown(t, "big.md", sb.String())
	require.Greater(t, len(chunks), 1)

	for _, ch := range chunks {
		assert.Equal(t, "Big Section", ch.Metadata["section_title"])
	}

	// Continuation windows open with the section marker comment so an
	// isolated window still names its origin.
	for _, ch := range chunks[1:] {
		assert.Contains(t, ch.Content, "<!-- Section: Big Section -->")
	}
	assert.NotContains(t, chunks[0].Content, "<!-- Section:")
}

func TestMarkdownChunker_CodeBlocksNeverSplit(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("# Examples\n\n")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "Filler paragraph %d to push the section over the token budget and force windowing.\n\n", i)
	}
	sb.WriteString("```go\nfunc Example() {\n\n\tprintln(\"blank line inside fence\")\n\n}\n```\n\n")
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "Trailing paragraph %d continuing the oversized section beyond the fence.\n\n", i)
	}

	chunks := chunkMarkdown(t, "examples.md", sb.String())
	require.Greater(t, len(chunks), 1)

	// The fence (which contains blank lines) must land whole in
	// exactly one window.
	var holders int
	for _, ch := range chunks {
		if strings.Contains(ch.Content, "```go") {
			holders++
			assert.Contains(t, ch.Content, "blank line inside fence")
			assert.Equal(t, 2, strings.Count(ch.Content, "```"), "fence must open and close in the same window")
		}
	}
	assert.Equal(t, 1, holders)
}

func TestMarkdownChunker_LineAnchors(t *testing.T) {
	chunks := chunkMarkdown(t, "lines.md", `# One

Alpha.

# Two

Beta.
`)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.GreaterOrEqual(t, chunks[0].EndLine, 3)
	assert.Equal(t, 5, chunks[1].StartLine)
}

func TestMarkdownChunker_UniqueIDs(t *testing.T) {
	chunks := chunkMarkdown(t, "ids.md", `# A

Content of section A.

# B

Content of section B.

# C

Content of section C.
`)
	seen := map[string]bool{}
	for _, ch := range chunks {
		assert.False(t, seen[ch.ID], "duplicate ID %s", ch.ID)
		seen[ch.ID] = true
	}
}

func TestMarkdownChunker_SupportedExtensions(t *testing.T) {
	chunker := NewMarkdownChunker()
	exts := chunker.SupportedExtensions()
	assert.ElementsMatch(t, []string{".md", ".markdown", ".mdx"}, exts)
}

func BenchmarkMarkdownChunker_100Sections(b *testing.B) {
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&sb, "## Section %d\n\nBody text for section %d with several words of content.\n\n", i, i)
	}
	content := []byte(sb.String())

	chunker := NewMarkdownChunker()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := chunker.Chunk(context.Background(), &FileInput{
			Path: "bench.md", Content: content, Language: "markdown",
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}
