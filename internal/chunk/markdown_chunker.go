package chunk

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MarkdownChunkerOptions sizes markdown chunks. Zero values take the
// package defaults.
type MarkdownChunkerOptions struct {
	MaxChunkTokens int
	OverlapTokens  int
}

// MarkdownChunker splits documentation along the header hierarchy.
// Each section becomes a chunk carrying its full header path
// ("Guide > Setup > Linux") in metadata, so a result can be anchored
// to its place in the document, not just a line range. Oversized
// sections split at paragraph boundaries, never inside a fenced code
// block.
type MarkdownChunker struct {
	options MarkdownChunkerOptions
}

var (
	headerPattern      = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)
)

// NewMarkdownChunker returns a MarkdownChunker with default sizing.
func NewMarkdownChunker() *MarkdownChunker {
	return NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{})
}

// NewMarkdownChunkerWithOptions returns a MarkdownChunker with
// explicit sizing.
func NewMarkdownChunkerWithOptions(opts MarkdownChunkerOptions) *MarkdownChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	return &MarkdownChunker{options: opts}
}

// Close exists for symmetry with CodeChunker; there is nothing to
// release.
func (c *MarkdownChunker) Close() {}

// SupportedExtensions lists the markdown extensions.
func (c *MarkdownChunker) SupportedExtensions() []string {
	return []string{".md", ".markdown", ".mdx"}
}

// Chunk splits one markdown file: frontmatter first (as its own
// chunk), then one chunk per header section, paragraph-windowed when a
// section outgrows the token budget. A document with no headers at all
// chunks by paragraphs.
func (c *MarkdownChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	var chunks []*Chunk
	now := time.Now()
	remaining := content

	if m := frontmatterPattern.FindStringSubmatch(remaining); m != nil {
		frontmatter := m[0]
		chunks = append(chunks, c.frontmatterChunk(file, frontmatter, now))
		remaining = remaining[len(frontmatter):]
	}

	sections := c.parseSections(remaining)
	if len(sections) == 0 {
		return append(chunks, c.chunkByParagraphs(file, remaining, "", 1, now)...), nil
	}

	// Line anchors must account for stripped frontmatter.
	baseLineOffset := 1
	if len(chunks) > 0 && chunks[0].Metadata["type"] == "frontmatter" {
		baseLineOffset = strings.Count(content[:len(content)-len(remaining)], "\n") + 1
	}

	for _, sec := range sections {
		chunks = append(chunks, c.sectionChunks(file, sec, baseLineOffset, now)...)
	}
	return chunks, nil
}

// section is one header-delimited span of the document.
type section struct {
	headerLevel int
	headerTitle string
	headerPath  string
	content     string
	startLine   int // 0-indexed within the post-frontmatter content
}

// parseSections splits content at headers, maintaining a level stack
// so each section knows its full ancestor path. A deeper header pushes
// onto the stack; a shallower one truncates it.
func (c *MarkdownChunker) parseSections(content string) []*section {
	lines := strings.Split(content, "\n")
	var sections []*section
	headerStack := make([]string, 6)

	var current *section
	var body strings.Builder

	flush := func() {
		if current != nil {
			current.content = body.String()
			sections = append(sections, current)
			body.Reset()
		}
	}

	for lineNum, line := range lines {
		match := headerPattern.FindStringSubmatch(line)
		if match == nil {
			body.WriteString(line)
			body.WriteString("\n")
			continue
		}

		flush()

		level := len(match[1])
		title := strings.TrimSpace(match[2])
		headerStack[level-1] = title
		for i := level; i < 6; i++ {
			headerStack[i] = ""
		}

		var pathParts []string
		for i := 0; i < level; i++ {
			if headerStack[i] != "" {
				pathParts = append(pathParts, headerStack[i])
			}
		}

		current = &section{
			headerLevel: level,
			headerTitle: title,
			headerPath:  strings.Join(pathParts, " > "),
			startLine:   lineNum,
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()

	return sections
}

func (c *MarkdownChunker) frontmatterChunk(file *FileInput, content string, now time.Time) *Chunk {
	lineCount := strings.Count(content, "\n")
	if lineCount == 0 {
		lineCount = 1
	}
	return c.newChunk(file, content, 1, lineCount, map[string]string{
		"type":         "frontmatter",
		"header_path":  "",
		"header_level": "0",
	}, now)
}

// sectionChunks emits a section as one chunk, or windows it when it
// exceeds the token budget. A header with no body emits nothing.
func (c *MarkdownChunker) sectionChunks(file *FileInput, sec *section, baseLineOffset int, now time.Time) []*Chunk {
	content := strings.TrimRight(sec.content, "\n")

	trimmed := strings.TrimSpace(content)
	if lines := strings.Split(trimmed, "\n"); len(lines) <= 1 && headerPattern.MatchString(trimmed) {
		return []*Chunk{}
	}

	startLine := baseLineOffset + sec.startLine
	if estimateTokens(content) <= c.options.MaxChunkTokens {
		endLine := startLine + strings.Count(content, "\n")
		return []*Chunk{c.newChunk(file, content, startLine, endLine, sec.metadata(), now)}
	}
	return c.splitLargeSection(file, sec, content, startLine, now)
}

func (sec *section) metadata() map[string]string {
	return map[string]string{
		"header_path":   sec.headerPath,
		"header_level":  strconv.Itoa(sec.headerLevel),
		"section_title": sec.headerTitle,
	}
}

// splitLargeSection windows a section at paragraph boundaries. Each
// continuation window opens with an HTML comment naming the section,
// so a window read in isolation still identifies its origin.
func (c *MarkdownChunker) splitLargeSection(file *FileInput, sec *section, content string, startLine int, now time.Time) []*Chunk {
	paragraphs := c.splitByParagraphs(content)

	var chunks []*Chunk
	var window strings.Builder
	windowStart := startLine
	lineCount := 0

	for i, para := range paragraphs {
		paraLines := strings.Count(para, "\n") + 1

		if window.Len() > 0 &&
			estimateTokens(window.String())+estimateTokens(para) > c.options.MaxChunkTokens {
			chunks = append(chunks, c.windowChunk(file, sec, window.String(), windowStart, startLine+lineCount-windowStart, now))
			window.Reset()
			windowStart = startLine + lineCount

			if i > 0 {
				window.WriteString("<!-- Section: ")
				window.WriteString(sec.headerPath)
				window.WriteString(" -->\n\n")
			}
		}

		window.WriteString(para)
		window.WriteString("\n\n")
		lineCount += paraLines + 1
	}

	if window.Len() > 0 {
		chunks = append(chunks, c.windowChunk(file, sec, window.String(), windowStart, startLine+lineCount-windowStart, now))
	}
	return chunks
}

// splitByParagraphs splits on blank lines, then re-merges any fenced
// code block the split broke open. A paragraph with an odd number of
// fences starts a block; everything up to the closing fence belongs
// with it.
func (c *MarkdownChunker) splitByParagraphs(content string) []string {
	var paragraphs []string
	for _, part := range strings.Split(content, "\n\n") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}

	var result []string
	var inCodeBlock bool
	var block strings.Builder

	for _, para := range paragraphs {
		if inCodeBlock {
			block.WriteString("\n\n")
			block.WriteString(para)
			if strings.Contains(para, "```") {
				result = append(result, block.String())
				block.Reset()
				inCodeBlock = false
			}
			continue
		}
		if fences := strings.Count(para, "```"); fences%2 == 1 {
			inCodeBlock = true
			block.WriteString(para)
			continue
		}
		result = append(result, para)
	}
	if inCodeBlock {
		// Unterminated fence in the source; emit what we have.
		result = append(result, block.String())
	}
	return result
}

func (c *MarkdownChunker) windowChunk(file *FileInput, sec *section, content string, startLine, lineCount int, now time.Time) *Chunk {
	content = strings.TrimRight(content, "\n ")
	return c.newChunk(file, content, startLine, startLine+lineCount, sec.metadata(), now)
}

// chunkByParagraphs handles a header-free document: greedy paragraph
// packing up to the token budget.
func (c *MarkdownChunker) chunkByParagraphs(file *FileInput, content, headerPath string, startLine int, now time.Time) []*Chunk {
	meta := func() map[string]string {
		return map[string]string{
			"header_path":   headerPath,
			"header_level":  "0",
			"section_title": "",
		}
	}

	var chunks []*Chunk
	var window strings.Builder
	windowStart := startLine
	lineCount := 0

	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		paraLines := strings.Count(para, "\n") + 1

		if window.Len() > 0 &&
			estimateTokens(window.String())+estimateTokens(para) > c.options.MaxChunkTokens {
			chunks = append(chunks, c.newChunk(file, window.String(), windowStart, startLine+lineCount, meta(), now))
			window.Reset()
			windowStart = startLine + lineCount
		}

		if window.Len() > 0 {
			window.WriteString("\n\n")
		}
		window.WriteString(para)
		lineCount += paraLines + 1
	}

	if window.Len() > 0 {
		chunks = append(chunks, c.newChunk(file, window.String(), windowStart, startLine+lineCount, meta(), now))
	}
	return chunks
}

func (c *MarkdownChunker) newChunk(file *FileInput, content string, startLine, endLine int, metadata map[string]string, now time.Time) *Chunk {
	return &Chunk{
		ID:          chunkID(file.Path, content),
		FilePath:    file.Path,
		Content:     content,
		RawContent:  content,
		ContentType: ContentTypeMarkdown,
		Language:    "markdown",
		StartLine:   startLine,
		EndLine:     endLine,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
