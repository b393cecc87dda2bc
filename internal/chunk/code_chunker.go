package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// CodeChunkerOptions sizes the chunks a CodeChunker produces. Zero
// values take the package defaults.
type CodeChunkerOptions struct {
	MaxChunkTokens int
	OverlapTokens  int
}

// CodeChunker splits source files along symbol boundaries using
// tree-sitter. Files in unsupported languages, and files the grammar
// cannot parse, fall back to fixed-size line windows so nothing
// eligible is silently dropped.
type CodeChunker struct {
	parser    *Parser
	extractor *SymbolExtractor
	registry  *LanguageRegistry
	options   CodeChunkerOptions
}

// NewCodeChunker returns a CodeChunker with default sizing.
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{})
}

// NewCodeChunkerWithOptions returns a CodeChunker with explicit sizing.
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}

	registry := DefaultRegistry()
	return &CodeChunker{
		parser:    NewParserWithRegistry(registry),
		extractor: NewSymbolExtractorWithRegistry(registry),
		registry:  registry,
		options:   opts,
	}
}

// Close releases the parser.
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions lists the extensions with a registered grammar.
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits one file. Empty files and parseable files with no
// symbols produce no chunks.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	if _, supported := c.registry.GetByName(file.Language); !supported {
		return c.chunkByLines(file)
	}

	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		// A broken parse still has to index as something searchable.
		return c.chunkByLines(file)
	}

	fileContext := c.fileContext(tree, file)
	symbolNodes := c.findSymbolNodes(tree, file.Language)
	if len(symbolNodes) == 0 {
		return nil, nil
	}

	chunks := make([]*Chunk, 0, len(symbolNodes))
	now := time.Now()
	for _, node := range symbolNodes {
		chunks = append(chunks, c.chunksFromNode(node, tree, file, fileContext, now)...)
	}
	return chunks, nil
}

// symbolNodeInfo pairs a syntax node with its extracted symbol.
type symbolNodeInfo struct {
	node   *Node
	symbol *Symbol
}

// symbolKinds builds the node-type → symbol-kind table for a language.
func symbolKinds(config *LanguageConfig) map[string]SymbolType {
	kinds := make(map[string]SymbolType)
	add := func(types []string, st SymbolType) {
		for _, t := range types {
			kinds[t] = st
		}
	}
	add(config.FunctionTypes, SymbolTypeFunction)
	add(config.MethodTypes, SymbolTypeMethod)
	add(config.ClassTypes, SymbolTypeClass)
	add(config.InterfaceTypes, SymbolTypeInterface)
	add(config.TypeDefTypes, SymbolTypeType)
	add(config.ConstantTypes, SymbolTypeConstant)
	add(config.VariableTypes, SymbolTypeVariable)
	return kinds
}

// findSymbolNodes walks the tree collecting symbol-defining nodes.
// Always returns a non-nil slice.
func (c *CodeChunker) findSymbolNodes(tree *Tree, language string) []*symbolNodeInfo {
	config, ok := c.registry.GetByName(language)
	if !ok {
		return []*symbolNodeInfo{}
	}

	kinds := symbolKinds(config)
	symbolNodes := []*symbolNodeInfo{}

	tree.Root.Walk(func(n *Node) bool {
		// const f = () => {} declares a function, not a constant; the
		// extractor's special-case check must run before the table
		// lookup or arrow functions misclassify.
		if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
			if sym := c.extractor.extractSpecialSymbol(n, tree.Source, language); sym != nil {
				symbolNodes = append(symbolNodes, &symbolNodeInfo{node: n, symbol: sym})
				return true
			}
		}

		if symType, isSymbol := kinds[n.Type]; isSymbol {
			if sym := c.extractSymbol(n, tree, symType, language); sym != nil {
				symbolNodes = append(symbolNodes, &symbolNodeInfo{node: n, symbol: sym})
			}
		}
		return true
	})

	return symbolNodes
}

func (c *CodeChunker) extractSymbol(n *Node, tree *Tree, symType SymbolType, language string) *Symbol {
	config, _ := c.registry.GetByName(language)
	name := c.extractor.extractName(n, tree.Source, config, language)
	if name == "" {
		return nil
	}
	return &Symbol{
		Name:       name,
		Type:       symType,
		StartLine:  int(n.StartPoint.Row) + 1,
		EndLine:    int(n.EndPoint.Row) + 1,
		DocComment: c.docCommentAbove(n, tree.Source, language),
	}
}

// docCommentAbove collects the run of line comments immediately above
// a node, walking backwards until a non-comment, non-blank line.
func (c *CodeChunker) docCommentAbove(n *Node, source []byte, language string) string {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}

	commentPrefix := "//"
	if language == "python" {
		commentPrefix = "#"
	}

	var commentLines []string
	pos := lineStart - 1
	for pos > 0 {
		prevLineEnd := pos
		pos--
		for pos > 0 && source[pos] != '\n' {
			pos--
		}
		prevLineStart := pos
		if pos > 0 {
			prevLineStart++
		}

		prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))
		if strings.HasPrefix(prevLine, commentPrefix) {
			commentLines = append([]string{strings.TrimPrefix(prevLine, commentPrefix)}, commentLines...)
			continue
		}
		if prevLine != "" {
			break
		}
	}

	if len(commentLines) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.Join(commentLines, "\n"))
}

// chunksFromNode emits one chunk for a symbol that fits the token
// budget, or a windowed split for one that does not.
func (c *CodeChunker) chunksFromNode(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string, now time.Time) []*Chunk {
	node := info.node
	rawContent := string(tree.Source[node.StartByte:node.EndByte])
	if info.symbol.DocComment != "" {
		rawContent = c.rawContentWithDoc(node, tree.Source, info.symbol.DocComment)
	}

	if estimateTokens(rawContent) <= c.options.MaxChunkTokens {
		return []*Chunk{c.newChunk(file, rawContent, fileContext, info.symbol.StartLine, info.symbol.EndLine, []*Symbol{info.symbol}, now)}
	}

	content := string(tree.Source[node.StartByte:node.EndByte])
	return c.splitByLines(content, info.symbol, file, fileContext, now, int(node.StartPoint.Row)+1)
}

// rawContentWithDoc extends a node's byte range upward to include its
// doc comment lines.
func (c *CodeChunker) rawContentWithDoc(n *Node, source []byte, docComment string) string {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	docLines := strings.Count(docComment, "\n") + 1
	for i := 0; i < docLines && lineStart > 0; i++ {
		lineStart--
		for lineStart > 0 && source[lineStart-1] != '\n' {
			lineStart--
		}
	}
	return string(source[lineStart:n.EndByte])
}

// splitByLines windows an oversized symbol into overlapping chunks.
// Each window gets a "_partN" sub-symbol; the first window also keeps
// the parent symbol so a search for the symbol name still lands on the
// split.
func (c *CodeChunker) splitByLines(content string, symbol *Symbol, file *FileInput, fileContext string, now time.Time, startLine int) []*Chunk {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return []*Chunk{}
	}

	// Line budgets from the token budget, assuming ~80 chars per line.
	maxLinesPerChunk := (c.options.MaxChunkTokens * TokensPerChar) / 80
	if maxLinesPerChunk < 20 {
		maxLinesPerChunk = 20
	}
	overlapLines := (c.options.OverlapTokens * TokensPerChar) / 80
	if overlapLines < 2 {
		overlapLines = 2
	}

	var chunks []*Chunk
	for i := 0; i < len(lines); {
		end := i + maxLinesPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		chunkStart := startLine + i
		chunkEnd := startLine + end - 1

		symbols := []*Symbol{{
			Name:      fmt.Sprintf("%s_part%d", symbol.Name, len(chunks)+1),
			Type:      symbol.Type,
			StartLine: chunkStart,
			EndLine:   chunkEnd,
		}}
		if len(chunks) == 0 {
			symbols = append(symbols, &Symbol{
				Name:      symbol.Name,
				Type:      symbol.Type,
				StartLine: symbol.StartLine,
				EndLine:   symbol.EndLine,
			})
		}

		ch := c.newChunk(file, chunkContent, fileContext, chunkStart, chunkEnd, symbols, now)
		chunks = append(chunks, ch)

		i = end - overlapLines
		if i <= 0 || end >= len(lines) {
			break
		}
	}
	return chunks
}

func (c *CodeChunker) newChunk(file *FileInput, rawContent, fileContext string, startLine, endLine int, symbols []*Symbol, now time.Time) *Chunk {
	return &Chunk{
		ID:          chunkID(file.Path, rawContent),
		FilePath:    file.Path,
		Content:     joinContext(fileContext, rawContent),
		RawContent:  rawContent,
		Context:     fileContext,
		ContentType: ContentTypeCode,
		Language:    file.Language,
		StartLine:   startLine,
		EndLine:     endLine,
		Symbols:     symbols,
		Metadata:    make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// fileContext builds the per-file preamble every chunk of the file
// shares: a path marker plus the package/import declarations. The
// marker gives the embedder the file's location, which plain symbol
// text lacks.
func (c *CodeChunker) fileContext(tree *Tree, file *FileInput) string {
	var parts []string
	switch file.Language {
	case "go":
		for _, node := range tree.Root.Children {
			if node.Type == "package_clause" {
				parts = append(parts, node.GetContent(tree.Source))
				break
			}
		}
		for _, node := range tree.Root.Children {
			if node.Type == "import_declaration" {
				parts = append(parts, node.GetContent(tree.Source))
			}
		}
	case "typescript", "tsx", "javascript", "jsx":
		for _, node := range tree.Root.Children {
			if node.Type == "import_statement" {
				parts = append(parts, node.GetContent(tree.Source))
			}
		}
	case "python":
		for _, node := range tree.Root.Children {
			if node.Type == "import_statement" || node.Type == "import_from_statement" {
				parts = append(parts, node.GetContent(tree.Source))
			}
		}
	}

	joined := strings.Join(parts, "\n\n")
	if file.Path == "" {
		return joined
	}

	marker := "// File: " + file.Path
	if file.Language == "python" {
		marker = "# File: " + file.Path
	}
	if joined == "" {
		return marker
	}
	return marker + "\n" + joined
}

// chunkByLines is the structure-free fallback for unsupported or
// unparseable files: fixed windows with overlap, typed as plain text.
func (c *CodeChunker) chunkByLines(file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	lines := strings.Split(content, "\n")
	const linesPerChunk = 128
	const overlapLines = 16

	var chunks []*Chunk
	now := time.Now()
	for i := 0; i < len(lines); {
		end := i + linesPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		chunks = append(chunks, &Chunk{
			ID:          chunkID(file.Path, chunkContent),
			FilePath:    file.Path,
			Content:     chunkContent,
			RawContent:  chunkContent,
			ContentType: ContentTypeText,
			Language:    file.Language,
			StartLine:   i + 1,
			EndLine:     end,
			Metadata:    make(map[string]string),
			CreatedAt:   now,
			UpdatedAt:   now,
		})

		i = end - overlapLines
		if i <= 0 || end >= len(lines) {
			break
		}
	}
	return chunks, nil
}

// chunkID derives a stable, content-addressed chunk identifier from
// (path, content). Identical content at a different position in the
// same file keeps its ID across line shifts; identical content in a
// different file gets a different ID.
func chunkID(filePath string, content string) string {
	contentHash := sha256.Sum256([]byte(content))
	input := fmt.Sprintf("%s:%s", filePath, hex.EncodeToString(contentHash[:])[:16])
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}

// estimateTokens approximates tokens at TokensPerChar bytes each.
func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}

func joinContext(context, rawContent string) string {
	if context == "" {
		return rawContent
	}
	return context + "\n\n" + rawContent
}
