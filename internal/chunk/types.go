// Package chunk turns file bytes into ordered, line-anchored chunks;
// the units the snapshot writer fingerprints, embeds, and stores as
// rows. Chunk boundaries are deterministic for identical input bytes;
// everything downstream (chunk_hash, chunk_id, the embedding cache)
// depends on that.
package chunk

import (
	"context"
	"time"
)

// Sizing defaults. Token counts are approximated at four bytes per
// token; the embedder applies its real tokenizer cap on top.
const (
	DefaultMaxChunkTokens = 512
	DefaultOverlapTokens  = 64
	MinChunkTokens        = 100
	TokensPerChar         = 4
)

// ContentType mirrors the scanner's classification for the subset of
// types that have a chunker.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
)

// Chunk is one retrievable fragment of a file. StartLine/EndLine are
// 1-indexed and inclusive; they anchor query results back to source.
// Content is what gets embedded (symbol text plus leading context);
// RawContent is the symbol text alone.
type Chunk struct {
	ID          string
	FilePath    string
	Content     string
	RawContent  string
	Context     string
	ContentType ContentType
	Language    string
	StartLine   int
	EndLine     int
	Symbols     []*Symbol
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FileInput is one file handed to a Chunker.
type FileInput struct {
	Path     string
	Content  []byte
	Language string
}

// Chunker maps file bytes to an ordered chunk list. Implementations
// must be deterministic: the same bytes always produce the same chunks
// in the same order.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)

	// SupportedExtensions lists the file extensions this chunker
	// accepts.
	SupportedExtensions() []string
}

// SymbolType classifies an extracted definition.
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// Symbol is a named definition found while parsing; ranking boosts
// chunks that carry definitions.
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
}

// Tree is a parsed syntax tree decoupled from the tree-sitter
// bindings, so chunker logic and tests never touch cgo-adjacent types.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node mirrors the fields of a tree-sitter node the chunkers consume.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point is a 0-indexed row/column source position.
type Point struct {
	Row    uint32
	Column uint32
}

// LanguageConfig names the grammar node types that mark each symbol
// kind for one language, so the extractor stays table-driven instead
// of switching on language names.
type LanguageConfig struct {
	Name       string
	Extensions []string

	FunctionTypes  []string
	ClassTypes     []string
	InterfaceTypes []string
	MethodTypes    []string
	TypeDefTypes   []string
	ConstantTypes  []string
	VariableTypes  []string

	// NameField is the child node type carrying the symbol's name.
	NameField string
}
