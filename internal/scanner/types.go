// Package scanner enumerates the eligible file set of a repository:
// the files the change detector is allowed to consider for indexing.
// Eligibility is the intersection of path filters (defaults, config
// patterns, gitignore hierarchy), the sensitive-name denylist, the
// per-file size cap, and a binary sniff.
package scanner

import (
	"time"

	"github.com/ggrep/ggrep/internal/config"
)

// ContentType classifies what a file holds, which downstream selects
// the chunker (code vs markdown) and the ranking bucket.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
	ContentTypeConfig   ContentType = "config"
)

// FileInfo is one eligible file as the walk saw it. Path is relative
// to the repository root even for submodule members; AbsPath is the
// path the walk actually opened.
type FileInfo struct {
	Path        string
	AbsPath     string
	Size        int64
	ModTime     time.Time
	ContentType ContentType
	Language    string
	IsGenerated bool
}

// ScanOptions configures one enumeration.
type ScanOptions struct {
	// RootDir is the tree to enumerate; empty means the current
	// directory.
	RootDir string

	// IncludePatterns restricts the result to matching files when
	// non-empty. ExcludePatterns always applies.
	IncludePatterns []string
	ExcludePatterns []string

	// RespectGitignore consults the repository's .gitignore hierarchy.
	// Per-user global ignore files are never consulted.
	RespectGitignore bool

	// Workers sizes the result channel buffer; 0 means NumCPU.
	Workers int

	// MaxFileSize in bytes; 0 applies DefaultMaxFileSize.
	MaxFileSize int64

	// FollowSymlinks admits symlinked files. Off by default: the
	// change detector does its own symlink-escape verification and a
	// skipped link here is the safe default.
	FollowSymlinks bool

	// ProgressFunc, when set, receives (scanned, total) updates.
	ProgressFunc func(scanned, total int)

	// Submodules enables walking initialized git submodules. Nil or
	// disabled means the superproject only.
	Submodules *config.SubmoduleConfig
}

// ScanResult carries either a file or an in-band walk error.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// DefaultMaxFileSize is the hard per-file inclusion cap.
const DefaultMaxFileSize = 10 * 1024 * 1024

// languageMap maps file extensions to programming languages.
var languageMap = map[string]string{
	// Go
	".go": "go",

	// JavaScript/TypeScript
	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".ts":  "typescript",
	".tsx": "typescript",

	// Python
	".py":  "python",
	".pyw": "python",
	".pyi": "python",

	// Web
	".html": "html",
	".htm":  "html",
	".css":  "css",
	".scss": "scss",
	".sass": "sass",
	".less": "less",

	// Data/Config
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".xml":   "xml",
	".ini":   "ini",
	".conf":  "config",
	".properties": "properties",

	// Documentation
	".md":       "markdown",
	".mdx":      "markdown",
	".markdown": "markdown",
	".rst":      "rst",
	".txt":      "text",

	// Shell
	".sh":   "shell",
	".bash": "shell",
	".zsh":  "shell",
	".fish": "fish",

	// Ruby
	".rb":   "ruby",
	".rake": "ruby",
	".erb":  "erb",

	// Rust
	".rs": "rust",

	// Java/Kotlin
	".java": "java",
	".kt":   "kotlin",
	".kts":  "kotlin",

	// C/C++
	".c":   "c",
	".h":   "c",
	".cpp": "cpp",
	".hpp": "cpp",
	".cc":  "cpp",
	".cxx": "cpp",

	// C#
	".cs": "csharp",

	// Swift
	".swift": "swift",

	// PHP
	".php": "php",

	// Scala
	".scala": "scala",

	// Elixir/Erlang
	".ex":  "elixir",
	".exs": "elixir",
	".erl": "erlang",

	// Haskell
	".hs": "haskell",

	// Lua
	".lua": "lua",

	// R
	".r": "r",
	".R": "r",

	// SQL
	".sql": "sql",

	// Docker
	"Dockerfile": "dockerfile",

	// Makefile
	"Makefile":     "makefile",
	"makefile":     "makefile",
	"GNUmakefile":  "makefile",

	// Other
	".vue":   "vue",
	".svelte": "svelte",
	".graphql": "graphql",
	".gql":   "graphql",
	".proto": "protobuf",
}

// contentTypeMap maps languages to content types.
var contentTypeMap = map[string]ContentType{
	// Code
	"go":         ContentTypeCode,
	"javascript": ContentTypeCode,
	"typescript": ContentTypeCode,
	"python":     ContentTypeCode,
	"ruby":       ContentTypeCode,
	"rust":       ContentTypeCode,
	"java":       ContentTypeCode,
	"kotlin":     ContentTypeCode,
	"c":          ContentTypeCode,
	"cpp":        ContentTypeCode,
	"csharp":     ContentTypeCode,
	"swift":      ContentTypeCode,
	"php":        ContentTypeCode,
	"scala":      ContentTypeCode,
	"elixir":     ContentTypeCode,
	"erlang":     ContentTypeCode,
	"haskell":    ContentTypeCode,
	"lua":        ContentTypeCode,
	"r":          ContentTypeCode,
	"sql":        ContentTypeCode,
	"shell":      ContentTypeCode,
	"fish":       ContentTypeCode,
	"erb":        ContentTypeCode,
	"vue":        ContentTypeCode,
	"svelte":     ContentTypeCode,
	"graphql":    ContentTypeCode,
	"protobuf":   ContentTypeCode,
	"html":       ContentTypeCode,
	"css":        ContentTypeCode,
	"scss":       ContentTypeCode,
	"sass":       ContentTypeCode,
	"less":       ContentTypeCode,

	// Markdown
	"markdown": ContentTypeMarkdown,
	"rst":      ContentTypeMarkdown,

	// Text
	"text": ContentTypeText,

	// Config
	"json":       ContentTypeConfig,
	"yaml":       ContentTypeConfig,
	"toml":       ContentTypeConfig,
	"xml":        ContentTypeConfig,
	"ini":        ContentTypeConfig,
	"config":     ContentTypeConfig,
	"properties": ContentTypeConfig,
	"dockerfile": ContentTypeConfig,
	"makefile":   ContentTypeConfig,
}

// DetectLanguage maps a path to a language tag. Exact basenames win
// over extensions so "Makefile" is not mistaken for extensionless
// unknown. Unknown paths return "".
func DetectLanguage(path string) string {
	base := baseName(path)
	if lang, ok := languageMap[base]; ok {
		return lang
	}
	if lang, ok := languageMap[extension(path)]; ok {
		return lang
	}
	return ""
}

// DetectContentType maps a language tag to its ContentType bucket,
// defaulting to plain text for anything unmapped.
func DetectContentType(language string) ContentType {
	if ct, ok := contentTypeMap[language]; ok {
		return ct
	}
	return ContentTypeText
}

// baseName avoids filepath.Base so forward and backward separators
// both work on path keys that were normalized elsewhere.
func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

func extension(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
		if path[i] == '/' || path[i] == '\\' {
			break
		}
	}
	return ""
}
