package chunk

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageRegistry maps language names and file extensions to their
// grammar configuration and tree-sitter language. The set of
// registered grammars is part of the chunker version: adding one
// changes chunk boundaries, which changes config_fingerprint.
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig
	extToLang   map[string]string
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry returns a registry with the built-in grammar
// set: Go, TypeScript/TSX, JavaScript/JSX, Python.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}
	for _, reg := range builtinLanguages() {
		r.register(reg.config, reg.lang)
	}
	return r
}

// GetByExtension resolves a file extension (with or without the dot,
// any case) to its language configuration.
func (r *LanguageRegistry) GetByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	langName, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	config, ok := r.configs[langName]
	return config, ok
}

// GetByName resolves a language name to its configuration.
func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.configs[name]
	return config, ok
}

// GetTreeSitterLanguage resolves a language name to its grammar.
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// SupportedExtensions lists every registered extension.
func (r *LanguageRegistry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	return exts
}

func (r *LanguageRegistry) register(config *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[config.Name] = config
	r.tsLanguages[config.Name] = tsLang
	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

type languageRegistration struct {
	config *LanguageConfig
	lang   *sitter.Language
}

// variantOf clones a config under a new name/extension set; TSX and
// JSX share their base language's node-type tables.
func variantOf(base *LanguageConfig, name string, extensions ...string) *LanguageConfig {
	clone := *base
	clone.Name = name
	clone.Extensions = extensions
	return &clone
}

func builtinLanguages() []languageRegistration {
	goConfig := &LanguageConfig{
		Name:          "go",
		Extensions:    []string{".go"},
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_declaration"},
		// Go has no classes; interfaces surface as type_declaration.
		TypeDefTypes:  []string{"type_declaration"},
		ConstantTypes: []string{"const_declaration"},
		VariableTypes: []string{"var_declaration"},
		NameField:     "name",
	}

	tsConfig := &LanguageConfig{
		Name:           "typescript",
		Extensions:     []string{".ts"},
		FunctionTypes:  []string{"function_declaration"},
		MethodTypes:    []string{"method_definition"},
		ClassTypes:     []string{"class_declaration"},
		InterfaceTypes: []string{"interface_declaration"},
		TypeDefTypes:   []string{"type_alias_declaration"},
		ConstantTypes:  []string{"lexical_declaration"}, // const, let
		VariableTypes:  []string{"variable_declaration"},
		NameField:      "name",
	}

	jsConfig := &LanguageConfig{
		Name:          "javascript",
		Extensions:    []string{".js", ".mjs"},
		FunctionTypes: []string{"function_declaration", "function"},
		MethodTypes:   []string{"method_definition"},
		ClassTypes:    []string{"class_declaration"},
		ConstantTypes: []string{"lexical_declaration"},
		VariableTypes: []string{"variable_declaration"},
		NameField:     "name",
	}

	pyConfig := &LanguageConfig{
		Name:          "python",
		Extensions:    []string{".py"},
		FunctionTypes: []string{"function_definition"},
		// Methods are function_definition nested under class_definition;
		// they are classified as functions, like top-level defs.
		ClassTypes:    []string{"class_definition"},
		VariableTypes: []string{"assignment"},
		NameField:     "name",
	}

	return []languageRegistration{
		{goConfig, golang.GetLanguage()},
		{tsConfig, typescript.GetLanguage()},
		{variantOf(tsConfig, "tsx", ".tsx"), tsx.GetLanguage()},
		{jsConfig, javascript.GetLanguage()},
		{variantOf(jsConfig, "jsx", ".jsx"), javascript.GetLanguage()},
		{pyConfig, python.GetLanguage()},
	}
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the shared process-wide registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
