package chunk

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseSource(t *testing.T, language, source string) *Tree {
	t.Helper()
	p := NewParser()
	t.Cleanup(p.Close)

	tree, err := p.Parse(context.Background(), []byte(source), language)
	require.NoError(t, err)
	require.NotNil(t, tree.Root)
	return tree
}

func TestParser_Go(t *testing.T) {
	tree := parseSource(t, "go", `package main

import "fmt"

func main() {
	fmt.Println("hi")
}
`)
	assert.Equal(t, "source_file", tree.Root.Type)
	assert.Equal(t, "go", tree.Language)

	fns := tree.Root.FindAllByType("function_declaration")
	require.Len(t, fns, 1)
	assert.Contains(t, fns[0].GetContent(tree.Source), "func main()")
}

func TestParser_TypeScript(t *testing.T) {
	tree := parseSource(t, "typescript", `interface Shape {
	area(): number;
}

class Circle implements Shape {
	area(): number { return 3.14; }
}
`)
	assert.Len(t, tree.Root.FindAllByType("interface_declaration"), 1)
	assert.Len(t, tree.Root.FindAllByType("class_declaration"), 1)
}

func TestParser_JavaScript(t *testing.T) {
	tree := parseSource(t, "javascript", `function greet(name) {
	return "hello " + name;
}

class Greeter {}
`)
	assert.Len(t, tree.Root.FindAllByType("function_declaration"), 1)
	assert.Len(t, tree.Root.FindAllByType("class_declaration"), 1)
}

func TestParser_SyntaxErrorYieldsPartialTree(t *testing.T) {
	tree := parseSource(t, "go", `package main

func broken( {
`)
	// tree-sitter recovers; the tree exists and flags the error.
	assert.True(t, tree.Root.HasError)
}

func TestParser_UnsupportedLanguage(t *testing.T) {
	p := NewParser()
	defer p.Close()

	_, err := p.Parse(context.Background(), []byte("x"), "cobol")
	assert.Error(t, err)
}

func TestParser_Reuse(t *testing.T) {
	p := NewParser()
	defer p.Close()

	for _, src := range []struct{ lang, code string }{
		{"go", "package a\n\nfunc A() {}\n"},
		{"python", "def b():\n    pass\n"},
		{"go", "package c\n\nfunc C() {}\n"},
	} {
		tree, err := p.Parse(context.Background(), []byte(src.code), src.lang)
		require.NoError(t, err)
		require.NotNil(t, tree.Root)
	}
}

func TestNode_Helpers(t *testing.T) {
	tree := parseSource(t, "go", `package p

func One() {}

func Two() {}
`)
	// FindChildByType: first match among direct children.
	first := tree.Root.FindChildByType("function_declaration")
	require.NotNil(t, first)
	assert.Contains(t, first.GetContent(tree.Source), "One")

	// FindChildrenByType: all direct matches.
	all := tree.Root.FindChildrenByType("function_declaration")
	assert.Len(t, all, 2)

	// Walk with pruning: returning false skips a subtree.
	var visited int
	tree.Root.Walk(func(n *Node) bool {
		visited++
		return n.Type != "function_declaration"
	})
	assert.Greater(t, visited, 0)

	// GetContent bounds-checks.
	bogus := &Node{StartByte: 5, EndByte: 2}
	assert.Empty(t, bogus.GetContent(tree.Source))
}

func TestSymbolExtractor_Go(t *testing.T) {
	tree := parseSource(t, "go", `package store

// Store holds items.
type Store struct{}

// Get fetches an item.
func (s *Store) Get(key string) string { return "" }

func New() *Store { return &Store{} }

const Limit = 10
`)
	e := NewSymbolExtractor()
	symbols := e.Extract(tree, tree.Source)

	byName := map[string]*Symbol{}
	for _, s := range symbols {
		byName[s.Name] = s
	}

	require.Contains(t, byName, "Store")
	assert.Equal(t, SymbolTypeType, byName["Store"].Type)
	assert.Contains(t, byName["Store"].DocComment, "Store holds items")

	require.Contains(t, byName, "Get")
	assert.Equal(t, SymbolTypeMethod, byName["Get"].Type)
	assert.Contains(t, byName["Get"].Signature, "func (s *Store) Get(key string) string")

	require.Contains(t, byName, "New")
	assert.Equal(t, SymbolTypeFunction, byName["New"].Type)

	require.Contains(t, byName, "Limit")
	assert.Equal(t, SymbolTypeConstant, byName["Limit"].Type)
}

func TestSymbolExtractor_Python(t *testing.T) {
	tree := parseSource(t, "python", `class Engine:
    def start(self):
        return True

def standalone():
    return 1
`)
	e := NewSymbolExtractor()
	symbols := e.Extract(tree, tree.Source)

	byName := map[string]SymbolType{}
	for _, s := range symbols {
		byName[s.Name] = s.Type
	}
	assert.Equal(t, SymbolTypeClass, byName["Engine"])
	// Nested defs surface as functions; the chunker does not
	// re-classify them as methods.
	assert.Equal(t, SymbolTypeFunction, byName["start"])
	assert.Equal(t, SymbolTypeFunction, byName["standalone"])
}

func TestSymbolExtractor_TypeScriptAndJS(t *testing.T) {
	tsTree := parseSource(t, "typescript", `export interface Config {
	url: string;
}

export class Client {
	fetch(): void {}
}

export type Alias = string;
`)
	e := NewSymbolExtractor()
	byName := map[string]SymbolType{}
	for _, s := range e.Extract(tsTree, tsTree.Source) {
		byName[s.Name] = s.Type
	}
	assert.Equal(t, SymbolTypeInterface, byName["Config"])
	assert.Equal(t, SymbolTypeClass, byName["Client"])
	assert.Equal(t, SymbolTypeType, byName["Alias"])

	// The arrow-function reclassification lives in the chunker's
	// walk; the bare extractor still sees the declaration under its
	// grammar table. Both spellings must at least surface the name.
	jsTree := parseSource(t, "javascript", `const load = async () => {
	return fetch('/data');
};
`)
	var foundLoad bool
	for _, s := range e.Extract(jsTree, jsTree.Source) {
		if s.Name == "load" {
			foundLoad = true
		}
	}
	assert.True(t, foundLoad)
}

func TestSymbolExtractor_EmptyInputs(t *testing.T) {
	e := NewSymbolExtractor()
	assert.Empty(t, e.Extract(nil, nil))
	assert.Empty(t, e.Extract(&Tree{Language: "go"}, nil))
	assert.Empty(t, e.Extract(&Tree{Root: &Node{}, Language: "cobol"}, nil))
}

func TestLanguageRegistry_Lookups(t *testing.T) {
	r := NewLanguageRegistry()

	cases := map[string]string{
		".go":  "go",
		"go":   "go", // dotless form accepted
		".TS":  "typescript",
		".tsx": "tsx",
		".jsx": "jsx",
		".py":  "python",
		".mjs": "javascript",
	}
	for ext, want := range cases {
		cfg, ok := r.GetByExtension(ext)
		require.True(t, ok, "extension %s", ext)
		assert.Equal(t, want, cfg.Name, "extension %s", ext)
	}

	_, ok := r.GetByExtension(".cob")
	assert.False(t, ok)

	_, ok = r.GetByName("go")
	assert.True(t, ok)
	_, ok = r.GetTreeSitterLanguage("python")
	assert.True(t, ok)
	_, ok = r.GetTreeSitterLanguage("fortran")
	assert.False(t, ok)
}

func TestParser_ParsesQuickly(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("package perf\n\n")
	for i := 0; i < 250; i++ {
		sb.WriteString("func F")
		sb.WriteString(strings.Repeat("x", 3))
		sb.WriteString("() {\n\t_ = 1\n\t_ = 2\n}\n\n")
	}
	source := []byte(sb.String())

	p := NewParser()
	defer p.Close()

	start := time.Now()
	tree, err := p.Parse(context.Background(), source, "go")
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.NotNil(t, tree.Root)
	assert.Less(t, elapsed, 2*time.Second)
}
