package chunk

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkSource(t *testing.T, path, language, source string) []*Chunk {
	t.Helper()
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     path,
		Content:  []byte(source),
		Language: language,
	})
	require.NoError(t, err)
	return chunks
}

func TestCodeChunker_GoFunctionsBecomeChunks(t *testing.T) {
	chunks := chunkSource(t, "main.go", "go", `package main

import "fmt"

func Hello() {
	fmt.Println("Hello")
}

func Goodbye() {
	fmt.Println("Goodbye")
}
`)
	require.Len(t, chunks, 2)

	assert.Equal(t, "Hello", chunks[0].Symbols[0].Name)
	assert.Equal(t, SymbolTypeFunction, chunks[0].Symbols[0].Type)
	assert.Equal(t, "Goodbye", chunks[1].Symbols[0].Name)

	// Every chunk carries the file preamble: path marker, package,
	// imports.
	for _, ch := range chunks {
		assert.Contains(t, ch.Context, "// File: main.go")
		assert.Contains(t, ch.Context, "package main")
		assert.Contains(t, ch.Context, `import "fmt"`)
		assert.Contains(t, ch.Content, ch.RawContent)
	}
}

func TestCodeChunker_DocCommentsTravelWithSymbol(t *testing.T) {
	chunks := chunkSource(t, "greet.go", "go", `package greet

import "fmt"

// Greet returns a greeting for name.
func Greet(name string) string {
	return fmt.Sprintf("Hello, %s!", name)
}
`)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].RawContent, "Greet returns a greeting")
	assert.Contains(t, chunks[0].Symbols[0].DocComment, "Greet returns a greeting")
}

func TestCodeChunker_SymbolMetadataAndLineAnchors(t *testing.T) {
	chunks := chunkSource(t, "svc.go", "go", `package svc

func First() int {
	return 1
}

func Second() int {
	return 2
}
`)
	require.Len(t, chunks, 2)

	first := chunks[0]
	assert.Equal(t, 3, first.StartLine)
	assert.Equal(t, 5, first.EndLine)
	assert.Equal(t, "svc.go", first.FilePath)
	assert.Equal(t, ContentTypeCode, first.ContentType)
	assert.Equal(t, "go", first.Language)
	assert.NotNil(t, first.Metadata)
	assert.False(t, first.CreatedAt.IsZero())

	second := chunks[1]
	assert.Equal(t, 7, second.StartLine)
	assert.Equal(t, 9, second.EndLine)
}

func TestCodeChunker_GoMethodsTypesConstsVars(t *testing.T) {
	chunks := chunkSource(t, "store.go", "go", `package store

// MaxRetries bounds retry attempts.
const MaxRetries = 3

const (
	ModeFast = "fast"
	ModeSafe = "safe"
)

var DefaultTimeout = 30

type Store struct {
	items map[string]string
}

func (s *Store) Get(key string) string {
	return s.items[key]
}
`)

	byName := map[string]SymbolType{}
	for _, ch := range chunks {
		for _, sym := range ch.Symbols {
			byName[sym.Name] = sym.Type
		}
	}

	assert.Equal(t, SymbolTypeConstant, byName["MaxRetries"])
	assert.Equal(t, SymbolTypeConstant, byName["ModeFast"]) // group takes first name
	assert.Equal(t, SymbolTypeVariable, byName["DefaultTimeout"])
	assert.Equal(t, SymbolTypeType, byName["Store"])
	assert.Equal(t, SymbolTypeMethod, byName["Get"])
}

func TestCodeChunker_TypeScriptImportsAndInterfaces(t *testing.T) {
	chunks := chunkSource(t, "user-service.ts", "typescript", `import { Logger } from './logger';
import { Config } from './config';

export interface User {
	id: string;
	name: string;
}

export class UserService {
	getUser(id: string): User | null {
		return null;
	}
}
`)
	require.NotEmpty(t, chunks)

	var hasImportContext, hasInterface, hasClass bool
	for _, ch := range chunks {
		if strings.Contains(ch.Context, "import { Logger }") &&
			strings.Contains(ch.Context, "import { Config }") {
			hasImportContext = true
		}
		for _, sym := range ch.Symbols {
			if sym.Name == "User" && sym.Type == SymbolTypeInterface {
				hasInterface = true
			}
			if sym.Name == "UserService" && sym.Type == SymbolTypeClass {
				hasClass = true
			}
		}
	}
	assert.True(t, hasImportContext)
	assert.True(t, hasInterface)
	assert.True(t, hasClass)
}

func TestCodeChunker_JSArrowFunctionsAreFunctions(t *testing.T) {
	chunks := chunkSource(t, "handlers.js", "javascript", `const handleClick = (event) => {
	console.log(event);
};

const process = function(data) {
	return data.length;
};
`)

	byName := map[string]SymbolType{}
	for _, ch := range chunks {
		for _, sym := range ch.Symbols {
			byName[sym.Name] = sym.Type
		}
	}
	assert.Equal(t, SymbolTypeFunction, byName["handleClick"])
	assert.Equal(t, SymbolTypeFunction, byName["process"])
}

func TestCodeChunker_TypeScriptConstants(t *testing.T) {
	chunks := chunkSource(t, "consts.ts", "typescript", `export const API_URL = "https://example.com";

export const RETRY_LIMIT = 5;
`)

	var names []string
	for _, ch := range chunks {
		for _, sym := range ch.Symbols {
			names = append(names, sym.Name)
		}
	}
	assert.Contains(t, names, "API_URL")
	assert.Contains(t, names, "RETRY_LIMIT")
}

func TestCodeChunker_UnsupportedLanguageFallsBackToLines(t *testing.T) {
	source := `defmodule HelloWorld do
  def hello do
    IO.puts("Hello, World!")
  end
end
`
	chunks := chunkSource(t, "hello.ex", "elixir", source)
	require.NotEmpty(t, chunks)
	assert.Equal(t, ContentTypeText, chunks[0].ContentType)
	assert.Contains(t, chunks[0].Content, "defmodule HelloWorld")
	assert.Equal(t, 1, chunks[0].StartLine)
}

func TestCodeChunker_LargeSymbolSplitsWithParentSymbol(t *testing.T) {
	// Build a function far over the default token budget.
	var body strings.Builder
	body.WriteString("package big\n\nfunc Enormous() {\n")
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&body, "\tstep%04d := compute(%d) // widen the line to raise the token estimate\n", i, i)
	}
	body.WriteString("}\n")

	chunks := chunkSource(t, "big.go", "go", body.String())
	require.Greater(t, len(chunks), 1, "oversized symbol must split")

	// Windows are named Enormous_partN; the first window also carries
	// the parent so symbol search still finds the split function.
	var parentSeen bool
	for i, ch := range chunks {
		require.NotEmpty(t, ch.Symbols)
		assert.Contains(t, ch.Symbols[0].Name, "Enormous_part")
		for _, sym := range ch.Symbols {
			if sym.Name == "Enormous" {
				assert.Zero(t, i, "parent symbol belongs to the first window only")
				parentSeen = true
			}
		}
	}
	assert.True(t, parentSeen)

	// Consecutive windows overlap.
	for i := 1; i < len(chunks); i++ {
		assert.Less(t, chunks[i].StartLine, chunks[i-1].EndLine+1)
	}
}

func TestCodeChunker_EmptyAndSymbolFreeFiles(t *testing.T) {
	chunks := chunkSource(t, "empty.go", "go", "")
	assert.Empty(t, chunks)

	chunks = chunkSource(t, "decl.go", "go", "package onlydecl\n")
	assert.Empty(t, chunks)
}

func TestCodeChunker_IDStableAcrossLineShifts(t *testing.T) {
	fn := `func Target() string {
	return "anchored"
}`
	before := "package p\n\n" + fn + "\n"
	// The same function pushed down by a new leading function.
	after := "package p\n\nfunc Added() {}\n\n" + fn + "\n"

	chunksBefore := chunkSource(t, "p.go", "go", before)
	chunksAfter := chunkSource(t, "p.go", "go", after)

	idOf := func(chunks []*Chunk, symbol string) string {
		for _, ch := range chunks {
			for _, sym := range ch.Symbols {
				if sym.Name == symbol {
					return ch.ID
				}
			}
		}
		return ""
	}

	targetBefore := idOf(chunksBefore, "Target")
	targetAfter := idOf(chunksAfter, "Target")
	require.NotEmpty(t, targetBefore)
	assert.Equal(t, targetBefore, targetAfter,
		"unchanged content must keep its ID when its line number moves")
}

func TestCodeChunker_IDSensitivity(t *testing.T) {
	a := chunkSource(t, "a.go", "go", "package p\n\nfunc F() int { return 1 }\n")
	b := chunkSource(t, "a.go", "go", "package p\n\nfunc F() int { return 2 }\n")
	c := chunkSource(t, "c.go", "go", "package p\n\nfunc F() int { return 1 }\n")
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	require.Len(t, c, 1)

	assert.NotEqual(t, a[0].ID, b[0].ID, "different content, same file → different ID")
	assert.NotEqual(t, a[0].ID, c[0].ID, "same content, different file → different ID")
}

func TestCodeChunker_UniqueIDsWithinFile(t *testing.T) {
	chunks := chunkSource(t, "multi.go", "go", `package multi

func A() int { return 1 }

func B() int { return 2 }

func C() int { return 3 }
`)
	seen := map[string]bool{}
	for _, ch := range chunks {
		assert.False(t, seen[ch.ID], "duplicate chunk ID %s", ch.ID)
		seen[ch.ID] = true
	}
}

func TestCodeChunker_SupportedExtensions(t *testing.T) {
	chunker := NewCodeChunker()
	defer chunker.Close()

	exts := chunker.SupportedExtensions()
	for _, want := range []string{".go", ".ts", ".tsx", ".js", ".jsx", ".py"} {
		assert.Contains(t, exts, want)
	}
}

func TestCodeChunker_PythonClassAndFunctions(t *testing.T) {
	chunks := chunkSource(t, "model.py", "python", `import os

class Model:
    def load(self, path):
        return os.path.exists(path)

def helper():
    return 42
`)

	byName := map[string]SymbolType{}
	for _, ch := range chunks {
		assert.Contains(t, ch.Context, "# File: model.py")
		for _, sym := range ch.Symbols {
			byName[sym.Name] = sym.Type
		}
	}
	assert.Equal(t, SymbolTypeClass, byName["Model"])
	assert.Equal(t, SymbolTypeFunction, byName["helper"])
}

func BenchmarkCodeChunker_GoFile(b *testing.B) {
	var src strings.Builder
	src.WriteString("package bench\n\n")
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&src, "func Fn%02d() int {\n\treturn %d\n}\n\n", i, i)
	}
	content := []byte(src.String())

	chunker := NewCodeChunker()
	defer chunker.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := chunker.Chunk(context.Background(), &FileInput{
			Path: "bench.go", Content: content, Language: "go",
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}
