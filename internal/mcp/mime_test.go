package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMimeTypeForPath(t *testing.T) {
	cases := map[string]string{
		// Extensions, including nested paths and case folding.
		"main.go":             "text/x-go",
		"internal/q/query.GO": "text/x-go",
		"app.tsx":             "text/typescript",
		"script.mjs":          "text/javascript",
		"model.py":            "text/x-python",
		"config.yaml":         "text/x-yaml",
		"data.json":           "application/json",
		"README.md":           "text/markdown",
		"schema.sql":          "text/x-sql",
		"lib.rs":              "text/x-rust",

		// Exact filenames beat extension logic.
		"Dockerfile":        "text/x-dockerfile",
		"deploy/Dockerfile": "text/x-dockerfile",
		"Makefile":          "text/x-makefile",
		"Gemfile":           "text/x-ruby",
		"CMakeLists.txt":    "text/x-cmake",

		// Unknown falls back to plain text.
		"binary.xyz": "text/plain",
		"noext":      "text/plain",
	}
	for path, want := range cases {
		assert.Equal(t, want, MimeTypeForPath(path), "path %q", path)
	}
}
