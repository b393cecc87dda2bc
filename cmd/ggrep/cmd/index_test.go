package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/lease"
	"github.com/ggrep/ggrep/internal/snapshot"
)

func TestIndexCmd_PublishesSnapshot(t *testing.T) {
	testDir := t.TempDir()
	createTestProject(t, testDir)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index", testDir})

	err := cmd.Execute()

	require.NoError(t, err)
	assert.True(t, snapshotExists(testDir), "index should publish a snapshot, same as sync")
}

func TestIndexCmd_ReportsProgress(t *testing.T) {
	testDir := t.TempDir()
	createTestProject(t, testDir)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index", testDir})

	err := cmd.Execute()

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "published snapshot", "Should report the published snapshot")
}

func TestIndexCmd_FailsOnNonExistentPath(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index", "/nonexistent/path"})

	err := cmd.Execute()

	assert.Error(t, err)
}

func TestIndexCmd_DefaultsToCurrentDirectory(t *testing.T) {
	testDir := t.TempDir()
	createTestProject(t, testDir)

	oldCwd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldCwd) }()

	err = os.Chdir(testDir)
	require.NoError(t, err)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index"})

	err = cmd.Execute()

	require.NoError(t, err)
	assert.True(t, snapshotExists(testDir))
}

func TestIndexCmd_IndexesGoFiles(t *testing.T) {
	testDir := t.TempDir()
	createTestProject(t, testDir)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index", testDir})

	err := cmd.Execute()

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "file", "Should report files indexed")
}

func TestIndexCmd_IndexesMarkdownFiles(t *testing.T) {
	testDir := t.TempDir()
	createTestProjectWithMarkdown(t, testDir)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index", testDir})

	err := cmd.Execute()

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "published snapshot", "Should report the published snapshot")
}

func TestIndexCmd_RespectsGitignore(t *testing.T) {
	testDir := t.TempDir()
	createTestProjectWithGitignore(t, testDir)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index", testDir})

	err := cmd.Execute()

	require.NoError(t, err)
}

// Helper functions to create test projects

func createTestProject(t *testing.T, dir string) {
	t.Helper()

	config := `embeddings:
  provider: static
`
	err := os.WriteFile(filepath.Join(dir, ".ggrep.yaml"), []byte(config), 0644)
	require.NoError(t, err)

	goMod := `module testproject

go 1.21
`
	err = os.WriteFile(filepath.Join(dir, "go.mod"), []byte(goMod), 0644)
	require.NoError(t, err)

	mainGo := `package main

import "fmt"

func main() {
	fmt.Println("Hello, World!")
}

func helper() string {
	return "helper function"
}
`
	err = os.WriteFile(filepath.Join(dir, "main.go"), []byte(mainGo), 0644)
	require.NoError(t, err)
}

func createTestProjectWithMarkdown(t *testing.T, dir string) {
	t.Helper()

	createTestProject(t, dir)

	readme := `# Test Project

## Overview

This is a test project for indexing.

## Features

- Feature 1
- Feature 2
`
	err := os.WriteFile(filepath.Join(dir, "README.md"), []byte(readme), 0644)
	require.NoError(t, err)
}

func createTestProjectWithGitignore(t *testing.T, dir string) {
	t.Helper()

	createTestProject(t, dir)

	gitignore := `*.log
build/
`
	err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0644)
	require.NoError(t, err)

	err = os.Mkdir(filepath.Join(dir, "build"), 0755)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(dir, "build", "output.go"), []byte("package build"), 0644)
	require.NoError(t, err)
}

func TestIndexCmd_StealsStaleLeaseWithForce(t *testing.T) {
	testDir := t.TempDir()
	createTestProject(t, testDir)

	cfg, err := config.Load(testDir)
	require.NoError(t, err)
	id := resolveIdentity(cfg, testDir)
	layout := snapshot.NewLayout(cfg.Store.BaseDir, id.StoreID)
	require.NoError(t, os.MkdirAll(layout.LocksDir(), 0o700))

	// A lease left behind by a writer that stopped heartbeating an hour ago.
	staleLease := lease.Lease{
		OwnerID:         "crashed-writer",
		PID:             1,
		Hostname:        "elsewhere",
		StartedAt:       time.Now().Add(-time.Hour),
		LastHeartbeatAt: time.Now().Add(-time.Hour),
		LeaseEpoch:      3,
		LeaseTTLMs:      1000,
	}
	data, err := json.Marshal(staleLease)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(layout.LocksDir(), "writer_lease.json"), data, 0o600))

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index", "--force", testDir})

	err = cmd.Execute()
	require.NoError(t, err)
}
