package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_WriteReadRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "daemon.pid")
	p := NewPIDFile(path)
	assert.Equal(t, path, p.Path())

	// Missing file reads as the sentinel, not a generic error.
	_, err := p.Read()
	assert.ErrorIs(t, err, ErrPIDFileNotFound)

	require.NoError(t, p.Write(), "write creates parent directories")

	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, p.Remove())
	require.NoError(t, p.Remove(), "removing a removed file is fine")
	_, err = p.Read()
	assert.ErrorIs(t, err, ErrPIDFileNotFound)
}

func TestPIDFile_GarbageContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	p := NewPIDFile(path)
	_, err := p.Read()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrPIDFileNotFound)
	assert.False(t, p.IsRunning())
}

func TestPIDFile_IsRunning(t *testing.T) {
	p := NewPIDFile(filepath.Join(t.TempDir(), "daemon.pid"))

	assert.False(t, p.IsRunning(), "no file means no daemon")

	// Our own PID is certainly alive.
	require.NoError(t, p.Write())
	assert.True(t, p.IsRunning())

	// A stale file naming a dead process reads as not running.
	require.NoError(t, os.WriteFile(p.Path(), []byte("999999"), 0o644))
	assert.False(t, p.IsRunning())
}
