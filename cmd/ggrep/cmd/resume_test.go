package cmd

// Test coverage for the resume command

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggrep/ggrep/internal/session"
)

func TestResumeCmd_RequiresName(t *testing.T) {
	cmd := newResumeCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	assert.Error(t, cmd.Execute())
}

func TestResumeCmd_UnknownSession(t *testing.T) {
	isolateSessions(t)

	cmd := newResumeCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"missing"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestResumeCmd_OrphanedProject(t *testing.T) {
	mgr := isolateSessions(t)

	project := t.TempDir()
	sess, err := mgr.Open("orphan", project)
	require.NoError(t, err)
	require.NoError(t, session.SaveSession(sess))
	require.NoError(t, os.RemoveAll(project))

	cmd := newResumeCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"orphan"})

	err = cmd.Execute()
	require.Error(t, err)
	// The error must teach the cleanup, not just complain.
	assert.Contains(t, err.Error(), "no longer exists")
	assert.Contains(t, err.Error(), "sessions delete orphan")
}

func TestResumeCmd_Flags(t *testing.T) {
	cmd := newResumeCmd()
	transport := cmd.Flags().Lookup("transport")
	require.NotNil(t, transport)
	assert.Equal(t, "stdio", transport.DefValue)

	port := cmd.Flags().Lookup("port")
	require.NotNil(t, port)
	assert.Equal(t, "8765", port.DefValue)
}
