package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncCmd_AcceptsOptionalPath(t *testing.T) {
	cmd := NewRootCmd()

	syncCmd, _, err := cmd.Find([]string{"sync"})
	require.NoError(t, err)
	assert.NotNil(t, syncCmd)

	cmd2 := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd2.SetOut(buf)
	cmd2.SetErr(buf)
	cmd2.SetArgs([]string{"sync", "arg1", "arg2"})

	err = cmd2.Execute()
	require.Error(t, err, "should reject more than 1 argument")
}

func TestSyncCmd_HasOfflineAndForceFlags(t *testing.T) {
	cmd := NewRootCmd()
	syncCmd, _, err := cmd.Find([]string{"sync"})
	require.NoError(t, err)

	assert.NotNil(t, syncCmd.Flags().Lookup("offline"))
	assert.NotNil(t, syncCmd.Flags().Lookup("force"))
}
