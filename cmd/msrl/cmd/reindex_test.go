package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReindexCmd_NoChangesReportsUnchanged(t *testing.T) {
	// Given: an already-indexed vault with no subsequent changes
	withVault(t, map[string]string{
		"a.md": "# A\n\nStable content.\n",
	})

	indexCmd := newIndexCmd()
	indexCmd.SetOut(&bytes.Buffer{})
	require.NoError(t, indexCmd.Execute())

	// When: running reindex with the default (changed) scope
	cmd := newReindexCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)

	err := cmd.Execute()

	// Then: it reports no changes
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No changes detected")
}

func TestReindexCmd_RejectsUnknownScope(t *testing.T) {
	// Given: an indexed vault
	withVault(t, map[string]string{
		"a.md": "# A\n\nContent.\n",
	})

	indexCmd := newIndexCmd()
	indexCmd.SetOut(&bytes.Buffer{})
	require.NoError(t, indexCmd.Execute())

	// When: running reindex with an invalid scope
	cmd := newReindexCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--scope", "bogus"})

	err := cmd.Execute()

	// Then: it rejects the flag
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown --scope")
}
