package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withVault(t *testing.T, files map[string]string) string {
	t.Helper()
	tmpDir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, name), []byte(content), 0o644))
	}
	old := vaultFlag
	vaultFlag = tmpDir
	t.Cleanup(func() { vaultFlag = old })
	return tmpDir
}

func TestIndexCmd_BuildsSnapshot(t *testing.T) {
	// Given: a vault with one Markdown file
	withVault(t, map[string]string{
		"a.md": "# A\n\nContent for indexing.\n",
	})

	// When: running index
	cmd := newIndexCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	err := cmd.Execute()

	// Then: it reports success with doc counts
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Indexed 1 documents")
}
