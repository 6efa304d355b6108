package msrl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndexesAndServesAQuery(t *testing.T) {
	// Given: a vault with one Markdown file
	vault := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(vault, "a.md"),
		[]byte("# A\n\nContent exercising the root package facade.\n"),
		0o644,
	))

	cfg := NewConfig()
	cfg.VaultRoot = vault
	cfg.SnapshotDir = filepath.Join(vault, ".msrl")
	cfg.Watcher.Enabled = false

	ctx := context.Background()

	// When: constructing the engine through the facade
	e, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown(ctx) })

	// Then: it reaches StateReady and serves a query
	status := e.GetStatus()
	assert.Equal(t, StateReady, status.State)

	result, err := e.Query(ctx, QueryParams{Query: "facade"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.TookMs, int64(0))
}
