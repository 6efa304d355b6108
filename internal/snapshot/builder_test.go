package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/msrl/internal/embed"
	"github.com/Aman-CERP/msrl/internal/store"
)

func writeVaultFile(t *testing.T, dir, name, content string) FileSource {
	t.Helper()
	abs := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	info, err := os.Stat(abs)
	require.NoError(t, err)
	return FileSource{DocURI: name, AbsPath: abs, Mtime: info.ModTime().UnixMilli(), Size: info.Size()}
}

func newTestBuilder() *Builder {
	return NewBuilder(nil, embed.NewStaticEmbedder())
}

func TestBuilder_BuildFull_ParsesChunksAndEmbedsAllFiles(t *testing.T) {
	vault := t.TempDir()
	stage := t.TempDir()

	files := []FileSource{
		writeVaultFile(t, vault, "intro.md", "# Intro\n\nSome opening content about the project.\n\n## Details\n\nMore detail text here that should chunk into its own leaf.\n"),
		writeVaultFile(t, vault, "notes.md", "# Notes\n\nA second document with unrelated content entirely.\n"),
	}

	b := newTestBuilder()
	result, err := b.BuildFull(context.Background(), files, stage)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Manifest.Stats.Docs)
	assert.Equal(t, 0, result.Manifest.Stats.FilesFailed)
	assert.Greater(t, result.Manifest.Stats.Nodes, 0)
	assert.Greater(t, result.Manifest.Stats.Leaves, 0)
	assert.Len(t, result.Manifest.FileHashes, 2)

	lay := layout(stage)
	assert.DirExists(t, lay.bm25Dir)
	assert.DirExists(t, lay.outlineDir)
	assert.DirExists(t, lay.shardsDir)
	assert.FileExists(t, lay.metaPath)

	metaStore, err := store.NewSQLiteStore(lay.metaPath)
	require.NoError(t, err)
	defer metaStore.Close()

	docs, nodes, leaves, err := metaStore.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, docs)
	assert.Equal(t, result.Manifest.Stats.Nodes, nodes)
	assert.Equal(t, result.Manifest.Stats.Leaves, leaves)
}

func TestBuilder_BuildFull_SkipsUnreadableFileButContinues(t *testing.T) {
	vault := t.TempDir()
	stage := t.TempDir()

	good := writeVaultFile(t, vault, "ok.md", "# OK\n\nReadable content.\n")
	missing := FileSource{DocURI: "missing.md", AbsPath: filepath.Join(vault, "missing.md")}

	b := newTestBuilder()
	result, err := b.BuildFull(context.Background(), []FileSource{good, missing}, stage)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Manifest.Stats.Docs)
	assert.Equal(t, 1, result.Manifest.Stats.FilesFailed)
}

func TestBuilder_BuildIncremental_AppliesAddedModifiedAndDeleted(t *testing.T) {
	vault := t.TempDir()
	fullStage := t.TempDir()
	incStage := t.TempDir()

	keep := writeVaultFile(t, vault, "keep.md", "# Keep\n\nUnchanged content that stays as-is across the rebuild.\n")
	toModify := writeVaultFile(t, vault, "change.md", "# Change\n\nOriginal content before the edit.\n")
	toDelete := writeVaultFile(t, vault, "gone.md", "# Gone\n\nThis document will be removed.\n")

	b := newTestBuilder()
	fullResult, err := b.BuildFull(context.Background(), []FileSource{keep, toModify, toDelete}, fullStage)
	require.NoError(t, err)

	modified := writeVaultFile(t, vault, "change.md", "# Change\n\nRewritten content after the edit, longer than before.\n")
	added := writeVaultFile(t, vault, "new.md", "# New\n\nBrand new document added in the incremental build.\n")

	changes := store.ChangeSet{
		Added:    []string{added.DocURI},
		Modified: []string{modified.DocURI},
		Deleted:  []string{toDelete.DocURI},
	}
	changedFiles := map[string]FileSource{
		added.DocURI:    added,
		modified.DocURI: modified,
	}

	incResult, err := b.BuildIncremental(context.Background(), fullStage, incStage, fullResult.Manifest, changes, changedFiles)
	require.NoError(t, err)

	assert.Equal(t, 0, incResult.Manifest.Stats.FilesFailed)
	assert.Equal(t, 3, incResult.Manifest.Stats.Docs) // keep, change (modified), new (added); gone deleted

	lay := layout(incStage)
	metaStore, err := store.NewSQLiteStore(lay.metaPath)
	require.NoError(t, err)
	defer metaStore.Close()

	ctx := context.Background()
	_, found, err := metaStore.GetLeafText(ctx, "nonexistent-probe")
	require.NoError(t, err)
	assert.False(t, found)

	goneDoc, err := metaStore.GetDoc(ctx, toDelete.DocURI)
	require.NoError(t, err)
	assert.Nil(t, goneDoc, "deleted doc should no longer be tracked")

	newDoc, err := metaStore.GetDoc(ctx, added.DocURI)
	require.NoError(t, err)
	require.NotNil(t, newDoc)

	keptDoc, err := metaStore.GetDoc(ctx, keep.DocURI)
	require.NoError(t, err)
	require.NotNil(t, keptDoc)
}

func TestBuilder_RebuildShard_RemovesDirectoryWhenEmpty(t *testing.T) {
	stage := t.TempDir()
	b := newTestBuilder()

	shardsDir := filepath.Join(stage, "shards")
	require.NoError(t, os.MkdirAll(shardDir(shardsDir, 3), 0o755))

	require.NoError(t, b.rebuildShard(3, nil, shardsDir))
	assert.NoDirExists(t, shardDir(shardsDir, 3))
}
