package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/msrl/internal/embed"
	msrlerrors "github.com/Aman-CERP/msrl/internal/errors"
)

// buildAndActivate drives a full build through a Manager's staging/validate/
// activate lifecycle, returning the published snapshot id.
func buildAndActivate(t *testing.T, m *Manager, vault string, files []FileSource) string {
	t.Helper()

	id, stageDir, err := m.CreateStagingDir()
	require.NoError(t, err)

	b := NewBuilder(nil, embed.NewStaticEmbedder())
	result, err := b.BuildFull(context.Background(), files, stageDir)
	require.NoError(t, err)

	require.NoError(t, m.WriteManifest(stageDir, id, result.Manifest, time.Millisecond))
	require.NoError(t, m.Validate(stageDir))
	require.NoError(t, m.Activate(id))
	return id
}

func TestManager_CreateValidateActivate_Roundtrip(t *testing.T) {
	root := t.TempDir()
	vault := t.TempDir()
	m := NewManager(root, nil)

	files := []FileSource{writeVaultFile(t, vault, "a.md", "# A\n\nContent for document a.\n")}
	id := buildAndActivate(t, m, vault, files)

	currentID, ok, err := m.CurrentID()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id, currentID)

	snap, err := m.Load(id)
	require.NoError(t, err)
	require.NotNil(t, snap)
	t.Cleanup(func() { _ = snap.Close() })

	assert.Equal(t, id, snap.ID)
	assert.Equal(t, ScopeFull, snap.Manifest.Scope)
}

func TestManager_ListSnapshots_OrdersNewestFirst(t *testing.T) {
	root := t.TempDir()
	vault := t.TempDir()
	m := NewManager(root, nil)

	files := []FileSource{writeVaultFile(t, vault, "a.md", "# A\n\nFirst document.\n")}
	first := buildAndActivate(t, m, vault, files)
	time.Sleep(2 * time.Millisecond)
	second := buildAndActivate(t, m, vault, files)

	ids, err := m.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, second, ids[0])
	assert.Equal(t, first, ids[1])
}

func TestManager_RecoverOnStartup_FallsBackToPriorValidSnapshot(t *testing.T) {
	root := t.TempDir()
	vault := t.TempDir()
	m := NewManager(root, nil)

	files := []FileSource{writeVaultFile(t, vault, "a.md", "# A\n\nFirst document body.\n")}
	goodID := buildAndActivate(t, m, vault, files)
	time.Sleep(2 * time.Millisecond)
	badID := buildAndActivate(t, m, vault, files)

	// Corrupt the newest (currently CURRENT) snapshot's metadata store.
	lay := layout(m.snapshotDir(badID))
	require.NoError(t, os.Remove(lay.metaPath))

	snap, err := m.RecoverOnStartup()
	require.NoError(t, err)
	require.NotNil(t, snap)
	t.Cleanup(func() { _ = snap.Close() })

	assert.Equal(t, goodID, snap.ID)

	currentID, ok, err := m.CurrentID()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, goodID, currentID, "CURRENT should be repointed to the recovered snapshot")
}

func TestManager_RecoverOnStartup_NoSnapshotsReturnsNil(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, nil)

	snap, err := m.RecoverOnStartup()
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestManager_RecoverOnStartup_RemovesStrayStagingDirs(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, nil)

	_, strayDir, err := m.CreateStagingDir()
	require.NoError(t, err)
	require.DirExists(t, strayDir)

	_, err = m.RecoverOnStartup()
	require.NoError(t, err)

	assert.NoDirExists(t, strayDir)
}

func TestManager_Rollback_ActivatesPriorSnapshot(t *testing.T) {
	root := t.TempDir()
	vault := t.TempDir()
	m := NewManager(root, nil)

	files := []FileSource{writeVaultFile(t, vault, "a.md", "# A\n\nBody text.\n")}
	first := buildAndActivate(t, m, vault, files)
	time.Sleep(2 * time.Millisecond)
	buildAndActivate(t, m, vault, files)

	rolledBackTo, err := m.Rollback()
	require.NoError(t, err)
	assert.Equal(t, first, rolledBackTo)

	currentID, ok, err := m.CurrentID()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first, currentID)
}

func TestManager_Rollback_NoPriorSnapshotReturnsNotIndexed(t *testing.T) {
	root := t.TempDir()
	vault := t.TempDir()
	m := NewManager(root, nil)

	files := []FileSource{writeVaultFile(t, vault, "a.md", "# A\n\nOnly document.\n")}
	buildAndActivate(t, m, vault, files)

	_, err := m.Rollback()
	require.Error(t, err)
	assert.Equal(t, msrlerrors.KindNotIndexed, msrlerrors.GetKind(err))
}

func TestManager_CleanupOldSnapshots_KeepsCurrentAndNewest(t *testing.T) {
	root := t.TempDir()
	vault := t.TempDir()
	m := NewManager(root, nil)

	files := []FileSource{writeVaultFile(t, vault, "a.md", "# A\n\nShared content across builds.\n")}

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, buildAndActivate(t, m, vault, files))
		time.Sleep(2 * time.Millisecond)
	}

	require.NoError(t, m.CleanupOldSnapshots(2))

	remaining, err := m.ListSnapshots()
	require.NoError(t, err)

	assert.Contains(t, remaining, ids[len(ids)-1], "current snapshot must survive cleanup")
	assert.NotContains(t, remaining, ids[0], "oldest snapshot beyond keepCount should be removed")
	assert.LessOrEqual(t, len(remaining), 3)
}

func TestManager_Validate_ReportsMissingComponents(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, nil)

	id, stageDir, err := m.CreateStagingDir()
	require.NoError(t, err)

	manifest := Manifest{Scope: ScopeFull}
	require.NoError(t, m.WriteManifest(stageDir, id, manifest, time.Millisecond))

	err = m.Validate(stageDir)
	require.Error(t, err)
	assert.Equal(t, msrlerrors.KindIndexCorrupt, msrlerrors.GetKind(err))
}

func TestManager_SnapshotDirAndStagingDir_Naming(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root, nil)

	id, stageDir, err := m.CreateStagingDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "snapshots", id+buildingSuffix), stageDir)
	assert.Equal(t, filepath.Join(root, "snapshots", id), m.snapshotDir(id))
}
