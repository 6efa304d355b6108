package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveVaultRoot_UsesVaultFlagWhenSet(t *testing.T) {
	// Given: --vault is set
	old := vaultFlag
	vaultFlag = "/some/vault"
	defer func() { vaultFlag = old }()

	// When: resolving
	root, err := resolveVaultRoot()

	// Then: the flag value wins
	require.NoError(t, err)
	assert.Equal(t, "/some/vault", root)
}

func TestResolveVaultRoot_FallsBackToCwd(t *testing.T) {
	// Given: no --vault flag and no .git ancestor
	old := vaultFlag
	vaultFlag = ""
	defer func() { vaultFlag = old }()

	tmpDir := t.TempDir()
	oldDir, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(oldDir) }()
	require.NoError(t, os.Chdir(tmpDir))

	// When: resolving
	root, err := resolveVaultRoot()

	// Then: falls back to the working directory
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	expected, err := filepath.EvalSymlinks(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, expected, resolved)
}

func TestLoadConfig_DefaultsSnapshotDirUnderVault(t *testing.T) {
	// Given: a vault with no config file
	old := vaultFlag
	tmpDir := t.TempDir()
	vaultFlag = tmpDir
	defer func() { vaultFlag = old }()

	// When: loading config
	cfg, err := loadConfig()

	// Then: VaultRoot and SnapshotDir default off the resolved root
	require.NoError(t, err)
	assert.Equal(t, tmpDir, cfg.VaultRoot)
	assert.Equal(t, filepath.Join(tmpDir, ".msrl"), cfg.SnapshotDir)
}

func TestCPUProfile_WritesFileAcrossPreAndPostRun(t *testing.T) {
	// Given: --cpuprofile pointed at a temp file
	old := cpuProfilePath
	cpuProfilePath = filepath.Join(t.TempDir(), "cpu.pprof")
	defer func() { cpuProfilePath = old }()

	// When: the persistent pre/post-run hooks bracket some work
	require.NoError(t, startProfiling(nil, nil))
	stopProfiling(nil, nil)

	// Then: a non-empty profile file was written
	info, err := os.Stat(cpuProfilePath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
