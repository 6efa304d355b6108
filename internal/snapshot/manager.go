package snapshot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/msrl/internal/ann"
	msrlerrors "github.com/Aman-CERP/msrl/internal/errors"
	"github.com/Aman-CERP/msrl/internal/outline"
	"github.com/Aman-CERP/msrl/internal/store"
)

// RetainCount is the default number of past snapshots kept for rollback,
// per spec.md §4.14.
const RetainCount = 3

const buildingSuffix = ".building"

// Manager owns a vault's <snapshotRoot>/snapshots/ directory and the
// CURRENT pointer file: it stages builds, validates them, and publishes a
// validated build via an atomic rename plus a flock-protected pointer
// rewrite, grounded on the pointer-file/atomic-activation convention
// described in spec.md §6 and the teacher's IndexCheckpoint persistence
// style.
type Manager struct {
	SnapshotRoot    string
	Builder         *Builder
	MaxCachedShards int
}

// NewManager returns a Manager rooted at snapshotRoot (typically
// <vault>/.msrl).
func NewManager(snapshotRoot string, builder *Builder) *Manager {
	return &Manager{SnapshotRoot: snapshotRoot, Builder: builder, MaxCachedShards: DefaultMaxCachedShards}
}

func (m *Manager) snapshotsDir() string { return filepath.Join(m.SnapshotRoot, "snapshots") }
func (m *Manager) currentPath() string  { return filepath.Join(m.SnapshotRoot, "CURRENT") }
func (m *Manager) lockPath() string     { return filepath.Join(m.SnapshotRoot, ".lock") }

func (m *Manager) snapshotDir(id string) string  { return filepath.Join(m.snapshotsDir(), id) }
func (m *Manager) stagingDir(id string) string   { return m.snapshotDir(id) + buildingSuffix }
func (m *Manager) manifestPath(id string) string { return filepath.Join(m.snapshotDir(id), "manifest.json") }

// NewSnapshotID returns a sortable, collision-resistant snapshot
// identifier: a UTC timestamp plus a random suffix, so ListSnapshots can
// order by id alone.
func NewSnapshotID() (string, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate snapshot id suffix: %w", err)
	}
	return fmt.Sprintf("%s-%s", time.Now().UTC().Format("20060102T150405.000000000Z"), hex.EncodeToString(buf[:])), nil
}

// CreateStagingDir allocates a fresh <id>.building directory under
// snapshots/, never visible to queries until Activate renames it.
func (m *Manager) CreateStagingDir() (id, dir string, err error) {
	id, err = NewSnapshotID()
	if err != nil {
		return "", "", err
	}
	dir = m.stagingDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create staging dir: %w", err)
	}
	return id, dir, nil
}

// WriteManifest finalizes a build's manifest fields and persists it to the
// staged directory's manifest.json, atomically.
func (m *Manager) WriteManifest(stageDir, id string, manifest Manifest, buildDuration time.Duration) error {
	manifest.SnapshotID = id
	manifest.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	manifest.BuildDurationMs = buildDuration.Milliseconds()

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return writeFileAtomic(filepath.Join(stageDir, "manifest.json"), data, 0o644)
}

func readManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return manifest, nil
}

// Validate checks a snapshot directory's integrity: its manifest parses,
// meta.sqlite, bm25/ and outline/ are present, and its metadata store
// opens and answers a stats query. Shard files are not checked against
// the manifest. Returns an IndexCorrupt error on failure.
func (m *Manager) Validate(dir string) error {
	manifestPath := filepath.Join(dir, "manifest.json")
	manifest, err := readManifest(manifestPath)
	if err != nil {
		return msrlerrors.IndexCorrupt(filepath.Base(dir), "manifest unreadable: "+err.Error(), []string{"manifest.json"})
	}

	lay := layout(dir)
	var missing []string
	if _, err := os.Stat(lay.metaPath); err != nil {
		missing = append(missing, "meta.sqlite")
	}
	if !dirExists(lay.bm25Dir) {
		missing = append(missing, "bm25/")
	}
	if !dirExists(lay.outlineDir) {
		missing = append(missing, "outline/")
	}
	if len(missing) > 0 {
		return msrlerrors.IndexCorrupt(manifest.SnapshotID, "missing snapshot components", missing)
	}

	metaStore, err := store.NewSQLiteStore(lay.metaPath)
	if err != nil {
		return msrlerrors.IndexCorrupt(manifest.SnapshotID, "metadata store failed to open: "+err.Error(), nil)
	}
	defer metaStore.Close()

	if _, _, _, err := metaStore.Stats(context.Background()); err != nil {
		return msrlerrors.IndexCorrupt(manifest.SnapshotID, "metadata store stats query failed: "+err.Error(), nil)
	}

	return nil
}

// Activate publishes a staged (or already-named final) snapshot directory:
// renames <id>.building to <id> if still staged, then atomically repoints
// CURRENT under a file lock. Target latency is the single rename plus a
// small atomic write, independent of snapshot size.
func (m *Manager) Activate(id string) error {
	stageDir := m.stagingDir(id)
	finalDir := m.snapshotDir(id)

	if dirExists(stageDir) {
		if err := os.Rename(stageDir, finalDir); err != nil {
			return fmt.Errorf("activate snapshot %s: %w", id, err)
		}
	} else if !dirExists(finalDir) {
		return fmt.Errorf("activate snapshot %s: not found", id)
	}

	lock := flock.New(m.lockPath())
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire pointer lock: %w", err)
	}
	defer lock.Unlock()

	if err := writeFileAtomic(m.currentPath(), []byte(id), 0o644); err != nil {
		return fmt.Errorf("update CURRENT pointer: %w", err)
	}
	return nil
}

// CurrentID reads the CURRENT pointer file. Returns "", false if no
// snapshot has ever been activated.
func (m *Manager) CurrentID() (string, bool, error) {
	data, err := os.ReadFile(m.currentPath())
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// ListSnapshots returns activated (non-staged) snapshot ids, newest first.
func (m *Manager) ListSnapshots() ([]string, error) {
	entries, err := os.ReadDir(m.snapshotsDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) == buildingSuffix {
			continue
		}
		ids = append(ids, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// Load opens an activated snapshot's store, bm25 index, and outline index,
// wiring a lazily-loaded per-shard ANN cache.
func (m *Manager) Load(id string) (*Snapshot, error) {
	dir := m.snapshotDir(id)
	lay := layout(dir)

	manifest, err := readManifest(m.manifestPath(id))
	if err != nil {
		return nil, fmt.Errorf("read manifest for %s: %w", id, err)
	}

	metaStore, err := store.NewSQLiteStore(lay.metaPath)
	if err != nil {
		return nil, fmt.Errorf("open metadata store for %s: %w", id, err)
	}

	bm25, err := store.NewProseBM25Index(lay.bm25Dir)
	if err != nil {
		metaStore.Close()
		return nil, fmt.Errorf("open bm25 index for %s: %w", id, err)
	}

	var outlineIdx *outline.Index
	if dirExists(lay.outlineDir) {
		outlineIdx, err = outline.Load(lay.outlineDir)
		if err != nil {
			metaStore.Close()
			bm25.Close()
			return nil, fmt.Errorf("open outline index for %s: %w", id, err)
		}
	} else {
		outlineIdx = outline.New(outline.DefaultConfig())
	}

	shardCfg := ann.DefaultConfig(0)
	if m.Builder != nil {
		shardCfg = m.Builder.annConfig()
	}

	return newSnapshot(id, dir, manifest, metaStore, bm25, outlineIdx, lay.shardsDir, m.MaxCachedShards, shardCfg)
}

// RecoverOnStartup clears stray staged directories left by an interrupted
// build, then validates and loads the CURRENT snapshot. If CURRENT is
// missing or invalid, it falls back to the newest valid prior snapshot.
// Returns nil, nil if no valid snapshot exists (the "not indexed" state).
func (m *Manager) RecoverOnStartup() (*Snapshot, error) {
	if err := m.removeStrayStagingDirs(); err != nil {
		return nil, fmt.Errorf("clean stray staging dirs: %w", err)
	}

	candidates, err := m.ListSnapshots()
	if err != nil {
		return nil, err
	}

	currentID, hasCurrent, err := m.CurrentID()
	if err != nil {
		return nil, err
	}
	if hasCurrent {
		ordered := make([]string, 0, len(candidates))
		ordered = append(ordered, currentID)
		for _, id := range candidates {
			if id != currentID {
				ordered = append(ordered, id)
			}
		}
		candidates = ordered
	}

	for _, id := range candidates {
		dir := m.snapshotDir(id)
		if !dirExists(dir) {
			continue
		}
		if err := m.Validate(dir); err != nil {
			continue
		}
		snap, err := m.Load(id)
		if err != nil {
			continue
		}
		if id != currentID {
			_ = m.Activate(id)
		}
		return snap, nil
	}

	return nil, nil
}

func (m *Manager) removeStrayStagingDirs() error {
	entries, err := os.ReadDir(m.snapshotsDir())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() && filepath.Ext(e.Name()) == buildingSuffix {
			if err := os.RemoveAll(filepath.Join(m.snapshotsDir(), e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// Rollback activates the next-most-recent valid snapshot before the
// current one.
func (m *Manager) Rollback() (string, error) {
	currentID, hasCurrent, err := m.CurrentID()
	if err != nil {
		return "", err
	}

	ids, err := m.ListSnapshots()
	if err != nil {
		return "", err
	}

	// ids is newest first: only snapshots listed after CURRENT are older.
	start := 0
	if hasCurrent {
		for i, id := range ids {
			if id == currentID {
				start = i + 1
				break
			}
		}
	}

	for _, id := range ids[start:] {
		if err := m.Validate(m.snapshotDir(id)); err != nil {
			continue
		}
		if err := m.Activate(id); err != nil {
			return "", err
		}
		return id, nil
	}
	return "", msrlerrors.NotIndexed()
}

// CleanupOldSnapshots removes activated snapshots beyond the newest
// keepCount (default RetainCount), always preserving CURRENT.
func (m *Manager) CleanupOldSnapshots(keepCount int) error {
	if keepCount <= 0 {
		keepCount = RetainCount
	}

	ids, err := m.ListSnapshots()
	if err != nil {
		return err
	}
	currentID, _, _ := m.CurrentID()

	kept := 0
	for _, id := range ids {
		if kept < keepCount || id == currentID {
			kept++
			continue
		}
		if err := os.RemoveAll(m.snapshotDir(id)); err != nil {
			return fmt.Errorf("remove old snapshot %s: %w", id, err)
		}
	}
	return nil
}
