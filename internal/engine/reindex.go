package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Aman-CERP/msrl/internal/embed"
	msrlerrors "github.com/Aman-CERP/msrl/internal/errors"
	"github.com/Aman-CERP/msrl/internal/markdown"
	"github.com/Aman-CERP/msrl/internal/scanner"
	"github.com/Aman-CERP/msrl/internal/snapshot"
	"github.com/Aman-CERP/msrl/internal/store"
)

// Reindex rebuilds the index per opts, guarded by a single-build mutex:
// wait=false fails fast with INDEX_BUSY while a build is running; wait=true
// blocks until the running build finishes, then always starts its own
// fresh build (no piggybacking on the build that was already running).
// Per spec.md §4.15/§5.
func (e *Engine) Reindex(ctx context.Context, opts ReindexOptions) (ReindexResult, error) {
	if !opts.Wait {
		if !e.buildMu.TryLock() {
			e.stateMu.Lock()
			started := e.build.startedAt
			e.stateMu.Unlock()
			return ReindexResult{}, msrlerrors.IndexBusy(started.UTC().Format(time.RFC3339Nano))
		}
	} else {
		e.buildMu.Lock()
	}
	defer e.buildMu.Unlock()

	e.stateMu.Lock()
	e.build = buildState{active: true, startedAt: time.Now()}
	e.stateMu.Unlock()
	defer func() {
		e.stateMu.Lock()
		e.build = buildState{}
		e.stateMu.Unlock()
	}()

	result, err := e.runBuild(ctx, opts)
	if err != nil {
		e.setLastErr(err)
		return ReindexResult{}, err
	}
	e.setLastErr(nil)
	return result, nil
}

// runBuild performs one full or incremental build, validates and
// activates the result, swaps it in, and prunes old snapshots. Assumes
// the build mutex is already held.
func (e *Engine) runBuild(ctx context.Context, opts ReindexOptions) (ReindexResult, error) {
	prefix := ""
	if opts.Scope == ScopePrefix {
		prefix = opts.Prefix
	}

	// The full vault is always scanned for diffing purposes: GetChangedDocs
	// needs to see every doc the store knows about to detect deletions
	// correctly, even when only a prefix-restricted subset will be rebuilt.
	files, known, err := e.scanVault(ctx)
	if err != nil {
		return ReindexResult{}, msrlerrors.IOError(e.cfg.VaultRoot, "scan", err)
	}

	cur := e.active.Load()

	var (
		manifest snapshot.Manifest
		buildErr error
	)

	id, stageDir, err := e.manager.CreateStagingDir()
	if err != nil {
		return ReindexResult{}, msrlerrors.Internal(fmt.Errorf("create staging dir: %w", err))
	}

	start := time.Now()

	if opts.Scope == ScopeFull || cur == nil {
		result, buildErr2 := e.builder.BuildFull(ctx, files, stageDir)
		buildErr = buildErr2
		if buildErr == nil {
			manifest = result.Manifest
			manifest.PreviousSnapshotID = e.currentSnapshotID(cur)
		}
	} else {
		changes, changedFiles, diffErr := e.diffAgainstSnapshot(ctx, cur, known, files, prefix)
		if diffErr != nil {
			_ = os.RemoveAll(stageDir)
			return ReindexResult{}, msrlerrors.Internal(diffErr)
		}
		if !opts.Force && len(changes.Added) == 0 && len(changes.Modified) == 0 && len(changes.Deleted) == 0 {
			_ = os.RemoveAll(stageDir)
			return ReindexResult{Completed: false, SnapshotID: e.currentSnapshotID(cur), Stats: e.currentStats(cur)}, nil
		}
		result, buildErr2 := e.builder.BuildIncremental(ctx, cur.snap.Dir, stageDir, cur.snap.Manifest, changes, changedFiles)
		buildErr = buildErr2
		if buildErr == nil {
			manifest = result.Manifest
			manifest.PreviousSnapshotID = cur.snap.ID
		}
	}

	if buildErr != nil {
		_ = os.RemoveAll(stageDir)
		return ReindexResult{}, msrlerrors.Internal(fmt.Errorf("build snapshot: %w", buildErr))
	}

	manifest.EmbeddingModel = e.embedder.ModelName()
	manifest.EmbeddingDimension = embed.Dimensions
	manifest.ShardCount = e.cfg.Sharding.ShardCount

	if err := e.manager.WriteManifest(stageDir, id, manifest, time.Since(start)); err != nil {
		_ = os.RemoveAll(stageDir)
		return ReindexResult{}, msrlerrors.Internal(fmt.Errorf("write manifest: %w", err))
	}
	if err := e.manager.Validate(stageDir); err != nil {
		_ = os.RemoveAll(stageDir)
		return ReindexResult{}, err
	}
	if err := e.manager.Activate(id); err != nil {
		return ReindexResult{}, msrlerrors.Internal(fmt.Errorf("activate snapshot: %w", err))
	}

	snap, err := e.manager.Load(id)
	if err != nil {
		return ReindexResult{}, msrlerrors.Wrap(msrlerrors.KindIndexCorrupt, err)
	}
	e.installSnapshot(snap)

	if err := e.manager.CleanupOldSnapshots(snapshot.RetainCount); err != nil {
		e.log.Warn("cleanup old snapshots", "error", err)
	}

	return ReindexResult{Completed: true, SnapshotID: id, Stats: manifest.Stats}, nil
}

func (e *Engine) currentSnapshotID(cur *loaded) string {
	if cur == nil {
		return ""
	}
	return cur.snap.ID
}

func (e *Engine) currentStats(cur *loaded) snapshot.Stats {
	if cur == nil {
		return snapshot.Stats{}
	}
	return cur.snap.Manifest.Stats
}

// scanVault walks the whole vault and returns both the builder's
// FileSource view and a docUri->DocState map computed with the same hash
// the builder uses for a document's content, so GetChangedDocs's hash
// comparison is meaningful rather than spuriously flagging every file as
// modified.
func (e *Engine) scanVault(ctx context.Context) ([]snapshot.FileSource, map[string]store.DocState, error) {
	results, err := e.scanner.Scan(ctx, &scanner.ScanOptions{RootDir: e.cfg.VaultRoot, RespectGitignore: true})
	if err != nil {
		return nil, nil, err
	}

	var files []snapshot.FileSource
	known := make(map[string]store.DocState)

	for r := range results {
		if r.Error != nil {
			continue
		}
		f := r.File

		raw, readErr := os.ReadFile(f.AbsPath)
		if readErr != nil {
			continue
		}
		hash := hashNormalized(raw)

		files = append(files, snapshot.FileSource{
			DocURI:  f.DocURI,
			AbsPath: f.AbsPath,
			Mtime:   f.MtimeMs(),
			Size:    f.Size,
		})
		known[f.DocURI] = store.DocState{Mtime: f.MtimeMs(), Hash: hash}
	}

	return files, known, nil
}

// hashNormalized mirrors the builder's content hash (sha256 of
// markdown.Normalize(raw)) so change detection compares like with like.
func hashNormalized(raw []byte) string {
	sum := sha256.Sum256([]byte(markdown.Normalize(raw)))
	return hex.EncodeToString(sum[:])
}

// diffAgainstSnapshot diffs the current scan against the active
// snapshot's store. known and files always cover the whole vault (see
// scanVault) so GetChangedDocs sees every doc the store tracks; when
// prefix is set, the resulting change lists are narrowed to it afterward
// so an unrelated doc outside the prefix is never rebuilt or reported as
// deleted.
func (e *Engine) diffAgainstSnapshot(ctx context.Context, cur *loaded, known map[string]store.DocState,
	files []snapshot.FileSource, prefix string) (store.ChangeSet, map[string]snapshot.FileSource, error) {

	changes, err := cur.snap.Store.GetChangedDocs(ctx, known)
	if err != nil {
		return store.ChangeSet{}, nil, err
	}

	if prefix != "" {
		changes.Deleted = filterPrefix(changes.Deleted, prefix)
		changes.Added = filterPrefix(changes.Added, prefix)
		changes.Modified = filterPrefix(changes.Modified, prefix)
	}

	changedFiles := make(map[string]snapshot.FileSource, len(changes.Added)+len(changes.Modified))
	byURI := make(map[string]snapshot.FileSource, len(files))
	for _, f := range files {
		byURI[f.DocURI] = f
	}
	for _, uri := range append(append([]string{}, changes.Added...), changes.Modified...) {
		if f, ok := byURI[uri]; ok {
			changedFiles[uri] = f
		}
	}

	return changes, changedFiles, nil
}

func filterPrefix(uris []string, prefix string) []string {
	out := uris[:0:0]
	for _, u := range uris {
		if strings.HasPrefix(u, prefix) {
			out = append(out, u)
		}
	}
	return out
}
