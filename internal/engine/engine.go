package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/msrl/internal/config"
	"github.com/Aman-CERP/msrl/internal/embed"
	msrlerrors "github.com/Aman-CERP/msrl/internal/errors"
	"github.com/Aman-CERP/msrl/internal/preflight"
	"github.com/Aman-CERP/msrl/internal/scanner"
	"github.com/Aman-CERP/msrl/internal/search"
	"github.com/Aman-CERP/msrl/internal/snapshot"
	"github.com/Aman-CERP/msrl/internal/telemetry"
	"github.com/Aman-CERP/msrl/internal/watcher"
)

// snapshotGracePeriod bounds how long a swapped-out snapshot is kept open
// for in-flight readers before Close, per spec.md §5.
const snapshotGracePeriod = 5 * time.Second

// Engine is the top-level orchestrator: it owns the embedder, the
// snapshot manager/builder, the active snapshot+pipeline pair, and the
// optional file watcher, and exposes the lifecycle API described in
// spec.md §4.15. Grounded on the option-holding, narrow-API shape of
// the teacher's own search.Engine, generalized to the new snapshot/
// pipeline split.
type Engine struct {
	cfg      *config.Config
	log      *slog.Logger
	manager  *snapshot.Manager
	builder  *snapshot.Builder
	embedder embed.Embedder
	scanner  *scanner.Scanner

	metrics      *telemetry.QueryMetrics
	metricsClose func() error

	active atomic.Pointer[loaded]

	buildMu   sync.Mutex
	stateMu   sync.Mutex
	build     buildState
	lastErr   error
	lastErrMu sync.Mutex

	watchMu      sync.Mutex
	watch        *watcher.HybridWatcher
	watchOpts    watcher.Options
	watchCancel  context.CancelFunc
	watchEnabled bool

	closeOnce sync.Once
}

// New validates cfg, constructs the embedder and snapshot manager/builder,
// recovers or builds the initial snapshot, and starts the watcher if
// cfg.Watcher.Enabled. This is spec.md's create(config).
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, msrlerrors.InvalidArgument("config", "", "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, msrlerrors.InvalidArgument("config", "", err.Error())
	}
	if log == nil {
		log = slog.Default()
	}

	if err := runPreflightChecks(ctx, cfg, log); err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sc, err := scanner.New()
	if err != nil {
		embedder.Close()
		return nil, msrlerrors.Internal(fmt.Errorf("create scanner: %w", err))
	}

	builder := snapshot.NewBuilder(cfg, embedder)
	manager := snapshot.NewManager(cfg.SnapshotDir, builder)
	manager.MaxCachedShards = cfg.Faiss.MaxCachedShards

	metrics, metricsClose, err := newQueryMetrics(cfg.SnapshotDir)
	if err != nil {
		log.Warn("query telemetry disabled", "error", err)
	}

	e := &Engine{
		cfg:          cfg,
		log:          log,
		manager:      manager,
		builder:      builder,
		embedder:     embedder,
		scanner:      sc,
		metrics:      metrics,
		metricsClose: metricsClose,
	}

	snap, err := manager.RecoverOnStartup()
	if err != nil {
		embedder.Close()
		return nil, msrlerrors.Wrap(msrlerrors.KindIndexCorrupt, err)
	}

	if snap != nil {
		e.installSnapshot(snap)
	} else {
		log.Info("no prior snapshot found, running initial full build")
		if _, err := e.Reindex(ctx, ReindexOptions{Wait: true, Force: true, Scope: ScopeFull}); err != nil {
			e.setLastErr(err)
			log.Error("initial build failed", "error", err)
		}
	}

	if cfg.Watcher.Enabled {
		if err := e.SetWatch(ctx, WatchOptions{Enabled: true, DebounceMs: cfg.Watcher.DebounceMs}); err != nil {
			log.Warn("failed to start watcher", "error", err)
		}
	}

	return e, nil
}

// newEmbedder constructs the engine's embedder: a StaticEmbedder wrapped
// in an LRU cache, optionally preceded by a model-file bootstrap when the
// config names a model path to fetch (see internal/embed's ModelManager;
// no live transformer-backed Embedder is wired in this build, so the
// downloaded file is not currently consumed by any Embed call).
func newEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	if cfg.Embedding.ModelPath != "" {
		mm := embed.NewModelManager(cfg.Embedding.ModelPath)
		if !mm.ModelExists() {
			if _, err := mm.EnsureModel(ctx, nil); err != nil {
				return nil, msrlerrors.Wrap(msrlerrors.KindModelDownloadFailed, err)
			}
		}
	}

	base := embed.NewStaticEmbedder()
	return embed.NewCachedEmbedder(base, defaultEmbedCacheSize), nil
}

const defaultEmbedCacheSize = 10000

// installSnapshot builds a fresh pipeline for snap and publishes the pair
// as the active reference, closing out the previous pair after a grace
// period so in-flight readers can finish against it.
func (e *Engine) installSnapshot(snap *snapshot.Snapshot) {
	pipeline := search.NewRetrievalPipeline(e.embedder, snap.Outline, snap, snap.Store, snap.BM25, e.cfg.VaultRoot)
	pipeline.TopNodes = search.DefaultTopNodes
	pipeline.MaxShards = e.cfg.Sharding.MaxShardsPerQuery
	pipeline.Merger = search.NewSpanMerger(e.cfg.Retrieval.SpanMergeGapThreshold)
	if scorer, err := search.NewHybridScorer(e.cfg.Retrieval.VectorWeight, e.cfg.Retrieval.BM25Weight); err == nil {
		pipeline.Scorer = scorer
	}

	next := &loaded{snap: snap, pipeline: pipeline}
	prev := e.active.Swap(next)
	if prev != nil {
		old := prev
		time.AfterFunc(snapshotGracePeriod, func() {
			if err := old.snap.Close(); err != nil {
				e.log.Warn("closing superseded snapshot", "error", err)
			}
		})
	}
}

func (e *Engine) setLastErr(err error) {
	e.lastErrMu.Lock()
	e.lastErr = err
	e.lastErrMu.Unlock()
}

func (e *Engine) getLastErr() error {
	e.lastErrMu.Lock()
	defer e.lastErrMu.Unlock()
	return e.lastErr
}

// Shutdown stops the watcher, closes the active snapshot (after its
// grace period has no further meaning since no new queries can arrive),
// and releases the embedder. Per spec.md §4.15.
func (e *Engine) Shutdown(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		e.watchMu.Lock()
		_ = e.stopWatchLocked()
		e.watchMu.Unlock()

		if cur := e.active.Swap(nil); cur != nil {
			if closeErr := cur.snap.Close(); closeErr != nil {
				err = closeErr
			}
		}

		if closeErr := e.embedder.Close(); closeErr != nil && err == nil {
			err = closeErr
		}

		if e.metricsClose != nil {
			if closeErr := e.metricsClose(); closeErr != nil && err == nil {
				err = closeErr
			}
		}
	})
	return err
}
