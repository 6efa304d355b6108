package engine

import (
	"context"
	"time"

	"github.com/Aman-CERP/msrl/internal/watcher"
)

// SetWatch starts or stops the file watcher. Changing the debounce window
// while running restarts the watcher with the new window. Watcher state
// is not persisted: the next New(ctx, cfg) call re-reads cfg.Watcher.
// Per spec.md §4.15.
func (e *Engine) SetWatch(ctx context.Context, opts WatchOptions) error {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()

	if !opts.Enabled {
		e.watchEnabled = false
		return e.stopWatchLocked()
	}

	debounce := time.Duration(opts.DebounceMs) * time.Millisecond
	if e.watch != nil && e.watchOpts.DebounceWindow == debounce {
		e.watchEnabled = true
		return nil
	}

	if err := e.stopWatchLocked(); err != nil {
		return err
	}

	watchOpts := watcher.Options{DebounceWindow: debounce}.WithDefaults()
	w, err := watcher.NewHybridWatcher(watchOpts)
	if err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	if err := w.Start(watchCtx, e.cfg.VaultRoot); err != nil {
		cancel()
		return err
	}

	e.watch = w
	e.watchOpts = watchOpts
	e.watchCancel = cancel
	e.watchEnabled = true

	go e.pumpWatchEvents(watchCtx, w)

	return nil
}

// pumpWatchEvents triggers a background, queued reindex for each
// debounced batch of filesystem events. Failures are logged, never
// surfaced as a crash, per spec.md §7's watcher-triggered-reindex
// recovery rule.
func (e *Engine) pumpWatchEvents(ctx context.Context, w *watcher.HybridWatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.Events():
			if !ok {
				return
			}
			if len(batch) == 0 {
				continue
			}
			if _, err := e.Reindex(ctx, ReindexOptions{Wait: true, Scope: ScopeChanged}); err != nil {
				e.log.Warn("watcher-triggered reindex failed", "error", err, "events", len(batch))
			}
		case err, ok := <-w.Errors():
			if !ok {
				continue
			}
			e.log.Warn("watcher error", "error", err)
		}
	}
}

// stopWatchLocked stops and clears the current watcher, if any. Callers
// must hold watchMu.
func (e *Engine) stopWatchLocked() error {
	if e.watch == nil {
		return nil
	}
	if e.watchCancel != nil {
		e.watchCancel()
	}
	err := e.watch.Stop()
	e.watch = nil
	e.watchCancel = nil
	return err
}
