package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/msrl/internal/gitignore"
)

// HybridWatcher implements Watcher using fsnotify as the primary mechanism
// with polling as a fallback, narrowed to the vault's Markdown files.
type HybridWatcher struct {
	fsWatcher      *fsnotify.Watcher
	pollWatcher    *PollingWatcher
	useFsnotify    bool
	debouncer      *Debouncer
	gitignore      *gitignore.Matcher
	events         chan []Event
	errors         chan error
	stopCh         chan struct{}
	rootPath       string
	opts           Options
	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

var _ Watcher = (*HybridWatcher)(nil)

// NewHybridWatcher creates a hybrid watcher with the given options,
// attempting fsnotify first and falling back to polling if unavailable.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()

	h := &HybridWatcher{
		debouncer: NewDebouncer(opts.DebounceWindow),
		gitignore: gitignore.New(),
		events:    make(chan []Event, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		opts:      opts,
	}

	for _, pattern := range opts.IgnorePatterns {
		h.gitignore.AddPattern(pattern)
	}
	h.gitignore.AddPattern(".msrl/")
	h.gitignore.AddPattern(".msrl/**")

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		h.fsWatcher = fsw
		h.useFsnotify = true
	} else {
		h.useFsnotify = false
		h.pollWatcher = NewPollingWatcher(opts.PollInterval)
	}

	return h, nil
}

// Start begins watching the given directory.
func (h *HybridWatcher) Start(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return fmt.Errorf("stat watch root: %w", err)
	}
	h.rootPath = absPath

	h.loadGitignore()

	go h.forwardDebouncedEvents(ctx)

	if h.useFsnotify {
		return h.startFsnotify(ctx)
	}
	return h.startPolling(ctx)
}

func (h *HybridWatcher) startFsnotify(ctx context.Context) error {
	if err := h.addRecursive(h.rootPath); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return nil
			}
			h.handleFsnotifyEvent(event)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

func (h *HybridWatcher) startPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-h.pollWatcher.Events():
				if !ok {
					return
				}
				if h.shouldIgnore(event.Path, event.IsDir) {
					continue
				}
				if filepath.Base(event.Path) == ".gitignore" {
					h.loadGitignore()
					continue
				}
				if !event.IsDir && !isMarkdownPath(event.Path) {
					continue
				}
				h.debouncer.Add(event)
			case err, ok := <-h.pollWatcher.Errors():
				if !ok {
					return
				}
				h.emitError(err)
			}
		}
	}()

	return h.pollWatcher.Start(ctx, h.rootPath)
}

func (h *HybridWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	relPath, err := filepath.Rel(h.rootPath, event.Name)
	if err != nil {
		relPath = event.Name
	}

	isDir := false
	if info, statErr := os.Stat(event.Name); statErr == nil {
		isDir = info.IsDir()
	}

	if h.shouldIgnore(relPath, isDir) {
		return
	}

	if filepath.Base(event.Name) == ".gitignore" {
		h.loadGitignore()
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir {
			_ = h.fsWatcher.Add(event.Name)
			return
		}
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		op = OpDelete
	default:
		return
	}

	if !isDir && !isMarkdownPath(relPath) {
		return
	}

	h.debouncer.Add(FileEvent{
		Path:      relPath,
		Operation: op,
		IsDir:     isDir,
		Timestamp: time.Now(),
	})
}

func isMarkdownPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".mdx":
		return true
	default:
		return false
	}
}

// forwardDebouncedEvents converts debounced raw FileEvent batches into the
// public add/change/unlink Event taxonomy and forwards them.
func (h *HybridWatcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case batch, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) == 0 {
				continue
			}
			h.emitEvents(toPublicEvents(batch))
		}
	}
}

func toPublicEvents(batch []FileEvent) []Event {
	out := make([]Event, 0, len(batch))
	for _, fe := range batch {
		if fe.IsDir {
			continue
		}
		var t EventType
		switch fe.Operation {
		case OpCreate:
			t = EventAdd
		case OpModify:
			t = EventChange
		case OpDelete:
			t = EventUnlink
		default:
			continue
		}
		out = append(out, Event{DocURI: filepath.ToSlash(fe.Path), Type: t})
	}
	return out
}

func (h *HybridWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		relPath, _ := filepath.Rel(h.rootPath, path)
		if relPath == "." {
			return h.fsWatcher.Add(path)
		}
		if h.shouldIgnoreDir(relPath) {
			return filepath.SkipDir
		}
		return h.fsWatcher.Add(path)
	})
}

func (h *HybridWatcher) shouldIgnoreDir(relPath string) bool {
	if strings.HasPrefix(relPath, ".git") || relPath == ".git" {
		return true
	}
	if strings.HasPrefix(relPath, ".msrl") || relPath == ".msrl" {
		return true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.gitignore.Match(relPath, true)
}

func (h *HybridWatcher) shouldIgnore(relPath string, isDir bool) bool {
	if relPath == "." || relPath == "" {
		return true
	}
	if strings.HasPrefix(relPath, ".git/") || relPath == ".git" {
		return true
	}
	if strings.HasPrefix(relPath, ".msrl/") || relPath == ".msrl" {
		return true
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.gitignore.Match(relPath, isDir)
}

func (h *HybridWatcher) loadGitignore() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.gitignore = gitignore.New()
	for _, pattern := range h.opts.IgnorePatterns {
		h.gitignore.AddPattern(pattern)
	}
	h.gitignore.AddPattern(".msrl/")
	h.gitignore.AddPattern(".msrl/**")

	gitignorePath := filepath.Join(h.rootPath, ".gitignore")
	if err := h.gitignore.AddFromFile(gitignorePath, ""); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load root .gitignore",
			slog.String("path", gitignorePath),
			slog.String("error", err.Error()))
	}

	_ = filepath.WalkDir(h.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("skipping directory in gitignore scan",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Name() == ".gitignore" && path != gitignorePath {
			base, _ := filepath.Rel(h.rootPath, filepath.Dir(path))
			if err := h.gitignore.AddFromFile(path, base); err != nil {
				slog.Warn("failed to read nested .gitignore",
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
		}
		return nil
	})
}

func (h *HybridWatcher) emitEvents(events []Event) {
	if len(events) == 0 {
		return
	}

	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case h.events <- events:
	default:
		count := h.droppedBatches.Add(1)
		slog.Warn("event buffer full, dropping batch",
			slog.Int("batch_size", len(events)),
			slog.Uint64("total_dropped_batches", count),
		)
	}
}

// DroppedBatches returns the number of event batches dropped due to buffer
// overflow.
func (h *HybridWatcher) DroppedBatches() uint64 {
	return h.droppedBatches.Load()
}

func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case h.errors <- err:
	default:
	}
}

// Stop cancels any pending debounce timer and releases the subscription.
// Safe to call multiple times.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.stopCh)

	h.debouncer.Stop()

	if h.useFsnotify && h.fsWatcher != nil {
		_ = h.fsWatcher.Close()
	}
	if h.pollWatcher != nil {
		_ = h.pollWatcher.Stop()
	}

	close(h.events)
	close(h.errors)
	return nil
}

// Events returns the channel of batched, coalesced events.
func (h *HybridWatcher) Events() <-chan []Event {
	return h.events
}

// Errors returns the channel of non-fatal watcher errors.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// IsHealthy returns true if the watcher is running and hasn't stopped.
func (h *HybridWatcher) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.stopped
}

// WatcherType returns "fsnotify" or "polling" depending on which
// mechanism is active.
func (h *HybridWatcher) WatcherType() string {
	if h.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// RootPath returns the root path being watched.
func (h *HybridWatcher) RootPath() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rootPath
}
