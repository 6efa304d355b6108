// Package watcher implements the debounced filesystem watcher over a
// vault's Markdown files: fsnotify-backed with a polling fallback,
// coalescing rapid changes into batched add/change/unlink events.
package watcher

import (
	"context"
	"time"
)

// Operation is the internal (pre-coalescing) filesystem operation type.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a single raw filesystem event prior to debounce coalescing.
type FileEvent struct {
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// EventType is the public add/change/unlink taxonomy a watcher callback
// receives, per spec.md §4.13.
type EventType string

const (
	EventAdd    EventType = "add"
	EventChange EventType = "change"
	EventUnlink EventType = "unlink"
)

// Event is one coalesced, published filesystem change.
type Event struct {
	DocURI string
	Type   EventType
}

// Watcher defines the interface for vault filesystem watching.
type Watcher interface {
	// Start begins watching the given directory recursively. Runs until
	// Stop is called or ctx is cancelled.
	Start(ctx context.Context, path string) error

	// Stop cancels any pending debounce timer and releases the
	// subscription. Idempotent.
	Stop() error

	// Events returns a channel of batched, coalesced events.
	Events() <-chan []Event

	// Errors returns a channel of non-fatal watcher errors.
	Errors() <-chan error
}

// Options configures watcher behavior.
type Options struct {
	// DebounceWindow is the time to wait before emitting a coalesced
	// batch. Default 2000ms per spec.md §4.13; must be >= 100ms.
	DebounceWindow time.Duration

	// PollInterval is the interval for polling mode (fsnotify fallback).
	PollInterval time.Duration

	// EventBufferSize is the size of the batched-event channel buffer.
	EventBufferSize int

	// IgnorePatterns are additional gitignore-style exclusions beyond
	// .gitignore and the built-in defaults.
	IgnorePatterns []string
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  2000 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 1000,
	}
}

// MinDebounceWindow is the minimum configurable debounce window.
const MinDebounceWindow = 100 * time.Millisecond

// WithDefaults returns options with defaults applied for zero values, and
// clamps DebounceWindow to MinDebounceWindow.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.DebounceWindow < MinDebounceWindow {
		o.DebounceWindow = MinDebounceWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}
