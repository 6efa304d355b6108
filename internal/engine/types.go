// Package engine wires the metadata store, indexes, snapshot lifecycle,
// retrieval pipeline, and file watcher into the single top-level API a
// host embeds: create, query, reindex, getStatus, setWatch, shutdown.
package engine

import (
	"time"

	"github.com/Aman-CERP/msrl/internal/search"
	"github.com/Aman-CERP/msrl/internal/snapshot"
	"github.com/Aman-CERP/msrl/internal/telemetry"
)

// State is the engine's coarse lifecycle state, per spec.md §4.15.
type State string

const (
	StateReady    State = "ready"
	StateBuilding State = "building"
	StateError    State = "error"
)

// ReindexScope selects which files a reindex considers.
type ReindexScope string

const (
	ScopeChanged ReindexScope = "changed"
	ScopeFull    ReindexScope = "full"
	ScopePrefix  ReindexScope = "prefix"
)

// ReindexOptions parameterizes a reindex call.
type ReindexOptions struct {
	// Wait selects queue-and-block (true; the CLI's --wait default) versus
	// fail-fast with INDEX_BUSY when a build is already running (false, the
	// zero value).
	Wait bool
	// Force rebuilds even if no changes are detected (scope=changed finds
	// nothing to do).
	Force bool
	// Scope selects changed (default), full, or prefix-restricted rescans.
	Scope ReindexScope
	// Prefix restricts scope=prefix to docUris with this prefix.
	Prefix string
}

// ReindexResult reports what a reindex call did.
type ReindexResult struct {
	Completed  bool
	SnapshotID string
	Stats      snapshot.Stats
}

// WatchStatus reports the watcher's current configuration.
type WatchStatus struct {
	Enabled     bool
	DebounceMs int
}

// Status is the engine's point-in-time health and index summary.
type Status struct {
	State             State
	SnapshotID        string
	SnapshotTimestamp string
	Stats             snapshot.Stats
	Watcher           WatchStatus
	Error             string
	Telemetry         *telemetry.QueryMetricsSnapshot
}

// WatchOptions parameterizes setWatch.
type WatchOptions struct {
	Enabled     bool
	DebounceMs int
}

// QueryParams is one query call's arguments, mirroring spec.md §6's
// query(params) request shape.
type QueryParams struct {
	Query           string
	TopK            int
	MaxExcerptChars int
	Filters         search.Filter
	IncludeShardsSearched bool
}

// SearchResult is one ranked, excerpted hit returned to the host.
type SearchResult struct {
	DocURI           string
	HeadingPath      string
	StartChar        int
	EndChar          int
	Excerpt          string
	ExcerptTruncated bool
	Score            float64
}

// QueryResult is the engine's query(params) return value.
type QueryResult struct {
	Results []SearchResult
	TookMs  int64
	ShardsSearched *int
}

// loaded pairs an activated snapshot with the pipeline built over it, so
// the two are always swapped together under one atomic reference.
type loaded struct {
	snap     *snapshot.Snapshot
	pipeline *search.RetrievalPipeline
}

// buildState tracks the single in-flight build, for getStatus and
// INDEX_BUSY reporting.
type buildState struct {
	active    bool
	startedAt time.Time
}
