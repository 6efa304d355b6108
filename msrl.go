// Package msrl is the embeddable entry point for hosts that want hybrid
// search over a Markdown vault without talking to the CLI: it re-exports
// internal/engine's lifecycle API at the package root.
package msrl

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/msrl/internal/config"
	"github.com/Aman-CERP/msrl/internal/engine"
	"github.com/Aman-CERP/msrl/internal/telemetry"
)

// Config is the engine's configuration, per spec.md §6.
type Config = config.Config

// Engine is the top-level orchestrator: it owns the embedder, the
// snapshot manager/builder, the active snapshot+pipeline pair, and the
// optional file watcher.
type Engine = engine.Engine

type (
	State          = engine.State
	ReindexScope   = engine.ReindexScope
	ReindexOptions = engine.ReindexOptions
	ReindexResult  = engine.ReindexResult
	WatchOptions   = engine.WatchOptions
	WatchStatus    = engine.WatchStatus
	Status         = engine.Status
	QueryParams    = engine.QueryParams
	QueryResult    = engine.QueryResult
	SearchResult   = engine.SearchResult

	QueryMetricsSnapshot = telemetry.QueryMetricsSnapshot
)

const (
	StateReady    = engine.StateReady
	StateBuilding = engine.StateBuilding
	StateError    = engine.StateError

	ScopeChanged = engine.ScopeChanged
	ScopeFull    = engine.ScopeFull
	ScopePrefix  = engine.ScopePrefix
)

// NewConfig returns a Config with spec.md §6's defaults.
func NewConfig() *Config {
	return config.NewConfig()
}

// LoadConfig loads a vault's config file, layered over defaults and
// environment overrides, per internal/config.Load.
func LoadConfig(vaultRoot string) (*Config, error) {
	return config.Load(vaultRoot)
}

// New creates an Engine over cfg: it validates the config, recovers or
// builds the initial snapshot, and starts the watcher if configured.
// The returned Engine must be closed with Shutdown.
func New(ctx context.Context, cfg *Config, log *slog.Logger) (*Engine, error) {
	return engine.New(ctx, cfg, log)
}
