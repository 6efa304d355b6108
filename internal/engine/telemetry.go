package engine

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/msrl/internal/telemetry"
	_ "modernc.org/sqlite"
)

// newQueryMetrics opens (creating if absent) a small SQLite-backed query
// metrics store under cfg.SnapshotDir, separate from the per-snapshot
// metadata stores in internal/store: telemetry tracks query patterns
// across the vault's whole lifetime, so it outlives any single snapshot
// swap. A failure here is non-fatal — the engine falls back to an
// in-memory-only collector rather than refusing to start.
func newQueryMetrics(snapshotDir string) (*telemetry.QueryMetrics, func() error, error) {
	if snapshotDir == "" {
		return telemetry.NewQueryMetrics(nil), func() error { return nil }, nil
	}

	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		return telemetry.NewQueryMetrics(nil), func() error { return nil }, fmt.Errorf("create snapshot dir: %w", err)
	}

	dbPath := filepath.Join(snapshotDir, "telemetry.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return telemetry.NewQueryMetrics(nil), func() error { return nil }, fmt.Errorf("open telemetry db: %w", err)
	}
	if err := telemetry.InitTelemetrySchema(db); err != nil {
		db.Close()
		return telemetry.NewQueryMetrics(nil), func() error { return nil }, fmt.Errorf("init telemetry schema: %w", err)
	}

	store, err := telemetry.NewSQLiteMetricsStore(db)
	if err != nil {
		db.Close()
		return telemetry.NewQueryMetrics(nil), func() error { return nil }, fmt.Errorf("create metrics store: %w", err)
	}

	qm := telemetry.NewQueryMetrics(store)
	closeFn := func() error {
		flushErr := qm.Close()
		dbErr := db.Close()
		if flushErr != nil {
			return flushErr
		}
		return dbErr
	}
	return qm, closeFn, nil
}

// recordQuery captures one query's telemetry event. The pipeline always
// runs a combined BM25 + vector search, so every query is classified as
// QueryTypeMixed; a query left empty by the caller (spec.md §8 invariant
// #12) is not recorded, since it never reaches the scorer.
func (e *Engine) recordQuery(query string, resultCount int, took time.Duration) {
	if e.metrics == nil || query == "" {
		return
	}
	e.metrics.Record(telemetry.QueryEvent{
		Query:       query,
		QueryType:   telemetry.QueryTypeMixed,
		ResultCount: resultCount,
		Latency:     took,
		Timestamp:   time.Now(),
	})
}
