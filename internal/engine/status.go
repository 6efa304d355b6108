package engine

// GetStatus reports the engine's current lifecycle state, the active
// snapshot's identity and stats, and the watcher's configuration. Per
// spec.md §4.15.
func (e *Engine) GetStatus() Status {
	e.stateMu.Lock()
	building := e.build.active
	e.stateMu.Unlock()

	e.watchMu.Lock()
	watchStatus := WatchStatus{Enabled: e.watchEnabled, DebounceMs: int(e.watchOpts.DebounceWindow.Milliseconds())}
	e.watchMu.Unlock()

	lastErr := e.getLastErr()

	cur := e.active.Load()

	state := StateReady
	switch {
	case building:
		state = StateBuilding
	case lastErr != nil && cur == nil:
		state = StateError
	}

	status := Status{State: state, Watcher: watchStatus}
	if lastErr != nil {
		status.Error = lastErr.Error()
	}
	if cur != nil {
		status.SnapshotID = cur.snap.ID
		status.SnapshotTimestamp = cur.snap.Manifest.CreatedAt
		status.Stats = cur.snap.Manifest.Stats
	}
	if e.metrics != nil {
		status.Telemetry = e.metrics.Snapshot()
	}
	return status
}
