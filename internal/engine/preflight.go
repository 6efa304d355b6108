package engine

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/msrl/internal/config"
	msrlerrors "github.com/Aman-CERP/msrl/internal/errors"
	"github.com/Aman-CERP/msrl/internal/preflight"
)

// runPreflightChecks validates disk space, memory, write permissions, and
// file descriptor limits before New does anything that touches the
// filesystem or the embedder. Results are cached behind a marker file in
// cfg.SnapshotDir so a healthy host isn't re-probed on every startup.
func runPreflightChecks(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.SnapshotDir == "" || preflight.NeedsCheck(cfg.SnapshotDir) {
		checker := preflight.New()
		results := checker.RunAll(ctx, cfg.VaultRoot)

		for _, r := range results {
			switch r.Status {
			case preflight.StatusFail:
				log.Error("preflight check failed", "check", r.Name, "message", r.Message)
			case preflight.StatusWarn:
				log.Warn("preflight check warning", "check", r.Name, "message", r.Message)
			}
		}

		if checker.HasCriticalFailures(results) {
			return msrlerrors.Wrap(msrlerrors.KindInvalidArgument, criticalPreflightError(results))
		}

		if cfg.SnapshotDir != "" {
			if err := preflight.MarkPassed(cfg.SnapshotDir); err != nil {
				log.Warn("failed to write preflight marker", "error", err)
			}
		}
	}

	return nil
}

type criticalPreflightErr struct {
	failures []string
}

func (e *criticalPreflightErr) Error() string {
	msg := "preflight checks failed:"
	for _, f := range e.failures {
		msg += " " + f + ";"
	}
	return msg
}

func criticalPreflightError(results []preflight.CheckResult) error {
	var failures []string
	for _, r := range results {
		if r.IsCritical() {
			failures = append(failures, r.Name+": "+r.Message)
		}
	}
	return &criticalPreflightErr{failures: failures}
}
