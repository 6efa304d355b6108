package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/msrl/internal/engine"
	"github.com/Aman-CERP/msrl/internal/output"
	"github.com/Aman-CERP/msrl/internal/ui"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build (or rebuild) the vault's search index",
		Long: `Scans the vault for Markdown files, chunks and embeds them, and
writes a new immutable snapshot, replacing whatever snapshot is
currently active.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd)
		},
	}
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out.Statusf("", "Indexing %s", cfg.VaultRoot)

	renderer := ui.NewPlainRenderer(ui.Config{Output: cmd.OutOrStdout()})
	_ = renderer.Start(ctx)
	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: "scanning vault"})

	e, err := openEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() { _ = e.Shutdown(ctx) }()

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Message: "building snapshot"})
	start := time.Now()
	result, err := e.Reindex(ctx, engine.ReindexOptions{Wait: true, Force: true, Scope: engine.ScopeFull})
	if err != nil {
		return fmt.Errorf("index failed: %w", err)
	}
	renderer.Complete(ui.CompletionStats{
		Files:    result.Stats.Docs,
		Chunks:   result.Stats.Leaves,
		Duration: time.Since(start),
		Errors:   result.Stats.FilesFailed,
	})
	_ = renderer.Stop()

	out.Successf("Indexed %d documents into %d leaves across %d shards (snapshot %s)",
		result.Stats.Docs, result.Stats.Leaves, result.Stats.Shards, result.SnapshotID)
	if result.Stats.FilesFailed > 0 {
		out.Warningf("%d files failed to index; see logs for details", result.Stats.FilesFailed)
	}
	return nil
}
