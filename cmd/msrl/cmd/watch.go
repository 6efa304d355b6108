package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/msrl/internal/engine"
	"github.com/Aman-CERP/msrl/internal/output"
)

func newWatchCmd() *cobra.Command {
	var debounceMs int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the vault and keep the index up to date",
		Long: `Starts the file watcher and blocks, triggering an incremental
reindex for each debounced batch of filesystem changes, until
interrupted (Ctrl-C).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd, debounceMs)
		},
	}

	cmd.Flags().IntVar(&debounceMs, "debounce-ms", 0, "Debounce window in milliseconds (0 = config default)")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, debounceMs int) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if debounceMs == 0 {
		debounceMs = cfg.Watcher.DebounceMs
	}
	cfg.Watcher.Enabled = false // started explicitly below, after the engine is up

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() { _ = e.Shutdown(context.Background()) }()

	if err := e.SetWatch(ctx, engine.WatchOptions{Enabled: true, DebounceMs: debounceMs}); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	out.Statusf("👀", "Watching %s (debounce %dms); press Ctrl-C to stop", cfg.VaultRoot, debounceMs)
	<-ctx.Done()
	out.Status("", "Stopping watcher")
	return nil
}
