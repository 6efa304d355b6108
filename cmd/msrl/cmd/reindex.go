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

type reindexOptions struct {
	wait   bool
	force  bool
	scope  string
	prefix string
}

func newReindexCmd() *cobra.Command {
	var opts reindexOptions

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rescan the vault and rebuild the index incrementally",
		Long: `Rescans the vault for added, modified, and deleted documents and
rebuilds only the affected shards and outline nodes, unless --scope=full
is given to force a clean rebuild from scratch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.wait, "wait", true, "Block until the build completes; false fails fast if one is already running")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Rebuild even if no changes are detected")
	cmd.Flags().StringVar(&opts.scope, "scope", "changed", "Rescan scope: changed, full, prefix")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "docUri prefix to restrict scope=prefix to")

	return cmd
}

func runReindex(ctx context.Context, cmd *cobra.Command, opts reindexOptions) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() { _ = e.Shutdown(ctx) }()

	scope := engine.ScopeChanged
	switch opts.scope {
	case "full":
		scope = engine.ScopeFull
	case "prefix":
		scope = engine.ScopePrefix
	case "changed", "":
	default:
		return fmt.Errorf("unknown --scope %q (want changed, full, or prefix)", opts.scope)
	}

	result, err := e.Reindex(ctx, engine.ReindexOptions{
		Wait:   opts.wait,
		Force:  opts.force,
		Scope:  scope,
		Prefix: opts.prefix,
	})
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}

	if !result.Completed {
		out.Status("", "No changes detected, index left unchanged")
		return nil
	}

	out.Successf("Reindexed: %d documents, %d leaves, %d shards (snapshot %s)",
		result.Stats.Docs, result.Stats.Leaves, result.Stats.Shards, result.SnapshotID)
	return nil
}
