package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/msrl/internal/engine"
	"github.com/Aman-CERP/msrl/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and status",
		Long: `Display the engine's lifecycle state, the active snapshot's
identity and stats, and the watcher's configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	e, err := openEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() { _ = e.Shutdown(ctx) }()

	status := e.GetStatus()
	info := statusInfoFrom(cfg.VaultRoot, status)

	noColor := ui.DetectNoColor()
	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor)

	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

// statusInfoFrom builds the status renderer's view model from the
// engine's Status and config.
func statusInfoFrom(vaultRoot string, status engine.Status) ui.StatusInfo {
	info := ui.StatusInfo{
		ProjectName:    vaultRoot,
		TotalFiles:     status.Stats.Docs,
		TotalChunks:    status.Stats.Leaves,
		EmbedderType:   "static",
		EmbedderStatus: "ready",
		WatcherStatus:  "stopped",
	}
	if status.Watcher.Enabled {
		info.WatcherStatus = "running"
	}
	if status.State == engine.StateError {
		info.EmbedderStatus = "error"
	}
	if t, err := time.Parse(time.RFC3339, status.SnapshotTimestamp); err == nil {
		info.LastIndexed = t
	}
	return info
}
