// Package cmd provides the CLI commands for msrl.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/msrl/internal/config"
	"github.com/Aman-CERP/msrl/internal/engine"
	"github.com/Aman-CERP/msrl/internal/logging"
	"github.com/Aman-CERP/msrl/internal/profiling"
	"github.com/Aman-CERP/msrl/pkg/version"
)

var (
	debugMode      bool
	vaultFlag      string
	cpuProfilePath string
	loggingCleanup func()
	profileCleanup func()
)

// NewRootCmd creates the root command for the msrl CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "msrl",
		Short: "Hybrid search over Markdown vaults",
		Long: `msrl indexes a directory of Markdown files and serves hybrid
BM25 + semantic search over it, with byte-exact excerpts and
hierarchical heading provenance.

Run 'msrl index' in a vault to build its snapshot, then
'msrl search "query"' to search it.`,
		Version: version.Version,
	}

	cmd.SetVersionTemplate("msrl version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.msrl/logs/")
	cmd.PersistentFlags().StringVar(&vaultFlag, "vault", "", "Vault root directory (default: nearest .git ancestor of cwd)")
	cmd.PersistentFlags().StringVar(&cpuProfilePath, "cpuprofile", "", "Write a CPU profile to this path before exiting")

	cmd.PersistentPreRunE = runPersistentPreRun
	cmd.PersistentPostRunE = runPersistentPostRun

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newReindexCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func runPersistentPreRun(cmd *cobra.Command, args []string) error {
	if err := startLogging(cmd, args); err != nil {
		return err
	}
	return startProfiling(cmd, args)
}

func runPersistentPostRun(cmd *cobra.Command, args []string) error {
	stopProfiling(cmd, args)
	return stopLogging(cmd, args)
}

func startLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if debugMode {
		logCfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

func startProfiling(_ *cobra.Command, _ []string) error {
	if cpuProfilePath == "" {
		return nil
	}
	cleanup, err := profiling.NewProfiler().StartCPU(cpuProfilePath)
	if err != nil {
		return fmt.Errorf("start cpu profile: %w", err)
	}
	profileCleanup = cleanup
	return nil
}

func stopProfiling(_ *cobra.Command, _ []string) {
	if profileCleanup != nil {
		profileCleanup()
		profileCleanup = nil
	}
}

// resolveVaultRoot returns --vault if set, else the nearest .git ancestor
// of the working directory, else the working directory itself.
func resolveVaultRoot() (string, error) {
	if vaultFlag != "" {
		return vaultFlag, nil
	}
	root, err := config.FindProjectRoot(".")
	if err == nil {
		return root, nil
	}
	return os.Getwd()
}

// loadConfig resolves the vault root and loads its config, falling back
// to defaults when no config file is present.
func loadConfig() (*config.Config, error) {
	root, err := resolveVaultRoot()
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}
	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
		cfg.VaultRoot = root
	}
	if cfg.VaultRoot == "" {
		cfg.VaultRoot = root
	}
	if cfg.SnapshotDir == "" {
		cfg.SnapshotDir = filepath.Join(root, ".msrl")
	}
	return cfg, nil
}

// openEngine constructs an Engine over an already-loaded cfg. Callers
// must Shutdown it.
func openEngine(ctx context.Context, cfg *config.Config) (*engine.Engine, error) {
	return engine.New(ctx, cfg, slog.Default())
}
