// Package cmd provides the CLI commands for DriveRAG.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/driverag/internal/config"
	"github.com/Aman-CERP/driverag/internal/logging"
	"github.com/Aman-CERP/driverag/internal/ui"
	"github.com/Aman-CERP/driverag/pkg/version"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	dataDir string
	verbose bool
	offline bool
}

// NewRootCmd creates the root command for the driverag CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "driverag",
		Short: "Cache-aware RAG over a Google Drive folder",
		Long: `DriveRAG ingests a Google Drive folder into a local hybrid index
and answers questions over it through a local Ollama instance.

Documents are cached with a TTL and re-fetched only when their remote
checksum changes. Search combines vector similarity with keyword
overlap; answers cite the documents they came from.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("driverag version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Data directory (default ~/.driverag)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&opts.offline, "offline", false, "Use static embeddings (no Ollama required)")

	cmd.AddCommand(newInitCmd(opts))
	cmd.AddCommand(newSyncCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newAskCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		ui.NewConsole(os.Stderr).Error(err.Error())
		return err
	}
	return nil
}

// loadConfig loads configuration honoring the --data-dir override.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.dataDir)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// setupLogging routes structured logs to the data dir log file,
// keeping the console free for command output.
func setupLogging(cfg *config.Config, opts *rootOptions) (*slog.Logger, func(), error) {
	logCfg := logging.DefaultConfig(cfg.DataDir)
	logCfg.WriteToStderr = false
	if cfg.Logging.Level != "" {
		logCfg.Level = cfg.Logging.Level
	}
	if cfg.Logging.File != "" {
		logCfg.FilePath = cfg.Logging.File
	}
	if opts.verbose {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}
	return logging.Setup(logCfg)
}
