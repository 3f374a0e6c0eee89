package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/driverag/internal/store"
	"github.com/Aman-CERP/driverag/internal/ui"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index and cache state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, root)
		},
	}
}

func runStatus(ctx context.Context, cmd *cobra.Command, root *rootOptions) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	console := ui.NewConsole(cmd.OutOrStdout())

	console.Header("DriveRAG status")
	console.KeyValue("Data dir", cfg.DataDir)
	console.KeyValue("Drive folder", orUnset(cfg.Drive.FolderID))
	console.KeyValue("Cache TTL", cfg.Cache.TTL.String())

	if err := requireIndex(cfg); err != nil {
		console.Newline()
		console.Warning("no index yet; run 'driverag sync' to build one")
		return nil
	}

	logger, cleanup, err := setupLogging(cfg, root)
	if err != nil {
		return err
	}
	defer cleanup()

	// Offline stores only; status must not require Ollama.
	offline := *root
	offline.offline = true
	stack, err := openStack(ctx, cfg, &offline, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	docs, err := stack.metadata.ListDocuments(ctx)
	if err != nil {
		return err
	}
	chunks, err := stack.metadata.CountChunks(ctx)
	if err != nil {
		return err
	}

	console.Newline()
	console.KeyValue("Documents", fmt.Sprintf("%d", len(docs)))
	console.KeyValue("Chunks", fmt.Sprintf("%d", chunks))
	console.KeyValue("Cached files", fmt.Sprintf("%d", stack.cache.Len()))

	if lastSync, err := stack.metadata.GetState(ctx, store.StateKeyLastSync); err == nil && lastSync != "" {
		if ts, perr := time.Parse(time.RFC3339, lastSync); perr == nil {
			console.KeyValue("Last sync", fmt.Sprintf("%s (%s ago)",
				ts.Local().Format(time.RFC1123), time.Since(ts).Round(time.Minute)))
		}
	}
	if model, err := stack.metadata.GetState(ctx, store.StateKeyIndexModel); err == nil && model != "" {
		console.KeyValue("Embed model", model)
	}
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
