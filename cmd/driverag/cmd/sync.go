package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/driverag/internal/extract"
	"github.com/Aman-CERP/driverag/internal/pipeline"
	"github.com/Aman-CERP/driverag/internal/remote"
	"github.com/Aman-CERP/driverag/internal/ui"
)

type syncOptions struct {
	folderID string
	force    bool
}

func newSyncCmd(root *rootOptions) *cobra.Command {
	var opts syncOptions

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Ingest changed Drive documents into the local index",
		Long: `Sync lists the configured Drive folder, fetches documents whose
checksum changed since the last pass, and indexes them. Unchanged
documents are skipped; documents deleted remotely are removed.

Examples:
  driverag sync
  driverag sync --force
  driverag sync --folder 1AbCdEfG`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd.Context(), cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.folderID, "folder", "", "Drive folder ID (overrides config)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Re-fetch and re-index every document")

	return cmd
}

func runSync(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts syncOptions) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	logger, cleanup, err := setupLogging(cfg, root)
	if err != nil {
		return err
	}
	defer cleanup()

	folderID := cfg.Drive.FolderID
	if opts.folderID != "" {
		folderID = opts.folderID
	}
	if folderID == "" {
		return fmt.Errorf("no Drive folder configured; set drive.folder_id or pass --folder")
	}

	// Verbose mode interleaves stderr logs with progress output; plain
	// line-oriented rendering keeps that readable.
	console := ui.NewConsole(cmd.OutOrStdout())
	if root.verbose {
		console = ui.NewPlainConsole(cmd.OutOrStdout())
	}

	stack, err := openStack(ctx, cfg, root, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	source, err := remote.NewDriveSource(ctx, cfg.Drive.CredentialsFile, cfg.Drive.TokenFile)
	if err != nil {
		return err
	}

	events := make(chan pipeline.Event, 64)
	p, err := pipeline.New(source, stack.cache, extract.New(logger), stack.embedder,
		stack.vector, stack.keyword, stack.metadata,
		pipeline.Config{
			Workers:        cfg.Sync.Workers,
			MaxRetries:     cfg.Sync.MaxRetries,
			FileTimeout:    cfg.Sync.FileTimeout,
			ChunkSize:      cfg.Chunking.ChunkSize,
			ChunkOverlap:   cfg.Chunking.ChunkOverlap,
			MinChunkTokens: cfg.Chunking.MinChunkTokens,
		}, logger,
		pipeline.WithObserver(events))
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		var total, completed int
		for ev := range events {
			switch ev.Type {
			case pipeline.EventPlanned:
				total = ev.Total
			case pipeline.EventFetching:
				console.Progress(completed, total, "fetching "+ev.Name)
			case pipeline.EventIndexed:
				completed++
				console.Progress(completed, total, fmt.Sprintf("%s (%d chunks)", ev.Name, ev.Chunks))
			case pipeline.EventFailed:
				completed++
				console.Errorf("%s: %v", displayName(ev), ev.Err)
			case pipeline.EventDeleted:
				completed++
				console.Progress(completed, total, "removed "+ev.FileID)
			}
		}
	}()

	console.Header("Syncing Drive folder " + folderID)
	summary, syncErr := p.Sync(ctx, folderID, opts.force)
	close(events)
	<-done

	// Files committed before an aborted pass keep their manifest and
	// metadata rows; persist their vectors too, or the next pass would
	// classify them unchanged with an empty vector index.
	if err := stack.vector.Save(stack.vectorPath); err != nil {
		if syncErr != nil {
			return syncErr
		}
		return err
	}
	if syncErr != nil {
		return syncErr
	}

	console.Newline()
	console.Successf("sync complete in %s", summary.Duration.Round(time.Millisecond))
	console.KeyValue("Indexed", fmt.Sprintf("%d documents (%d chunks)", summary.Processed, summary.Chunks))
	console.KeyValue("Unchanged", fmt.Sprintf("%d", summary.Unchanged))
	console.KeyValue("Deleted", fmt.Sprintf("%d", summary.Deleted))
	if summary.Failed > 0 {
		console.Warningf("%d documents failed; see logs for details", summary.Failed)
	}
	return nil
}

func displayName(ev pipeline.Event) string {
	if ev.Name != "" {
		return ev.Name
	}
	return ev.FileID
}
