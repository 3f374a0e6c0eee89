package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/driverag/internal/search"
	"github.com/Aman-CERP/driverag/internal/ui"
)

type searchOptions struct {
	topK      int
	weight    float64
	documents []string
	format    string // "text" or "json"
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed documents",
		Long: `Search runs hybrid retrieval over the indexed documents: vector
similarity weighted against keyword overlap.

Examples:
  driverag search "quarterly revenue targets"
  driverag search "onboarding checklist" --top-k 10
  driverag search "incident response" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, root, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Number of results (default from config)")
	cmd.Flags().Float64VarP(&opts.weight, "weight", "w", -1, "Semantic weight in [0,1] (default from config)")
	cmd.Flags().StringSliceVar(&opts.documents, "doc", nil, "Restrict results to these document IDs (repeatable)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

// searchResultJSON is the stable shape for --format json.
type searchResultJSON struct {
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	ChunkID      string  `json:"chunk_id"`
	Page         int     `json:"page"`
	Score        float64 `json:"score"`
	Semantic     float64 `json:"semantic"`
	Lexical      float64 `json:"lexical"`
	Text         string  `json:"text"`
}

func runSearch(ctx context.Context, cmd *cobra.Command, root *rootOptions, query string, opts searchOptions) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	logger, cleanup, err := setupLogging(cfg, root)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := requireIndex(cfg); err != nil {
		return err
	}

	stack, err := openStack(ctx, cfg, root, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	engine, err := newSearchEngine(stack, logger)
	if err != nil {
		return err
	}

	searchOpts := search.Options{
		TopK:        opts.topK,
		DocumentIDs: opts.documents,
	}
	if opts.weight >= 0 {
		searchOpts.SemanticWeight = &opts.weight
	}

	started := time.Now()
	results, err := engine.Search(ctx, query, searchOpts)
	if err != nil {
		return err
	}

	console := ui.NewConsole(cmd.OutOrStdout())
	if opts.format == "json" {
		out := make([]searchResultJSON, len(results))
		for i, r := range results {
			out[i] = searchResultJSON{
				DocumentID:   r.Chunk.DocumentID,
				DocumentName: r.DocumentName,
				ChunkID:      r.Chunk.ID,
				Page:         r.Chunk.Page,
				Score:        r.Score,
				Semantic:     r.Semantic,
				Lexical:      r.Lexical,
				Text:         r.Chunk.Text,
			}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(results) == 0 {
		console.Println("No results.")
		return nil
	}

	console.Header(fmt.Sprintf("%d results for %q (%s)", len(results), query, time.Since(started).Round(time.Millisecond)))
	console.Newline()
	for i, r := range results {
		console.Printf("%d. %s (page %d, score %.3f)", i+1, r.DocumentName, r.Chunk.Page, r.Score)
		console.Dim(fmt.Sprintf("   semantic %.3f · lexical %.3f · %s", r.Semantic, r.Lexical, r.Chunk.ID))
		console.Println("   " + snippet(r.Chunk.Text, 240))
		console.Newline()
	}
	return nil
}

// snippet flattens whitespace and trims the text to at most n runes.
func snippet(text string, n int) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= n {
		return flat
	}
	return string(runes[:n]) + "…"
}
