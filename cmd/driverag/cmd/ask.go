package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/driverag/internal/llm"
	"github.com/Aman-CERP/driverag/internal/search"
	"github.com/Aman-CERP/driverag/internal/ui"
)

type askOptions struct {
	topK          int
	contextTokens int
	model         string
}

func newAskCmd(root *rootOptions) *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Long: `Ask retrieves the most relevant passages, assembles them into a
token-budgeted context, and has the configured Ollama model answer
from that context. The answer lists the documents it cites.

Examples:
  driverag ask "what is our refund policy?"
  driverag ask "who approves travel requests?" --top-k 8`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd, root, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Passages to retrieve (default from config)")
	cmd.Flags().IntVar(&opts.contextTokens, "context-tokens", 0, "Context token budget (default from config)")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Generation model (default from config)")

	return cmd
}

func runAsk(ctx context.Context, cmd *cobra.Command, root *rootOptions, question string, opts askOptions) error {
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

	console := ui.NewConsole(cmd.OutOrStdout())

	results, err := engine.Search(ctx, question, search.Options{TopK: opts.topK})
	if err != nil {
		return err
	}
	if len(results) == 0 {
		console.Println("No indexed content matches the question.")
		return nil
	}

	budget := cfg.Search.MaxContextTokens
	if opts.contextTokens > 0 {
		budget = opts.contextTokens
	}
	retrieved := search.NewContextBuilder(budget).Build(results)

	model := cfg.Ollama.GenerationModel
	if opts.model != "" {
		model = opts.model
	}
	client, err := llm.NewClient(llm.Config{
		Host:  cfg.Ollama.Host,
		Model: model,
	})
	if err != nil {
		return err
	}

	answer, err := client.Ask(ctx, question, &retrieved)
	if err != nil {
		return err
	}

	console.Println(answer.Text)
	console.Newline()
	console.Dim("Sources:")
	for _, cite := range answer.Citations {
		line := fmt.Sprintf("  %s (page %d)", cite.DocumentName, cite.Page)
		if cite.Truncated {
			line += " [truncated]"
		}
		console.Dim(line)
	}
	return nil
}
