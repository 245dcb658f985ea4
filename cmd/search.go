package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/secondbrain-app/secondbrain/internal/app"
	"github.com/secondbrain-app/secondbrain/internal/knowledge"
)

var (
	searchLimit     int
	searchThreshold float64
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSearch(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum results (0 = configured default)")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", -1, "similarity threshold in [0,1] (-1 = configured default)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(ctx context.Context, query string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.Setup(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	var opts []knowledge.SearchOption
	if searchLimit > 0 {
		opts = append(opts, knowledge.WithLimit(searchLimit))
	}
	if searchThreshold >= 0 {
		opts = append(opts, knowledge.WithThreshold(searchThreshold))
	}

	results, err := a.Knowledge.Search(ctx, query, opts...)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}

	for i, r := range results {
		marker := ""
		if r.Fallback {
			marker = " (loosely related)"
		}
		fmt.Printf("%d. %s — %.1f%%%s\n", i+1, r.DocumentTitle, r.Similarity*100, marker)
		fmt.Printf("   %s\n", snippet(r.Content, 200))
	}
	return nil
}

// snippet truncates content to max runes on a single line.
func snippet(content string, max int) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "…"
}
