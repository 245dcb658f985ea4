package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/secondbrain-app/secondbrain/internal/app"
	"github.com/secondbrain-app/secondbrain/internal/knowledge"
	"github.com/secondbrain-app/secondbrain/internal/parser"
)

var ingestTitle string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file-or-url>...",
	Short: "Ingest files or web pages into the knowledge base",
	Long: `Ingest parses each argument (PDF, DOCX, text, markdown, or an
http(s) URL), chunks the content and stores it with embeddings.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), args)
	},
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestTitle, "title", "t", "", "override the document title (single source only)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(ctx context.Context, sources []string) error {
	if ingestTitle != "" && len(sources) > 1 {
		return fmt.Errorf("--title can only be used with a single source")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.Setup(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	for _, source := range sources {
		doc, err := ingestOne(ctx, a, source)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", source, err)
		}
		fmt.Printf("Ingested %q (%d chunks, id %s)\n", doc.Title, doc.ChunkCount, doc.ID)
	}
	return nil
}

func ingestOne(ctx context.Context, a *app.App, source string) (*knowledge.Document, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		res, err := parser.FetchURL(ctx, source)
		if err != nil {
			return nil, err
		}
		return a.Knowledge.CreateDocument(ctx, knowledge.NewDocument{
			Title:      titleOr(res.Title),
			SourceType: knowledge.SourceTypeURL,
			SourceID:   source,
		}, a.Splitter.SplitPages(res.Pages))
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, err
	}
	res, err := parser.ParseFile(source)
	if err != nil {
		return nil, err
	}
	return a.Knowledge.CreateDocument(ctx, knowledge.NewDocument{
		Title:      titleOr(res.Title),
		SourceType: knowledge.SourceTypeFile,
		Filename:   filepath.Base(source),
		FileType:   parser.FileType(source),
		FileSize:   info.Size(),
	}, a.Splitter.SplitPages(res.Pages))
}

func titleOr(parsed string) string {
	if ingestTitle != "" {
		return ingestTitle
	}
	return parsed
}
