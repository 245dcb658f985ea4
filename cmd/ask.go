package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/secondbrain-app/secondbrain/internal/app"
	"github.com/secondbrain-app/secondbrain/internal/chat"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a one-shot question over the knowledge base",
	Long: `Ask creates a throwaway chat, retrieves relevant knowledge, streams
the generated answer to stdout and prints the cited sources.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(ctx context.Context, question string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.Setup(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	c, err := a.Chats.CreateChat(ctx, "")
	if err != nil {
		return fmt.Errorf("creating chat: %w", err)
	}

	answer, err := a.ChatService.Answer(ctx, c.ID, question, chat.AnswerEvents{
		OnDelta: func(delta string) error {
			fmt.Print(delta)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("answering: %w", err)
	}
	fmt.Println()

	if answer.Degraded {
		fmt.Println("\n(answered without knowledge context: retrieval failed)")
	}
	if len(answer.Citations) > 0 {
		fmt.Println("\nSources:")
		for _, e := range answer.Citations {
			page := ""
			if e.Page > 0 {
				page = fmt.Sprintf(", p. %d", e.Page)
			}
			fmt.Printf("  [%d] %s%s (%.1f%%)\n", e.Ordinal, e.Title, page, e.Similarity*100)
		}
	}
	return nil
}
