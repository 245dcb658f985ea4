// Package cmd implements the secondbrain CLI.
package cmd

import (
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/secondbrain-app/secondbrain/internal/config"
	"github.com/secondbrain-app/secondbrain/internal/log"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "secondbrain",
	Short: "SecondBrain - personal knowledge base with retrieval-augmented chat",
	Long: `SecondBrain ingests your documents, notes and conversations into a
searchable knowledge base and answers questions over it with cited sources.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		// A missing .env is fine; real config comes from the environment
		// and the config file.
		_ = godotenv.Load()

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(log.New(log.Config{Level: level}))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig loads and validates the application configuration.
func loadConfig() (*config.Config, error) {
	return config.Load()
}
