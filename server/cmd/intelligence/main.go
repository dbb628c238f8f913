// Command intelligence runs the Intelligence Engine (C8) against the
// PENDING backlog: --job-id processes a single article, otherwise a
// batch of up to --batch-size PENDING articles is claimed and processed.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hallyuwire/corehub/server/internal/config"
	"github.com/hallyuwire/corehub/server/internal/db"
	"github.com/hallyuwire/corehub/server/internal/intelligence"
	"github.com/hallyuwire/corehub/server/internal/llm"
	"github.com/hallyuwire/corehub/server/internal/logging"
	"github.com/hallyuwire/corehub/server/internal/resolver"
)

var (
	flagBatchSize           int
	flagArticleID           int64
	flagModel               string
	flagThreshold           float64
	flagAutoCommitThreshold float64
	flagDryRun              bool
)

var rootCmd = &cobra.Command{
	Use:   "intelligence",
	Short: "Run the intelligence engine against the PENDING backlog",
	RunE:  runIntelligence,
}

func main() {
	rootCmd.Flags().IntVar(&flagBatchSize, "batch-size", 10, "number of articles to claim and process when --job-id is unset")
	rootCmd.Flags().Int64Var(&flagArticleID, "job-id", 0, "process exactly this article id and exit")
	rootCmd.Flags().StringVar(&flagModel, "model", "", "override the configured intelligence model")
	rootCmd.Flags().Float64Var(&flagThreshold, "threshold", 0, "override the entity-linking confidence threshold (0 = use default)")
	rootCmd.Flags().Float64Var(&flagAutoCommitThreshold, "auto-commit-threshold", 0, "override the auto-commit confidence threshold (0 = use default)")
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "process without writing results")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runIntelligence(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger := logging.Must(cfg.LogLevel, string(cfg.Environment))
	defer logger.Sync()

	if flagThreshold > 0 {
		intelligence.EntityConfidenceThreshold = flagThreshold
	}
	if flagAutoCommitThreshold > 0 {
		intelligence.AutoCommitThreshold = flagAutoCommitThreshold
	}

	model := cfg.IntelligenceModel
	if flagModel != "" {
		model = flagModel
	}

	database, err := db.NewDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("intelligence: connecting to database: %w", err)
	}
	defer database.Close()

	configStore := llm.NewPGConfigStore(database)
	llmClient := llm.New(cfg.GeminiAPIKey, cfg.GeminiBaseURL, model, cfg.GeminiRPMLimit, configStore, logger,
		llm.WithMonthlyLimit(cfg.GeminiMonthlyTokenLimit))

	resolverEngine := resolver.New(llmClient, resolver.NewPGStore(database), logger)
	store := intelligence.NewPGStore(database)
	engine := intelligence.New(llmClient, store, resolverEngine, logger)

	ctx := cmd.Context()

	if flagArticleID > 0 {
		outcome, err := engine.ProcessOne(ctx, flagArticleID, flagDryRun)
		if err != nil {
			return fmt.Errorf("intelligence: processing article %d: %w", flagArticleID, err)
		}
		return printJSON(outcome)
	}

	result, err := engine.ProcessPending(ctx, flagBatchSize, flagDryRun)
	if err != nil {
		return fmt.Errorf("intelligence: processing pending batch: %w", err)
	}
	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
