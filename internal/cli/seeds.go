package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/apresai/callsynth/internal/config"
	"github.com/apresai/callsynth/internal/ingest"
	"github.com/apresai/callsynth/internal/llm"
	"github.com/apresai/callsynth/internal/pipeline"
)

var draftSeedsCmd = &cobra.Command{
	Use:   "draft-seeds <source>...",
	Short: "Draft seed records from scam scenarios, reports or advisories",
	Long: `Reads scenario lists (.txt, one scenario per line), advisory PDFs or
news article URLs and asks the LLM to write one seed record per scenario.
Drafts get a fixed quality score and should be reviewed before use.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDraftSeeds,
}

var (
	flagDraftOut      string
	flagDraftPrefix   string
	flagDraftQuality  float64
	flagDraftFailures string
)

func init() {
	f := draftSeedsCmd.Flags()
	f.StringVarP(&flagDraftOut, "output", "o", "seeds_draft.json", "Seed file to write")
	f.StringVar(&flagDraftPrefix, "id-prefix", "draft-", "Prefix of generated seed ids")
	f.Float64Var(&flagDraftQuality, "quality", 75, "quality_score given to every draft")
	f.StringVar(&flagDraftFailures, "failures", "", "Write scenarios that could not be drafted to this JSON file")
	f.StringVar(&flagProvider, "provider", "", "LLM provider: anthropic, bedrock, gemini")
	f.StringVarP(&flagModel, "model", "m", "", "Model alias or id, e.g. haiku, sonnet, gemini-flash")
	f.IntVarP(&flagConcurrency, "concurrency", "j", 0, "Parallel LLM calls")
	f.StringVar(&flagAnthropicAPIKey, "anthropic-api-key", "", "Anthropic API key (overrides ANTHROPIC_API_KEY env var)")
	f.StringVar(&flagGeminiAPIKey, "gemini-api-key", "", "Gemini API key (overrides GEMINI_API_KEY env var)")

	rootCmd.AddCommand(draftSeedsCmd)
}

func runDraftSeeds(cmd *cobra.Command, args []string) error {
	if flagDraftQuality < 0 || flagDraftQuality > 100 {
		return fmt.Errorf("--quality must be between 0 and 100")
	}
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := checkAPIKeys(cfg); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cfg)

	docs, err := ingest.ReadAll(ctx, args, nil)
	if err != nil {
		return err
	}
	total := 0
	for _, d := range docs {
		total += len(d.Scenarios)
		logger.InfoContext(ctx, "source read", "source", d.Source, "title", d.Title, "scenarios", len(d.Scenarios), "words", d.WordCount)
	}

	client, closeClient, err := pipeline.NewClient(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer closeClient()

	drafter := &ingest.Drafter{
		Client:      client,
		Model:       llm.ResolveModel(cfg.Provider, cfg.Model),
		Concurrency: cfg.Concurrency,
		Quality:     flagDraftQuality,
		Logger:      logger,
	}
	seeds, failures, err := drafter.DraftAll(ctx, docs, flagDraftPrefix)
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		return fmt.Errorf("none of %d scenarios produced a seed", total)
	}

	if dir := filepath.Dir(flagDraftOut); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := ingest.SaveSeeds(flagDraftOut, seeds); err != nil {
		return err
	}
	if flagDraftFailures != "" && len(failures) > 0 {
		if err := writeJSON(flagDraftFailures, failures); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d scenarios drafted to %s\n", len(seeds), total, flagDraftOut)
	if len(failures) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%d failed\n", len(failures))
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
