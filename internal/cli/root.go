package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/apresai/callsynth/internal/config"
	"github.com/apresai/callsynth/internal/metrics"
	"github.com/apresai/callsynth/internal/observability"
	"github.com/apresai/callsynth/internal/pipeline"
	"github.com/apresai/callsynth/internal/progress"
)

var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "callsynth",
	Short:         "Generate synthetic scam and legitimate phone-call dialogue datasets",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "callsynth %s\n", Version)
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a conversation dataset",
	RunE:  runGenerate,
}

var (
	flagConfig      string
	flagVerbose     bool
	flagInteractive bool

	flagLocale           string
	flagKind             string
	flagMode             string
	flagSeeds            string
	flagProfiles         string
	flagPlaceholders     string
	flagTemplates        string
	flagAssignments      string
	flagSeedLimit        int
	flagTarget           int
	flagMax              int
	flagPerSeed          int
	flagMinQuality       float64
	flagRandomSeed       uint64
	flagProvider         string
	flagModel            string
	flagConcurrency      int
	flagMaxRetries       int
	flagCallTimeout      time.Duration
	flagExhaustion       string
	flagOutput           string
	flagReport           string
	flagConversationsDir string
	flagS3Bucket         string
	flagMetricsAddr      string
	flagLogLevel         string
	flagAnthropicAPIKey  string
	flagGeminiAPIKey     string
)

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(checkCatalogCmd)
	rootCmd.AddCommand(assignCmd)
	rootCmd.AddCommand(diversityCmd)
	rootCmd.AddCommand(synthesizeCmd)

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Generation config file (JSON)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")

	for _, cmd := range []*cobra.Command{generateCmd, planCmd} {
		f := cmd.Flags()
		f.StringVarP(&flagLocale, "locale", "l", "", "Target locale, e.g. ms-my")
		f.StringVarP(&flagKind, "kind", "k", "", "Conversation kind: scam or legit")
		f.StringVar(&flagMode, "mode", "", "Control mode: seeds or conversations")
		f.StringVarP(&flagSeeds, "seeds", "s", "", "Seed file (JSON)")
		f.StringVar(&flagProfiles, "profiles", "", "Character profile file (JSON); built-in profiles when empty")
		f.StringVarP(&flagPlaceholders, "placeholders", "p", "", "Placeholder catalog for --locale (JSON)")
		f.StringVar(&flagTemplates, "templates", "", "Scenario templates file; enables preconfigured scenarios with --assignments")
		f.StringVar(&flagAssignments, "assignments", "", "Seed to template assignments file")
		f.IntVar(&flagSeedLimit, "seed-limit", 0, "Seeds to use in seeds mode (0 = all eligible)")
		f.IntVarP(&flagTarget, "target", "n", 0, "Target conversations in conversations mode")
		f.IntVar(&flagMax, "max", 0, "Absolute cap on conversations (0 = none)")
		f.IntVar(&flagPerSeed, "per-seed", 0, "Scenarios per seed")
		f.Float64Var(&flagMinQuality, "min-quality", 0, "Minimum seed quality score")
		f.Uint64Var(&flagRandomSeed, "random-seed", 0, "Random seed for a reproducible plan")
	}

	f := generateCmd.Flags()
	f.BoolVarP(&flagVerbose, "verbose", "v", false, "Log every event instead of drawing a progress bar")
	f.BoolVarP(&flagInteractive, "interactive", "i", false, "Pick run settings in a terminal menu before generating")
	f.StringVar(&flagProvider, "provider", "", "LLM provider: anthropic, bedrock, gemini")
	f.StringVarP(&flagModel, "model", "m", "", "Model alias or id, e.g. haiku, sonnet, gemini-flash")
	f.IntVarP(&flagConcurrency, "concurrency", "j", 0, "Parallel generation workers")
	f.IntVar(&flagMaxRetries, "max-retries", -1, "Retries per conversation after the first attempt")
	f.DurationVar(&flagCallTimeout, "call-timeout", 0, "Timeout for one LLM call")
	f.StringVar(&flagExhaustion, "on-exhausted", "", "When retries run out on turn count: reject or accept_with_warning")
	f.StringVarP(&flagOutput, "output", "o", "", "Dataset output path (JSON)")
	f.StringVar(&flagReport, "report", "", "Diversity report path (XLSX)")
	f.StringVar(&flagConversationsDir, "conversations-dir", "", "Also write one JSON file per conversation here")
	f.StringVar(&flagS3Bucket, "s3-bucket", "", "Upload the dataset to this S3 bucket")
	f.StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	f.StringVar(&flagAnthropicAPIKey, "anthropic-api-key", "", "Anthropic API key (overrides ANTHROPIC_API_KEY env var)")
	f.StringVar(&flagGeminiAPIKey, "gemini-api-key", "", "Gemini API key (overrides GEMINI_API_KEY env var)")
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

// loadConfig layers the config file, environment and changed flags, then
// validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("locale") {
		cfg.Locale = flagLocale
	}
	if changed("kind") {
		cfg.Kind = flagKind
	}
	if changed("mode") {
		cfg.ControlMode = flagMode
	}
	if changed("seeds") {
		cfg.SeedsPath = flagSeeds
	}
	if changed("profiles") {
		cfg.ProfilesPath = flagProfiles
	}
	if changed("placeholders") {
		if cfg.PlaceholderPaths == nil {
			cfg.PlaceholderPaths = map[string]string{}
		}
		cfg.PlaceholderPaths[strings.ToLower(cfg.Locale)] = flagPlaceholders
	}
	if changed("templates") {
		cfg.TemplatesPath = flagTemplates
		cfg.ScenarioMode = "preconfigured"
	}
	if changed("assignments") {
		cfg.AssignmentsPath = flagAssignments
	}
	if changed("seed-limit") {
		cfg.SeedLimit = flagSeedLimit
	}
	if changed("target") {
		cfg.TargetConversations = flagTarget
		cfg.LegitCount = flagTarget
	}
	if changed("max") {
		cfg.MaxConversations = flagMax
	}
	if changed("per-seed") {
		cfg.ScenariosPerSeed = flagPerSeed
	}
	if changed("min-quality") {
		cfg.MinQuality = flagMinQuality
	}
	if changed("random-seed") {
		seed := flagRandomSeed
		cfg.RandomSeed = &seed
	}
	if changed("provider") {
		cfg.Provider = flagProvider
	}
	if changed("model") {
		cfg.Model = flagModel
	}
	if changed("concurrency") {
		cfg.Concurrency = flagConcurrency
	}
	if changed("max-retries") {
		cfg.MaxRetries = flagMaxRetries
	}
	if changed("call-timeout") {
		cfg.CallTimeout.Duration = flagCallTimeout
	}
	if changed("on-exhausted") {
		cfg.ExhaustionPolicy = flagExhaustion
	}
	if changed("output") {
		cfg.OutputPath = flagOutput
	}
	if changed("report") {
		cfg.ReportPath = flagReport
	}
	if changed("conversations-dir") {
		cfg.ConversationsDir = flagConversationsDir
	}
	if changed("s3-bucket") {
		cfg.S3Bucket = flagS3Bucket
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = flagMetricsAddr
	}
	if changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	switch {
	case changed("anthropic-api-key") && cfg.Provider == "anthropic":
		cfg.APIKey = flagAnthropicAPIKey
	case changed("gemini-api-key") && cfg.Provider == "gemini":
		cfg.APIKey = flagGeminiAPIKey
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	logger := observability.InitLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	return logger
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if flagInteractive {
		if err := runInteractiveSetup(cmd); err != nil {
			return err
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := checkAPIKeys(cfg); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cfg)

	shutdown, err := observability.StartTracing(ctx, "callsynth", Version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdown(shutdownCtx)
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer srv.Close()
	}

	opts := pipeline.Options{Config: cfg, Logger: logger, Metrics: m}

	// Progress bar unless verbose
	if !flagVerbose {
		r := progress.NewBatchRenderer(os.Stdout)
		defer r.Finish()
		opts.Progress = r.Handle
	}

	_, err = pipeline.Run(ctx, opts)
	if errors.Is(err, pipeline.ErrInterrupted) {
		logger.Warn("batch interrupted, partial dataset written", "path", cfg.OutputPath)
	}
	return err
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

func checkAPIKeys(cfg *config.Config) error {
	switch cfg.Provider {
	case "anthropic":
		if cfg.APIKey == "" {
			return fmt.Errorf("missing ANTHROPIC_API_KEY\nYou can also pass it via --anthropic-api-key")
		}
	case "gemini":
		if cfg.APIKey == "" && os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("missing GEMINI_API_KEY\nYou can also pass it via --gemini-api-key")
		}
	case "bedrock":
		// Uses the default AWS credential chain.
	}
	return nil
}
