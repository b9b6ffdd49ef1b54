// Package pipeline runs a generation batch end to end: load inputs, plan,
// generate on a worker pool, then save, report and upload.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/apresai/callsynth/internal/catalog"
	"github.com/apresai/callsynth/internal/config"
	"github.com/apresai/callsynth/internal/dataset"
	"github.com/apresai/callsynth/internal/dialogue"
	"github.com/apresai/callsynth/internal/llm"
	"github.com/apresai/callsynth/internal/metrics"
	"github.com/apresai/callsynth/internal/observability"
	"github.com/apresai/callsynth/internal/plan"
	"github.com/apresai/callsynth/internal/profile"
	"github.com/apresai/callsynth/internal/progress"
	"github.com/apresai/callsynth/internal/scenario"
	"github.com/apresai/callsynth/internal/seed"
)

const (
	StageLoad     = "load"
	StagePlan     = "plan"
	StageGenerate = "generate"
	StageSave     = "save"
	StageReport   = "report"
	StageUpload   = "upload"
)

type PipelineError struct {
	Stage   string
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// ErrInterrupted is wrapped into the error returned for a batch stopped by
// a signal or cancelled context. The partial dataset has been saved.
var ErrInterrupted = errors.New("batch interrupted")

// Options carries the collaborators of a run. Only Config is required.
type Options struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Client overrides the provider built from Config.
	Client   llm.Client
	Progress progress.Callback
	// RunID names the batch; a new ULID when empty.
	RunID string
}

// Inputs are the loaded, validated input files of a batch.
type Inputs struct {
	Seeds    *seed.Store
	Profiles *profile.Registry
	Catalogs *catalog.Store
	Resolver scenario.Resolver
}

// LoadInputs reads every input file named by cfg. Missing required
// placeholder tags and malformed files fail here, before any LLM call.
func LoadInputs(cfg *config.Config) (*Inputs, error) {
	in := &Inputs{
		Catalogs: catalog.NewStore(cfg.PlaceholderPaths, cfg.RequiredTags),
	}

	var err error
	if cfg.ProfilesPath != "" {
		if in.Profiles, err = profile.Load(cfg.ProfilesPath); err != nil {
			return nil, err
		}
	} else {
		in.Profiles = profile.Default()
	}

	if dialogue.Kind(cfg.Kind) == dialogue.KindLegit {
		return in, nil
	}

	if in.Seeds, err = seed.Load(cfg.SeedsPath); err != nil {
		return nil, err
	}
	if cfg.CatalogPath() != "" {
		if _, err := in.Catalogs.Get(cfg.Locale); err != nil {
			return nil, err
		}
	}
	if err := requireSeedTags(in, cfg); err != nil {
		return nil, err
	}

	switch cfg.ScenarioMode {
	case "preconfigured":
		templates, err := scenario.LoadTemplates(cfg.TemplatesPath)
		if err != nil {
			return nil, err
		}
		assignments, err := scenario.LoadAssignments(cfg.AssignmentsPath)
		if err != nil {
			return nil, err
		}
		if in.Resolver, err = scenario.NewPreconfigured(templates, assignments); err != nil {
			return nil, err
		}
	default:
		r := scenario.NewRandom(cfg.ScenariosPerSeed)
		r.Spread = cfg.TurnSpread
		in.Resolver = r
	}
	return in, nil
}

// requireSeedTags checks that every tag used by an eligible seed resolves in
// the locale's catalog.
func requireSeedTags(in *Inputs, cfg *config.Config) error {
	for _, sd := range in.Seeds.Filter(cfg.MinQuality, cfg.Locale) {
		tags := catalog.Extract(sd.Text)
		if len(tags) == 0 {
			continue
		}
		c, err := in.Catalogs.Get(cfg.Locale)
		if err != nil {
			return fmt.Errorf("seed %s uses placeholders: %w", sd.ID, err)
		}
		if err := c.Require(tags...); err != nil {
			return fmt.Errorf("seed %s: %w", sd.ID, err)
		}
	}
	return nil
}

// BuildPlan plans the batch described by cfg.
func BuildPlan(cfg *config.Config, in *Inputs) (*plan.Plan, error) {
	var randomSeed uint64
	if cfg.RandomSeed != nil {
		randomSeed = *cfg.RandomSeed
	}

	if dialogue.Kind(cfg.Kind) == dialogue.KindLegit {
		return plan.BuildLegit(in.Profiles, plan.LegitOptions{
			Locale:           cfg.Locale,
			Count:            cfg.LegitCount,
			MaxConversations: cfg.MaxConversations,
			Categories:       cfg.LegitCategories,
			Spread:           cfg.TurnSpread,
			Seeded:           cfg.RandomSeed != nil,
			RandomSeed:       randomSeed,
		})
	}
	return plan.Build(in.Seeds, in.Resolver, in.Profiles, plan.Options{
		Mode:                plan.Mode(cfg.ControlMode),
		Locale:              cfg.Locale,
		SeedLimit:           cfg.SeedLimit,
		TargetConversations: cfg.TargetConversations,
		MaxConversations:    cfg.MaxConversations,
		ScenariosPerSeed:    cfg.ScenariosPerSeed,
		MinQuality:          cfg.MinQuality,
		Shuffle:             cfg.Shuffle,
		Seeded:              cfg.RandomSeed != nil,
		RandomSeed:          randomSeed,
	})
}

// NewClient builds the provider named in cfg, wrapped in the shared rate
// limiter. The returned closer releases provider resources.
func NewClient(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (llm.Client, func(), error) {
	base, err := llm.New(ctx, llm.Options{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
		Region:   cfg.AWSRegion,
	})
	if err != nil {
		return nil, nil, err
	}
	closer := func() {}
	if c, ok := base.(io.Closer); ok {
		closer = func() { c.Close() }
	}
	return llm.NewThrottled(base, llm.ThrottleOptions{
		Provider:          cfg.Provider,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		MaxRateRetries:    uint64(cfg.RateLimitRetries),
		Logger:            logger,
		Metrics:           m,
	}), closer, nil
}

// Run executes one batch. On interruption the finished conversations are
// still saved and the returned error wraps ErrInterrupted.
func Run(ctx context.Context, opts Options) (*dataset.Dataset, error) {
	pipelineStart := time.Now()
	cfg := opts.Config

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emit := opts.Progress
	if emit == nil {
		emit = progress.NopCallback
	}

	runID := opts.RunID
	if runID == "" {
		id, err := dataset.NewRunID()
		if err != nil {
			return nil, &PipelineError{Stage: StageLoad, Message: "failed to create run id", Err: err}
		}
		runID = id
	}
	logger = logger.With("run_id", runID, "locale", cfg.Locale, "kind", cfg.Kind)

	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", runID),
		attribute.String("locale", cfg.Locale),
		attribute.String("kind", cfg.Kind),
	)

	// Stage 1: Load
	emit(progress.NewEvent(progress.StageLoad, "Loading inputs...", 0, pipelineStart))
	in, err := LoadInputs(cfg)
	if err != nil {
		return nil, &PipelineError{Stage: StageLoad, Message: "failed to load inputs", Err: err}
	}
	if in.Seeds != nil {
		logger.InfoContext(ctx, "inputs loaded", "seeds", in.Seeds.Len(), "profiles", len(in.Profiles.All()))
	}

	// Stage 2: Plan
	p, err := BuildPlan(cfg, in)
	if err != nil {
		return nil, &PipelineError{Stage: StagePlan, Message: "failed to plan batch", Err: err}
	}
	if len(p.Units) == 0 {
		return nil, &PipelineError{Stage: StagePlan, Message: fmt.Sprintf("no conversations planned (%d eligible seeds, %d skipped)", p.EligibleSeeds, len(p.Skipped))}
	}
	for _, s := range p.Skipped {
		logger.WarnContext(ctx, "seed skipped", "seed_id", s.SeedID, "reason", s.Reason)
	}
	logger.InfoContext(ctx, "batch planned",
		"units", len(p.Units),
		"seeds_used", p.SeedsUsed,
		"random_seed", p.RandomSeed,
		"capped", p.Capped,
	)
	emit(progress.NewEvent(progress.StagePlan, fmt.Sprintf("Planned %d conversations", len(p.Units)), 0, pipelineStart))

	// Stage 3: Generate
	client := opts.Client
	if client == nil {
		c, closeClient, err := NewClient(ctx, cfg, logger, opts.Metrics)
		if err != nil {
			return nil, &PipelineError{Stage: StageGenerate, Message: "failed to create LLM client", Err: err}
		}
		defer closeClient()
		client = c
	}
	model := llm.ResolveModel(cfg.Provider, cfg.Model)
	gen := dialogue.NewGenerator(client, in.Catalogs, dialogue.Options{
		Provider:     cfg.Provider,
		Model:        model,
		MaxTokens:    int32(cfg.MaxTokens),
		Temperature:  float32(cfg.Temperature),
		MaxRetries:   cfg.MaxRetries,
		CallTimeout:  cfg.CallTimeout.Duration,
		RetryBackoff: cfg.RetryBackoff.Duration,
		Tolerance:    cfg.TurnTolerance,
		Exhaustion:   dialogue.ExhaustionPolicy(cfg.ExhaustionPolicy),
		Guidance:     dialogue.Guidance{Language: cfg.Language, Region: cfg.Region},
	}, logger, opts.Metrics)

	if cfg.ConversationsDir != "" {
		if err := os.MkdirAll(cfg.ConversationsDir, 0755); err != nil {
			return nil, &PipelineError{Stage: StageGenerate, Message: "failed to create conversations directory", Err: err}
		}
	}
	runner := &Runner{
		Generator:        gen,
		Workers:          cfg.Concurrency,
		Logger:           logger,
		Metrics:          opts.Metrics,
		Progress:         emit,
		ConversationsDir: cfg.ConversationsDir,
	}
	res := runner.Run(ctx, p)

	// Stage 4: Save. Runs on a detached context so an interrupted batch is
	// still written.
	saveCtx := observability.DetachTrace(ctx, nil)
	emit(progress.NewEvent(progress.StageSave, "Saving dataset...", 1, pipelineStart))
	d := assemble(runID, cfg, model, p, res, time.Since(pipelineStart))
	if err := dataset.Save(d, cfg.OutputPath); err != nil {
		return d, &PipelineError{Stage: StageSave, Message: "failed to save dataset", Err: err}
	}
	logger.InfoContext(saveCtx, "dataset saved", "path", cfg.OutputPath, "summary", res.String())

	if cfg.ReportPath != "" {
		if err := dataset.WriteDiversityXLSX(d, res.Diversity, cfg.ReportPath); err != nil {
			return d, &PipelineError{Stage: StageReport, Message: "failed to write diversity report", Err: err}
		}
	}

	// Stage 5: Upload. Skipped for partial batches.
	if cfg.S3Bucket != "" && !res.Partial {
		emit(progress.NewEvent(progress.StageUpload, "Uploading to S3...", 1, pipelineStart))
		if err := upload(ctx, cfg, runID, logger); err != nil {
			return d, &PipelineError{Stage: StageUpload, Message: "failed to upload dataset", Err: err}
		}
	}

	done := progress.NewEvent(progress.StageComplete, "Batch complete: "+res.String(), 1, pipelineStart)
	done.OutputFile, done.ReportFile = cfg.OutputPath, cfg.ReportPath
	done.Accepted, done.Rejected, done.Partial = len(res.Conversations), len(res.Failures), res.Partial
	emit(done)

	if res.Partial {
		return d, &PipelineError{
			Stage:   StageGenerate,
			Message: fmt.Sprintf("%d of %d conversations not generated", res.Cancelled, len(p.Units)),
			Err:     fmt.Errorf("%w: %w", ErrInterrupted, context.Cause(ctx)),
		}
	}
	return d, nil
}

func assemble(runID string, cfg *config.Config, model string, p *plan.Plan, res *Result, elapsed time.Duration) *dataset.Dataset {
	return &dataset.Dataset{
		Metadata: dataset.Metadata{
			RunID:            runID,
			Timestamp:        time.Now().UTC(),
			Locale:           cfg.Locale,
			Kind:             p.Kind,
			ControlMode:      string(p.Mode),
			Provider:         cfg.Provider,
			Model:            model,
			RandomSeed:       p.RandomSeed,
			MaxRetries:       cfg.MaxRetries,
			ExhaustionPolicy: cfg.ExhaustionPolicy,
			Counts: dataset.Counts{
				Planned:   len(p.Units),
				Accepted:  len(res.Conversations),
				Rejected:  len(res.Failures),
				Cancelled: res.Cancelled,
				Skipped:   len(p.Skipped),
			},
			TokenUsage:       res.Usage,
			EstimatedCostUSD: dataset.EstimateCost(model, res.Usage),
			Duration:         elapsed.Round(time.Millisecond).String(),
			Partial:          res.Partial,
		},
		Conversations: res.Conversations,
		Failures:      res.Failures,
		Skipped:       p.Skipped,
	}
}

func upload(ctx context.Context, cfg *config.Config, runID string, logger *slog.Logger) error {
	up, err := dataset.NewUploader(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix)
	if err != nil {
		return err
	}
	return uploadFiles(ctx, up, runID, logger, cfg.OutputPath, cfg.ReportPath)
}

type fileUploader interface {
	Upload(ctx context.Context, runID, localPath string) (string, error)
}

func uploadFiles(ctx context.Context, up fileUploader, runID string, logger *slog.Logger, paths ...string) error {
	for _, path := range paths {
		if path == "" {
			continue
		}
		uri, err := up.Upload(ctx, runID, path)
		if err != nil {
			return err
		}
		logger.InfoContext(ctx, "uploaded", "path", path, "uri", uri)
	}
	return nil
}
