package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/apresai/callsynth/internal/config"
	"github.com/apresai/callsynth/internal/dataset"
	"github.com/apresai/callsynth/internal/metrics"
	"github.com/apresai/callsynth/internal/observability"
	"github.com/apresai/callsynth/internal/pipeline"
	"github.com/apresai/callsynth/internal/progress"
)

// BatchRequest holds the per-run overrides of the server's base config.
// Zero values keep the base setting.
type BatchRequest struct {
	Locale           string
	Kind             string
	ControlMode      string
	SeedsPath        string
	PlaceholdersPath string
	Provider         string
	Model            string
	Target           int
	PerSeed          int
	SeedLimit        int
	MaxConversations int
	RandomSeed       *uint64
}

type runFunc func(ctx context.Context, opts pipeline.Options) (*dataset.Dataset, error)

// TaskManager runs batches in the background and records their progress.
type TaskManager struct {
	store     RunStore
	base      *config.Config
	outputDir string
	metrics   *metrics.Metrics
	log       *slog.Logger
	baseCtx   context.Context // cancelled on SIGTERM for graceful shutdown
	run       runFunc

	// progressInterval throttles store writes within a stage.
	progressInterval time.Duration

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	maxTasks int
	running  int
	wg       sync.WaitGroup
}

// NewTaskManager creates a task manager. Each run writes its artifacts to
// outputDir/<run-id>/.
func NewTaskManager(baseCtx context.Context, store RunStore, base *config.Config, outputDir string, maxTasks int, m *metrics.Metrics, logger *slog.Logger) *TaskManager {
	if maxTasks <= 0 {
		maxTasks = 2
	}
	return &TaskManager{
		store:            store,
		base:             base,
		outputDir:        outputDir,
		metrics:          m,
		log:              logger,
		baseCtx:          baseCtx,
		run:              pipeline.Run,
		progressInterval: 2 * time.Second,
		cancels:          make(map[string]context.CancelFunc),
		maxTasks:         maxTasks,
	}
}

// BatchConfig layers req over the base config for run id.
func (tm *TaskManager) BatchConfig(id string, req BatchRequest) (*config.Config, error) {
	cfg := *tm.base
	cfg.PlaceholderPaths = maps.Clone(tm.base.PlaceholderPaths)

	if req.Locale != "" {
		cfg.Locale = req.Locale
	}
	if req.Kind != "" {
		cfg.Kind = req.Kind
	}
	if req.ControlMode != "" {
		cfg.ControlMode = req.ControlMode
	}
	if req.SeedsPath != "" {
		cfg.SeedsPath = req.SeedsPath
	}
	if req.PlaceholdersPath != "" {
		if cfg.PlaceholderPaths == nil {
			cfg.PlaceholderPaths = map[string]string{}
		}
		cfg.PlaceholderPaths[cfg.Locale] = req.PlaceholdersPath
	}
	if req.Provider != "" {
		cfg.Provider = req.Provider
	}
	if req.Model != "" {
		cfg.Model = req.Model
	}
	if req.Target > 0 {
		cfg.TargetConversations = req.Target
		cfg.LegitCount = req.Target
	}
	if req.PerSeed > 0 {
		cfg.ScenariosPerSeed = req.PerSeed
	}
	if req.SeedLimit > 0 {
		cfg.SeedLimit = req.SeedLimit
	}
	if req.MaxConversations > 0 {
		cfg.MaxConversations = req.MaxConversations
	}
	if req.RandomSeed != nil {
		seed := *req.RandomSeed
		cfg.RandomSeed = &seed
	}

	dir := filepath.Join(tm.outputDir, id)
	cfg.OutputPath = filepath.Join(dir, "dataset.json")
	cfg.ReportPath = filepath.Join(dir, "report.xlsx")
	cfg.ConversationsDir = ""

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// StartTask records a submitted run and starts it in a goroutine. It
// returns the run id immediately.
func (tm *TaskManager) StartTask(ctx context.Context, req BatchRequest) (string, error) {
	id, err := dataset.NewRunID()
	if err != nil {
		return "", err
	}
	cfg, err := tm.BatchConfig(id, req)
	if err != nil {
		return "", fmt.Errorf("invalid batch: %w", err)
	}

	tm.mu.Lock()
	if tm.running >= tm.maxTasks {
		tm.mu.Unlock()
		return "", fmt.Errorf("max concurrent batches reached (%d)", tm.maxTasks)
	}
	tm.running++

	// The task outlives the tool call; it follows baseCtx and keeps the
	// caller's trace.
	taskCtx := observability.DetachTrace(ctx, tm.baseCtx)
	taskCtx, cancel := context.WithCancel(taskCtx)
	tm.cancels[id] = cancel
	tm.mu.Unlock()

	item := NewRunItem(id, cfg.Locale, cfg.Kind, cfg.Model, time.Now())
	if err := tm.store.CreateRun(ctx, item); err != nil {
		cancel()
		tm.finish(id)
		return "", fmt.Errorf("create run: %w", err)
	}

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		defer tm.finish(id)
		tm.runBatch(taskCtx, id, cfg)
	}()
	return id, nil
}

func (tm *TaskManager) finish(id string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if cancel, ok := tm.cancels[id]; ok {
		cancel()
		delete(tm.cancels, id)
	}
	tm.running--
}

// CancelTask stops a running batch. The batch still saves what finished.
func (tm *TaskManager) CancelTask(id string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	cancel, ok := tm.cancels[id]
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until every started batch has returned or ctx is done.
func (tm *TaskManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (tm *TaskManager) runBatch(ctx context.Context, id string, cfg *config.Config) {
	ctx, span := tracer.Start(ctx, "batch.run",
		trace.WithAttributes(
			attribute.String("run_id", id),
			attribute.String("locale", cfg.Locale),
			attribute.String("kind", cfg.Kind),
		),
	)
	defer span.End()

	log := tm.log.With("run_id", id)

	// Store writes go through a detached context so the final status is
	// recorded even when the batch was cancelled.
	storeCtx := observability.DetachTrace(ctx, nil)

	var lastWrite time.Time
	var lastStage progress.Stage
	progressCb := func(evt progress.Event) {
		now := time.Now()
		stageChanged := evt.Stage != lastStage
		if !stageChanged && now.Sub(lastWrite) < tm.progressInterval {
			return
		}
		if stageChanged {
			span.AddEvent("stage_transition", trace.WithAttributes(
				attribute.String("stage", string(evt.Stage)),
				attribute.Float64("percent", evt.Percent),
			))
		}
		if err := tm.store.UpdateProgress(storeCtx, id, mapStage(evt.Stage), evt.Percent, evt.Message); err != nil {
			log.WarnContext(ctx, "update progress failed", "error", err)
		}
		lastWrite, lastStage = now, evt.Stage
	}

	start := time.Now()
	log.InfoContext(ctx, "batch starting", "locale", cfg.Locale, "kind", cfg.Kind, "model", cfg.Model)
	d, err := tm.run(ctx, pipeline.Options{
		Config:   cfg,
		Logger:   log,
		Metrics:  tm.metrics,
		Progress: progressCb,
		RunID:    id,
	})
	elapsed := time.Since(start).Round(time.Second)

	if d != nil {
		m := d.Metadata
		res := RunResult{
			Planned:    m.Counts.Planned,
			Accepted:   m.Counts.Accepted,
			Rejected:   m.Counts.Rejected,
			OutputPath: cfg.OutputPath,
			ReportPath: cfg.ReportPath,
			CostUSD:    m.EstimatedCostUSD,
			Partial:    m.Partial,
		}
		if err := tm.store.CompleteRun(storeCtx, id, res); err != nil {
			log.ErrorContext(ctx, "complete run failed", "error", err)
		}
	}

	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "complete")
		log.InfoContext(ctx, "batch complete", "elapsed", elapsed.String())
	case errors.Is(err, pipeline.ErrInterrupted):
		span.SetStatus(codes.Error, "interrupted")
		log.WarnContext(ctx, "batch interrupted", "elapsed", elapsed.String())
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch failed")
		log.ErrorContext(ctx, "batch failed", "error", err, "elapsed", elapsed.String())
		if ferr := tm.store.FailRun(storeCtx, id, err.Error()); ferr != nil {
			log.ErrorContext(ctx, "fail run failed", "error", ferr)
		}
	}
}

// mapStage maps a pipeline progress stage to a run status.
func mapStage(stage progress.Stage) RunStatus {
	switch stage {
	case progress.StageLoad:
		return RunStatusLoading
	case progress.StagePlan:
		return RunStatusPlanning
	case progress.StageGenerate:
		return RunStatusGenerating
	case progress.StageSave:
		return RunStatusSaving
	case progress.StageUpload:
		return RunStatusUploading
	case progress.StageComplete:
		return RunStatusComplete
	default:
		return RunStatusSubmitted
	}
}
