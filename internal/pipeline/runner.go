package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/apresai/callsynth/internal/dataset"
	"github.com/apresai/callsynth/internal/dialogue"
	"github.com/apresai/callsynth/internal/entity"
	"github.com/apresai/callsynth/internal/llm"
	"github.com/apresai/callsynth/internal/metrics"
	"github.com/apresai/callsynth/internal/plan"
	"github.com/apresai/callsynth/internal/progress"
)

var tracer = otel.Tracer("callsynth/pipeline")

// Generator produces one conversation per unit. *dialogue.Generator
// satisfies it.
type Generator interface {
	Generate(ctx context.Context, u dialogue.Unit) (*dialogue.Conversation, error)
}

// Runner fans the units of a plan out to a fixed pool of workers.
type Runner struct {
	Generator Generator
	Workers   int
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Progress  progress.Callback
	// ConversationsDir, when set, receives one JSON file per accepted
	// conversation as soon as it is produced.
	ConversationsDir string
}

// Result collects the outcome of every unit in plan order.
type Result struct {
	Conversations []*dialogue.Conversation
	Failures      []dataset.Failure
	Cancelled     int
	Usage         llm.Usage
	Diversity     entity.Report
	Partial       bool
}

type outcome struct {
	conv *dialogue.Conversation
	err  error
	done bool
}

// Run generates every unit of p. Units are independent; one failing never
// stops the others. When ctx is cancelled, workers stop taking new units
// and Run returns what finished, marked Partial.
func (r *Runner) Run(ctx context.Context, p *plan.Plan) *Result {
	ctx, span := tracer.Start(ctx, "pipeline.generate")
	defer span.End()
	span.SetAttributes(
		attribute.Int("units", len(p.Units)),
		attribute.Int("workers", r.workers(len(p.Units))),
	)

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emit := r.Progress
	if emit == nil {
		emit = progress.NopCallback
	}

	start := time.Now()
	outcomes := make([]outcome, len(p.Units))
	jobs := make(chan int)

	var (
		mu                 sync.Mutex
		done, ok, rejected int
	)
	total := len(p.Units)

	var wg sync.WaitGroup
	for w := 0; w < r.workers(total); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				u := p.Units[i]
				r.Metrics.UnitStarted()
				conv, err := r.Generator.Generate(ctx, u)
				r.Metrics.UnitDone()

				if err != nil && ctx.Err() != nil && isContextErr(err) {
					// Interrupted mid-unit; counted as cancelled below.
					continue
				}
				if err == nil && r.ConversationsDir != "" {
					path := filepath.Join(r.ConversationsDir, conv.ID+".json")
					if werr := dialogue.SaveConversation(conv, path); werr != nil {
						logger.WarnContext(ctx, "cannot write conversation file", "path", path, "error", werr)
					}
				}

				mu.Lock()
				outcomes[i] = outcome{conv: conv, err: err, done: true}
				done++
				if err == nil {
					ok++
					r.Metrics.ObserveUnit(string(u.Kind), "accepted")
				} else {
					rejected++
					r.Metrics.ObserveUnit(string(u.Kind), "rejected")
				}
				e := progress.NewEvent(progress.StageGenerate, "Generating conversations", float64(done)/float64(total), start)
				e.Done, e.Total, e.Accepted, e.Rejected = done, total, ok, rejected
				emit(e)
				mu.Unlock()
			}
		}()
	}

feed:
	for i := range p.Units {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	res := &Result{}
	agg := entity.NewAggregator()
	for i, o := range outcomes {
		u := p.Units[i]
		switch {
		case !o.done:
			res.Cancelled++
			r.Metrics.ObserveUnit(string(u.Kind), "cancelled")
		case o.err != nil:
			res.Failures = append(res.Failures, dataset.FailureFor(u, o.err))
		default:
			res.Conversations = append(res.Conversations, o.conv)
			res.Usage = res.Usage.Add(o.conv.Usage)
			agg.Record(o.conv.Placeholders, o.conv.ProfileIDs())
		}
	}
	res.Diversity = agg.Report()
	res.Partial = res.Cancelled > 0

	span.SetAttributes(
		attribute.Int("accepted", len(res.Conversations)),
		attribute.Int("rejected", len(res.Failures)),
		attribute.Int("cancelled", res.Cancelled),
	)
	logger.InfoContext(ctx, "generation finished",
		"accepted", len(res.Conversations),
		"rejected", len(res.Failures),
		"cancelled", res.Cancelled,
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	return res
}

func (r *Runner) workers(units int) int {
	n := r.Workers
	if n < 1 {
		n = 1
	}
	if units > 0 && n > units {
		n = units
	}
	return n
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// String summarizes a result in one line for logs and the CLI.
func (r *Result) String() string {
	s := fmt.Sprintf("%d accepted, %d rejected", len(r.Conversations), len(r.Failures))
	if r.Cancelled > 0 {
		s += fmt.Sprintf(", %d cancelled", r.Cancelled)
	}
	return s
}
