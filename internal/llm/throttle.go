package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/apresai/callsynth/internal/metrics"
)

// ThrottleOptions configures a Throttled client.
type ThrottleOptions struct {
	Provider          string
	RequestsPerSecond float64 // <= 0 disables the limiter
	Burst             int
	MaxRateRetries    uint64
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
}

// Throttled gates every call through one shared token bucket and retries
// rate-limited calls with exponential backoff. Other failures are returned
// to the caller unchanged.
type Throttled struct {
	next    Client
	limiter *rate.Limiter
	opts    ThrottleOptions
}

// NewThrottled wraps next. One Throttled should be shared by every worker
// in a batch.
func NewThrottled(next Client, opts ThrottleOptions) *Throttled {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.MaxRateRetries == 0 {
		opts.MaxRateRetries = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(limit, opts.Burst),
		opts:    opts,
	}
}

func (t *Throttled) Complete(ctx context.Context, req Request) (Response, error) {
	var resp Response
	attempt := 0

	op := func() error {
		attempt++
		if err := t.limiter.Wait(ctx); err != nil {
			if cerr := ctx.Err(); cerr != nil && !errors.Is(cerr, context.DeadlineExceeded) {
				return backoff.Permanent(cerr)
			}
			// The queue alone would outlast the call's deadline.
			return backoff.Permanent(&CallError{Provider: t.opts.Provider, Kind: KindTimeout, Err: err})
		}

		start := time.Now()
		r, err := t.next.Complete(ctx, req)
		t.opts.Metrics.ObserveLLMCall(t.opts.Provider, callStatus(err), time.Since(start).Seconds())
		if err != nil {
			if IsRateLimit(err) {
				t.opts.Logger.WarnContext(ctx, "llm rate limited, backing off",
					"provider", t.opts.Provider,
					"attempt", attempt,
				)
				return err
			}
			return backoff.Permanent(err)
		}
		t.opts.Metrics.ObserveTokens(t.opts.Provider, r.Usage.InputTokens, r.Usage.OutputTokens)
		resp = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.opts.InitialBackoff
	b.MaxInterval = t.opts.MaxBackoff
	b.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, t.opts.MaxRateRetries), ctx))
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

func callStatus(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != "" {
		return string(k)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return string(KindTimeout)
	}
	return "error"
}
