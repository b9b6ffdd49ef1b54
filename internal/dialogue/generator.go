package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/apresai/callsynth/internal/catalog"
	"github.com/apresai/callsynth/internal/entity"
	"github.com/apresai/callsynth/internal/llm"
	"github.com/apresai/callsynth/internal/metrics"
)

var tracer = otel.Tracer("callsynth/dialogue")

// ExhaustionPolicy decides what happens to a dialogue that still fails
// validation when its retries are spent.
type ExhaustionPolicy string

const (
	PolicyReject ExhaustionPolicy = "reject"
	// PolicyAcceptWithWarning keeps a dialogue whose only errors are
	// turn-count errors, recording them as warnings.
	PolicyAcceptWithWarning ExhaustionPolicy = "accept_with_warning"
)

// Valid reports whether p is a known policy.
func (p ExhaustionPolicy) Valid() bool {
	return p == PolicyReject || p == PolicyAcceptWithWarning
}

const (
	defaultCallTimeout = 90 * time.Second
	defaultMaxTokens   = 4096
	placeholderStream  = 0x9e3779b97f4a7c15
)

// Options configures a Generator.
type Options struct {
	Provider     string
	Model        string
	MaxTokens    int32
	Temperature  float32
	MaxRetries   int
	CallTimeout  time.Duration
	RetryBackoff time.Duration // wait before a retry, doubled each time
	Tolerance    int
	Exhaustion   ExhaustionPolicy
	Guidance     Guidance
}

// Catalogs hands out the placeholder catalog for a locale.
type Catalogs interface {
	Get(locale string) (*catalog.Catalog, error)
}

// GenerationFailure is returned when a unit is rejected.
type GenerationFailure struct {
	ConversationID string
	SeedID         string
	Attempts       int
	Reason         string
	Issues         []Issue
	Err            error
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("conversation %s rejected after %d attempts (%s): %v", e.ConversationID, e.Attempts, e.Reason, e.Err)
}

func (e *GenerationFailure) Unwrap() error { return e.Err }

// Generator turns planned units into validated conversations. It holds no
// per-unit state and is safe for concurrent use.
type Generator struct {
	client   llm.Client
	catalogs Catalogs
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewGenerator creates a Generator. catalogs may be nil when no unit carries
// placeholders.
func NewGenerator(client llm.Client, catalogs Catalogs, opts Options, logger *slog.Logger, m *metrics.Metrics) *Generator {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Exhaustion == "" {
		opts.Exhaustion = PolicyReject
	}
	opts.Guidance.Tolerance = opts.Tolerance
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{client: client, catalogs: catalogs, opts: opts, logger: logger, metrics: m}
}

// Generate runs one unit through prompt, call, parse and validate, retrying
// up to MaxRetries times. LLM errors and timeouts count as attempts. A
// cancelled ctx returns ctx.Err() rather than a GenerationFailure.
func (g *Generator) Generate(ctx context.Context, u Unit) (*Conversation, error) {
	ctx, span := tracer.Start(ctx, "dialogue.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation_id", u.ConversationID),
		attribute.String("kind", string(u.Kind)),
		attribute.String("seed_id", u.Seed.ID),
		attribute.String("template_id", u.Template.ID),
	)

	log := g.logger.With("conversation_id", u.ConversationID, "kind", u.Kind)
	if u.Seed.ID != "" {
		log = log.With("seed_id", u.Seed.ID)
	}

	values, spec, err := g.prepare(u)
	if err != nil {
		f := &GenerationFailure{
			ConversationID: u.ConversationID,
			SeedID:         u.Seed.ID,
			Reason:         failureReason(err),
			Err:            err,
		}
		span.RecordError(f)
		span.SetStatus(codes.Error, "prepare failed")
		log.ErrorContext(ctx, "cannot prepare prompt", "error", err)
		return nil, f
	}
	req := spec.Request(g.opts.Model, g.opts.MaxTokens, g.opts.Temperature)

	var (
		state   = StatePromptBuilt
		attempt int
		usage   llm.Usage
		turns   []Turn
		issues  []Issue
		lastErr error
		wait    = g.opts.RetryBackoff
	)
	for {
		var err error
		switch state {
		case StatePromptBuilt, StateRetrying:
			if state == StateRetrying && wait > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(wait):
				}
				wait *= 2
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			attempt++
			if state, err = Next(state, EventCall, attempt, g.opts.MaxRetries); err != nil {
				break
			}

			resp, callErr := g.call(ctx, req)
			usage = usage.Add(resp.Usage)
			if callErr != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				lastErr, issues = callErr, nil
				g.metrics.ObserveAttempt(string(u.Kind), "call_failed")
				log.WarnContext(ctx, "llm call failed", "attempt", attempt, "error", callErr)
				state, err = Next(state, EventCallFailed, attempt, g.opts.MaxRetries)
				break
			}

			parsed, parseErr := Parse(resp.Text)
			if parseErr != nil {
				lastErr, issues = parseErr, nil
				g.metrics.ObserveAttempt(string(u.Kind), "parse_failed")
				log.WarnContext(ctx, "unparseable llm output", "attempt", attempt, "stop_reason", resp.StopReason, "error", parseErr)
				state, err = Next(state, EventParseFailed, attempt, g.opts.MaxRetries)
				break
			}
			turns = postprocess(parsed, values)
			state, err = Next(state, EventParsed, attempt, g.opts.MaxRetries)

		case StateParsed:
			issues = Validate(turns, u.Template.Turns, g.opts.Tolerance)
			if errs := Errors(issues); len(errs) > 0 {
				lastErr = &ValidationError{Issues: errs}
				g.metrics.ObserveAttempt(string(u.Kind), "invalid")
				log.WarnContext(ctx, "dialogue failed validation", "attempt", attempt, "turns", len(turns), "error", lastErr)
				state, err = Next(state, EventInvalid, attempt, g.opts.MaxRetries)
			} else {
				state, err = Next(state, EventValid, attempt, g.opts.MaxRetries)
			}

		case StateValidated:
			g.metrics.ObserveAttempt(string(u.Kind), "accepted")
			state, err = Next(state, EventAccept, attempt, g.opts.MaxRetries)

		case StateParseFailed:
			state, err = Next(state, EventResolve, attempt, g.opts.MaxRetries)

		case StateValidationFailed:
			if attempt > g.opts.MaxRetries && g.opts.Exhaustion == PolicyAcceptWithWarning && OnlyTurnCount(issues) {
				log.WarnContext(ctx, "accepting dialogue with turn-count deviation", "attempts", attempt, "turns", len(turns))
				g.metrics.ObserveAttempt(string(u.Kind), "accepted_with_warning")
				state, err = Next(state, EventAccept, attempt, g.opts.MaxRetries)
			} else {
				state, err = Next(state, EventResolve, attempt, g.opts.MaxRetries)
			}

		case StateAccepted:
			conv := g.conversation(u, turns, issues, values, attempt, usage)
			span.SetAttributes(attribute.Int("attempts", attempt), attribute.Int("turns", len(turns)))
			log.InfoContext(ctx, "conversation accepted", "attempts", attempt, "turns", len(turns), "warnings", len(conv.Warnings))
			return conv, nil

		case StateRejected:
			f := &GenerationFailure{
				ConversationID: u.ConversationID,
				SeedID:         u.Seed.ID,
				Attempts:       attempt,
				Reason:         failureReason(lastErr),
				Issues:         Errors(issues),
				Err:            lastErr,
			}
			span.RecordError(f)
			span.SetStatus(codes.Error, f.Reason)
			log.ErrorContext(ctx, "conversation rejected", "attempts", attempt, "reason", f.Reason, "error", lastErr)
			return nil, f
		}
		if err != nil {
			return nil, err
		}
	}
}

// prepare binds the unit's placeholders and builds its prompt. Each unit
// gets a fresh tracker seeded from the unit so retries reuse the same values.
func (g *Generator) prepare(u Unit) (map[string]string, PromptSpec, error) {
	if u.Kind == KindLegit {
		return map[string]string{}, BuildLegitPrompt(u, g.opts.Guidance), nil
	}

	values := map[string]string{}
	if tags := catalog.Extract(u.Seed.Text); len(tags) > 0 {
		if g.catalogs == nil {
			return nil, PromptSpec{}, fmt.Errorf("seed %s has placeholders but no catalog is configured", u.Seed.ID)
		}
		cat, err := g.catalogs.Get(u.Locale)
		if err != nil {
			return nil, PromptSpec{}, err
		}
		rng := rand.New(rand.NewPCG(u.RandSeed, u.RandSeed^placeholderStream))
		values, err = entity.NewTracker(cat, rng).ResolveAll(tags)
		if err != nil {
			return nil, PromptSpec{}, err
		}
	}

	text := catalog.Substitute(u.Seed.Text, values)
	return values, BuildScamPrompt(u, text, values, g.opts.Guidance), nil
}

// call applies the per-call timeout. A deadline hit by this call, rather
// than by ctx, is reported as an llm timeout.
func (g *Generator) call(ctx context.Context, req llm.Request) (llm.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.opts.CallTimeout)
	defer cancel()

	resp, err := g.client.Complete(callCtx, req)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && llm.KindOf(err) != llm.KindTimeout {
		err = &llm.CallError{Provider: g.opts.Provider, Kind: llm.KindTimeout, Err: err}
	}
	return resp, err
}

func (g *Generator) conversation(u Unit, turns []Turn, issues []Issue, values map[string]string, attempts int, usage llm.Usage) *Conversation {
	category := u.Template.Category
	if category == "" {
		category = u.Seed.Category
	}
	conv := &Conversation{
		ID:                u.ConversationID,
		UUID:              u.UUID,
		Kind:              u.Kind,
		Locale:            u.Locale,
		SeedID:            u.Seed.ID,
		TemplateID:        u.Template.ID,
		Category:          category,
		NumTurns:          len(turns),
		CharacterProfiles: map[Role]string{},
		Placeholders:      values,
		Dialogue:          turns,
		Attempts:          attempts,
		Usage:             usage,
	}
	if u.Kind == KindScam {
		conv.VictimAwareness = u.Template.Awareness
	}
	if u.Pair.Caller.ID != "" {
		conv.CharacterProfiles[RoleCaller] = u.Pair.Caller.ID
	}
	if u.Pair.Callee.ID != "" {
		conv.CharacterProfiles[RoleCallee] = u.Pair.Callee.ID
	}
	for _, issue := range append(issues, checkPlaceholders(turns)...) {
		conv.Warnings = append(conv.Warnings, issue.Category+": "+issue.Message)
	}
	return conv
}

// postprocess resolves any tags the model echoed back and renumbers turns
// from zero.
func postprocess(turns []Turn, values map[string]string) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = Turn{
			Index: i,
			Role:  t.Role,
			Text:  strings.TrimSpace(catalog.Substitute(t.Text, values)),
		}
	}
	return out
}

func failureReason(err error) string {
	var (
		pe *ParseError
		ve *ValidationError
		ce *llm.CallError
		mp *catalog.MissingPlaceholderError
	)
	switch {
	case errors.As(err, &pe):
		return "parse_failed"
	case errors.As(err, &ve):
		return "validation_failed"
	case errors.As(err, &ce):
		return "llm_" + string(ce.Kind)
	case errors.As(err, &mp):
		return "missing_placeholder"
	case err == nil:
		return "unknown"
	}
	return "error"
}
