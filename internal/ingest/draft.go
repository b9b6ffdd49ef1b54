package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/apresai/callsynth/internal/dialogue"
	"github.com/apresai/callsynth/internal/llm"
	"github.com/apresai/callsynth/internal/seed"
)

// DefaultCategories are the scam types a drafted seed is filed under.
var DefaultCategories = []string{
	"Government Authority",
	"Consumer Services",
	"Workplace",
	"Employment",
	"Financial Service",
	"Healthcare",
	"Education",
	"Personal Relationships",
	"Technology",
	"Prize and Lottery",
	"Charity and Nonprofit",
	"Sexual Blackmail",
	"Other",
}

const exampleRecord = `{
  "type": "Government Authority",
  "summary": "Government tax agency requesting payment or personal ID verification.",
  "meta_tag": "tax_authority_payment",
  "seed": "The caller claims to be from the national tax authority and says there is an outstanding balance or an error in recent filings that must be fixed immediately. The caller warns that failing to act will lead to legal action or frozen accounts. The caller asks for a national ID number, tax number or bank details, or demands immediate payment by wire transfer, prepaid card or cryptocurrency."
}`

// Drafter asks an LLM to turn scenario text into seed records.
type Drafter struct {
	Client      llm.Client
	Model       string
	Categories  []string
	Concurrency int
	// Quality is the quality_score given to every draft; drafts are meant
	// to be reviewed before use.
	Quality float64
	Logger  *slog.Logger
}

// DraftFailure is a scenario the LLM could not turn into a seed.
type DraftFailure struct {
	Source string `json:"source"`
	Index  int    `json:"index"`
	Error  string `json:"error"`
}

type draftRecord struct {
	Type    string `json:"type"`
	Summary string `json:"summary"`
	MetaTag string `json:"meta_tag"`
	Seed    string `json:"seed"`
}

var draftSchema = func() *llm.Schema {
	s := llm.Object(map[string]*llm.Schema{
		"type":     llm.String("Short scam type label"),
		"summary":  llm.String("One-sentence summary of the scam"),
		"meta_tag": llm.String("Scam category tag"),
		"seed":     llm.String("Seed narrative the conversation is generated from"),
	}, "type", "summary", "meta_tag", "seed")
	s.Name = "record_seed"
	s.Description = "Record the drafted scam seed."
	return s
}()

func (d *Drafter) systemPrompt() string {
	return "You write scam phone call seed records from a scam scenario, report or advisory.\n" +
		"A seed record has a scam type, a one-sentence summary, a short snake_case meta_tag naming the scheme, " +
		"and a 2-4 sentence description of how the call unfolds.\n\n" +
		"1. type: choose the closest category from: " + strings.Join(d.Categories, ", ") + ".\n" +
		"2. summary: the scheme in one short sentence.\n" +
		"3. seed: only what happens WITHIN the phone call.\n\n" +
		"STRICT RULES:\n" +
		"- Keep it general for any country.\n" +
		"- Use generic terms such as 'a bank', 'a government tax agency', 'a delivery company'. No real names, numbers or brands.\n" +
		"- If the text describes several scams, describe the main one carried out by phone.\n\n" +
		"Example:\n" + exampleRecord + "\n\n" +
		"Respond with a JSON object with fields: type, summary, meta_tag, seed."
}

// DraftAll drafts one seed per scenario of docs. Seeds are numbered
// idPrefix0001, idPrefix0002, ... in input order; failed scenarios are
// returned separately and leave no gap in the numbering.
func (d *Drafter) DraftAll(ctx context.Context, docs []*Document, idPrefix string) ([]seed.Seed, []DraftFailure, error) {
	if len(d.Categories) == 0 {
		d.Categories = DefaultCategories
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	type job struct {
		source   string
		index    int
		scenario string
	}
	var jobs []job
	for _, doc := range docs {
		for i, sc := range doc.Scenarios {
			jobs = append(jobs, job{doc.Source, i, sc})
		}
	}

	records := make([]*draftRecord, len(jobs))
	var (
		mu       sync.Mutex
		failures []DraftFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(d.Concurrency, 1))
	for i, j := range jobs {
		g.Go(func() error {
			rec, err := d.draft(gctx, j.scenario)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.WarnContext(gctx, "seed draft failed", "source", j.source, "index", j.index, "error", err)
				mu.Lock()
				failures = append(failures, DraftFailure{Source: j.source, Index: j.index, Error: err.Error()})
				mu.Unlock()
				return nil
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	seeds := make([]seed.Seed, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		seeds = append(seeds, seed.Seed{
			ID:           fmt.Sprintf("%s%04d", idPrefix, len(seeds)+1),
			Text:         rec.Seed,
			Category:     rec.Type,
			MetaTag:      rec.MetaTag,
			QualityScore: d.Quality,
		})
	}
	slices.SortFunc(failures, func(a, b DraftFailure) int {
		if c := strings.Compare(a.Source, b.Source); c != 0 {
			return c
		}
		return a.Index - b.Index
	})
	logger.InfoContext(ctx, "seeds drafted", "scenarios", len(jobs), "seeds", len(seeds), "failed", len(failures))
	return seeds, failures, nil
}

func (d *Drafter) draft(ctx context.Context, scenario string) (*draftRecord, error) {
	resp, err := d.Client.Complete(ctx, llm.Request{
		Model:       d.Model,
		System:      []string{d.systemPrompt()},
		Prompt:      "Scam scenario: " + scenario + "\nProvide the type, summary, meta_tag and seed as specified.",
		MaxTokens:   1024,
		Temperature: 0.7,
		JSON:        true,
		Schema:      draftSchema,
	})
	if err != nil {
		return nil, err
	}

	var rec draftRecord
	if err := dialogue.DecodeJSON(resp.Text, &rec); err != nil {
		return nil, err
	}
	rec.Seed = strings.TrimSpace(rec.Seed)
	if rec.Seed == "" {
		return nil, fmt.Errorf("draft has no seed text")
	}
	if !slices.Contains(d.Categories, rec.Type) {
		rec.Type = "Other"
	}
	rec.MetaTag = metaTag(rec.MetaTag)
	return &rec, nil
}

// metaTag normalizes a model-written tag to lower snake_case.
func metaTag(s string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// SaveSeeds validates seeds and writes them in the wrapped seed file format.
func SaveSeeds(path string, seeds []seed.Seed) error {
	if _, err := seed.NewStore(seeds); err != nil {
		return err
	}
	data, err := json.MarshalIndent(struct {
		Seeds []seed.Seed `json:"seeds"`
	}{seeds}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal seeds: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write seeds to %s: %w", path, err)
	}
	return nil
}
