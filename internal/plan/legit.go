package plan

import (
	"fmt"
	"math/rand/v2"

	"github.com/apresai/callsynth/internal/dialogue"
	"github.com/apresai/callsynth/internal/profile"
	"github.com/apresai/callsynth/internal/scenario"
	"github.com/apresai/callsynth/internal/seed"
)

// LegitOptions controls planning of legitimate calls.
type LegitOptions struct {
	Locale           string
	Count            int
	MaxConversations int
	Categories       []string
	Turns            scenario.Weights[int] // nil uses scenario.DefaultTurns
	Spread           int
	Seeded           bool
	RandomSeed       uint64
}

// BuildLegit plans Count legit units, each with a category drawn uniformly
// from Categories and a turn count from Turns. reg may be nil, in which case
// units carry no character profiles.
func BuildLegit(reg *profile.Registry, opts LegitOptions) (*Plan, error) {
	if opts.Count < 1 {
		return nil, fmt.Errorf("legit count must be at least 1, got %d", opts.Count)
	}
	if len(opts.Categories) == 0 {
		return nil, fmt.Errorf("no legit call categories configured")
	}
	turns := opts.Turns
	if turns == nil {
		turns = scenario.DefaultTurns
	}
	if err := turns.Validate(); err != nil {
		return nil, fmt.Errorf("turn weights: %w", err)
	}
	if !opts.Seeded {
		opts.RandomSeed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(opts.RandomSeed, opts.RandomSeed))

	count := opts.Count
	p := &Plan{
		Kind:       dialogue.KindLegit,
		Locale:     opts.Locale,
		RandomSeed: opts.RandomSeed,
	}
	if opts.MaxConversations > 0 && count > opts.MaxConversations {
		count = opts.MaxConversations
		p.Capped = true
	}

	for i := 0; i < count; i++ {
		category := opts.Categories[rng.IntN(len(opts.Categories))]
		n := turns.Draw(rng)
		tmpl := scenario.Template{
			ID:       fmt.Sprintf("L-%04d", i+1),
			Category: category,
			Turns:    scenario.TurnRange{Min: max(n-opts.Spread, 1), Max: n + opts.Spread},
		}

		var pair profile.Pair
		if reg != nil {
			var err error
			pair, err = reg.SamplePair(profile.RoleAny, profile.RoleAny, opts.Locale, profile.Constraints{}, rng)
			if err != nil {
				return nil, fmt.Errorf("draw profiles for legit unit %d: %w", i+1, err)
			}
		}
		p.Units = append(p.Units, p.newUnit(seed.Seed{}, tmpl, pair, rng.Uint64()))
	}
	return p, nil
}
