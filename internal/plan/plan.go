// Package plan decides which conversations a batch will generate. Every
// random choice that does not involve the LLM is made here, so a plan built
// twice from the same inputs and random seed is identical.
package plan

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/apresai/callsynth/internal/dialogue"
	"github.com/apresai/callsynth/internal/profile"
	"github.com/apresai/callsynth/internal/scenario"
	"github.com/apresai/callsynth/internal/seed"
)

// Mode selects how the number of units is decided.
type Mode string

const (
	// ModeSeeds plans SeedLimit seeds times ScenariosPerSeed units.
	ModeSeeds Mode = "seeds"
	// ModeConversations plans ceil(Target/ScenariosPerSeed) seeds, which
	// may overshoot the target to finish the last seed.
	ModeConversations Mode = "conversations"
)

// conversationNamespace scopes the UUIDv5 ids derived from conversation ids.
var conversationNamespace = uuid.MustParse("6f1c2a52-8d0e-4b7a-9a51-3c6f0e2d9b17")

// Options controls scam planning.
type Options struct {
	Mode                Mode
	Locale              string
	SeedLimit           int // 0 takes every eligible seed
	TargetConversations int
	MaxConversations    int // absolute cap, 0 disables
	ScenariosPerSeed    int
	MinQuality          float64
	Shuffle             bool
	Seeded              bool
	RandomSeed          uint64
}

// Skip records a seed that produced no units.
type Skip struct {
	SeedID string `json:"seed_id"`
	Reason string `json:"reason"`
}

// Plan is the ordered list of units for one batch.
type Plan struct {
	Kind          dialogue.Kind
	Locale        string
	Mode          Mode
	RandomSeed    uint64
	EligibleSeeds int
	SeedsUsed     int
	Capped        bool
	Units         []dialogue.Unit
	Skipped       []Skip
}

// Build plans scam units. Seeds below MinQuality are dropped first. Seeds
// the resolver does not know are skipped and recorded; a registry that
// cannot supply a pair fails the whole plan.
func Build(seeds *seed.Store, resolver scenario.Resolver, reg *profile.Registry, opts Options) (*Plan, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if !opts.Seeded {
		opts.RandomSeed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(opts.RandomSeed, opts.RandomSeed))

	eligible := seeds.Filter(opts.MinQuality, opts.Locale)
	if opts.Shuffle {
		rng.Shuffle(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })
	}

	p := &Plan{
		Kind:          dialogue.KindScam,
		Locale:        opts.Locale,
		Mode:          opts.Mode,
		RandomSeed:    opts.RandomSeed,
		EligibleSeeds: len(eligible),
	}
	wantSeeds := opts.seedsWanted(len(eligible))

	for _, s := range eligible {
		if p.SeedsUsed >= wantSeeds || p.Capped {
			break
		}
		templates, err := resolver.Resolve(s, rng)
		if err != nil {
			var unknown *scenario.UnknownSeedError
			if errors.As(err, &unknown) {
				p.Skipped = append(p.Skipped, Skip{SeedID: s.ID, Reason: err.Error()})
				continue
			}
			return nil, fmt.Errorf("resolve templates for seed %s: %w", s.ID, err)
		}
		if len(templates) == 0 {
			p.Skipped = append(p.Skipped, Skip{SeedID: s.ID, Reason: "no templates"})
			continue
		}

		p.SeedsUsed++
		for i := 0; i < opts.ScenariosPerSeed; i++ {
			if opts.MaxConversations > 0 && len(p.Units) >= opts.MaxConversations {
				p.Capped = true
				break
			}
			tmpl := templates[i%len(templates)]
			if tmpl.Category == "" {
				tmpl.Category = s.Category
			}
			pair, err := reg.SamplePair(profile.RoleScammer, profile.RoleVictim, opts.Locale,
				profile.Constraints{Caller: tmpl.CallerProfile, Callee: tmpl.CalleeProfile}, rng)
			if err != nil {
				return nil, fmt.Errorf("draw profiles for seed %s template %s: %w", s.ID, tmpl.ID, err)
			}
			p.Units = append(p.Units, p.newUnit(s, tmpl, pair, rng.Uint64()))
		}
	}
	return p, nil
}

func (p *Plan) newUnit(s seed.Seed, tmpl scenario.Template, pair profile.Pair, randSeed uint64) dialogue.Unit {
	index := len(p.Units)
	id := ConversationID(p.Locale, p.Kind, index)
	return dialogue.Unit{
		Index:          index,
		ConversationID: id,
		UUID:           uuid.NewSHA1(conversationNamespace, []byte(id+"/"+s.ID+"/"+tmpl.ID)).String(),
		Kind:           p.Kind,
		Locale:         p.Locale,
		Seed:           s,
		Template:       tmpl,
		Pair:           pair,
		RandSeed:       randSeed,
	}
}

// ConversationID formats the plan-time id of the unit at index.
func ConversationID(locale string, kind dialogue.Kind, index int) string {
	return fmt.Sprintf("%s-%s-%06d", locale, kind, index+1)
}

// SeedsNeeded is ceil(target / perSeed).
func SeedsNeeded(target, perSeed int) int {
	if perSeed <= 0 {
		return 0
	}
	return (target + perSeed - 1) / perSeed
}

func (o Options) seedsWanted(eligible int) int {
	switch o.Mode {
	case ModeConversations:
		return SeedsNeeded(o.TargetConversations, o.ScenariosPerSeed)
	default:
		if o.SeedLimit > 0 {
			return o.SeedLimit
		}
		return eligible
	}
}

func (o Options) validate() error {
	if o.ScenariosPerSeed < 1 {
		return fmt.Errorf("scenarios per seed must be at least 1, got %d", o.ScenariosPerSeed)
	}
	if o.MaxConversations < 0 {
		return fmt.Errorf("max conversations must not be negative, got %d", o.MaxConversations)
	}
	switch o.Mode {
	case ModeSeeds:
		if o.SeedLimit < 0 {
			return fmt.Errorf("seed limit must not be negative, got %d", o.SeedLimit)
		}
	case ModeConversations:
		if o.TargetConversations < 1 {
			return fmt.Errorf("conversation mode needs a target of at least 1, got %d", o.TargetConversations)
		}
	default:
		return fmt.Errorf("unknown control mode %q: choose seeds or conversations", o.Mode)
	}
	return nil
}
