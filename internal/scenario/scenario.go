package scenario

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/apresai/callsynth/internal/seed"
)

// Awareness is how alert the callee is to the scam.
type Awareness string

const (
	AwarenessNot  Awareness = "not"
	AwarenessTiny Awareness = "tiny"
	AwarenessVery Awareness = "very"
)

// Valid reports whether a is a known awareness level.
func (a Awareness) Valid() bool {
	switch a {
	case AwarenessNot, AwarenessTiny, AwarenessVery:
		return true
	}
	return false
}

// TurnRange bounds the number of dialogue turns.
type TurnRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Target is the midpoint the prompt asks for.
func (r TurnRange) Target() int { return (r.Min + r.Max) / 2 }

func (r TurnRange) String() string {
	if r.Min == r.Max {
		return fmt.Sprintf("%d", r.Min)
	}
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// Template describes the shape of one conversation.
type Template struct {
	ID            string    `json:"template_id"`
	Category      string    `json:"category"`
	Turns         TurnRange `json:"num_turns_range"`
	Awareness     Awareness `json:"victim_awareness"`
	CallerProfile string    `json:"scammer_profile_id,omitempty"`
	CalleeProfile string    `json:"victim_profile_id,omitempty"`
	Weight        float64   `json:"weight,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
}

// UnmarshalJSON also accepts a single num_turns value.
func (t *Template) UnmarshalJSON(data []byte) error {
	type plain Template
	var raw struct {
		plain
		NumTurns int `json:"num_turns"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = Template(raw.plain)
	if t.Turns.Min == 0 && t.Turns.Max == 0 && raw.NumTurns > 0 {
		t.Turns = TurnRange{Min: raw.NumTurns, Max: raw.NumTurns}
	}
	return nil
}

// Validate checks the template's fields.
func (t Template) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("template has no template_id")
	}
	if t.Turns.Min <= 0 || t.Turns.Max < t.Turns.Min {
		return fmt.Errorf("template %s has invalid turn range %d-%d", t.ID, t.Turns.Min, t.Turns.Max)
	}
	if !t.Awareness.Valid() {
		return fmt.Errorf("template %s has invalid victim_awareness %q", t.ID, t.Awareness)
	}
	return nil
}

// UnknownSeedError is returned when a preconfigured mapping has no entry
// for a seed.
type UnknownSeedError struct {
	SeedID string
}

func (e *UnknownSeedError) Error() string {
	return fmt.Sprintf("no scenario assignment for seed %s", e.SeedID)
}

// Resolver maps a seed to the templates it should be generated with.
type Resolver interface {
	Resolve(s seed.Seed, rng *rand.Rand) ([]Template, error)
}

// Preconfigured serves templates from a fixed seed-to-template table.
type Preconfigured struct {
	templates   map[string]Template
	assignments map[string][]string
}

// NewPreconfigured checks that every assigned template exists.
func NewPreconfigured(templates []Template, assignments map[string][]string) (*Preconfigured, error) {
	p := &Preconfigured{
		templates:   make(map[string]Template, len(templates)),
		assignments: make(map[string][]string, len(assignments)),
	}
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := p.templates[t.ID]; dup {
			return nil, fmt.Errorf("duplicate template id %s", t.ID)
		}
		p.templates[t.ID] = t
	}
	for seedID, ids := range assignments {
		if len(ids) == 0 {
			return nil, fmt.Errorf("seed %s has an empty assignment", seedID)
		}
		for _, id := range ids {
			if _, ok := p.templates[id]; !ok {
				return nil, fmt.Errorf("seed %s assigned unknown template %s", seedID, id)
			}
		}
		p.assignments[seedID] = append([]string(nil), ids...)
	}
	return p, nil
}

// Resolve returns the assigned templates in table order.
func (p *Preconfigured) Resolve(s seed.Seed, _ *rand.Rand) ([]Template, error) {
	ids, ok := p.assignments[s.ID]
	if !ok {
		return nil, &UnknownSeedError{SeedID: s.ID}
	}
	out := make([]Template, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.templates[id])
	}
	return out, nil
}

// Random synthesizes templates from weighted awareness and turn-count
// distributions.
type Random struct {
	Awareness Weights[Awareness]
	Turns     Weights[int]
	Spread    int // width of the turn range around the drawn count
	PerSeed   int
}

// DefaultAwareness is the awareness mix used when none is configured.
var DefaultAwareness = Weights[Awareness]{
	{Value: AwarenessNot, Weight: 0.60},
	{Value: AwarenessTiny, Weight: 0.30},
	{Value: AwarenessVery, Weight: 0.10},
}

// DefaultTurns is the turn-count mix used when none is configured.
var DefaultTurns = Weights[int]{
	{Value: 20, Weight: 0.15},
	{Value: 21, Weight: 0.25},
	{Value: 22, Weight: 0.30},
	{Value: 23, Weight: 0.20},
	{Value: 24, Weight: 0.10},
}

// NewRandom builds a Random resolver producing perSeed templates per seed.
func NewRandom(perSeed int) *Random {
	if perSeed <= 0 {
		perSeed = 1
	}
	return &Random{Awareness: DefaultAwareness, Turns: DefaultTurns, PerSeed: perSeed}
}

// Resolve draws PerSeed templates for s. Draws come from rng only, so a
// seeded rng yields the same templates every run.
func (r *Random) Resolve(s seed.Seed, rng *rand.Rand) ([]Template, error) {
	if err := r.Awareness.Validate(); err != nil {
		return nil, fmt.Errorf("awareness weights: %w", err)
	}
	if err := r.Turns.Validate(); err != nil {
		return nil, fmt.Errorf("turn weights: %w", err)
	}

	category := s.MetaTag
	if category == "" {
		category = s.Category
	}

	out := make([]Template, 0, r.PerSeed)
	for i := 0; i < r.PerSeed; i++ {
		n := r.Turns.Draw(rng)
		lo := n - r.Spread
		if lo < 1 {
			lo = 1
		}
		out = append(out, Template{
			ID:        fmt.Sprintf("R-%s-%d", s.ID, i+1),
			Category:  category,
			Turns:     TurnRange{Min: lo, Max: n + r.Spread},
			Awareness: r.Awareness.Draw(rng),
		})
	}
	return out, nil
}
