package scenario

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strings"

	"github.com/apresai/callsynth/internal/profile"
	"github.com/apresai/callsynth/internal/seed"
)

// FallbackCategory is used when no template matches a seed's category.
const FallbackCategory = "E-commerce Fraud"

type templateFile struct {
	Templates []Template `json:"templates"`
}

type assignmentFile struct {
	Assignments map[string][]string `json:"assignments"`
}

// LoadTemplates reads a {"templates": [...]} document or a bare array.
func LoadTemplates(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates from %s: %w", path, err)
	}
	var templates []Template
	if strings.HasPrefix(strings.TrimSpace(string(data)), "[") {
		err = json.Unmarshal(data, &templates)
	} else {
		var f templateFile
		err = json.Unmarshal(data, &f)
		templates = f.Templates
	}
	if err != nil {
		return nil, fmt.Errorf("parse templates from %s: %w", path, err)
	}
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("templates %s: %w", path, err)
		}
	}
	return templates, nil
}

// SaveTemplates writes templates as a {"templates": [...]} document.
func SaveTemplates(path string, templates []Template) error {
	return writeJSON(path, templateFile{Templates: templates})
}

// LoadAssignments reads a {"assignments": {seed: [template ids]}} document
// or a bare map.
func LoadAssignments(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read assignments from %s: %w", path, err)
	}
	var f assignmentFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse assignments from %s: %w", path, err)
	}
	if f.Assignments != nil {
		return f.Assignments, nil
	}
	var bare map[string][]string
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, fmt.Errorf("parse assignments from %s: %w", path, err)
	}
	return bare, nil
}

// SaveAssignments writes the seed-to-template table.
func SaveAssignments(path string, assignments map[string][]string) error {
	return writeJSON(path, assignmentFile{Assignments: assignments})
}

// BuildAssignments picks up to perSeed templates for every seed, weighted by
// template weight and without replacement. Templates are matched on the
// seed's meta tag, then its category, then FallbackCategory, then all
// templates.
func BuildAssignments(seeds []seed.Seed, templates []Template, perSeed int, rng *rand.Rand) map[string][]string {
	byCategory := map[string]Weights[string]{}
	var all Weights[string]
	for _, t := range templates {
		w := t.Weight
		if w <= 0 {
			w = 1
		}
		key := strings.ToLower(t.Category)
		byCategory[key] = append(byCategory[key], Weighted[string]{Value: t.ID, Weight: w})
		all = append(all, Weighted[string]{Value: t.ID, Weight: w})
	}

	out := make(map[string][]string, len(seeds))
	for _, s := range seeds {
		pool := all
		for _, key := range []string{s.MetaTag, s.Category, FallbackCategory} {
			if c, ok := byCategory[strings.ToLower(key)]; ok && key != "" {
				pool = c
				break
			}
		}
		if len(pool) == 0 {
			continue
		}
		out[s.ID] = pool.DrawDistinct(perSeed, rng)
	}
	return out
}

// GenerateTemplates builds count templates pairing every scammer with every
// victim in reg, cycling through categories. Awareness and turn counts are
// drawn from the given distributions.
func GenerateTemplates(reg *profile.Registry, categories []string, count int, awareness Weights[Awareness], turns Weights[int], rng *rand.Rand) ([]Template, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("at least one category is required")
	}
	if err := awareness.Validate(); err != nil {
		return nil, fmt.Errorf("awareness weights: %w", err)
	}
	if err := turns.Validate(); err != nil {
		return nil, fmt.Errorf("turn weights: %w", err)
	}

	scammers := reg.Eligible(profile.RoleScammer, "")
	victims := reg.Eligible(profile.RoleVictim, "")
	var pairs [][2]string
	for _, s := range scammers {
		for _, v := range victims {
			if s.ID != v.ID {
				pairs = append(pairs, [2]string{s.ID, v.ID})
			}
		}
	}
	if len(pairs) == 0 {
		return nil, &profile.InsufficientProfilesError{Role: profile.RoleScammer, Eligible: len(scammers)}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})

	out := make([]Template, 0, count)
	for i := 0; i < count; i++ {
		pair := pairs[i%len(pairs)]
		n := turns.Draw(rng)
		out = append(out, Template{
			ID:            fmt.Sprintf("T%04d", i+1),
			Category:      categories[i%len(categories)],
			Turns:         TurnRange{Min: n, Max: n},
			Awareness:     awareness.Draw(rng),
			CallerProfile: pair[0],
			CalleeProfile: pair[1],
			Weight:        1,
		})
	}
	return out, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
