package seed

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Seed is a short scam scenario description that anchors one or more
// conversations.
type Seed struct {
	ID             string   `json:"seed_id"`
	Text           string   `json:"text"`
	Category       string   `json:"category"`
	MetaTag        string   `json:"meta_tag"`
	QualityScore   float64  `json:"quality_score"`
	LocaleAffinity []string `json:"locale_affinity,omitempty"`
}

// UnmarshalJSON also accepts the field names used by older seed exports
// (record_id, summary, scam_tag).
func (s *Seed) UnmarshalJSON(data []byte) error {
	var raw struct {
		SeedID         string   `json:"seed_id"`
		RecordID       any      `json:"record_id"`
		Text           string   `json:"text"`
		Summary        string   `json:"summary"`
		Category       string   `json:"category"`
		MetaTag        string   `json:"meta_tag"`
		ScamTag        string   `json:"scam_tag"`
		QualityScore   float64  `json:"quality_score"`
		LocaleAffinity []string `json:"locale_affinity"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Seed{
		ID:             raw.SeedID,
		Text:           raw.Text,
		Category:       raw.Category,
		MetaTag:        raw.MetaTag,
		QualityScore:   raw.QualityScore,
		LocaleAffinity: raw.LocaleAffinity,
	}
	if s.ID == "" && raw.RecordID != nil {
		switch v := raw.RecordID.(type) {
		case float64:
			s.ID = fmt.Sprintf("%d", int64(v))
		default:
			s.ID = fmt.Sprint(v)
		}
	}
	if s.Text == "" {
		s.Text = raw.Summary
	}
	if s.MetaTag == "" {
		s.MetaTag = raw.ScamTag
	}
	return nil
}

// MatchesLocale reports whether the seed may be used for locale. Seeds with
// no affinity match every locale.
func (s Seed) MatchesLocale(locale string) bool {
	if len(s.LocaleAffinity) == 0 {
		return true
	}
	for _, l := range s.LocaleAffinity {
		if strings.EqualFold(l, locale) {
			return true
		}
	}
	return false
}

// Store holds the seeds of one input file in their original order.
type Store struct {
	seeds []Seed
	byID  map[string]int
}

// NewStore validates seeds and indexes them by id.
func NewStore(seeds []Seed) (*Store, error) {
	s := &Store{seeds: make([]Seed, 0, len(seeds)), byID: make(map[string]int, len(seeds))}
	for i, sd := range seeds {
		if strings.TrimSpace(sd.ID) == "" {
			return nil, fmt.Errorf("seed %d has no id", i)
		}
		if strings.TrimSpace(sd.Text) == "" {
			return nil, fmt.Errorf("seed %s has empty text", sd.ID)
		}
		if sd.QualityScore < 0 || sd.QualityScore > 100 {
			return nil, fmt.Errorf("seed %s quality score %.1f outside 0-100", sd.ID, sd.QualityScore)
		}
		if _, dup := s.byID[sd.ID]; dup {
			return nil, fmt.Errorf("duplicate seed id %s", sd.ID)
		}
		s.byID[sd.ID] = len(s.seeds)
		s.seeds = append(s.seeds, sd)
	}
	return s, nil
}

// Load reads seeds from a JSON file holding either an array of seeds or an
// object with a "seeds" array.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seeds from %s: %w", path, err)
	}

	var seeds []Seed
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal(data, &seeds)
	} else {
		var wrapped struct {
			Seeds []Seed `json:"seeds"`
		}
		err = json.Unmarshal(data, &wrapped)
		seeds = wrapped.Seeds
	}
	if err != nil {
		return nil, fmt.Errorf("parse seeds from %s: %w", path, err)
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("seed file %s has no seeds", path)
	}
	return NewStore(seeds)
}

// Get returns the seed with id.
func (s *Store) Get(id string) (Seed, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Seed{}, false
	}
	return s.seeds[i], true
}

// All returns every seed in file order.
func (s *Store) All() []Seed {
	out := make([]Seed, len(s.seeds))
	copy(out, s.seeds)
	return out
}

// Len reports the number of seeds.
func (s *Store) Len() int { return len(s.seeds) }

// Filter returns the seeds scoring at least minQuality that match locale,
// preserving file order. An empty locale skips the affinity check.
func (s *Store) Filter(minQuality float64, locale string) []Seed {
	var out []Seed
	for _, sd := range s.seeds {
		if sd.QualityScore < minQuality {
			continue
		}
		if locale != "" && !sd.MatchesLocale(locale) {
			continue
		}
		out = append(out, sd)
	}
	return out
}

// Categories returns the distinct seed categories in first-seen order.
func (s *Store) Categories() []string {
	seen := map[string]bool{}
	var out []string
	for _, sd := range s.seeds {
		if sd.Category != "" && !seen[sd.Category] {
			seen[sd.Category] = true
			out = append(out, sd.Category)
		}
	}
	return out
}
