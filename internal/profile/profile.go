package profile

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strings"
)

// Role is the part a profile prefers to play in a call.
type Role string

const (
	RoleScammer Role = "scammer"
	RoleVictim  Role = "victim"
	RoleAny     Role = "any"
)

// Profile defines a call participant's identity and speaking manner.
type Profile struct {
	ID                string   `json:"profile_id"`
	NameHint          string   `json:"name"`
	Gender            string   `json:"gender"`    // male, female, any
	AgeRange          string   `json:"age_range"` // young, middle-aged, senior, any
	PersonalityTraits []string `json:"personality_traits"`
	SpeakingStyle     []string `json:"speaking_style"`
	EducationLevel    string   `json:"education_level"`
	LocaleAffinity    []string `json:"locale_affinity,omitempty"`
	RolePreference    Role     `json:"role_preference"`
}

// Plays reports whether the profile may take role. RoleAny as the requested
// role matches every profile.
func (p Profile) Plays(role Role) bool {
	if role == RoleAny || p.RolePreference == "" || p.RolePreference == RoleAny {
		return true
	}
	return p.RolePreference == role
}

// MatchesLocale reports whether the profile may appear in locale. Profiles
// with no affinity match every locale.
func (p Profile) MatchesLocale(locale string) bool {
	if len(p.LocaleAffinity) == 0 || locale == "" {
		return true
	}
	for _, l := range p.LocaleAffinity {
		if strings.EqualFold(l, locale) {
			return true
		}
	}
	return false
}

// Describe renders the profile as prompt text.
func (p Profile) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", p.NameHint, p.ID)
	if p.Gender != "" && p.Gender != "any" {
		fmt.Fprintf(&b, "- Gender: %s\n", p.Gender)
	}
	if p.AgeRange != "" && p.AgeRange != "any" {
		fmt.Fprintf(&b, "- Age: %s\n", p.AgeRange)
	}
	if len(p.PersonalityTraits) > 0 {
		fmt.Fprintf(&b, "- Personality: %s\n", strings.Join(p.PersonalityTraits, ", "))
	}
	if len(p.SpeakingStyle) > 0 {
		fmt.Fprintf(&b, "- Speaking style: %s\n", strings.Join(p.SpeakingStyle, ", "))
	}
	if p.EducationLevel != "" && p.EducationLevel != "any" {
		fmt.Fprintf(&b, "- Education: %s\n", strings.ReplaceAll(p.EducationLevel, "_", " "))
	}
	return b.String()
}

// InsufficientProfilesError is returned when a pair cannot be drawn.
type InsufficientProfilesError struct {
	Locale   string
	Role     Role
	Eligible int
}

func (e *InsufficientProfilesError) Error() string {
	return fmt.Sprintf("not enough character profiles for role %s in locale %s (%d eligible)", e.Role, e.Locale, e.Eligible)
}

// Pair is the caller and callee chosen for one conversation.
type Pair struct {
	Caller Profile
	Callee Profile
}

// Constraints pins profile ids for either side of a pair.
type Constraints struct {
	Caller string
	Callee string
}

// Registry is an immutable set of profiles.
type Registry struct {
	profiles []Profile
	byID     map[string]int
}

// NewRegistry validates profiles and indexes them by id.
func NewRegistry(profiles []Profile) (*Registry, error) {
	r := &Registry{byID: make(map[string]int, len(profiles))}
	for i, p := range profiles {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("profile %d has no profile_id", i)
		}
		if _, dup := r.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate profile id %s", p.ID)
		}
		switch p.RolePreference {
		case "", RoleAny, RoleScammer, RoleVictim:
		default:
			return nil, fmt.Errorf("profile %s has invalid role_preference %q", p.ID, p.RolePreference)
		}
		r.byID[p.ID] = len(r.profiles)
		r.profiles = append(r.profiles, p)
	}
	return r, nil
}

// Load reads a {"profiles": [...]} document.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles from %s: %w", path, err)
	}
	var doc struct {
		Profiles []Profile `json:"profiles"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse profiles from %s: %w", path, err)
	}
	if len(doc.Profiles) == 0 {
		return nil, fmt.Errorf("profile file %s has no profiles", path)
	}
	return NewRegistry(doc.Profiles)
}

// Get returns the profile with id.
func (r *Registry) Get(id string) (Profile, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Profile{}, false
	}
	return r.profiles[i], true
}

// All returns every profile in load order.
func (r *Registry) All() []Profile {
	out := make([]Profile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

// Eligible returns the profiles that may play role in locale.
func (r *Registry) Eligible(role Role, locale string) []Profile {
	var out []Profile
	for _, p := range r.profiles {
		if p.Plays(role) && p.MatchesLocale(locale) {
			out = append(out, p)
		}
	}
	return out
}

// SamplePair draws a caller and a callee without replacement. Pinned ids in
// c bypass the draw for that side but must still be eligible.
func (r *Registry) SamplePair(callerRole, calleeRole Role, locale string, c Constraints, rng *rand.Rand) (Pair, error) {
	callers := r.Eligible(callerRole, locale)
	callees := r.Eligible(calleeRole, locale)

	if distinct(callers, callees) < 2 {
		role := callerRole
		n := len(callers)
		if len(callers) > 0 {
			role, n = calleeRole, len(callees)
		}
		return Pair{}, &InsufficientProfilesError{Locale: locale, Role: role, Eligible: n}
	}

	// Only callers that leave a distinct eligible callee are drawable.
	var viable []Profile
	for _, p := range callers {
		if c.Caller != "" && p.ID != c.Caller {
			continue
		}
		if hasCandidate(callees, c.Callee, p.ID) {
			viable = append(viable, p)
		}
	}
	if len(viable) == 0 {
		if !hasCandidate(callers, c.Caller, "") {
			return Pair{}, &InsufficientProfilesError{Locale: locale, Role: callerRole, Eligible: len(callers)}
		}
		return Pair{}, &InsufficientProfilesError{Locale: locale, Role: calleeRole, Eligible: len(callees)}
	}

	caller := draw(viable, rng)
	callee := draw(candidates(callees, c.Callee, caller.ID), rng)
	return Pair{Caller: caller, Callee: callee}, nil
}

func candidates(pool []Profile, pinned, exclude string) []Profile {
	var out []Profile
	for _, p := range pool {
		if p.ID == exclude {
			continue
		}
		if pinned != "" && p.ID != pinned {
			continue
		}
		out = append(out, p)
	}
	return out
}

func hasCandidate(pool []Profile, pinned, exclude string) bool {
	return len(candidates(pool, pinned, exclude)) > 0
}

func draw(pool []Profile, rng *rand.Rand) Profile {
	if rng == nil {
		return pool[rand.IntN(len(pool))]
	}
	return pool[rng.IntN(len(pool))]
}

func distinct(a, b []Profile) int {
	seen := map[string]bool{}
	for _, p := range a {
		seen[p.ID] = true
	}
	for _, p := range b {
		seen[p.ID] = true
	}
	return len(seen)
}

// Stats summarizes the registry by role, gender, and age range.
type Stats struct {
	Total    int            `json:"total"`
	ByRole   map[string]int `json:"by_role"`
	ByGender map[string]int `json:"by_gender"`
	ByAge    map[string]int `json:"by_age"`
}

// Stats counts the profiles along each descriptive axis.
func (r *Registry) Stats() Stats {
	s := Stats{
		Total:    len(r.profiles),
		ByRole:   map[string]int{},
		ByGender: map[string]int{},
		ByAge:    map[string]int{},
	}
	for _, p := range r.profiles {
		role := string(p.RolePreference)
		if role == "" {
			role = string(RoleAny)
		}
		s.ByRole[role]++
		s.ByGender[orAny(p.Gender)]++
		s.ByAge[orAny(p.AgeRange)]++
	}
	return s
}

// IDs returns every profile id, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.profiles))
	for _, p := range r.profiles {
		ids = append(ids, p.ID)
	}
	sort.Strings(ids)
	return ids
}

func orAny(s string) string {
	if s == "" {
		return "any"
	}
	return s
}
