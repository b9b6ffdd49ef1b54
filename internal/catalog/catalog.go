package catalog

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strings"
	"sync"
)

// Entry holds the candidate values for one placeholder tag. Translations,
// when present, run parallel to Substitutions.
type Entry struct {
	Tag           string   `json:"-"`
	Substitutions []string `json:"substitutions"`
	Translations  []string `json:"translations,omitempty"`
}

// UnmarshalJSON accepts the full object form as well as the older shapes
// where a tag maps straight to a string or to a list of strings.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		e.Substitutions = []string{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		e.Substitutions = list
		return nil
	}
	type plain Entry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Entry(p)
	return nil
}

// MissingPlaceholderError is returned when a locale's catalog has no entry
// for a tag.
type MissingPlaceholderError struct {
	Locale string
	Tag    string
}

func (e *MissingPlaceholderError) Error() string {
	return fmt.Sprintf("placeholder %q missing from %s catalog", e.Tag, e.Locale)
}

// Catalog is the read-only placeholder table for a single locale.
type Catalog struct {
	Locale  string
	entries map[string]Entry
}

// Parse decodes a catalog document. Keys may be written as {00001},
// <bank_name>, or bare names; they are stored normalized.
func Parse(locale string, data []byte) (*Catalog, error) {
	var raw map[string]Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s catalog: %w", locale, err)
	}
	c := &Catalog{Locale: locale, entries: make(map[string]Entry, len(raw))}
	for key, entry := range raw {
		tag := Normalize(key)
		if tag == "" {
			return nil, fmt.Errorf("parse %s catalog: empty tag key %q", locale, key)
		}
		entry.Tag = tag
		c.entries[tag] = entry
	}
	return c, nil
}

// Load reads a catalog from path and checks that every required tag has at
// least one substitution.
func Load(locale, path string, required []string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s catalog from %s: %w", locale, path, err)
	}
	c, err := Parse(locale, data)
	if err != nil {
		return nil, err
	}
	if err := c.Require(required...); err != nil {
		return nil, err
	}
	return c, nil
}

// Require fails on the first tag that is absent or has no substitutions.
func (c *Catalog) Require(tags ...string) error {
	for _, tag := range tags {
		entry, ok := c.entries[Normalize(tag)]
		if !ok || len(entry.Substitutions) == 0 {
			return &MissingPlaceholderError{Locale: c.Locale, Tag: Normalize(tag)}
		}
	}
	return nil
}

// Lookup returns a copy of the candidate substitutions for tag.
func (c *Catalog) Lookup(tag string) ([]string, error) {
	entry, err := c.Entry(tag)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(entry.Substitutions))
	copy(out, entry.Substitutions)
	return out, nil
}

// Entry returns the full entry for tag.
func (c *Catalog) Entry(tag string) (Entry, error) {
	entry, ok := c.entries[Normalize(tag)]
	if !ok || len(entry.Substitutions) == 0 {
		return Entry{}, &MissingPlaceholderError{Locale: c.Locale, Tag: Normalize(tag)}
	}
	return entry, nil
}

// Resolve draws one substitution for tag. A nil rng uses the process-wide
// source; a seeded rng makes the draw reproducible.
func (c *Catalog) Resolve(tag string, rng *rand.Rand) (string, error) {
	entry, err := c.Entry(tag)
	if err != nil {
		return "", err
	}
	n := len(entry.Substitutions)
	var i int
	if rng != nil {
		i = rng.IntN(n)
	} else {
		i = rand.IntN(n)
	}
	return entry.Substitutions[i], nil
}

// Tags lists every tag in the catalog, sorted.
func (c *Catalog) Tags() []string {
	tags := make([]string, 0, len(c.entries))
	for tag := range c.entries {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Len reports the number of tags.
func (c *Catalog) Len() int { return len(c.entries) }

// Store loads catalogs lazily, once per locale, and shares them between
// goroutines.
type Store struct {
	mu       sync.Mutex
	paths    map[string]string
	required []string
	loaded   map[string]*Catalog
}

// NewStore maps each locale to its catalog file. Every catalog must carry the
// required tags.
func NewStore(paths map[string]string, required []string) *Store {
	p := make(map[string]string, len(paths))
	for locale, path := range paths {
		p[strings.ToLower(locale)] = path
	}
	return &Store{paths: p, required: required, loaded: map[string]*Catalog{}}
}

// Get returns the catalog for locale, loading it on first use.
func (s *Store) Get(locale string) (*Catalog, error) {
	key := strings.ToLower(locale)

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.loaded[key]; ok {
		return c, nil
	}
	path, ok := s.paths[key]
	if !ok {
		return nil, fmt.Errorf("no placeholder catalog configured for locale %q", locale)
	}
	c, err := Load(locale, path, s.required)
	if err != nil {
		return nil, err
	}
	s.loaded[key] = c
	return c, nil
}

// Lookup is Get followed by Catalog.Lookup.
func (s *Store) Lookup(locale, tag string) ([]string, error) {
	c, err := s.Get(locale)
	if err != nil {
		return nil, err
	}
	return c.Lookup(tag)
}

// Resolve is Get followed by Catalog.Resolve.
func (s *Store) Resolve(locale, tag string, rng *rand.Rand) (string, error) {
	c, err := s.Get(locale)
	if err != nil {
		return "", err
	}
	return c.Resolve(tag, rng)
}
