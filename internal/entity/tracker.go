package entity

import (
	"math/rand/v2"
)

// Source draws a value for a placeholder tag.
type Source interface {
	Resolve(tag string, rng *rand.Rand) (string, error)
}

// Tracker pins each placeholder tag to one value for the lifetime of a
// single conversation. It is not safe for concurrent use; each conversation
// gets its own.
type Tracker struct {
	src    Source
	rng    *rand.Rand
	values map[string]string
	order  []string
}

// NewTracker creates an empty tracker drawing from src with rng.
func NewTracker(src Source, rng *rand.Rand) *Tracker {
	return &Tracker{src: src, rng: rng, values: map[string]string{}}
}

// GetOrResolve returns the value already bound to tag, or draws and binds
// one on first use.
func (t *Tracker) GetOrResolve(tag string) (string, error) {
	if v, ok := t.values[tag]; ok {
		return v, nil
	}
	v, err := t.src.Resolve(tag, t.rng)
	if err != nil {
		return "", err
	}
	t.values[tag] = v
	t.order = append(t.order, tag)
	return v, nil
}

// ResolveAll binds every tag in tags and returns the full binding map.
func (t *Tracker) ResolveAll(tags []string) (map[string]string, error) {
	for _, tag := range tags {
		if _, err := t.GetOrResolve(tag); err != nil {
			return nil, err
		}
	}
	return t.Used(), nil
}

// Used returns a copy of the bindings made so far.
func (t *Tracker) Used() map[string]string {
	out := make(map[string]string, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}

// Order lists bound tags in the order they were first resolved.
func (t *Tracker) Order() []string {
	return append([]string(nil), t.order...)
}
