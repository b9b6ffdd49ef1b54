package scenario

import (
	"fmt"
	"math/rand/v2"
)

// Weighted pairs a value with its relative weight.
type Weighted[T any] struct {
	Value  T       `json:"value"`
	Weight float64 `json:"weight"`
}

// Weights is a categorical distribution. Weights need not sum to one.
type Weights[T any] []Weighted[T]

// Validate rejects empty distributions and negative or all-zero weights.
func (w Weights[T]) Validate() error {
	if len(w) == 0 {
		return fmt.Errorf("no choices")
	}
	var total float64
	for _, c := range w {
		if c.Weight < 0 {
			return fmt.Errorf("negative weight %.3f", c.Weight)
		}
		total += c.Weight
	}
	if total == 0 {
		return fmt.Errorf("weights sum to zero")
	}
	return nil
}

// Draw picks one value. A nil rng uses the process-wide source.
func (w Weights[T]) Draw(rng *rand.Rand) T {
	var total float64
	for _, c := range w {
		total += c.Weight
	}
	x := float64Of(rng) * total
	for _, c := range w {
		if x < c.Weight {
			return c.Value
		}
		x -= c.Weight
	}
	return w[len(w)-1].Value
}

// DrawDistinct picks up to n values without replacement.
func (w Weights[T]) DrawDistinct(n int, rng *rand.Rand) []T {
	pool := append(Weights[T](nil), w...)
	var out []T
	for len(out) < n && len(pool) > 0 {
		var total float64
		for _, c := range pool {
			total += c.Weight
		}
		i := len(pool) - 1
		if total > 0 {
			x := float64Of(rng) * total
			for j, c := range pool {
				if x < c.Weight {
					i = j
					break
				}
				x -= c.Weight
			}
		} else {
			i = intNOf(rng, len(pool))
		}
		out = append(out, pool[i].Value)
		pool = append(pool[:i], pool[i+1:]...)
	}
	return out
}

func float64Of(rng *rand.Rand) float64 {
	if rng == nil {
		return rand.Float64()
	}
	return rng.Float64()
}

func intNOf(rng *rand.Rand, n int) int {
	if rng == nil {
		return rand.IntN(n)
	}
	return rng.IntN(n)
}
