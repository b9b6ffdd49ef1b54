package entity

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	calls map[string]int
	fail  string
}

func (s *countingSource) Resolve(tag string, rng *rand.Rand) (string, error) {
	if tag == s.fail {
		return "", errors.New("missing")
	}
	s.calls[tag]++
	return fmt.Sprintf("%s-%d", tag, rng.IntN(1000)), nil
}

func TestTrackerConsistentWithinConversation(t *testing.T) {
	src := &countingSource{calls: map[string]int{}}
	tr := NewTracker(src, rand.New(rand.NewPCG(1, 1)))

	first, err := tr.GetOrResolve("bank_name_local")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := tr.GetOrResolve("bank_name_local")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, 1, src.calls["bank_name_local"])
}

func TestTrackerFreshPerConversation(t *testing.T) {
	src := &countingSource{calls: map[string]int{}}
	a := NewTracker(src, rand.New(rand.NewPCG(1, 1)))
	b := NewTracker(src, rand.New(rand.NewPCG(2, 2)))

	_, err := a.GetOrResolve("00001")
	require.NoError(t, err)
	_, err = b.GetOrResolve("00001")
	require.NoError(t, err)

	assert.Equal(t, 2, src.calls["00001"])
}

func TestResolveAllAndUsedCopy(t *testing.T) {
	src := &countingSource{calls: map[string]int{}}
	tr := NewTracker(src, rand.New(rand.NewPCG(3, 3)))

	used, err := tr.ResolveAll([]string{"b", "a", "b"})
	require.NoError(t, err)
	assert.Len(t, used, 2)
	assert.Equal(t, []string{"b", "a"}, tr.Order())

	used["a"] = "changed"
	assert.NotEqual(t, "changed", tr.Used()["a"])
}

func TestResolveAllPropagatesError(t *testing.T) {
	src := &countingSource{calls: map[string]int{}, fail: "x"}
	tr := NewTracker(src, rand.New(rand.NewPCG(3, 3)))
	_, err := tr.ResolveAll([]string{"a", "x"})
	assert.Error(t, err)
}

func TestEntropy(t *testing.T) {
	assert.Equal(t, 0.0, Entropy(map[string]int{}))
	assert.Equal(t, 0.0, Entropy(map[string]int{"a": 4}))
	assert.InDelta(t, 1.0, Entropy(map[string]int{"a": 2, "b": 2}), 1e-9)
	assert.InDelta(t, 2.0, Entropy(map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}), 1e-9)
}

func TestAggregatorReport(t *testing.T) {
	agg := NewAggregator()
	agg.Record(map[string]string{"bank_name_local": "CIMB", "caller_name": "Ali"}, map[string]string{"caller": "s1", "callee": "v1"})
	agg.Record(map[string]string{"bank_name_local": "CIMB", "caller_name": "Siti"}, map[string]string{"caller": "s1", "callee": "v2"})
	agg.Record(map[string]string{"bank_name_local": "Maybank"}, map[string]string{"caller": "s2", "callee": "v1"})

	r := agg.Report()
	assert.Equal(t, 3, r.Conversations)
	require.Len(t, r.Placeholders, 2)

	bank := r.Placeholders[0]
	assert.Equal(t, "bank_name_local", bank.Key)
	assert.Equal(t, "organization", bank.Group)
	assert.Equal(t, 3, bank.Total)
	assert.Equal(t, 2, bank.Unique)
	assert.Equal(t, ValueCount{Value: "CIMB", Count: 2}, bank.MostCommon[0])
	assert.Greater(t, bank.Score, 0.9)

	name := r.Placeholders[1]
	assert.Equal(t, "name", name.Group)
	assert.InDelta(t, 1.0, name.Score, 1e-9)
	assert.InDelta(t, 100.0, name.UniquePct, 1e-9)

	require.Len(t, r.Profiles, 2)
	assert.Equal(t, "callee", r.Profiles[0].Key)
}

func TestAggregatorConcurrentRecord(t *testing.T) {
	agg := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agg.Record(map[string]string{"amount": fmt.Sprintf("RM%d", i%5)}, nil)
		}(i)
	}
	wg.Wait()

	r := agg.Report()
	assert.Equal(t, 50, r.Conversations)
	require.Len(t, r.Placeholders, 1)
	assert.Equal(t, 5, r.Placeholders[0].Unique)
	assert.InDelta(t, 1.0, r.Placeholders[0].Score, 1e-9)
}

func TestGroup(t *testing.T) {
	assert.Equal(t, "name", Group("caller_name"))
	assert.Equal(t, "organization", Group("bank_name_local"))
	assert.Equal(t, "other", Group("00001"))
}
