package scenario

import (
	"errors"
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apresai/callsynth/internal/profile"
	"github.com/apresai/callsynth/internal/seed"
)

func sampleTemplates() []Template {
	return []Template{
		{ID: "T0001", Category: "Bank Impersonation", Turns: TurnRange{20, 24}, Awareness: AwarenessNot, Weight: 1},
		{ID: "T0002", Category: "Bank Impersonation", Turns: TurnRange{22, 22}, Awareness: AwarenessTiny, Weight: 3},
		{ID: "T0003", Category: FallbackCategory, Turns: TurnRange{21, 21}, Awareness: AwarenessVery, Weight: 1},
	}
}

func TestPreconfiguredResolve(t *testing.T) {
	p, err := NewPreconfigured(sampleTemplates(), map[string][]string{
		"S1": {"T0002", "T0001"},
	})
	require.NoError(t, err)

	got, err := p.Resolve(seed.Seed{ID: "S1"}, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "T0002", got[0].ID)
	assert.Equal(t, "T0001", got[1].ID)

	_, err = p.Resolve(seed.Seed{ID: "S9"}, nil)
	var unknown *UnknownSeedError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "S9", unknown.SeedID)
}

func TestPreconfiguredRejectsUnknownTemplate(t *testing.T) {
	_, err := NewPreconfigured(sampleTemplates(), map[string][]string{"S1": {"T9999"}})
	assert.Error(t, err)
}

func TestRandomResolveDeterministic(t *testing.T) {
	r := NewRandom(5)
	s := seed.Seed{ID: "S1", MetaTag: "Parcel Scam"}

	a, err := r.Resolve(s, rand.New(rand.NewPCG(42, 42)))
	require.NoError(t, err)
	b, err := r.Resolve(s, rand.New(rand.NewPCG(42, 42)))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Len(t, a, 5)
	for _, tpl := range a {
		assert.Equal(t, "Parcel Scam", tpl.Category)
		assert.True(t, tpl.Awareness.Valid())
		assert.GreaterOrEqual(t, tpl.Turns.Min, 20)
		assert.LessOrEqual(t, tpl.Turns.Max, 24)
		require.NoError(t, tpl.Validate())
	}
}

func TestWeightsDrawFollowsDistribution(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	counts := map[Awareness]int{}
	const n = 20000
	for i := 0; i < n; i++ {
		counts[DefaultAwareness.Draw(rng)]++
	}
	assert.InDelta(t, 0.60, float64(counts[AwarenessNot])/n, 0.02)
	assert.InDelta(t, 0.30, float64(counts[AwarenessTiny])/n, 0.02)
	assert.InDelta(t, 0.10, float64(counts[AwarenessVery])/n, 0.02)
}

func TestWeightsValidate(t *testing.T) {
	assert.Error(t, Weights[int]{}.Validate())
	assert.Error(t, Weights[int]{{Value: 1, Weight: -1}}.Validate())
	assert.Error(t, Weights[int]{{Value: 1, Weight: 0}}.Validate())
	assert.NoError(t, DefaultTurns.Validate())

	var total float64
	for _, w := range DefaultTurns {
		total += w.Weight
	}
	assert.True(t, math.Abs(total-1) < 1e-9)
}

func TestDrawDistinctWithoutReplacement(t *testing.T) {
	w := Weights[string]{{"a", 1}, {"b", 1}, {"c", 1}}
	got := w.DrawDistinct(5, rand.New(rand.NewPCG(1, 1)))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, got)
}

func TestBuildAssignments(t *testing.T) {
	seeds := []seed.Seed{
		{ID: "S1", MetaTag: "Bank Impersonation"},
		{ID: "S2", MetaTag: "Crypto Investment"},
	}
	got := BuildAssignments(seeds, sampleTemplates(), 5, rand.New(rand.NewPCG(42, 42)))

	assert.ElementsMatch(t, []string{"T0001", "T0002"}, got["S1"])
	assert.Equal(t, []string{"T0003"}, got["S2"])
}

func TestTemplateAndAssignmentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tplPath := filepath.Join(dir, "templates.json")
	asgPath := filepath.Join(dir, "assignments.json")

	require.NoError(t, SaveTemplates(tplPath, sampleTemplates()))
	require.NoError(t, SaveAssignments(asgPath, map[string][]string{"S1": {"T0001"}}))

	templates, err := LoadTemplates(tplPath)
	require.NoError(t, err)
	assert.Equal(t, sampleTemplates(), templates)

	asg, err := LoadAssignments(asgPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"T0001"}, asg["S1"])
}

func TestTemplateAcceptsSingleTurnCount(t *testing.T) {
	var tpl Template
	require.NoError(t, tpl.UnmarshalJSON([]byte(`{"template_id":"T1","num_turns":22,"victim_awareness":"tiny"}`)))
	assert.Equal(t, TurnRange{22, 22}, tpl.Turns)
}

func TestGenerateTemplates(t *testing.T) {
	templates, err := GenerateTemplates(profile.Default(), []string{"Bank Impersonation", "Parcel Scam"}, 14, DefaultAwareness, DefaultTurns, rand.New(rand.NewPCG(42, 42)))
	require.NoError(t, err)
	require.Len(t, templates, 14)

	assert.Equal(t, "T0001", templates[0].ID)
	assert.Equal(t, "T0014", templates[13].ID)
	assert.Equal(t, "Parcel Scam", templates[1].Category)

	pairs := map[[2]string]bool{}
	for _, tpl := range templates[:12] {
		pairs[[2]string{tpl.CallerProfile, tpl.CalleeProfile}] = true
	}
	assert.Len(t, pairs, 12, "3 scammers x 4 victims")
}
