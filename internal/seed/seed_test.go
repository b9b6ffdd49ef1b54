package seed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWrappedAndLegacyFields(t *testing.T) {
	body := `{"seeds": [
	  {"seed_id": "S1", "text": "Caller claims to be from {00002} about a parcel.", "category": "Parcel Scam", "meta_tag": "Delivery Fraud", "quality_score": 85},
	  {"record_id": 17, "summary": "Fake police officer demands bail.", "category": "Impersonation", "scam_tag": "Government Impersonation", "quality_score": 50}
	]}`
	path := filepath.Join(t.TempDir(), "seeds.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())

	legacy, ok := s.Get("17")
	require.True(t, ok)
	assert.Equal(t, "Fake police officer demands bail.", legacy.Text)
	assert.Equal(t, "Government Impersonation", legacy.MetaTag)
	assert.Equal(t, []string{"Parcel Scam", "Impersonation"}, s.Categories())
}

func TestLoadBareArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"seed_id":"A","text":"t","quality_score":90}]`), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestFilterByQuality(t *testing.T) {
	s, err := NewStore([]Seed{
		{ID: "hi", Text: "a", QualityScore: 85},
		{ID: "lo", Text: "b", QualityScore: 50},
		{ID: "edge", Text: "c", QualityScore: 70},
	})
	require.NoError(t, err)

	got := s.Filter(70, "")
	require.Len(t, got, 2)
	assert.Equal(t, "hi", got[0].ID)
	assert.Equal(t, "edge", got[1].ID)
}

func TestFilterByLocaleAffinity(t *testing.T) {
	s, err := NewStore([]Seed{
		{ID: "any", Text: "a", QualityScore: 90},
		{ID: "my", Text: "b", QualityScore: 90, LocaleAffinity: []string{"ms-my"}},
		{ID: "sg", Text: "c", QualityScore: 90, LocaleAffinity: []string{"en-sg"}},
	})
	require.NoError(t, err)

	got := s.Filter(0, "MS-MY")
	require.Len(t, got, 2)
	assert.Equal(t, "any", got[0].ID)
	assert.Equal(t, "my", got[1].ID)
}

func TestNewStoreRejectsBadSeeds(t *testing.T) {
	tests := []struct {
		name  string
		seeds []Seed
	}{
		{"missing id", []Seed{{Text: "x"}}},
		{"empty text", []Seed{{ID: "a"}}},
		{"score out of range", []Seed{{ID: "a", Text: "x", QualityScore: 101}}},
		{"duplicate", []Seed{{ID: "a", Text: "x"}, {ID: "a", Text: "y"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStore(tt.seeds)
			assert.Error(t, err)
		})
	}
}
