package profile

import (
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	stats := r.Stats()
	assert.Equal(t, 7, stats.Total)
	assert.Equal(t, 3, stats.ByRole["scammer"])
	assert.Equal(t, 4, stats.ByRole["victim"])
	assert.Equal(t, 7, stats.ByGender["any"])
}

func TestEligibleByRoleAndLocale(t *testing.T) {
	r, err := NewRegistry([]Profile{
		{ID: "s1", RolePreference: RoleScammer},
		{ID: "s2", RolePreference: RoleScammer, LocaleAffinity: []string{"en-sg"}},
		{ID: "v1", RolePreference: RoleVictim},
		{ID: "a1", RolePreference: RoleAny, LocaleAffinity: []string{"ms-my"}},
	})
	require.NoError(t, err)

	ids := func(ps []Profile) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.ID)
		}
		return out
	}

	assert.Equal(t, []string{"s1", "a1"}, ids(r.Eligible(RoleScammer, "ms-my")))
	assert.Equal(t, []string{"s1", "s2"}, ids(r.Eligible(RoleScammer, "en-sg")))
	assert.Equal(t, []string{"v1", "a1"}, ids(r.Eligible(RoleVictim, "ms-my")))
	assert.Len(t, r.Eligible(RoleAny, "ms-my"), 3)
}

func TestSamplePairNeverRepeatsProfile(t *testing.T) {
	r, err := NewRegistry([]Profile{
		{ID: "a", RolePreference: RoleAny},
		{ID: "b", RolePreference: RoleAny},
	})
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 50; i++ {
		pair, err := r.SamplePair(RoleAny, RoleAny, "ms-my", Constraints{}, rng)
		require.NoError(t, err)
		assert.NotEqual(t, pair.Caller.ID, pair.Callee.ID)
	}
}

func TestSamplePairRespectsRoles(t *testing.T) {
	r := Default()
	rng := rand.New(rand.NewPCG(42, 42))
	for i := 0; i < 20; i++ {
		pair, err := r.SamplePair(RoleScammer, RoleVictim, "ms-my", Constraints{}, rng)
		require.NoError(t, err)
		assert.Equal(t, RoleScammer, pair.Caller.RolePreference)
		assert.Equal(t, RoleVictim, pair.Callee.RolePreference)
	}
}

func TestSamplePairPinned(t *testing.T) {
	r := Default()
	pair, err := r.SamplePair(RoleScammer, RoleVictim, "ms-my", Constraints{Caller: "urgent_scammer_01", Callee: "busy_victim_01"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "urgent_scammer_01", pair.Caller.ID)
	assert.Equal(t, "busy_victim_01", pair.Callee.ID)

	_, err = r.SamplePair(RoleScammer, RoleVictim, "ms-my", Constraints{Caller: "trusting_victim_01"}, nil)
	var insufficient *InsufficientProfilesError
	assert.True(t, errors.As(err, &insufficient))
}

func TestSamplePairMixedPools(t *testing.T) {
	tests := []struct {
		name     string
		profiles []Profile
		caller   string
		callee   string
	}{
		{
			name:     "any profile is the only callee",
			profiles: []Profile{{ID: "s", RolePreference: RoleScammer}, {ID: "x", RolePreference: RoleAny}},
			caller:   "s",
			callee:   "x",
		},
		{
			name:     "any profile is the only caller",
			profiles: []Profile{{ID: "x", RolePreference: RoleAny}, {ID: "v", RolePreference: RoleVictim}},
			caller:   "x",
			callee:   "v",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistry(tt.profiles)
			require.NoError(t, err)
			for seed := uint64(0); seed < 100; seed++ {
				pair, err := r.SamplePair(RoleScammer, RoleVictim, "ms-my", Constraints{}, rand.New(rand.NewPCG(seed, seed)))
				require.NoError(t, err, "seed %d", seed)
				assert.Equal(t, tt.caller, pair.Caller.ID)
				assert.Equal(t, tt.callee, pair.Callee.ID)
			}
		})
	}
}

func TestSamplePairPinnedCalleeLimitsCaller(t *testing.T) {
	r, err := NewRegistry([]Profile{
		{ID: "a", RolePreference: RoleAny},
		{ID: "b", RolePreference: RoleAny},
	})
	require.NoError(t, err)
	for seed := uint64(0); seed < 20; seed++ {
		pair, err := r.SamplePair(RoleAny, RoleAny, "", Constraints{Callee: "a"}, rand.New(rand.NewPCG(seed, 1)))
		require.NoError(t, err)
		assert.Equal(t, "b", pair.Caller.ID)
	}
}

func TestSamplePairOnlyVictims(t *testing.T) {
	r, err := NewRegistry([]Profile{TrustingVictim, SkepticalVictim, BusyVictim})
	require.NoError(t, err)

	_, err = r.SamplePair(RoleScammer, RoleVictim, "ms-my", Constraints{}, nil)
	var insufficient *InsufficientProfilesError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, RoleScammer, insufficient.Role)
	assert.Equal(t, 0, insufficient.Eligible)
}

func TestSamplePairSingleProfile(t *testing.T) {
	r, err := NewRegistry([]Profile{{ID: "only", RolePreference: RoleAny}})
	require.NoError(t, err)

	_, err = r.SamplePair(RoleAny, RoleAny, "", Constraints{}, nil)
	var insufficient *InsufficientProfilesError
	assert.True(t, errors.As(err, &insufficient))
}

func TestLoad(t *testing.T) {
	body := `{"profiles": [
	  {"profile_id": "x", "name": "X", "role_preference": "scammer", "speaking_style": ["formal"]},
	  {"profile_id": "y", "name": "Y", "role_preference": "victim"}
	]}`
	path := filepath.Join(t.TempDir(), "profiles.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, r.IDs())

	p, ok := r.Get("x")
	require.True(t, ok)
	assert.Contains(t, p.Describe(), "Speaking style: formal")
}

func TestNewRegistryRejectsBadRole(t *testing.T) {
	_, err := NewRegistry([]Profile{{ID: "x", RolePreference: "boss"}})
	assert.Error(t, err)
}
