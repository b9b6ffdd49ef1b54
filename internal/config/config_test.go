package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into an empty directory so a developer's .env is not loaded.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func validScam() *Config {
	c := Default()
	c.Locale = "ms-my"
	c.SeedsPath = "seeds.json"
	return c
}

func TestDefaultsValidateOnceInputsAreSet(t *testing.T) {
	c := validScam()
	require.NoError(t, c.Validate())
	assert.Equal(t, 10, c.Concurrency)
	assert.Equal(t, 1.0, c.Temperature)
	assert.Equal(t, 2, c.TurnTolerance)
	assert.Equal(t, 90*time.Second, c.CallTimeout.Duration)
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "run.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"locale": "ms-my",
		"seeds_path": "seeds.json",
		"concurrency": 4,
		"call_timeout": "30s",
		"retry_backoff": 2,
		"random_seed": 42,
		"placeholder_paths": {"MS-MY": "placeholders/ms-my.json"}
	}`), 0644))

	t.Setenv("CALLSYNTH_CONCURRENCY", "6")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6, c.Concurrency)
	assert.Equal(t, 30*time.Second, c.CallTimeout.Duration)
	assert.Equal(t, 2*time.Second, c.RetryBackoff.Duration)
	require.NotNil(t, c.RandomSeed)
	assert.Equal(t, uint64(42), *c.RandomSeed)
	assert.Equal(t, "sk-test", c.APIKey)
	assert.Equal(t, "placeholders/ms-my.json", c.CatalogPath())
	assert.NoError(t, c.Validate())
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := chdir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CALLSYNTH_LOCALE=en-us\nLLM_PROVIDER=Bedrock\n"), 0644))
	// godotenv never overrides a variable that exists, even when empty.
	for _, key := range []string{"CALLSYNTH_LOCALE", "LLM_PROVIDER"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "en-us", c.Locale)
	assert.Equal(t, "bedrock", c.Provider)
}

func TestLoadRejectsBadFile(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"call_timeout": "soon"}`), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid duration")

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	c := Default()
	c.Kind = "scam"
	c.ControlMode = "forever"
	c.Concurrency = 0
	c.Temperature = 3
	c.ExhaustionPolicy = "shrug"
	c.Provider = "openai"

	err := c.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"locale is required",
		"seeds_path is required",
		"control_mode must be seeds or conversations",
		"concurrency must be at least 1",
		"temperature must be between 0 and 2",
		"exhaustion_policy must be",
		"provider must be one of",
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestValidateModes(t *testing.T) {
	tests := map[string]struct {
		mutate  func(*Config)
		wantErr string
	}{
		"preconfigured needs assignments": {
			mutate:  func(c *Config) { c.ScenarioMode = "preconfigured" },
			wantErr: "templates_path and assignments_path",
		},
		"conversation target": {
			mutate:  func(c *Config) { c.TargetConversations = 0 },
			wantErr: "target_conversations",
		},
		"seed mode ignores target": {
			mutate: func(c *Config) { c.ControlMode = "seeds"; c.TargetConversations = 0 },
		},
		"legit needs categories": {
			mutate:  func(c *Config) { c.Kind = "legit" },
			wantErr: "legit_categories",
		},
		"legit ok without seeds": {
			mutate: func(c *Config) { c.Kind = "legit"; c.SeedsPath = ""; c.LegitCategories = []string{"delivery"} },
		},
		"negative cap": {
			mutate:  func(c *Config) { c.MaxConversations = -1 },
			wantErr: "must not be negative",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c := validScam()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
