// Package config builds the immutable run configuration: defaults, then an
// optional JSON file, then the environment (including a .env file). The CLI
// applies its flags last and calls Validate.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/apresai/callsynth/internal/dialogue"
	"github.com/apresai/callsynth/internal/llm"
	"github.com/apresai/callsynth/internal/plan"
)

// Duration reads "90s" style strings or a number of seconds from JSON.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		d.Duration = v
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or seconds: %s", data)
	}
	d.Duration = time.Duration(secs * float64(time.Second))
	return nil
}

// Config holds every setting of a generation run.
type Config struct {
	Locale   string `json:"locale"`
	Language string `json:"language"`
	Region   string `json:"region"`
	Kind     string `json:"kind"`

	ControlMode         string  `json:"control_mode"`
	SeedLimit           int     `json:"seed_limit"`
	TargetConversations int     `json:"target_conversations"`
	MaxConversations    int     `json:"max_conversations"`
	ScenariosPerSeed    int     `json:"scenarios_per_seed"`
	MinQuality          float64 `json:"min_quality"`
	RandomSeed          *uint64 `json:"random_seed,omitempty"`
	Shuffle             bool    `json:"shuffle"`
	ScenarioMode        string  `json:"scenario_mode"`
	TurnSpread          int     `json:"turn_spread"`

	LegitCount      int      `json:"legit_count"`
	LegitCategories []string `json:"legit_categories"`

	SeedsPath        string            `json:"seeds_path"`
	ProfilesPath     string            `json:"profiles_path"`
	TemplatesPath    string            `json:"templates_path"`
	AssignmentsPath  string            `json:"assignments_path"`
	PlaceholderPaths map[string]string `json:"placeholder_paths"`
	RequiredTags     []string          `json:"required_tags"`

	Provider          string   `json:"provider"`
	Model             string   `json:"model"`
	APIKey            string   `json:"-"`
	AWSRegion         string   `json:"aws_region"`
	MaxTokens         int      `json:"max_tokens"`
	Temperature       float64  `json:"temperature"`
	Concurrency       int      `json:"concurrency"`
	RequestsPerSecond float64  `json:"requests_per_second"`
	Burst             int      `json:"burst"`
	RateLimitRetries  int      `json:"rate_limit_retries"`
	MaxRetries        int      `json:"max_retries"`
	CallTimeout       Duration `json:"call_timeout"`
	RetryBackoff      Duration `json:"retry_backoff"`
	TurnTolerance     int      `json:"turn_tolerance"`
	ExhaustionPolicy  string   `json:"exhaustion_policy"`

	OutputPath       string `json:"output_path"`
	ReportPath       string `json:"report_path"`
	ConversationsDir string `json:"conversations_dir"`
	S3Bucket         string `json:"s3_bucket"`
	S3Prefix         string `json:"s3_prefix"`

	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`
	MetricsAddr string `json:"metrics_addr"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Kind:                string(dialogue.KindScam),
		ControlMode:         string(plan.ModeConversations),
		TargetConversations: 10,
		ScenariosPerSeed:    5,
		MinQuality:          70,
		Shuffle:             true,
		ScenarioMode:        "random",
		LegitCount:          10,
		Provider:            "anthropic",
		Model:               "haiku",
		MaxTokens:           4096,
		Temperature:         1.0,
		Concurrency:         10,
		RequestsPerSecond:   2,
		Burst:               2,
		RateLimitRetries:    5,
		MaxRetries:          2,
		CallTimeout:         Duration{90 * time.Second},
		RetryBackoff:        Duration{time.Second},
		TurnTolerance:       2,
		ExhaustionPolicy:    string(dialogue.PolicyReject),
		OutputPath:          "output/dataset.json",
		S3Prefix:            "datasets",
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// Load layers a JSON file (optional, path may be empty), .env and the
// process environment over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Locale = getEnv("CALLSYNTH_LOCALE", c.Locale)
	c.Provider = strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", c.Provider)))
	c.Model = getEnv("LLM_MODEL", c.Model)
	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)
	c.Concurrency = getEnvAsInt("CALLSYNTH_CONCURRENCY", c.Concurrency)
	c.MaxRetries = getEnvAsInt("CALLSYNTH_MAX_RETRIES", c.MaxRetries)
	c.RequestsPerSecond = getEnvAsFloat("CALLSYNTH_REQUESTS_PER_SECOND", c.RequestsPerSecond)
	c.CallTimeout.Duration = getEnvAsDuration("CALLSYNTH_CALL_TIMEOUT", c.CallTimeout.Duration)
	c.Shuffle = getEnvAsBool("CALLSYNTH_SHUFFLE", c.Shuffle)
	c.S3Bucket = getEnv("CALLSYNTH_S3_BUCKET", c.S3Bucket)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = getEnv("CALLSYNTH_METRICS_ADDR", c.MetricsAddr)

	switch c.Provider {
	case "anthropic", "":
		c.APIKey = getEnv("ANTHROPIC_API_KEY", c.APIKey)
	case "gemini":
		c.APIKey = getEnv("GEMINI_API_KEY", c.APIKey)
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.Locale) == "" {
		add("locale is required")
	}
	switch dialogue.Kind(c.Kind) {
	case dialogue.KindScam:
		if c.SeedsPath == "" {
			add("seeds_path is required for scam generation")
		}
		switch plan.Mode(c.ControlMode) {
		case plan.ModeSeeds:
		case plan.ModeConversations:
			if c.TargetConversations < 1 {
				add("target_conversations must be at least 1")
			}
		default:
			add("control_mode must be seeds or conversations, got %q", c.ControlMode)
		}
		if c.ScenariosPerSeed < 1 {
			add("scenarios_per_seed must be at least 1")
		}
		switch c.ScenarioMode {
		case "random":
		case "preconfigured":
			if c.TemplatesPath == "" || c.AssignmentsPath == "" {
				add("preconfigured scenario mode needs templates_path and assignments_path")
			}
		default:
			add("scenario_mode must be random or preconfigured, got %q", c.ScenarioMode)
		}
	case dialogue.KindLegit:
		if c.LegitCount < 1 {
			add("legit_count must be at least 1")
		}
		if len(c.LegitCategories) == 0 {
			add("legit_categories is required for legit generation")
		}
	default:
		add("kind must be scam or legit, got %q", c.Kind)
	}

	if c.SeedLimit < 0 || c.MaxConversations < 0 {
		add("seed_limit and max_conversations must not be negative")
	}
	if c.MinQuality < 0 || c.MinQuality > 100 {
		add("min_quality must be between 0 and 100, got %g", c.MinQuality)
	}
	if c.TurnSpread < 0 || c.TurnTolerance < 0 {
		add("turn_spread and turn_tolerance must not be negative")
	}
	if !slices.Contains(llm.Providers, c.Provider) {
		add("provider must be one of %s, got %q", strings.Join(llm.Providers, ", "), c.Provider)
	}
	if c.Concurrency < 1 {
		add("concurrency must be at least 1")
	}
	if c.MaxRetries < 0 {
		add("max_retries must not be negative")
	}
	if c.MaxTokens < 1 {
		add("max_tokens must be at least 1")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		add("temperature must be between 0 and 2, got %g", c.Temperature)
	}
	if c.CallTimeout.Duration <= 0 {
		add("call_timeout must be positive")
	}
	if !dialogue.ExhaustionPolicy(c.ExhaustionPolicy).Valid() {
		add("exhaustion_policy must be reject or accept_with_warning, got %q", c.ExhaustionPolicy)
	}
	if c.OutputPath == "" {
		add("output_path is required")
	}

	return errors.Join(errs...)
}

// CatalogPath returns the placeholder catalog for the configured locale.
func (c *Config) CatalogPath() string {
	for locale, p := range c.PlaceholderPaths {
		if strings.EqualFold(locale, c.Locale) {
			return p
		}
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
