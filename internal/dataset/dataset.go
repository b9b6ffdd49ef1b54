// Package dataset holds the output artifact of a generation batch and the
// ways it is written out: JSON, an XLSX diversity report, and S3.
package dataset

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/apresai/callsynth/internal/dialogue"
	"github.com/apresai/callsynth/internal/llm"
	"github.com/apresai/callsynth/internal/plan"
)

// Counts summarizes the outcome of every planned unit.
type Counts struct {
	Planned   int `json:"planned"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped_seeds"`
}

// Metadata describes how a dataset was produced.
type Metadata struct {
	RunID            string        `json:"run_id"`
	Timestamp        time.Time     `json:"timestamp"`
	Locale           string        `json:"locale"`
	Kind             dialogue.Kind `json:"kind"`
	ControlMode      string        `json:"control_mode,omitempty"`
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	RandomSeed       uint64        `json:"random_seed"`
	MaxRetries       int           `json:"max_retries"`
	ExhaustionPolicy string        `json:"exhaustion_policy"`
	Counts           Counts        `json:"counts"`
	TokenUsage       llm.Usage     `json:"token_usage"`
	EstimatedCostUSD float64       `json:"estimated_cost_usd"`
	Duration         string        `json:"duration"`
	Partial          bool          `json:"partial,omitempty"`
}

// Failure is one rejected unit.
type Failure struct {
	ConversationID string `json:"conversation_id"`
	SeedID         string `json:"seed_id,omitempty"`
	Reason         string `json:"reason"`
	Attempts       int    `json:"attempts"`
	Error          string `json:"error"`
}

// Dataset is the file written at the end of a batch.
type Dataset struct {
	Metadata      Metadata                 `json:"generation_metadata"`
	Conversations []*dialogue.Conversation `json:"conversations"`
	Failures      []Failure                `json:"failures,omitempty"`
	Skipped       []plan.Skip              `json:"skipped_seeds,omitempty"`
}

// NewRunID returns a time-ordered batch id.
func NewRunID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate ulid: %w", err)
	}
	return id.String(), nil
}

// FailureFor converts a unit's generation error into a Failure record.
func FailureFor(u dialogue.Unit, err error) Failure {
	f := Failure{
		ConversationID: u.ConversationID,
		SeedID:         u.Seed.ID,
		Reason:         "error",
		Error:          err.Error(),
	}
	var gf *dialogue.GenerationFailure
	if errors.As(err, &gf) {
		f.Reason = gf.Reason
		f.Attempts = gf.Attempts
	}
	return f
}

// Save writes d as indented JSON. The file is written next to path and
// renamed into place so a reader never sees a partial dataset.
func Save(d *Dataset, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dataset: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write dataset to %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("move dataset into %s: %w", path, err)
	}
	return nil
}

// Load reads a dataset file. A bare array of conversations is also accepted.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset from %s: %w", path, err)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var convs []*dialogue.Conversation
		if err := json.Unmarshal(data, &convs); err != nil {
			return nil, fmt.Errorf("parse dataset from %s: %w", path, err)
		}
		return &Dataset{Conversations: convs}, nil
	}

	var d Dataset
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse dataset from %s: %w", path, err)
	}
	return &d, nil
}
