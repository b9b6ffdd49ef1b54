package dialogue

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/apresai/callsynth/internal/llm"
	"github.com/apresai/callsynth/internal/profile"
	"github.com/apresai/callsynth/internal/scenario"
	"github.com/apresai/callsynth/internal/seed"
)

// Role is a speaker position in a phone call.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// Kind separates scam conversations from legitimate ones.
type Kind string

const (
	KindScam  Kind = "scam"
	KindLegit Kind = "legit"
)

type Turn struct {
	Index int    `json:"sent_id"`
	Role  Role   `json:"role"`
	Text  string `json:"text"`
}

// Unit is one planned conversation. Everything random about it except the
// LLM output is fixed at plan time.
type Unit struct {
	Index          int
	ConversationID string
	UUID           string
	Kind           Kind
	Locale         string
	Seed           seed.Seed
	Template       scenario.Template
	Pair           profile.Pair
	RandSeed       uint64
}

// Conversation is an accepted dialogue with its provenance.
type Conversation struct {
	ID                string             `json:"conversation_id"`
	UUID              string             `json:"uuid,omitempty"`
	Kind              Kind               `json:"kind"`
	Locale            string             `json:"locale"`
	SeedID            string             `json:"seed_id,omitempty"`
	TemplateID        string             `json:"template_id,omitempty"`
	Category          string             `json:"category"`
	NumTurns          int                `json:"num_turns"`
	VictimAwareness   scenario.Awareness `json:"victim_awareness,omitempty"`
	CharacterProfiles map[Role]string    `json:"character_profiles"`
	Placeholders      map[string]string  `json:"placeholders_used"`
	Dialogue          []Turn             `json:"dialogue"`
	Attempts          int                `json:"attempts"`
	Warnings          []string           `json:"warnings,omitempty"`
	Usage             llm.Usage          `json:"token_usage"`
}

// ProfileIDs returns the role-to-profile mapping with string keys.
func (c *Conversation) ProfileIDs() map[string]string {
	out := make(map[string]string, len(c.CharacterProfiles))
	for r, id := range c.CharacterProfiles {
		out[string(r)] = id
	}
	return out
}

// SaveConversation writes c as indented JSON.
func SaveConversation(c *Conversation, path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write conversation to %s: %w", path, err)
	}
	return nil
}

// LoadConversation reads a conversation written by SaveConversation.
func LoadConversation(path string) (*Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read conversation from %s: %w", path, err)
	}
	var c Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse conversation from %s: %w", path, err)
	}
	if len(c.Dialogue) == 0 {
		return nil, fmt.Errorf("conversation %s has no dialogue", path)
	}
	return &c, nil
}
