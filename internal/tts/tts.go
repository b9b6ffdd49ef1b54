// Package tts voices generated conversations, one audio file per turn.
package tts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/apresai/callsynth/internal/dialogue"
)

// VoiceFor returns the voice that speaks role.
func (m VoiceMap) VoiceFor(role dialogue.Role) Voice {
	if role == dialogue.RoleCallee {
		return m.Callee
	}
	return m.Caller
}

// SynthesizeConversation writes one audio file per turn of c into
// dir/<conversation_id>/ and returns the paths in turn order. Existing files
// are kept, so an interrupted run can be resumed.
func SynthesizeConversation(ctx context.Context, p Provider, c *dialogue.Conversation, voices VoiceMap, dir string, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	outDir := filepath.Join(dir, c.ID)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create audio directory: %w", err)
	}

	files := make([]string, 0, len(c.Dialogue))
	for _, turn := range c.Dialogue {
		path := filepath.Join(outDir, fmt.Sprintf("%03d_%s.mp3", turn.Index, turn.Role))
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			files = append(files, path)
			continue
		}

		audio, err := synthesize(ctx, p, turn.Text, voices.VoiceFor(turn.Role))
		if err != nil {
			return files, fmt.Errorf("synthesize %s turn %d: %w", c.ID, turn.Index, err)
		}
		if err := os.WriteFile(path, audio.Data, 0644); err != nil {
			return files, fmt.Errorf("write %s: %w", path, err)
		}
		files = append(files, path)
	}

	logger.InfoContext(ctx, "conversation voiced", "conversation_id", c.ID, "provider", p.Name(), "files", len(files))
	return files, nil
}
