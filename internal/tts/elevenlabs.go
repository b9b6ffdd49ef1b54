package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io/v1/text-to-speech"
	// The multilingual model voices non-English locales natively.
	elevenLabsModelID = "eleven_multilingual_v2"
	elevenLabsFormat  = "mp3_44100_128"
)

var elevenLabsVoices = VoiceMap{
	Caller: Voice{ID: "onwK4e9ZLuTAKqWW03F9", Name: "Daniel"},
	Callee: Voice{ID: "XB0fDUnXU5powFXDhCwa", Name: "Charlotte"},
}

type elevenLabsSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
	Speed           float64 `json:"speed"`
}

type elevenLabsRequest struct {
	Text          string             `json:"text"`
	ModelID       string             `json:"model_id"`
	VoiceSettings elevenLabsSettings `json:"voice_settings"`
}

// phoneCallSettings keep delivery steady across many short turns.
var phoneCallSettings = elevenLabsSettings{
	Stability:       0.5,
	SimilarityBoost: 0.75,
	UseSpeakerBoost: true,
	Speed:           1.0,
}

// ElevenLabsProvider voices turns with the ElevenLabs text-to-speech API.
type ElevenLabsProvider struct {
	voices  VoiceMap
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewElevenLabsProvider(opts Options) *ElevenLabsProvider {
	p := &ElevenLabsProvider{
		voices:  elevenLabsVoices,
		apiKey:  opts.APIKey,
		baseURL: elevenLabsBaseURL,
		client:  &http.Client{Timeout: time.Minute},
	}
	if p.apiKey == "" {
		p.apiKey = os.Getenv("ELEVENLABS_API_KEY")
	}
	if id := opts.CallerVoice; id != "" {
		p.voices.Caller = Voice{ID: id, Name: id}
	}
	if id := opts.CalleeVoice; id != "" {
		p.voices.Callee = Voice{ID: id, Name: id}
	}
	return p
}

func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

func (p *ElevenLabsProvider) DefaultVoices() VoiceMap { return p.voices }

func (p *ElevenLabsProvider) Close() error { return nil }

func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text string, voice Voice) (AudioResult, error) {
	body, err := json.Marshal(elevenLabsRequest{Text: text, ModelID: elevenLabsModelID, VoiceSettings: phoneCallSettings})
	if err != nil {
		return AudioResult{}, err
	}

	endpoint := p.baseURL + "/" + url.PathEscape(voice.ID) + "?output_format=" + elevenLabsFormat
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return AudioResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", p.apiKey)

	res, err := p.client.Do(req)
	if err != nil {
		return AudioResult{}, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return AudioResult{}, fmt.Errorf("elevenlabs response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return AudioResult{}, &APIError{Provider: p.Name(), StatusCode: res.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if len(data) == 0 {
		return AudioResult{}, fmt.Errorf("elevenlabs returned no audio for voice %s", voice.ID)
	}
	return AudioResult{Data: data, Format: FormatMP3}, nil
}
