package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// AudioFormat is the encoding of synthesized audio.
type AudioFormat string

const (
	FormatMP3 AudioFormat = "mp3"
	FormatWAV AudioFormat = "wav"
)

// Voice is a provider voice. An empty ID lets the provider choose.
type Voice struct {
	ID   string
	Name string
}

// VoiceMap assigns a voice to each side of the call.
type VoiceMap struct {
	Caller Voice
	Callee Voice
}

type AudioResult struct {
	Data   []byte
	Format AudioFormat
}

// Provider turns one line of dialogue into audio.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, text string, voice Voice) (AudioResult, error)
	DefaultVoices() VoiceMap
	Close() error
}

// Options configures a provider; empty fields keep its defaults.
type Options struct {
	CallerVoice string
	CalleeVoice string
	// LanguageCode is a BCP-47 code such as "ms-MY", used by google.
	LanguageCode string
	APIKey       string
}

// APIError is a non-success answer from a TTS HTTP API.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Transient reports whether the same request may succeed later.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

func isTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Transient()
}

// retryPolicy returns the backoff used for transient synthesis failures.
// Tests swap it for a zero delay.
var retryPolicy = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, 2)
}

// synthesize calls p, retrying transient API errors.
func synthesize(ctx context.Context, p Provider, text string, voice Voice) (AudioResult, error) {
	return backoff.RetryWithData(func() (AudioResult, error) {
		res, err := p.Synthesize(ctx, text, voice)
		if err != nil && !isTransient(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithContext(retryPolicy(), ctx))
}

// Providers lists the supported provider names.
var Providers = []string{"elevenlabs", "google"}

// NewProvider creates a TTS provider by name.
func NewProvider(ctx context.Context, name string, opts Options) (Provider, error) {
	switch name {
	case "", "elevenlabs":
		return NewElevenLabsProvider(opts), nil
	case "google":
		return NewGoogleProvider(ctx, opts)
	}
	return nil, fmt.Errorf("unknown TTS provider %q: choose elevenlabs or google", name)
}
