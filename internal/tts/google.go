package tts

import (
	"context"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	texttospeechpb "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/googleapis/gax-go/v2"
)

const googleDefaultLanguage = "en-US"

type googleSpeechAPI interface {
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error)
	Close() error
}

// GoogleProvider implements Provider using Google Cloud TTS. Voices are
// picked by language and gender unless explicit voice names are given, so
// any locale Google supports can be voiced.
type GoogleProvider struct {
	voices   VoiceMap
	language string
	client   googleSpeechAPI
}

func NewGoogleProvider(ctx context.Context, opts Options) (*GoogleProvider, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create Google TTS client: %w", err)
	}
	return newGoogleProvider(client, opts), nil
}

func newGoogleProvider(client googleSpeechAPI, opts Options) *GoogleProvider {
	lang := opts.LanguageCode
	if lang == "" {
		lang = googleDefaultLanguage
	}
	return &GoogleProvider{
		voices: VoiceMap{
			Caller: Voice{ID: opts.CallerVoice, Name: "male"},
			Callee: Voice{ID: opts.CalleeVoice, Name: "female"},
		},
		language: LanguageCode(lang),
		client:   client,
	}
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) DefaultVoices() VoiceMap { return p.voices }

func (p *GoogleProvider) Synthesize(ctx context.Context, text string, voice Voice) (AudioResult, error) {
	params := &texttospeechpb.VoiceSelectionParams{
		LanguageCode: p.language,
		Name:         voice.ID,
	}
	if voice.ID == "" {
		params.SsmlGender = texttospeechpb.SsmlVoiceGender_MALE
		if voice.Name == "female" {
			params.SsmlGender = texttospeechpb.SsmlVoiceGender_FEMALE
		}
	}

	resp, err := p.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: params,
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
		},
	})
	if err != nil {
		return AudioResult{}, fmt.Errorf("Google TTS synthesize: %w", err)
	}
	return AudioResult{Data: resp.AudioContent, Format: FormatMP3}, nil
}

func (p *GoogleProvider) Close() error { return p.client.Close() }

// LanguageCode turns a dataset locale such as "ms-my" into the BCP-47 form
// "ms-MY" that speech services expect.
func LanguageCode(locale string) string {
	lang, region, ok := strings.Cut(strings.ReplaceAll(locale, "_", "-"), "-")
	if !ok {
		return strings.ToLower(lang)
	}
	return strings.ToLower(lang) + "-" + strings.ToUpper(region)
}
