package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/texttospeech/v1"
)

const providerGoogle = "google"

// googleLanguages maps short language codes to Google BCP-47 locales.
var googleLanguages = map[string]string{
	"en": "en-US",
	"es": "es-ES",
	"fr": "fr-FR",
	"de": "de-DE",
	"it": "it-IT",
	"pt": "pt-BR",
	"nl": "nl-NL",
	"tr": "tr-TR",
	"ar": "ar-XA",
	"zh": "cmn-CN",
	"ja": "ja-JP",
}

// GoogleLanguageCode returns the Google locale for a short language code.
// Codes that already carry a region pass through.
func GoogleLanguageCode(lang string) string {
	lang = strings.TrimSpace(lang)
	if strings.Contains(lang, "-") {
		return lang
	}
	if code, ok := googleLanguages[strings.ToLower(lang)]; ok {
		return code
	}
	return "en-US"
}

// Google implements Provider using Google Cloud Text-to-Speech.
// Credentials come from the API key when set, otherwise from Application
// Default Credentials.
type Google struct {
	config  *Config
	service *texttospeech.Service
	logger  *slog.Logger
}

// NewGoogle creates a Google Cloud TTS provider.
func NewGoogle(ctx context.Context, opts ...Option) (*Google, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	var clientOpts []option.ClientOption
	switch {
	case cfg.HTTPClient != nil:
		clientOpts = append(clientOpts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.APIKey != "":
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	default:
		ts, err := google.DefaultTokenSource(ctx, texttospeech.CloudPlatformScope)
		if err != nil {
			return nil, WrapError(providerGoogle, fmt.Errorf("default credentials: %w", err))
		}
		clientOpts = append(clientOpts, option.WithTokenSource(ts))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}

	service, err := texttospeech.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("create service: %w", err))
	}

	return &Google{
		config:  cfg,
		service: service,
		logger:  cfg.Logger.With("component", "tts.google"),
	}, nil
}

// Synthesize converts text to audio.
func (g *Google) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, WrapError(providerGoogle, ErrEmptyText)
	}
	start := time.Now()

	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	req := &texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: GoogleLanguageCode(g.config.Language),
			Name:         g.config.VoiceID,
		},
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding: g.audioEncoding(),
		},
	}

	resp, err := g.service.Text.Synthesize(req).Context(ctx).Do()
	if err != nil {
		return nil, googleError(err)
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("decode audio: %w", err))
	}
	if len(audio) == 0 {
		return nil, WrapError(providerGoogle, ErrEmptyAudio)
	}

	latency := time.Since(start).Milliseconds()
	g.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"language", req.Voice.LanguageCode,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    g.outputFormat(),
		CharCount: len(text),
		LatencyMs: latency,
		Provider:  providerGoogle,
		Text:      text,
	}, nil
}

// Health lists voices as a connectivity check.
func (g *Google) Health(ctx context.Context) error {
	_, err := g.service.Voices.List().LanguageCode(GoogleLanguageCode(g.config.Language)).Context(ctx).Do()
	if err != nil {
		return googleError(err)
	}
	return nil
}

// Close releases resources.
func (g *Google) Close() error {
	return nil
}

func (g *Google) audioEncoding() string {
	switch g.config.OutputFormat {
	case EncodingWAV, EncodingPCM:
		return "LINEAR16"
	case EncodingOgg:
		return "OGG_OPUS"
	case EncodingULaw:
		return "MULAW"
	default:
		return "MP3"
	}
}

func (g *Google) outputFormat() AudioFormat {
	switch g.audioEncoding() {
	case "LINEAR16":
		// LINEAR16 responses carry a WAV header.
		return AudioFormat{Encoding: EncodingWAV, SampleRate: 24000, Channels: 1}
	case "OGG_OPUS":
		return AudioFormat{Encoding: EncodingOgg, SampleRate: 48000, Channels: 1}
	case "MULAW":
		return AudioFormat{Encoding: EncodingULaw, SampleRate: 8000, Channels: 1}
	default:
		return AudioFormat{Encoding: EncodingMP3, SampleRate: 24000, Channels: 1}
	}
}

// googleError converts googleapi errors into APIError.
func googleError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &APIError{
			StatusCode: gerr.Code,
			Message:    gerr.Message,
			Provider:   providerGoogle,
		}
	}
	return WrapError(providerGoogle, err)
}

// Verify Google implements Provider at compile time.
var _ Provider = (*Google)(nil)
