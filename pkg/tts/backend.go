package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/voice-waiter/internal/httpc"
)

const (
	// BackendPath is the synthesis endpoint on the restaurant backend.
	BackendPath     = "/api/ai/tts"
	providerBackend = "backend"
)

// Backend implements Provider against the restaurant backend's TTS endpoint.
// It sends {text, language} and receives a playable audio body.
type Backend struct {
	config *Config
	client *http.Client
	logger *slog.Logger
	url    string
}

// NewBackend creates a provider for the restaurant backend.
func NewBackend(opts ...Option) (*Backend, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.BaseURL == "" {
		return nil, ErrNoBaseURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = httpc.NewClient(cfg.Timeout)
	}

	return &Backend{
		config: cfg,
		client: client,
		logger: cfg.Logger.With("component", "tts.backend"),
		url:    strings.TrimRight(cfg.BaseURL, "/") + BackendPath,
	}, nil
}

// Synthesize requests audio for text. A 503 answer wraps ErrUnavailable.
// Requests are never retried.
func (b *Backend) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, WrapError(providerBackend, ErrEmptyText)
	}
	start := time.Now()

	body, err := json.Marshal(map[string]string{
		"text":     text,
		"language": b.config.Language,
	})
	if err != nil {
		return nil, WrapError(providerBackend, fmt.Errorf("marshal payload: %w", err))
	}

	resp, err := httpc.PostJSON(ctx, b.client, b.url, body)
	if err != nil {
		return nil, WrapError(providerBackend, err)
	}
	defer resp.Body.Close()

	latency := time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(providerBackend, resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(providerBackend, fmt.Errorf("read response: %w", err))
	}
	if len(audio) == 0 {
		return nil, WrapError(providerBackend, ErrEmptyAudio)
	}

	enc := EncodingFromContentType(resp.Header.Get("Content-Type"))
	b.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"encoding", enc,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    AudioFormat{Encoding: enc, Channels: 1},
		CharCount: len(text),
		LatencyMs: latency,
		Provider:  providerBackend,
		Text:      text,
	}, nil
}

// Health checks that the backend answers at all.
func (b *Backend) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, b.url, nil)
	if err != nil {
		return WrapError(providerBackend, err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return WrapError(providerBackend, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return parseError(providerBackend, resp)
	}
	return nil
}

// Close releases resources.
func (b *Backend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

// parseError reads and parses an error response.
func parseError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Code    string `json:"code"`
	}

	message := strings.TrimSpace(string(body))
	code := ""
	if json.Unmarshal(body, &errResp) == nil {
		switch {
		case errResp.Error != "":
			message = errResp.Error
		case errResp.Message != "":
			message = errResp.Message
		}
		code = errResp.Code
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   provider,
	}
}

// Verify Backend implements Provider at compile time.
var _ Provider = (*Backend)(nil)
