package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/voice-waiter/internal/httpc"
	"github.com/teslashibe/voice-waiter/pkg/audioio"
)

// Client talks to the restaurant backend. It implements Transcriber and Chatter.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a backend client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httpc.NewClient(cfg.Timeout)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    client,
		logger:  cfg.Logger.With("component", "backend.client"),
	}, nil
}

// Transcribe uploads audio as multipart form data and returns the text.
func (c *Client) Transcribe(ctx context.Context, audio audioio.Blob, language string) (string, error) {
	if audio.Empty() {
		return "", wrap(ServiceTranscribe, ErrEmptyAudio)
	}
	start := time.Now()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("language", language); err != nil {
		return "", wrap(ServiceTranscribe, err)
	}
	fw, err := mw.CreateFormFile("audio", "utterance"+extension(audio.MimeType))
	if err != nil {
		return "", wrap(ServiceTranscribe, err)
	}
	if _, err := fw.Write(audio.Data); err != nil {
		return "", wrap(ServiceTranscribe, err)
	}
	if err := mw.Close(); err != nil {
		return "", wrap(ServiceTranscribe, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+TranscribePath, &body)
	if err != nil {
		return "", wrap(ServiceTranscribe, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", wrap(ServiceTranscribe, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", parseError(ServiceTranscribe, resp)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", wrap(ServiceTranscribe, fmt.Errorf("decode response: %w", err))
	}

	c.logger.Debug("transcribed",
		"bytes", len(audio.Data),
		"chars", len(result.Text),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return strings.TrimSpace(result.Text), nil
}

// Chat runs one chat turn.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatReply, error) {
	start := time.Now()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, wrap(ServiceChat, fmt.Errorf("marshal payload: %w", err))
	}

	resp, err := httpc.PostJSON(ctx, c.http, c.baseURL+ChatPath, body)
	if err != nil {
		return nil, wrap(ServiceChat, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(ServiceChat, resp)
	}

	var reply ChatReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, wrap(ServiceChat, fmt.Errorf("decode response: %w", err))
	}

	c.logger.Debug("chat turn",
		"history", len(req.History),
		"reply_chars", len(reply.Message),
		"cart_actions", len(reply.AddToCart),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return &reply, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func parseError(service string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	message := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &errResp) == nil {
		switch {
		case errResp.Error != "":
			message = errResp.Error
		case errResp.Message != "":
			message = errResp.Message
		}
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message, Service: service}
}

func extension(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "wav"):
		return ".wav"
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	case strings.Contains(mimeType, "ogg"):
		return ".ogg"
	default:
		return ".bin"
	}
}

var (
	_ Transcriber = (*Client)(nil)
	_ Chatter     = (*Client)(nil)
)
