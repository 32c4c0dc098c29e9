package backend

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/voice-waiter/pkg/audioio"
)

// Mock implements Transcriber and Chatter for testing.
type Mock struct {
	// TranscribeFunc is called when Transcribe is invoked.
	TranscribeFunc func(ctx context.Context, audio audioio.Blob, language string) (string, error)

	// ChatFunc is called when Chat is invoked.
	ChatFunc func(ctx context.Context, req *ChatRequest) (*ChatReply, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation.
type MockCall struct {
	Method  string
	Request *ChatRequest
	Time    time.Time
}

// NewMock returns a mock that transcribes to transcript and answers reply.
func NewMock(transcript, reply string, actions ...CartAction) *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, audio audioio.Blob, language string) (string, error) {
			return transcript, nil
		},
		ChatFunc: func(ctx context.Context, req *ChatRequest) (*ChatReply, error) {
			return &ChatReply{Message: reply, AddToCart: actions}, nil
		},
	}
}

// Transcribe calls TranscribeFunc and records the call.
func (m *Mock) Transcribe(ctx context.Context, audio audioio.Blob, language string) (string, error) {
	m.record("Transcribe", nil)
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, audio, language)
	}
	return "", nil
}

// Chat calls ChatFunc and records the call with a copy of the request.
func (m *Mock) Chat(ctx context.Context, req *ChatRequest) (*ChatReply, error) {
	cp := *req
	cp.History = append([]Turn(nil), req.History...)
	m.record("Chat", &cp)
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return &ChatReply{}, nil
}

func (m *Mock) record(method string, req *ChatRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Request: req, Time: time.Now()})
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// LastChat returns the most recent chat request, or nil.
func (m *Mock) LastChat() *ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.calls) - 1; i >= 0; i-- {
		if m.calls[i].Method == "Chat" {
			return m.calls[i].Request
		}
	}
	return nil
}

var (
	_ Transcriber = (*Mock)(nil)
	_ Chatter     = (*Mock)(nil)
)
