// Package backend is the client for the restaurant AI endpoints the voice
// waiter consumes: transcription and the chat turn.
//
// Both endpoints answer 503 when the AI capability is switched off for the
// restaurant. Callers match that with errors.Is(err, ErrUnavailable) and
// fall back to idle; nothing here retries.
package backend

import (
	"context"
	"encoding/json"

	"github.com/teslashibe/voice-waiter/pkg/audioio"
)

// Role identifies the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of the conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CartAction is one structured cart addition returned with a chat reply.
// Raw keeps the payload exactly as received for the cart collaborator.
type CartAction struct {
	ItemID   string         `json:"itemId,omitempty"`
	Name     string         `json:"name,omitempty"`
	Quantity int            `json:"quantity,omitempty"`
	Notes    string         `json:"notes,omitempty"`
	Options  map[string]any `json:"options,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps the raw payload.
func (a *CartAction) UnmarshalJSON(data []byte) error {
	type plain CartAction
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = CartAction(p)
	a.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON re-emits the raw payload when present.
func (a CartAction) MarshalJSON() ([]byte, error) {
	if len(a.Raw) > 0 {
		return a.Raw, nil
	}
	type plain CartAction
	return json.Marshal(plain(a))
}

// ChatRequest is the body of one chat turn.
type ChatRequest struct {
	RestaurantID string          `json:"restaurantId"`
	SessionID    string          `json:"sessionId"`
	Language     string          `json:"language"`
	History      []Turn          `json:"history"`
	MenuContext  json.RawMessage `json:"menuContext,omitempty"`
}

// ChatReply is the assistant's answer for one turn.
type ChatReply struct {
	Message   string       `json:"message"`
	AddToCart []CartAction `json:"addToCart,omitempty"`
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio audioio.Blob, language string) (string, error)
}

// Chatter obtains the assistant reply for a conversation.
type Chatter interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatReply, error)
}
