// Package protocol defines the JSON messages carried by the push channel
// and the kiosk status stream.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies the type of a message.
type MessageType string

const (
	// Relay → kiosk
	TypeChefAnswer MessageType = "chef-answer" // Human staff answer

	// Kiosk → dashboard
	TypeStatus  MessageType = "status"  // Conversation status change
	TypeNotice  MessageType = "notice"  // Passive UI hint
	TypeMetrics MessageType = "metrics" // Turn latency summary

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// ErrEmptyAnswer is returned for a chef answer with no text.
var ErrEmptyAnswer = errors.New("protocol: empty chef answer")

// Message is the envelope for every message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into v.
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// Time returns the message timestamp, or the zero time.
func (m *Message) Time() time.Time {
	if m.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(m.Timestamp)
}

// ChefAnswerData is a staff reply to a customer question.
type ChefAnswerData struct {
	Answer string `json:"answer"`

	// QuestionID correlates the answer with an escalated question, when known.
	QuestionID string `json:"questionId,omitempty"`
}

// Address identifies one kiosk session on the push channel.
type Address struct {
	RestaurantID string `json:"restaurantId"`
	SessionID    string `json:"sessionId"`
}

// Valid reports whether both parts are set.
func (a Address) Valid() bool {
	return strings.TrimSpace(a.RestaurantID) != "" && strings.TrimSpace(a.SessionID) != ""
}

// Key returns the address as "restaurant/session".
func (a Address) Key() string { return a.RestaurantID + "/" + a.SessionID }

// ChefAnswerRequest is the body of POST /api/chef-answer on the relay.
type ChefAnswerRequest struct {
	Address
	ChefAnswerData
}

// StatusData reports a conversation status change.
type StatusData struct {
	SessionID   string `json:"session_id"`
	Status      string `json:"status"`
	WakeEnabled bool   `json:"wake_enabled"`
	Listening   bool   `json:"wake_listening"`
}

// NoticeData is a passive UI hint.
type NoticeData struct {
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Error     string `json:"error,omitempty"`
}

// MetricsData summarises the last turn.
type MetricsData struct {
	Turns   int    `json:"turns"`
	Latency string `json:"latency"`
	Outcome string `json:"outcome"`
}

// PingData contains ping information.
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response.
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
