package protocol

import (
	"fmt"
	"strings"
)

// NewChefAnswerMessage creates a chef answer message.
func NewChefAnswerMessage(answer, questionID string) (*Message, error) {
	if strings.TrimSpace(answer) == "" {
		return nil, ErrEmptyAnswer
	}
	return NewMessage(TypeChefAnswer, ChefAnswerData{Answer: answer, QuestionID: questionID})
}

// NewStatusMessage creates a status message.
func NewStatusMessage(data StatusData) (*Message, error) {
	return NewMessage(TypeStatus, data)
}

// NewNoticeMessage creates a notice message.
func NewNoticeMessage(data NoticeData) (*Message, error) {
	return NewMessage(TypeNotice, data)
}

// NewMetricsMessage creates a metrics message.
func NewMetricsMessage(data MetricsData) (*Message, error) {
	return NewMessage(TypeMetrics, data)
}

// NewPingMessage creates a ping message.
func NewPingMessage(id string) (*Message, error) {
	msg, err := NewMessage(TypePing, nil)
	if err != nil {
		return nil, err
	}
	return NewMessage(TypePing, PingData{ID: id, Timestamp: msg.Timestamp})
}

// NewPongMessage creates a pong response message.
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// GetChefAnswer extracts a chef answer. Blank answers are rejected.
func (m *Message) GetChefAnswer() (*ChefAnswerData, error) {
	if m.Type != TypeChefAnswer {
		return nil, fmt.Errorf("protocol: %q is not a chef answer", m.Type)
	}
	var data ChefAnswerData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	data.Answer = strings.TrimSpace(data.Answer)
	if data.Answer == "" {
		return nil, ErrEmptyAnswer
	}
	return &data, nil
}

// GetPingData extracts ping data from a message.
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message.
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
