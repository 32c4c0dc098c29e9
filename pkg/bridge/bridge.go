// Package bridge injects pushed staff answers into a conversation.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/teslashibe/voice-waiter/pkg/protocol"
)

var (
	// ErrUnhandled is returned for message types the bridge does not deliver.
	ErrUnhandled = errors.New("bridge: unhandled message type")
	// ErrRejected is returned when the target would not take the answer.
	ErrRejected = errors.New("bridge: answer rejected")
)

// Target receives answers. conversation.Machine satisfies it.
type Target interface {
	Inject(ctx context.Context, text string) bool
}

// Bridge turns chef-answer messages into injected replies.
type Bridge struct {
	target Target
	logger *slog.Logger

	delivered atomic.Int64
	dropped   atomic.Int64
}

// New creates a Bridge that delivers to target.
func New(target Target, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{target: target, logger: logger.With("component", "bridge")}
}

// Deliver injects msg if it is a chef answer. There is no retry.
func (b *Bridge) Deliver(ctx context.Context, msg *protocol.Message) error {
	if msg == nil || msg.Type != protocol.TypeChefAnswer {
		return ErrUnhandled
	}
	answer, err := msg.GetChefAnswer()
	if err != nil {
		b.dropped.Add(1)
		b.logger.Warn("chef answer dropped", "error", err)
		return err
	}
	if !b.target.Inject(ctx, answer.Answer) {
		b.dropped.Add(1)
		b.logger.Warn("chef answer rejected", "question_id", answer.QuestionID)
		return ErrRejected
	}
	b.delivered.Add(1)
	b.logger.Info("chef answer delivered", "question_id", answer.QuestionID, "chars", len(answer.Answer))
	return nil
}

// Delivered returns how many answers reached the target.
func (b *Bridge) Delivered() int64 { return b.delivered.Load() }

// Dropped returns how many answers were malformed or rejected.
func (b *Bridge) Dropped() int64 { return b.dropped.Load() }
