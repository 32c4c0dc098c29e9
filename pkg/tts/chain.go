package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Chain speaks through the restaurant backend first and falls back to the
// next provider only when the failure belongs to the service: a 5xx, a
// rate limit, bad credentials or a transport error. A rejected request is
// returned to the caller because every provider would reject it the same
// way. No provider is asked twice for the same text.
type Chain struct {
	providers []Provider
	logger    *slog.Logger
}

// NewChain builds a chain over providers in priority order.
func NewChain(providers ...Provider) (*Chain, error) {
	return NewChainWithLogger(slog.Default(), providers...)
}

// NewChainWithLogger is NewChain with an explicit logger.
func NewChainWithLogger(logger *slog.Logger, providers ...Provider) (*Chain, error) {
	if len(providers) == 0 {
		return nil, ErrProviderUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: append([]Provider(nil), providers...),
		logger:    logger.With("component", "tts.chain"),
	}, nil
}

// Fallback reports whether err from one provider should send the text to
// the next one.
func Fallback(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrEmptyText):
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return !apiErr.IsRequestError()
	}
	return true
}

// Synthesize returns the first provider's audio that succeeds.
func (c *Chain) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	var errs []error
	for i, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := p.Synthesize(ctx, text)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback synthesis", "provider", result.Provider, "attempt", i+1, "chars", len(text))
			}
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		errs = append(errs, err)
		if !Fallback(err) {
			c.logger.Warn("synthesis rejected", "attempt", i+1, "error", err)
			break
		}
		if i+1 < len(c.providers) {
			c.logger.Warn("synthesis failed, falling back", "attempt", i+1, "error", err)
		}
	}
	return nil, &ChainError{Errors: errs}
}

// Health is nil while at least one provider can speak.
func (c *Chain) Health(ctx context.Context) error {
	var errs []error
	for _, p := range c.providers {
		err := p.Health(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	return fmt.Errorf("tts chain: no healthy provider: %w", errors.Join(errs...))
}

// Close closes every provider.
func (c *Chain) Close() error {
	var errs []error
	for _, p := range c.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Providers returns the chain in priority order.
func (c *Chain) Providers() []Provider {
	return append([]Provider(nil), c.providers...)
}

// ChainError holds one error per provider that was asked.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "tts chain: no providers asked"
	case 1:
		return fmt.Sprintf("tts chain: %v", e.Errors[0])
	}
	return fmt.Sprintf("tts chain: %d providers failed, last: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap exposes every provider error to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error { return e.Errors }

var _ Provider = (*Chain)(nil)
