package voice

import (
	"context"
	"log/slog"
	"sync"

	"github.com/teslashibe/voice-waiter/pkg/backend"
)

// MemoryCart collects cart actions in memory. It is the default cart when
// the host supplies none.
type MemoryCart struct {
	mu     sync.Mutex
	items  []backend.CartAction
	logger *slog.Logger
}

// NewMemoryCart creates an empty cart.
func NewMemoryCart(logger *slog.Logger) *MemoryCart {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryCart{logger: logger.With("component", "cart")}
}

// Add appends an action.
func (c *MemoryCart) Add(ctx context.Context, action backend.CartAction) error {
	c.mu.Lock()
	c.items = append(c.items, action)
	n := len(c.items)
	c.mu.Unlock()
	c.logger.Info("cart item added", "item_id", action.ItemID, "name", action.Name, "quantity", action.Quantity, "items", n)
	return nil
}

// Items returns a copy of the collected actions.
func (c *MemoryCart) Items() []backend.CartAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]backend.CartAction(nil), c.items...)
}
