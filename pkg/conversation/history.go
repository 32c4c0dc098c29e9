package conversation

import (
	"sync"

	"github.com/teslashibe/voice-waiter/pkg/backend"
)

// History is the append-only turn log of one customer session.
type History struct {
	mu    sync.RWMutex
	turns []backend.Turn
}

// Append adds a turn. Blank content is still recorded.
func (h *History) Append(role backend.Role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, backend.Turn{Role: role, Content: content})
}

// Snapshot returns a copy of all turns in order.
func (h *History) Snapshot() []backend.Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]backend.Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Count returns the number of turns with the given role.
func (h *History) Count(role backend.Role) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, t := range h.turns {
		if t.Role == role {
			n++
		}
	}
	return n
}
