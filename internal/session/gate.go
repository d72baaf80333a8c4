package session

import "sync"

// Gate holds the id of the conversation currently on screen, if any.
// At most one conversation is active at a time.
type Gate struct {
	mu     sync.RWMutex
	active int64
	set    bool
}

// NewGate returns an empty gate.
func NewGate() *Gate {
	return &Gate{}
}

// Activate marks the conversation as viewed, replacing any previous one.
func (g *Gate) Activate(conversationID int64) {
	g.mu.Lock()
	g.active, g.set = conversationID, true
	g.mu.Unlock()
}

// Clear empties the gate if it still points at conversationID.
// A screen that unmounts after another one mounted must not clear the newer one.
func (g *Gate) Clear(conversationID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.set || g.active != conversationID {
		return false
	}
	g.active, g.set = 0, false
	return true
}

// ClearAll empties the gate unconditionally.
func (g *Gate) ClearAll() {
	g.mu.Lock()
	g.active, g.set = 0, false
	g.mu.Unlock()
}

// Active returns the viewed conversation id.
func (g *Gate) Active() (int64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active, g.set
}

// IsActive reports whether conversationID is the one on screen.
func (g *Gate) IsActive(conversationID int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.set && g.active == conversationID
}
