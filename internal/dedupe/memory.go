package dedupe

import (
	"context"
	"sync"
	"time"
)

// MemoryGate is a process-local Gate for channels that tolerate losing
// dedupe memory on restart (e.g. the web widget).
type MemoryGate struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time

	now func() time.Time
}

// NewMemoryGate creates an in-memory gate with the given TTL.
func NewMemoryGate(ttl time.Duration) *MemoryGate {
	return &MemoryGate{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Mark reports whether (provider, message_id) is new within the TTL.
func (g *MemoryGate) Mark(_ context.Context, provider, messageID, _ string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := provider + "\x00" + messageID
	now := g.now()
	if exp, ok := g.seen[key]; ok && exp.After(now) {
		return false, nil
	}
	g.seen[key] = now.Add(g.ttl)
	return true, nil
}

// Sweep drops expired entries and returns the number removed.
func (g *MemoryGate) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for key, exp := range g.seen {
		if !exp.After(now) {
			delete(g.seen, key)
			removed++
		}
	}
	return removed
}
