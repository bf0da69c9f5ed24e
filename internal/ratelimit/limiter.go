// Package ratelimit bounds inbound message volume.
//
// Two limiters cover two layers: FixedWindow counts messages per session key
// over a sliding fixed window and reports how long a caller must wait, and
// IPLimiter applies a token-bucket per source IP at the HTTP transport.
// Both are process-local; running multiple instances multiplies the
// effective limits.
package ratelimit

import (
	"sync"
	"time"
)

// FixedWindow allows at most max events per key within the trailing window.
type FixedWindow struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	hits   map[string][]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewFixedWindow creates a limiter allowing max events per window per key.
func NewFixedWindow(max int, window time.Duration) *FixedWindow {
	return &FixedWindow{
		max:    max,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Check records an event for key if under the limit and returns allowed=true.
// When the limit is reached the event is NOT recorded and retryAfter reports
// the seconds until the oldest counted event leaves the window (at least 1).
func (l *FixedWindow) Check(key string) (allowed bool, retryAfter int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	q := l.hits[key]
	kept := q[:0]
	for _, ts := range q {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.max {
		wait := kept[0].Add(l.window).Sub(now)
		secs := int(wait.Seconds())
		if wait > time.Duration(secs)*time.Second {
			secs++ // round up partial seconds
		}
		if secs < 1 {
			secs = 1
		}
		l.hits[key] = kept
		return false, secs
	}

	l.hits[key] = append(kept, now)
	return true, 0
}

// Sweep drops keys whose events have all left the window. Called
// periodically by the janitor to keep the map from growing unbounded.
func (l *FixedWindow) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	removed := 0
	for key, q := range l.hits {
		live := false
		for _, ts := range q {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.hits, key)
			removed++
		}
	}
	return removed
}
