package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedWindow_AllowsUpToMax(t *testing.T) {
	l := NewFixedWindow(3, 60*time.Second)

	for i := 0; i < 3; i++ {
		allowed, retry := l.Check("sess:abc")
		assert.True(t, allowed, "call %d should be allowed", i+1)
		assert.Zero(t, retry)
	}

	allowed, retry := l.Check("sess:abc")
	assert.False(t, allowed, "4th call must be rejected")
	assert.GreaterOrEqual(t, retry, 1)
	assert.LessOrEqual(t, retry, 60)
}

func TestFixedWindow_KeysAreIndependent(t *testing.T) {
	l := NewFixedWindow(1, time.Minute)

	allowed, _ := l.Check("sess:a")
	assert.True(t, allowed)
	allowed, _ = l.Check("sess:b")
	assert.True(t, allowed)
	allowed, _ = l.Check("sess:a")
	assert.False(t, allowed)
}

func TestFixedWindow_RejectedCallsDoNotCount(t *testing.T) {
	now := time.Now()
	l := NewFixedWindow(2, time.Minute)
	l.now = func() time.Time { return now }

	l.Check("k")
	l.Check("k")
	for i := 0; i < 10; i++ {
		allowed, _ := l.Check("k")
		assert.False(t, allowed)
	}

	// Advance past the window; both counted events expire at once.
	now = now.Add(61 * time.Second)
	allowed, _ := l.Check("k")
	assert.True(t, allowed, "window must recover after expiry despite rejected attempts")
}

func TestFixedWindow_RetryAfterShrinksOverTime(t *testing.T) {
	now := time.Now()
	l := NewFixedWindow(1, 60*time.Second)
	l.now = func() time.Time { return now }

	allowed, _ := l.Check("k")
	require.True(t, allowed)

	_, retry1 := l.Check("k")
	now = now.Add(30 * time.Second)
	_, retry2 := l.Check("k")

	assert.Greater(t, retry1, retry2)
	assert.GreaterOrEqual(t, retry2, 1, "retry_after is never below 1s")
}

func TestFixedWindow_WindowSlides(t *testing.T) {
	now := time.Now()
	l := NewFixedWindow(2, 60*time.Second)
	l.now = func() time.Time { return now }

	l.Check("k") // t=0
	now = now.Add(40 * time.Second)
	l.Check("k") // t=40

	now = now.Add(25 * time.Second) // t=65: first event expired
	allowed, _ := l.Check("k")
	assert.True(t, allowed)

	allowed, _ = l.Check("k")
	assert.False(t, allowed, "two events still inside the window")
}

func TestFixedWindow_Sweep(t *testing.T) {
	now := time.Now()
	l := NewFixedWindow(5, time.Minute)
	l.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		l.Check(fmt.Sprintf("sess:%d", i))
	}
	assert.Zero(t, l.Sweep(), "nothing expired yet")

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 10, l.Sweep())
	assert.Zero(t, l.Sweep())
}

func TestIPLimiter_PerSource(t *testing.T) {
	l := NewIPLimiter(1000, 2)

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "burst exhausted for this source")
	assert.True(t, l.Allow("10.0.0.2"), "other sources unaffected")
}

func TestIPLimiter_Global(t *testing.T) {
	l := NewIPLimiter(2, 100)

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
	assert.False(t, l.Allow("10.0.0.3"), "global budget exhausted")
}
