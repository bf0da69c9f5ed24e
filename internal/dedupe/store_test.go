package dedupe

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	// A single connection keeps :memory: stable across goroutines.
	db.SetMaxOpenConns(1)

	s, err := NewStore(db, ttl)
	require.NoError(t, err)
	return s
}

func TestStore_FirstArrivalWins(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	first, err := s.Mark(ctx, "whatsapp", "msg-1", "hash-a")
	require.NoError(t, err)
	assert.True(t, first)

	dup, err := s.Mark(ctx, "whatsapp", "msg-1", "hash-a")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestStore_ProvidersAreSeparateNamespaces(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	first, err := s.Mark(ctx, "whatsapp", "msg-1", "")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = s.Mark(ctx, "web", "msg-1", "")
	require.NoError(t, err)
	assert.True(t, first, "same id under another provider is a distinct message")
}

func TestStore_ExpiredClaimIsReusable(t *testing.T) {
	s := newTestStore(t, time.Millisecond)
	ctx := context.Background()

	first, err := s.Mark(ctx, "web", "msg-1", "")
	require.NoError(t, err)
	require.True(t, first)

	time.Sleep(5 * time.Millisecond)

	first, err = s.Mark(ctx, "web", "msg-1", "")
	require.NoError(t, err)
	assert.True(t, first, "message is new again after the TTL")
}

func TestStore_ConcurrentMarksExactlyOneWinner(t *testing.T) {
	s := newTestStore(t, time.Hour)

	const n = 20
	var wg sync.WaitGroup
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := s.Mark(context.Background(), "provider", "race-msg", "")
			if err == nil {
				results <- first
			}
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	total := 0
	for first := range results {
		total++
		if first {
			winners++
		}
	}
	assert.Equal(t, n, total)
	assert.Equal(t, 1, winners, "exactly one goroutine claims the message")
}

func TestStore_Cleanup(t *testing.T) {
	s := newTestStore(t, time.Millisecond)
	ctx := context.Background()

	_, err := s.Mark(ctx, "web", "a", "")
	require.NoError(t, err)
	_, err = s.Mark(ctx, "web", "b", "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	removed, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	removed, err = s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestMemoryGate(t *testing.T) {
	g := NewMemoryGate(time.Hour)
	now := time.Now()
	g.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := g.Mark(ctx, "web", "m1", "")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = g.Mark(ctx, "web", "m1", "")
	require.NoError(t, err)
	assert.False(t, first)

	now = now.Add(2 * time.Hour)
	first, err = g.Mark(ctx, "web", "m1", "")
	require.NoError(t, err)
	assert.True(t, first, "expired entry is claimable again")
}

func TestMemoryGate_Sweep(t *testing.T) {
	g := NewMemoryGate(time.Minute)
	now := time.Now()
	g.now = func() time.Time { return now }

	_, _ = g.Mark(context.Background(), "web", "m1", "")
	_, _ = g.Mark(context.Background(), "web", "m2", "")
	assert.Zero(t, g.Sweep())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, g.Sweep())
}
