package session

import (
	"context"
	"database/sql"
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
	db.SetMaxOpenConns(1)

	s, err := NewStore(db, ttl)
	require.NoError(t, err)
	return s
}

func TestStore_UnknownSessionIsEmpty(t *testing.T) {
	s := newTestStore(t, time.Hour)

	state, err := s.Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, state.History)
	assert.NotNil(t, state.Facts)
}

func TestStore_SaveAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	state := NewState()
	state.Append("hola", "¡Hola! ¿En qué puedo ayudarte?", "faq")
	state.Facts["customer_id"] = "CUST_001"
	require.NoError(t, s.Save(ctx, "sess-1", state))

	loaded, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, loaded.History, 2)
	assert.Equal(t, "user", loaded.History[0].Role)
	assert.Equal(t, "hola", loaded.History[0].Content)
	assert.Empty(t, loaded.History[0].Intent)
	assert.Equal(t, "assistant", loaded.History[1].Role)
	assert.Equal(t, "faq", loaded.History[1].Intent)
	assert.Equal(t, "CUST_001", loaded.Facts["customer_id"])
}

func TestStore_SaveOverwrites(t *testing.T) {
	s := newTestStore(t, time.Hour)
	ctx := context.Background()

	state := NewState()
	state.Append("uno", "one", "faq")
	require.NoError(t, s.Save(ctx, "sess-1", state))

	state.Append("dos", "two", "faq")
	require.NoError(t, s.Save(ctx, "sess-1", state))

	loaded, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, loaded.History, 4)
}

func TestStore_ExpiredSessionIsEmpty(t *testing.T) {
	s := newTestStore(t, time.Millisecond)
	ctx := context.Background()

	state := NewState()
	state.Append("hola", "hi", "faq")
	require.NoError(t, s.Save(ctx, "sess-1", state))

	time.Sleep(5 * time.Millisecond)

	loaded, err := s.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, loaded.History, "expired session reads as fresh")
}

func TestStore_Cleanup(t *testing.T) {
	s := newTestStore(t, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "a", NewState()))
	require.NoError(t, s.Save(ctx, "b", NewState()))
	time.Sleep(5 * time.Millisecond)

	removed, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)
}

func TestState_Recent(t *testing.T) {
	state := NewState()
	state.Append("a", "b", "faq")
	state.Append("c", "d", "handoff")
	state.Append("e", "f", "faq")

	recent := state.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "d", recent[0].Content)
	assert.Equal(t, "f", recent[2].Content)

	assert.Len(t, state.Recent(0), 6)
	assert.Len(t, state.Recent(100), 6)
}
