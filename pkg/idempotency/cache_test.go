package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(cfg Config) (*Cache, *MemoryStore, *time.Time) {
	store := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	return NewCache(store, cfg), store, &now
}

func TestCache_SuccessIsCached(t *testing.T) {
	cache, _, _ := newTestCache(DefaultConfig())
	ctx := context.Background()

	outcome := Outcome{
		SessionID: "sess-1",
		Result:    json.RawMessage(`{"graph":{"nodes":[]}}`),
	}
	require.NoError(t, cache.Put(ctx, "scn-1", "turn-1", outcome))

	got, ok, err := cache.Get(ctx, "scn-1", "turn-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.JSONEq(t, `{"graph":{"nodes":[]}}`, string(got.Result))
}

func TestCache_InvalidInputNeverStored(t *testing.T) {
	cache, _, _ := newTestCache(DefaultConfig())
	ctx := context.Background()

	outcome := Outcome{
		SessionID:    "sess-1",
		ErrorKind:    ErrorKindInvalidInput,
		ErrorMessage: "brief is required",
	}
	require.NoError(t, cache.Put(ctx, "scn-1", "turn-1", outcome))

	_, ok, err := cache.Get(ctx, "scn-1", "turn-1")
	require.NoError(t, err)
	assert.False(t, ok, "invalid-input outcomes must not be replayable")
}

func TestCache_TransientErrorExpiresQuickly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TransientErrorTTL = 30 * time.Second
	cache, _, now := newTestCache(cfg)
	ctx := context.Background()

	outcome := Outcome{
		SessionID:    "sess-1",
		ErrorKind:    ErrorKindTransient,
		ErrorMessage: "provider rate limited",
	}
	require.NoError(t, cache.Put(ctx, "scn-1", "turn-1", outcome))

	// Immediate retry hits the cached error.
	got, ok, err := cache.Get(ctx, "scn-1", "turn-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ErrorKindTransient, got.ErrorKind)

	// After the short TTL the entry is gone and a real retry runs fresh.
	*now = now.Add(31 * time.Second)
	_, ok, err = cache.Get(ctx, "scn-1", "turn-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_PermanentErrorOutlivesTransientTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TransientErrorTTL = 30 * time.Second
	cfg.PermanentErrorTTL = time.Hour
	cache, _, now := newTestCache(cfg)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "scn-1", "turn-1", Outcome{
		SessionID: "sess-1",
		ErrorKind: ErrorKindPermanent,
	}))

	*now = now.Add(10 * time.Minute)
	got, ok, err := cache.Get(ctx, "scn-1", "turn-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ErrorKindPermanent, got.ErrorKind)
}

func TestCache_LastWriteWins(t *testing.T) {
	cache, _, _ := newTestCache(DefaultConfig())
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "scn-1", "turn-1", Outcome{SessionID: "sess-1", ErrorKind: ErrorKindTransient}))
	require.NoError(t, cache.Put(ctx, "scn-1", "turn-1", Outcome{SessionID: "sess-2"}))

	got, ok, err := cache.Get(ctx, "scn-1", "turn-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sess-2", got.SessionID)
	assert.Equal(t, ErrorKindNone, got.ErrorKind)
}

func TestCache_MissIsNotAnError(t *testing.T) {
	cache, _, _ := newTestCache(DefaultConfig())

	outcome, ok, err := cache.Get(context.Background(), "scn-x", "turn-x")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, outcome)
}

func TestCache_KeysAreIndependent(t *testing.T) {
	cache, _, _ := newTestCache(DefaultConfig())
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "scn-1", "turn-1", Outcome{SessionID: "a"}))
	require.NoError(t, cache.Put(ctx, "scn-1", "turn-2", Outcome{SessionID: "b"}))
	require.NoError(t, cache.Put(ctx, "scn-2", "turn-1", Outcome{SessionID: "c"}))

	got, ok, _ := cache.Get(ctx, "scn-1", "turn-2")
	require.True(t, ok)
	assert.Equal(t, "b", got.SessionID)
}

func TestInFlight_DuplicateDetection(t *testing.T) {
	reg := NewInFlight()

	_, ok := reg.Begin("scn-1", "turn-1", "sess-1")
	require.True(t, ok)

	existing, ok := reg.Begin("scn-1", "turn-1", "sess-2")
	assert.False(t, ok)
	assert.Equal(t, "sess-1", existing)

	// A different turn is not a duplicate.
	_, ok = reg.Begin("scn-1", "turn-2", "sess-3")
	assert.True(t, ok)

	reg.End("scn-1", "turn-1")
	_, ok = reg.Begin("scn-1", "turn-1", "sess-4")
	assert.True(t, ok)

	assert.Equal(t, 2, reg.Len())
}
