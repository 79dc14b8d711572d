package stream

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
	skipIntegration    bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	// Start Redis container once for all tests.
	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, integration tests will be skipped: %v\n", containerErr)
		skipIntegration = true
	} else {
		host, err := testRedisContainer.Host(ctx)
		if err != nil {
			fmt.Printf("Failed to get container host: %v\n", err)
			skipIntegration = true
		} else {
			port, err := testRedisContainer.MappedPort(ctx, "6379")
			if err != nil {
				fmt.Printf("Failed to get container port: %v\n", err)
				skipIntegration = true
			} else {
				testRedisClient = redis.NewClient(&redis.Options{
					Addr: host + ":" + port.Port(),
				})
				if err := testRedisClient.Ping(ctx).Err(); err != nil {
					fmt.Printf("Failed to ping redis: %v\n", err)
					skipIntegration = true
				}
			}
		}
	}

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testRedisContainer != nil {
		_ = testRedisContainer.Terminate(ctx)
	}

	os.Exit(code)
}

// getRedis returns the shared Redis client and flushes the database for test
// isolation. Skips the test if Docker is not available.
func getRedis(t *testing.T) *redis.Client {
	t.Helper()
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	require.NoError(t, testRedisClient.FlushDB(context.Background()).Err())
	return testRedisClient
}

func TestRedisStore_SessionLifecycle(t *testing.T) {
	rdb := getRedis(t)
	store := NewRedisStore(rdb, time.Hour)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.CreateSession(ctx, SessionMeta{
		SessionID:      "sess-1",
		State:          StateActive,
		LastSequence:   -1,
		CreatedAt:      now,
		LastActivityAt: now,
	}))

	meta, ok, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateActive, meta.State)
	assert.Equal(t, int64(-1), meta.LastSequence)

	_, ok, err = store.GetSession(ctx, "no-such-session")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetState(ctx, "sess-1", StateClosed))
	meta, ok, err = store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateClosed, meta.State)

	require.NoError(t, store.DeleteSession(ctx, "sess-1"))
	_, ok, err = store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_AppendTrimsAndAdvancesCursor(t *testing.T) {
	rdb := getRedis(t)
	store := NewRedisStore(rdb, time.Hour)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.CreateSession(ctx, SessionMeta{
		SessionID: "sess-1", State: StateActive, LastSequence: -1,
		CreatedAt: now, LastActivityAt: now,
	}))

	for i := 0; i < 8; i++ {
		require.NoError(t, store.AppendEvent(ctx, "sess-1", Event{
			Sequence:  uint64(i),
			Type:      EventData,
			EmittedAt: now.Add(time.Duration(i) * time.Second),
		}, 5))
	}

	events, oldest, err := store.Events(ctx, "sess-1", -1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), oldest, "buffer should retain only the most recent 5 events")
	require.Len(t, events, 5)
	assert.Equal(t, uint64(3), events[0].Sequence)
	assert.Equal(t, uint64(7), events[4].Sequence)

	events, _, err = store.Events(ctx, "sess-1", 5)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(6), events[0].Sequence)

	meta, _, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), meta.LastSequence)
}

func TestRedisStore_SubscribeReceivesLiveEvents(t *testing.T) {
	rdb := getRedis(t)
	store := NewRedisStore(rdb, time.Hour)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.CreateSession(ctx, SessionMeta{
		SessionID: "sess-1", State: StateActive, LastSequence: -1,
		CreatedAt: now, LastActivityAt: now,
	}))

	live, cancel, err := store.Subscribe(ctx, "sess-1")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, store.AppendEvent(ctx, "sess-1", Event{
		Sequence: 0, Type: EventStage, EmittedAt: now,
	}, 50))

	select {
	case ev := <-live:
		assert.Equal(t, uint64(0), ev.Sequence)
		assert.Equal(t, EventStage, ev.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestRedisStore_CrossInstanceResume(t *testing.T) {
	rdb := getRedis(t)
	store := NewRedisStore(rdb, time.Hour)
	ctx := context.Background()

	cfg := testConfig()
	owner := NewManager(cfg, store)
	other := NewManager(cfg, store)

	open, err := owner.OpenSession(ctx)
	require.NoError(t, err)
	require.False(t, open.Degraded)

	for i := 0; i < 3; i++ {
		_, err = owner.Emit(ctx, open.SessionID, EventData, map[string]int{"i": i})
		require.NoError(t, err)
	}

	sub, err := other.Resume(ctx, open.ResumeToken, 0)
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, uint64(1), recv(t, sub.Events).Sequence)
	assert.Equal(t, uint64(2), recv(t, sub.Events).Sequence)

	require.NoError(t, owner.Complete(ctx, open.SessionID, map[string]string{"status": "ok"}))
	ev := recv(t, sub.Events)
	assert.Equal(t, EventDone, ev.Type)
	assert.Equal(t, uint64(3), ev.Sequence)
	requireClosed(t, sub.Events)
}
