package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the breaker's view of time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := New(cfg)
	b.now = clock.Now
	return b, clock
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, SuccessThreshold: 2, OpenTimeout: 30 * time.Second})

	for i := 0; i < 3; i++ {
		require.True(t, b.Allow("anthropic"))
		b.RecordFailure("anthropic")
	}

	assert.False(t, b.Allow("anthropic"))
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 3, SuccessThreshold: 2, OpenTimeout: 30 * time.Second})

	for i := 0; i < 3; i++ {
		b.RecordFailure("anthropic")
	}
	require.False(t, b.Allow("anthropic"))

	// Just before the deadline the circuit stays open.
	clock.Advance(30*time.Second - time.Millisecond)
	assert.False(t, b.Allow("anthropic"))

	// At the deadline the next admission check flips to half-open.
	clock.Advance(time.Millisecond)
	assert.True(t, b.Allow("anthropic"))

	statuses := b.Snapshot()
	require.Len(t, statuses, 1)
	assert.Equal(t, StateHalfOpen, statuses[0].State)
}

func TestBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: time.Second})

	b.RecordFailure("openai")
	clock.Advance(time.Second)
	require.True(t, b.Allow("openai"))

	// One success is not enough to close.
	b.RecordSuccess("openai")
	statuses := b.Snapshot()
	require.Len(t, statuses, 1)
	assert.Equal(t, StateHalfOpen, statuses[0].State)

	b.RecordSuccess("openai")
	statuses = b.Snapshot()
	assert.Equal(t, StateClosed, statuses[0].State)
	assert.Zero(t, statuses[0].SuccessCount, "counters reset on transition")
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: 10 * time.Second})

	b.RecordFailure("openai")
	clock.Advance(10 * time.Second)
	require.True(t, b.Allow("openai"))

	b.RecordFailure("openai")
	assert.False(t, b.Allow("openai"))

	// The re-open starts a fresh full wait.
	clock.Advance(9 * time.Second)
	assert.False(t, b.Allow("openai"))
	clock.Advance(time.Second)
	assert.True(t, b.Allow("openai"))
}

func TestBreaker_ClosedSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: time.Second})

	b.RecordFailure("anthropic")
	b.RecordFailure("anthropic")
	b.RecordSuccess("anthropic")
	b.RecordFailure("anthropic")
	b.RecordFailure("anthropic")

	// Still below threshold: the success wiped the earlier streak.
	assert.True(t, b.Allow("anthropic"))
}

func TestBreaker_ProvidersAreIsolated(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: time.Minute})

	b.RecordFailure("anthropic")

	assert.False(t, b.Allow("anthropic"))
	assert.True(t, b.Allow("openai"))
}

func TestBreaker_ConcurrentDistinctKeys(t *testing.T) {
	b, _ := newTestBreaker(DefaultConfig())

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Allow(id)
				b.RecordFailure(id)
				b.RecordSuccess(id)
			}
		}(id)
	}
	wg.Wait()

	assert.Len(t, b.Snapshot(), 4)
}
