package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements SessionStore on Redis so resume works across service
// instances. Metadata lives in a JSON string key, the bounded event buffer in
// a list trimmed on append, and live fan-out rides pub/sub. All keys carry a
// retention TTL refreshed on activity, so sessions that outlive every
// instance still get cleaned up.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisStore creates a RedisStore over an existing Redis connection. The
// caller owns the connection lifecycle. retention bounds how long idle
// session keys survive in Redis.
func NewRedisStore(rdb *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, retention: retention}
}

func metaKey(id string) string    { return "stream:sess:" + id + ":meta" }
func eventsKey(id string) string  { return "stream:sess:" + id + ":events" }
func channelKey(id string) string { return "stream:sess:" + id + ":live" }

// Ping implements SessionStore.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// CreateSession implements SessionStore.
func (s *RedisStore) CreateSession(ctx context.Context, meta SessionMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode session meta %s: %w", meta.SessionID, err)
	}
	if err := s.rdb.Set(ctx, metaKey(meta.SessionID), data, s.retention).Err(); err != nil {
		return fmt.Errorf("redis create session %s: %w", meta.SessionID, err)
	}
	return nil
}

// GetSession implements SessionStore.
func (s *RedisStore) GetSession(ctx context.Context, id string) (SessionMeta, bool, error) {
	data, err := s.rdb.Get(ctx, metaKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return SessionMeta{}, false, nil
	}
	if err != nil {
		return SessionMeta{}, false, fmt.Errorf("redis get session %s: %w", id, err)
	}
	var meta SessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return SessionMeta{}, false, fmt.Errorf("decode session meta %s: %w", id, err)
	}
	return meta, true, nil
}

// AppendEvent implements SessionStore.
func (s *RedisStore) AppendEvent(ctx context.Context, id string, ev Event, maxLen int) error {
	meta, ok, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}
	meta.LastSequence = int64(ev.Sequence)
	meta.LastActivityAt = ev.EmittedAt

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s/%d: %w", id, ev.Sequence, err)
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode session meta %s: %w", id, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, eventsKey(id), data)
	if maxLen > 0 {
		pipe.LTrim(ctx, eventsKey(id), int64(-maxLen), -1)
	}
	pipe.Set(ctx, metaKey(id), metaData, s.retention)
	pipe.Expire(ctx, eventsKey(id), s.retention)
	pipe.Publish(ctx, channelKey(id), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append event %s/%d: %w", id, ev.Sequence, err)
	}
	return nil
}

// Events implements SessionStore.
func (s *RedisStore) Events(ctx context.Context, id string, afterSeq int64) ([]Event, uint64, error) {
	raw, err := s.rdb.LRange(ctx, eventsKey(id), 0, -1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis read events %s: %w", id, err)
	}
	var (
		out    []Event
		oldest uint64
	)
	for i, item := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, 0, fmt.Errorf("decode event %s[%d]: %w", id, i, err)
		}
		if i == 0 {
			oldest = ev.Sequence
		}
		if int64(ev.Sequence) > afterSeq {
			out = append(out, ev)
		}
	}
	return out, oldest, nil
}

// SetState implements SessionStore.
func (s *RedisStore) SetState(ctx context.Context, id string, state SessionState) error {
	meta, ok, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}
	meta.State = state
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode session meta %s: %w", id, err)
	}
	if err := s.rdb.Set(ctx, metaKey(id), data, s.retention).Err(); err != nil {
		return fmt.Errorf("redis set state %s: %w", id, err)
	}
	return nil
}

// Subscribe implements SessionStore. The pub/sub feed starts at the moment of
// the call; the caller closes the gap with Events and filters by sequence.
func (s *RedisStore) Subscribe(ctx context.Context, id string) (<-chan Event, func(), error) {
	pubsub := s.rdb.Subscribe(ctx, channelKey(id))
	// Force the SUBSCRIBE round trip so failures surface here instead of
	// silently losing the live feed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("redis subscribe %s: %w", id, err)
	}

	ch := make(chan Event, 64)
	go func() {
		defer close(ch)
		for msg := range pubsub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = pubsub.Close() }
	return ch, cancel, nil
}

// DeleteSession implements SessionStore.
func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, metaKey(id), eventsKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete session %s: %w", id, err)
	}
	return nil
}
