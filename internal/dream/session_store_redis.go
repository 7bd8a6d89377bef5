package dream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultSessionTTL = 24 * time.Hour

// RedisSessionStore persists sessions as JSON blobs with a TTL, so abandoned
// sessions expire without a sweeper.
type RedisSessionStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisSessionStore creates a Redis-backed store. A non-positive ttl falls
// back to 24 hours.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	if client == nil {
		panic("dream: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisSessionStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("boyeodream.internal.dream.sessionstore"),
	}
}

// Save persists the session, refreshing its TTL.
func (s *RedisSessionStore) Save(ctx context.Context, session *DreamSession) error {
	if session == nil || session.ID == "" {
		return ErrSessionNotFound
	}

	ctx, span := s.tracer.Start(ctx, "dream.save_session")
	defer span.End()

	data, err := json.Marshal(session)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("dream: failed to marshal session: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(session.ID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("dream: failed to persist session: %w", err)
	}
	return nil
}

// Load fetches a session by ID.
func (s *RedisSessionStore) Load(ctx context.Context, id string) (*DreamSession, error) {
	ctx, span := s.tracer.Start(ctx, "dream.load_session")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrSessionNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("dream: failed to load session: %w", err)
	}

	var session DreamSession
	if err := json.Unmarshal(data, &session); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("dream: failed to decode session: %w", err)
	}
	return &session, nil
}

// Delete removes a session. Deleting an unknown ID is not an error.
func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "dream.delete_session")
	defer span.End()

	if err := s.redis.Del(ctx, sessionKey(id)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("dream: failed to delete session: %w", err)
	}
	return nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("dream_session:%s", id)
}
