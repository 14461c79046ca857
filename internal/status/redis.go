package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix is the Redis key namespace used when none is configured
	DefaultKeyPrefix = "sandboxd:status:"
)

// redisStore implements Store on top of Redis so that multiple orchestrator
// instances behind a load balancer observe the same in-flight status.
type redisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates a status store backed by the given Redis client.
// An empty keyPrefix falls back to DefaultKeyPrefix.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &redisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (s *redisStore) key(projectID string) string {
	return s.keyPrefix + projectID
}

func (s *redisStore) Get(ctx context.Context, projectID string) (Lifecycle, bool, error) {
	val, err := s.client.Get(ctx, s.key(projectID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read status for project %s: %w", projectID, err)
	}

	state := Lifecycle(val)
	if !state.Valid() {
		// Treat unknown values as absent rather than propagating garbage;
		// the reconciler will recover the real state from the runtime.
		return "", false, nil
	}
	return state, true, nil
}

func (s *redisStore) Set(ctx context.Context, projectID string, state Lifecycle) error {
	if err := s.client.Set(ctx, s.key(projectID), string(state), 0).Err(); err != nil {
		return fmt.Errorf("failed to write status for project %s: %w", projectID, err)
	}
	return nil
}

func (s *redisStore) Clear(ctx context.Context, projectID string) error {
	if err := s.client.Del(ctx, s.key(projectID)).Err(); err != nil {
		return fmt.Errorf("failed to clear status for project %s: %w", projectID, err)
	}
	return nil
}
