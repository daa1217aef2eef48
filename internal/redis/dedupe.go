package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DedupeTTL is how long a notification claim is held.
	DedupeTTL = time.Hour

	dedupePrefix = "notify:dedupe:"
	claimMarker  = "sent"
)

// DedupeStore records which notifications have already been claimed so a
// redelivered event or an overlapping poller run does not mail twice.
type DedupeStore struct {
	client *Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewDedupeStore creates a dedupe store. ttl <= 0 uses DedupeTTL.
func NewDedupeStore(client *Client, ttl time.Duration, logger *zap.Logger) *DedupeStore {
	if ttl <= 0 {
		ttl = DedupeTTL
	}
	return &DedupeStore{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (s *DedupeStore) buildKey(key string) string {
	return dedupePrefix + key
}

// Claim takes key using SET NX. It returns false when someone already holds
// it; that is an expected outcome, not an error.
func (s *DedupeStore) Claim(ctx context.Context, key string) (bool, error) {
	set, err := s.client.rdb.SetNX(ctx, s.buildKey(key), claimMarker, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	if !set {
		s.logger.Debug("dedupe claim already held", zap.String("key", key))
	}
	return set, nil
}

// Release gives a claim back when nothing was sent under it.
func (s *DedupeStore) Release(ctx context.Context, key string) error {
	if err := s.client.rdb.Del(ctx, s.buildKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
