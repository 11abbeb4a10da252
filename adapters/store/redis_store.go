package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
	"github.com/redis/go-redis/v9"
)

// RedisChallengeStore is a Redis implementation of the ChallengeStore interface.
// Records live under "passport:challenge:<kind>:<subject>" with a TTL.
type RedisChallengeStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisChallengeStore creates a new Redis challenge store
func NewRedisChallengeStore(client *redis.Client, ttl time.Duration) ports.ChallengeStore {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &RedisChallengeStore{
		client: client,
		prefix: "passport:challenge:",
		ttl:    ttl,
	}
}

func (s *RedisChallengeStore) key(kind core.ChallengeKind, subject string) string {
	return s.prefix + string(kind) + ":" + subject
}

// Save stores the record, replacing any pending one for the same key
func (s *RedisChallengeStore) Save(ctx context.Context, record *core.ChallengeRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}

	if err := s.client.Set(ctx, s.key(record.Kind, record.Subject), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save challenge: %w", err)
	}

	return nil
}

// Take loads and deletes the record with GETDEL
func (s *RedisChallengeStore) Take(ctx context.Context, kind core.ChallengeKind, subject string) (*core.ChallengeRecord, error) {
	payload, err := s.client.GetDel(ctx, s.key(kind, subject)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrChallengeExpired
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take challenge: %w", err)
	}

	var record core.ChallengeRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal challenge: %w", err)
	}

	return &record, nil
}

// Delete drops the record if present
func (s *RedisChallengeStore) Delete(ctx context.Context, kind core.ChallengeKind, subject string) error {
	if err := s.client.Del(ctx, s.key(kind, subject)).Err(); err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}

	return nil
}
