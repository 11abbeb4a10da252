package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

// DefaultChallengeTTL bounds how long an abandoned ceremony is kept
const DefaultChallengeTTL = 5 * time.Minute

type challengeKey struct {
	kind    core.ChallengeKind
	subject string
}

type challengeEntry struct {
	record    core.ChallengeRecord
	expiresAt time.Time
}

// MemoryChallengeStore is an in-memory implementation of the ChallengeStore interface
type MemoryChallengeStore struct {
	entries map[challengeKey]challengeEntry
	ttl     time.Duration
	mu      sync.Mutex
}

// NewMemoryChallengeStore creates a new in-memory challenge store.
// A non-positive ttl selects DefaultChallengeTTL.
func NewMemoryChallengeStore(ttl time.Duration) ports.ChallengeStore {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &MemoryChallengeStore{
		entries: make(map[challengeKey]challengeEntry),
		ttl:     ttl,
	}
}

// Save stores the record, replacing any pending one for the same key
func (s *MemoryChallengeStore) Save(ctx context.Context, record *core.ChallengeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := challengeKey{kind: record.Kind, subject: record.Subject}
	expiresAt := time.Now().Add(s.ttl)
	stored := *record
	stored.Data = append([]byte(nil), record.Data...)
	s.entries[key] = challengeEntry{record: stored, expiresAt: expiresAt}

	// Start a cleanup timer
	time.AfterFunc(s.ttl, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		// Only delete if the entry hasn't been replaced
		if entry, exists := s.entries[key]; exists && !entry.expiresAt.After(expiresAt) {
			delete(s.entries, key)
		}
	})

	return nil
}

// Take loads and deletes the record in one step
func (s *MemoryChallengeStore) Take(ctx context.Context, kind core.ChallengeKind, subject string) (*core.ChallengeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := challengeKey{kind: kind, subject: subject}
	entry, exists := s.entries[key]
	if !exists {
		return nil, core.ErrChallengeExpired
	}
	delete(s.entries, key)

	if time.Now().After(entry.expiresAt) {
		return nil, core.ErrChallengeExpired
	}

	record := entry.record
	return &record, nil
}

// Delete drops the record if present
func (s *MemoryChallengeStore) Delete(ctx context.Context, kind core.ChallengeKind, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, challengeKey{kind: kind, subject: subject})
	return nil
}
