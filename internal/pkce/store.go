package pkce

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mwistrand/aussie-sub004/internal/cache"
	"github.com/mwistrand/aussie-sub004/internal/db"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// Storage provider names accepted in configuration.
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StorageDatabase = "database"
)

// Store persists challenges keyed by OAuth state. Consume must be
// atomic: two concurrent calls for one state may both succeed at most
// once.
type Store interface {
	Store(ctx context.Context, state, challenge string, ttl time.Duration) error
	// Consume removes and returns the challenge. found is false when the
	// state is unknown, already consumed or expired.
	Consume(ctx context.Context, state string) (challenge string, found bool, err error)
}

// memoryStore holds challenges in process. Suitable for a single
// instance; multi-instance deployments need redis or database storage
// so the authorize and callback legs can land on different instances.
type memoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	challenge string
	expiresAt time.Time
}

func NewMemoryStore() Store {
	return &memoryStore{entries: make(map[string]memoryEntry)}
}

func (s *memoryStore) Store(_ context.Context, state, challenge string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[state] = memoryEntry{challenge: challenge, expiresAt: time.Now().Add(ttl)}

	// Opportunistic sweep keeps abandoned states from accumulating
	// without a dedicated goroutine.
	if len(s.entries) > 1000 {
		now := time.Now()
		for k, e := range s.entries {
			if now.After(e.expiresAt) {
				delete(s.entries, k)
			}
		}
	}
	return nil
}

func (s *memoryStore) Consume(_ context.Context, state string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[state]
	if !ok {
		return "", false, nil
	}
	delete(s.entries, state)
	if time.Now().After(entry.expiresAt) {
		return "", false, nil
	}
	return entry.challenge, true, nil
}

// redisStore keeps challenges in redis with native TTL; GETDEL gives
// the one-time-use guarantee across instances.
type redisStore struct {
	cache cache.CacheService
}

func NewRedisStore(c cache.CacheService) Store {
	return &redisStore{cache: c}
}

func (s *redisStore) Store(ctx context.Context, state, challenge string, ttl time.Duration) error {
	return s.cache.Set(ctx, cache.PKCEKey(state), challenge, ttl)
}

func (s *redisStore) Consume(ctx context.Context, state string) (string, bool, error) {
	val, err := s.cache.GetDel(ctx, cache.PKCEKey(state))
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(val), true, nil
}

// databaseStore persists challenges in postgres. Consume maps to a
// DELETE ... RETURNING, atomic per state.
type databaseStore struct {
	repo db.PKCEChallengeRepositoryInterface
}

func NewDatabaseStore(repo db.PKCEChallengeRepositoryInterface) Store {
	return &databaseStore{repo: repo}
}

func (s *databaseStore) Store(ctx context.Context, state, challenge string, ttl time.Duration) error {
	now := time.Now().UTC()
	return s.repo.Store(ctx, &types.PKCEChallenge{
		State:     state,
		Challenge: challenge,
		Method:    MethodS256,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
}

func (s *databaseStore) Consume(ctx context.Context, state string) (string, bool, error) {
	rec, err := s.repo.Consume(ctx, state)
	if err != nil {
		return "", false, err
	}
	if rec == nil || time.Now().After(rec.ExpiresAt) {
		return "", false, nil
	}
	return rec.Challenge, true, nil
}
