package rbac

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultSnapshotTTL bounds how stale the local mapping snapshot may
// get before the next expansion refetches it.
const DefaultSnapshotTTL = 30 * time.Second

// mappingSnapshot caches the full id -> permissions mapping used for
// expansion. One mutex guards both the map reference and its expiry;
// writers invalidate, the next read refetches.
type mappingSnapshot struct {
	fetch func(ctx context.Context) (map[string][]string, error)
	ttl   time.Duration

	mu        sync.Mutex
	mappings  map[string][]string
	fetchedAt time.Time
}

func newMappingSnapshot(ttl time.Duration, fetch func(ctx context.Context) (map[string][]string, error)) *mappingSnapshot {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &mappingSnapshot{fetch: fetch, ttl: ttl}
}

// get returns the current mapping, refreshing when absent or expired.
// A failed refresh serves the previous snapshot when one exists.
func (s *mappingSnapshot) get(ctx context.Context) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mappings != nil && time.Since(s.fetchedAt) < s.ttl {
		return s.mappings, nil
	}

	fresh, err := s.fetch(ctx)
	if err != nil {
		if s.mappings != nil {
			return s.mappings, nil
		}
		return nil, err
	}
	s.mappings = fresh
	s.fetchedAt = time.Now()
	return fresh, nil
}

func (s *mappingSnapshot) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings = nil
}

// expand unions the permissions of the given ids. Unknown ids are
// ignored; the result is sorted and de-duplicated.
func (s *mappingSnapshot) expand(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	mappings, err := s.get(ctx)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	for _, id := range ids {
		for _, perm := range mappings[id] {
			set[perm] = struct{}{}
		}
	}
	return sortedSet(set), nil
}

func sortedSet(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
