package revocation

import (
	"container/list"
	"sync"
	"time"

	"github.com/mwistrand/aussie-sub004/internal/config"
)

const (
	defaultCacheSize = 10000
	defaultCacheTTL  = 5 * time.Minute
)

type jtiEntry struct {
	jti         string
	expiresAt   time.Time
	cachedUntil time.Time
}

type userEntry struct {
	userID       string
	issuedBefore time.Time
	expiresAt    time.Time
	cachedUntil  time.Time
}

// LocalCache keeps recently confirmed revocations in memory so repeated
// presentations of a revoked token skip the repository. Only positive
// results are cached; entries fall out on LRU pressure, on their cache
// TTL, or when the underlying revocation itself expires.
type LocalCache struct {
	mu  sync.Mutex
	now func() time.Time

	maxSize int
	ttl     time.Duration

	jtiIndex  map[string]*list.Element
	jtiList   *list.List
	userIndex map[string]*list.Element
	userList  *list.List
}

func NewLocalCache(cfg config.RevocationCacheConfig) *LocalCache {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = defaultCacheSize
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &LocalCache{
		now:       time.Now,
		maxSize:   maxSize,
		ttl:       ttl,
		jtiIndex:  make(map[string]*list.Element),
		jtiList:   list.New(),
		userIndex: make(map[string]*list.Element),
		userList:  list.New(),
	}
}

// RememberJTI records that jti is revoked until expiresAt.
func (c *LocalCache) RememberJTI(jti string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &jtiEntry{
		jti:         jti,
		expiresAt:   expiresAt,
		cachedUntil: c.now().Add(c.ttl),
	}
	if elem, ok := c.jtiIndex[jti]; ok {
		elem.Value = entry
		c.jtiList.MoveToFront(elem)
		return
	}

	c.jtiIndex[jti] = c.jtiList.PushFront(entry)
	if c.jtiList.Len() > c.maxSize {
		c.removeJTIElement(c.jtiList.Back())
	}
}

// LookupJTI reports whether jti has a cached revocation. Expired
// entries are purged on the way out.
func (c *LocalCache) LookupJTI(jti string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.jtiIndex[jti]
	if !ok {
		return false
	}
	entry := elem.Value.(*jtiEntry)
	now := c.now()
	if now.After(entry.cachedUntil) || now.After(entry.expiresAt) {
		c.removeJTIElement(elem)
		return false
	}

	c.jtiList.MoveToFront(elem)
	return true
}

// RememberUser records a user-wide revocation covering tokens issued
// before issuedBefore.
func (c *LocalCache) RememberUser(userID string, issuedBefore, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &userEntry{
		userID:       userID,
		issuedBefore: issuedBefore,
		expiresAt:    expiresAt,
		cachedUntil:  c.now().Add(c.ttl),
	}
	if elem, ok := c.userIndex[userID]; ok {
		elem.Value = entry
		c.userList.MoveToFront(elem)
		return
	}

	c.userIndex[userID] = c.userList.PushFront(entry)
	if c.userList.Len() > c.maxSize {
		c.removeUserElement(c.userList.Back())
	}
}

// LookupUser reports whether a cached user revocation covers a token
// issued at issuedAt.
func (c *LocalCache) LookupUser(userID string, issuedAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.userIndex[userID]
	if !ok {
		return false
	}
	entry := elem.Value.(*userEntry)
	now := c.now()
	if now.After(entry.cachedUntil) || now.After(entry.expiresAt) {
		c.removeUserElement(elem)
		return false
	}

	c.userList.MoveToFront(elem)
	return issuedAt.Before(entry.issuedBefore)
}

// Purge drops every expired entry. Called periodically so entries for
// tokens nobody presents again do not linger until evicted.
func (c *LocalCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for elem := c.jtiList.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*jtiEntry)
		if now.After(entry.cachedUntil) || now.After(entry.expiresAt) {
			c.removeJTIElement(elem)
		}
		elem = prev
	}
	for elem := c.userList.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*userEntry)
		if now.After(entry.cachedUntil) || now.After(entry.expiresAt) {
			c.removeUserElement(elem)
		}
		elem = prev
	}
}

// Len returns the number of cached JTI and user entries.
func (c *LocalCache) Len() (jtis, users int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jtiList.Len(), c.userList.Len()
}

func (c *LocalCache) removeJTIElement(elem *list.Element) {
	if elem == nil {
		return
	}
	entry := c.jtiList.Remove(elem).(*jtiEntry)
	delete(c.jtiIndex, entry.jti)
}

func (c *LocalCache) removeUserElement(elem *list.Element) {
	if elem == nil {
		return
	}
	entry := c.userList.Remove(elem).(*userEntry)
	delete(c.userIndex, entry.userID)
}
