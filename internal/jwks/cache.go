package jwks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"

	"github.com/mwistrand/aussie-sub004/internal/config"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/monitoring"
)

// entry is one cached JWKS document.
type entry struct {
	keySet    *jose.JSONWebKeySet
	fetchedAt time.Time
	expiresAt time.Time
	lastUsed  time.Time
}

// EntryStatus describes one cached document for ops endpoints.
type EntryStatus struct {
	URI       string    `json:"uri"`
	Keys      int       `json:"keys"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Stale     bool      `json:"stale"`
}

// Cache fetches and caches JWKS documents by URI. Concurrent misses for
// the same URI are coalesced into a single upstream fetch, and a stale
// document is served when a refresh fails, so a provider outage does not
// immediately break validation of its tokens.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry

	group   singleflight.Group
	client  *http.Client
	logger  logging.Logger
	maxSize int
	ttl     time.Duration
	timeout time.Duration
}

func NewCache(cfg config.JWKSConfig, logger logging.Logger) *Cache {
	maxSize := cfg.MaxCacheEntries
	if maxSize <= 0 {
		maxSize = 64
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Cache{
		entries: make(map[string]*entry),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		maxSize: maxSize,
		ttl:     ttl,
		timeout: timeout,
	}
}

// KeySet returns the JWKS document for uri, fetching it when absent or
// expired.
func (c *Cache) KeySet(ctx context.Context, uri string) (*jose.JSONWebKeySet, error) {
	now := time.Now()

	c.mu.Lock()
	if e, ok := c.entries[uri]; ok && now.Before(e.expiresAt) {
		e.lastUsed = now
		set := e.keySet
		c.mu.Unlock()
		return set, nil
	}
	c.mu.Unlock()

	return c.fetchCoalesced(ctx, uri)
}

// Key returns the key identified by kid from the document at uri. An
// empty kid resolves only when the document holds exactly one key.
func (c *Cache) Key(ctx context.Context, uri, kid string) (*jose.JSONWebKey, error) {
	set, err := c.KeySet(ctx, uri)
	if err != nil {
		return nil, err
	}

	if kid == "" {
		if len(set.Keys) == 1 {
			return &set.Keys[0], nil
		}
		return nil, apperrors.ErrKeyNotFound.WithMessage(
			fmt.Sprintf("token has no kid and JWKS at %s holds %d keys", uri, len(set.Keys)))
	}

	if matches := set.Key(kid); len(matches) > 0 {
		return &matches[0], nil
	}
	return nil, apperrors.ErrKeyNotFound.WithDetails(map[string]string{"kid": kid, "uri": uri})
}

// Refresh forces a fetch for uri regardless of the cached entry's age.
func (c *Cache) Refresh(ctx context.Context, uri string) (*jose.JSONWebKeySet, error) {
	return c.fetchCoalesced(ctx, uri)
}

// Invalidate drops the cached document for uri.
func (c *Cache) Invalidate(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, uri)
	monitoring.SetJWKSCacheEntries(len(c.entries))
}

// InvalidateAll drops every cached document.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	monitoring.SetJWKSCacheEntries(0)
}

// Status reports every cached document, for the admin cache endpoint.
func (c *Cache) Status() []EntryStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	statuses := make([]EntryStatus, 0, len(c.entries))
	for uri, e := range c.entries {
		statuses = append(statuses, EntryStatus{
			URI:       uri,
			Keys:      len(e.keySet.Keys),
			FetchedAt: e.fetchedAt,
			ExpiresAt: e.expiresAt,
			Stale:     now.After(e.expiresAt),
		})
	}
	return statuses
}

// fetchCoalesced funnels concurrent fetches for the same URI into one
// upstream request. The fetch runs on its own timeout context so one
// caller cancelling does not fail the flight for the others; the select
// below lets each caller honor its own context.
func (c *Cache) fetchCoalesced(ctx context.Context, uri string) (*jose.JSONWebKeySet, error) {
	ch := c.group.DoChan(uri, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		return c.fetch(fetchCtx, uri)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*jose.JSONWebKeySet), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) fetch(ctx context.Context, uri string) (*jose.JSONWebKeySet, error) {
	start := time.Now()
	set, err := c.fetchDocument(ctx, uri)
	if err != nil {
		errorType := "fetch"
		if ctx.Err() == context.DeadlineExceeded {
			errorType = "timeout"
		}
		monitoring.RecordJWKSFetchFailure(uri, errorType)
		return c.staleFallback(ctx, uri, err)
	}
	monitoring.RecordJWKSFetch(uri, time.Since(start).Seconds())

	now := time.Now()
	c.mu.Lock()
	c.entries[uri] = &entry{
		keySet:    set,
		fetchedAt: now,
		expiresAt: now.Add(c.ttl),
		lastUsed:  now,
	}
	c.evictLocked()
	monitoring.SetJWKSCacheEntries(len(c.entries))
	c.mu.Unlock()

	c.logger.Debug(ctx, "JWKS document refreshed",
		logging.String("uri", uri),
		logging.Int("keys", len(set.Keys)))
	return set, nil
}

func (c *Cache) fetchDocument(ctx context.Context, uri string) (*jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("building JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading JWKS response: %w", err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parsing JWKS document: %w", err)
	}
	if len(set.Keys) == 0 {
		return nil, fmt.Errorf("JWKS document holds no keys")
	}
	return &set, nil
}

// staleFallback serves the expired entry for uri when the refresh
// failed. Validation against a stale document beats rejecting every
// token from an issuer whose endpoint is briefly down.
func (c *Cache) staleFallback(ctx context.Context, uri string, fetchErr error) (*jose.JSONWebKeySet, error) {
	c.mu.Lock()
	e, ok := c.entries[uri]
	if ok {
		e.lastUsed = time.Now()
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Error(ctx, "JWKS fetch failed with no cached document",
			logging.String("uri", uri),
			logging.Error("error", fetchErr))
		return nil, apperrors.ErrJWKSFetch.WithError(fetchErr).WithDetails(map[string]string{"uri": uri})
	}

	monitoring.RecordJWKSStaleFallback(uri)
	c.logger.Warn(ctx, "JWKS fetch failed, serving stale document",
		logging.String("uri", uri),
		logging.Duration("age", time.Since(e.fetchedAt)),
		logging.Int("keys", len(e.keySet.Keys)),
		logging.Error("error", fetchErr))
	return e.keySet, nil
}

// evictLocked drops least recently used entries until the cache fits.
// Caller holds c.mu.
func (c *Cache) evictLocked() {
	for len(c.entries) > c.maxSize {
		var oldestURI string
		var oldest time.Time
		for uri, e := range c.entries {
			if oldestURI == "" || e.lastUsed.Before(oldest) {
				oldestURI = uri
				oldest = e.lastUsed
			}
		}
		delete(c.entries, oldestURI)
		c.logger.Debug(context.Background(), "Evicted JWKS cache entry",
			logging.String("uri", oldestURI))
	}
}
