package rbac

import (
	"container/list"
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/mwistrand/aussie-sub004/internal/config"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/monitoring"
)

// Translation is the normalized output of claims translation: the
// role and group identifiers plus direct permissions a token carries,
// in gateway vocabulary.
type Translation struct {
	Roles       []string               `json:"roles,omitempty"`
	Groups      []string               `json:"groups,omitempty"`
	Permissions []string               `json:"permissions,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// Provider converts raw identity provider claims into a Translation.
// Providers self-describe so the registry can pick one at call time.
type Provider interface {
	Name() string
	Priority() int
	Available(ctx context.Context) bool
	Translate(ctx context.Context, issuer string, claims map[string]interface{}) (*Translation, error)
}

// Translator selects a provider and caches translations per token
// identity so repeated requests with the same token skip the provider.
type Translator struct {
	cfg       config.TranslationConfig
	providers []Provider
	cache     *translationCache
	logger    logging.Logger
}

func NewTranslator(cfg config.TranslationConfig, logger logging.Logger, providers ...Provider) *Translator {
	return &Translator{
		cfg:       cfg,
		providers: providers,
		cache:     newTranslationCache(cfg.CacheMaxSize, cfg.CacheTTL),
		logger:    logger.WithField("component", "rbac.translator"),
	}
}

// Enabled reports whether the pipeline should invoke translation at
// all. When disabled, raw claims flow through untranslated.
func (t *Translator) Enabled() bool {
	return t.cfg.Enabled
}

// Translate runs the selected provider over the claims, serving from
// the identity cache when the token was seen before.
func (t *Translator) Translate(ctx context.Context, issuer string, claims map[string]interface{}) (*Translation, error) {
	key := identityKey(issuer, claims)
	if cached, ok := t.cache.get(key); ok {
		monitoring.RecordTranslationLookup(true)
		return cached, nil
	}
	monitoring.RecordTranslationLookup(false)

	provider := t.selectProvider(ctx)
	if provider == nil {
		return nil, apperrors.ErrInternal.WithMessage("no claims translation provider available")
	}

	translation, err := provider.Translate(ctx, issuer, claims)
	if err != nil {
		return nil, err
	}
	t.cache.put(key, translation)
	return translation, nil
}

// selectProvider prefers the configured provider by name; otherwise the
// highest-priority provider that reports itself available.
func (t *Translator) selectProvider(ctx context.Context) Provider {
	if t.cfg.Provider != "" {
		for _, p := range t.providers {
			if p.Name() == t.cfg.Provider && p.Available(ctx) {
				return p
			}
		}
		t.logger.Warn(ctx, "Configured translation provider unavailable, falling back",
			logging.String("provider", t.cfg.Provider))
	}

	var best Provider
	for _, p := range t.providers {
		if !p.Available(ctx) {
			continue
		}
		if best == nil || p.Priority() > best.Priority() {
			best = p
		}
	}
	return best
}

// identityKey keys the translation cache by token identity: jti when
// the token carries one, else issuer, subject and issued-at.
func identityKey(issuer string, claims map[string]interface{}) string {
	if jti, ok := claims["jti"].(string); ok && jti != "" {
		return "jti:" + jti
	}
	sub, _ := claims["sub"].(string)
	return issuer + ":" + sub + ":" + strconv.FormatInt(claimInt64(claims["iat"]), 10)
}

func claimInt64(v interface{}) int64 {
	switch val := v.(type) {
	case float64:
		return int64(val)
	case int64:
		return val
	case int:
		return int64(val)
	case json.Number:
		n, _ := val.Int64()
		return n
	default:
		return 0
	}
}

// ClaimStrings reads a claim that providers may emit as either an
// array of strings or a bare string.
func ClaimStrings(v interface{}) []string {
	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []string:
		out := make([]string, 0, len(val))
		for _, s := range val {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

const (
	defaultTranslationCacheSize = 10000
	defaultTranslationCacheTTL  = 5 * time.Minute
)

// translationCache is a size/TTL bounded LRU over translations.
type translationCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	index   map[string]*list.Element
	order   *list.List

	now func() time.Time
}

type translationEntry struct {
	key       string
	value     *Translation
	expiresAt time.Time
}

func newTranslationCache(maxSize int, ttl time.Duration) *translationCache {
	if maxSize <= 0 {
		maxSize = defaultTranslationCacheSize
	}
	if ttl <= 0 {
		ttl = defaultTranslationCacheTTL
	}
	return &translationCache{
		maxSize: maxSize,
		ttl:     ttl,
		index:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

func (c *translationCache) get(key string) (*Translation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*translationEntry)
	if c.now().After(entry.expiresAt) {
		c.order.Remove(elem)
		delete(c.index, key)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return entry.value, true
}

func (c *translationCache) put(key string, value *Translation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if elem, ok := c.index[key]; ok {
		entry := elem.Value.(*translationEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}
	c.index[key] = c.order.PushFront(&translationEntry{key: key, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*translationEntry).key)
	}
}

func (c *translationCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
