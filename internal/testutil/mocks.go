package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mwistrand/aussie-sub004/internal/cache"
	"github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// MockSigningKeyRepository is an in-memory SigningKeyRepositoryInterface.
type MockSigningKeyRepository struct {
	mu   sync.RWMutex
	keys map[string]*types.SigningKey

	CreateFn       func(context.Context, *types.SigningKey) error
	UpdateStatusFn func(context.Context, string, types.KeyStatus, time.Time) error
}

func NewMockSigningKeyRepository() *MockSigningKeyRepository {
	return &MockSigningKeyRepository{keys: make(map[string]*types.SigningKey)}
}

func (m *MockSigningKeyRepository) Create(ctx context.Context, key *types.SigningKey) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key.KID]; ok {
		return errors.ErrAlreadyExists
	}
	cp := *key
	m.keys[key.KID] = &cp
	return nil
}

func (m *MockSigningKeyRepository) GetActive(ctx context.Context) (*types.SigningKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range m.keys {
		if k.Status == types.KeyStatusActive {
			cp := *k
			return &cp, nil
		}
	}
	return nil, errors.ErrKeyNotFound
}

func (m *MockSigningKeyRepository) GetByKID(ctx context.Context, kid string) (*types.SigningKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k, ok := m.keys[kid]; ok {
		cp := *k
		return &cp, nil
	}
	return nil, errors.ErrKeyNotFound
}

func (m *MockSigningKeyRepository) ListByStatus(ctx context.Context, status types.KeyStatus) ([]*types.SigningKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*types.SigningKey
	for _, k := range m.keys {
		if k.Status == status {
			cp := *k
			result = append(result, &cp)
		}
	}
	sortKeysNewestFirst(result)
	return result, nil
}

func (m *MockSigningKeyRepository) ListAll(ctx context.Context) ([]*types.SigningKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*types.SigningKey, 0, len(m.keys))
	for _, k := range m.keys {
		cp := *k
		result = append(result, &cp)
	}
	sortKeysNewestFirst(result)
	return result, nil
}

func (m *MockSigningKeyRepository) ListForVerification(ctx context.Context) ([]*types.SigningKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*types.SigningKey
	for _, k := range m.keys {
		if k.Status.CanVerify() {
			cp := *k
			result = append(result, &cp)
		}
	}
	sortKeysNewestFirst(result)
	return result, nil
}

func (m *MockSigningKeyRepository) UpdateStatus(ctx context.Context, kid string, status types.KeyStatus, at time.Time) error {
	if m.UpdateStatusFn != nil {
		return m.UpdateStatusFn(ctx, kid, status, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[kid]
	if !ok {
		return errors.ErrKeyNotFound
	}
	k.Status = status
	switch status {
	case types.KeyStatusActive:
		k.ActivatedAt = &at
	case types.KeyStatusDeprecated:
		k.DeprecatedAt = &at
	case types.KeyStatusRetired:
		k.RetiredAt = &at
	}
	return nil
}

func (m *MockSigningKeyRepository) Delete(ctx context.Context, kid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[kid]; !ok {
		return errors.ErrKeyNotFound
	}
	delete(m.keys, kid)
	return nil
}

func sortKeysNewestFirst(keys []*types.SigningKey) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
}

// MockTokenRevocationRepository is an in-memory
// TokenRevocationRepositoryInterface.
type MockTokenRevocationRepository struct {
	mu     sync.RWMutex
	tokens map[string]*types.RevokedToken
	users  map[string]*types.UserRevocation

	GetRevokedTokenFn func(context.Context, string) (*types.RevokedToken, error)
	RevokeFn          func(context.Context, string, time.Time) error
}

func NewMockTokenRevocationRepository() *MockTokenRevocationRepository {
	return &MockTokenRevocationRepository{
		tokens: make(map[string]*types.RevokedToken),
		users:  make(map[string]*types.UserRevocation),
	}
}

func (m *MockTokenRevocationRepository) GetRevokedToken(ctx context.Context, jti string) (*types.RevokedToken, error) {
	if m.GetRevokedTokenFn != nil {
		return m.GetRevokedTokenFn(ctx, jti)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tokens[jti]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (m *MockTokenRevocationRepository) GetUserRevocation(ctx context.Context, userID string) (*types.UserRevocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.users[userID]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *MockTokenRevocationRepository) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if m.RevokeFn != nil {
		return m.RevokeFn(ctx, jti, expiresAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[jti] = &types.RevokedToken{JTI: jti, ExpiresAt: expiresAt, RevokedAt: time.Now()}
	return nil
}

func (m *MockTokenRevocationRepository) RevokeUser(ctx context.Context, userID string, issuedBefore, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = &types.UserRevocation{
		UserID:       userID,
		IssuedBefore: issuedBefore,
		ExpiresAt:    expiresAt,
		RevokedAt:    time.Now(),
	}
	return nil
}

func (m *MockTokenRevocationRepository) StreamRevokedTokens(ctx context.Context, fn func(types.RevokedToken) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tokens {
		if err := fn(*t); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockTokenRevocationRepository) StreamUserRevocations(ctx context.Context, fn func(types.UserRevocation) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.users {
		if err := fn(*r); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockTokenRevocationRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for jti, t := range m.tokens {
		if t.ExpiresAt.Before(before) {
			delete(m.tokens, jti)
			n++
		}
	}
	for id, r := range m.users {
		if r.ExpiresAt.Before(before) {
			delete(m.users, id)
			n++
		}
	}
	return n, nil
}

// MockAPIKeyRepository is an in-memory APIKeyRepositoryInterface.
type MockAPIKeyRepository struct {
	mu       sync.RWMutex
	byKeyID  map[string]*types.APIKey
	CreateFn func(context.Context, *types.APIKey) error
}

func NewMockAPIKeyRepository() *MockAPIKeyRepository {
	return &MockAPIKeyRepository{byKeyID: make(map[string]*types.APIKey)}
}

func (m *MockAPIKeyRepository) Create(ctx context.Context, key *types.APIKey) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKeyID[key.KeyID]; ok {
		return errors.ErrAlreadyExists
	}
	cp := *key
	m.byKeyID[key.KeyID] = &cp
	return nil
}

func (m *MockAPIKeyRepository) GetByHash(ctx context.Context, keyHash string) (*types.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range m.byKeyID {
		if k.KeyHash == keyHash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, errors.ErrAPIKeyNotFound
}

func (m *MockAPIKeyRepository) GetByKeyID(ctx context.Context, keyID string) (*types.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k, ok := m.byKeyID[keyID]; ok {
		cp := *k
		return &cp, nil
	}
	return nil, errors.ErrAPIKeyNotFound
}

func (m *MockAPIKeyRepository) List(ctx context.Context) ([]*types.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*types.APIKey, 0, len(m.byKeyID))
	for _, k := range m.byKeyID {
		cp := *k
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].KeyID < result[j].KeyID })
	return result, nil
}

func (m *MockAPIKeyRepository) MarkRevoked(ctx context.Context, keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.byKeyID[keyID]
	if !ok {
		return errors.ErrAPIKeyNotFound
	}
	k.Revoked = true
	return nil
}

func (m *MockAPIKeyRepository) UpdateLastUsed(ctx context.Context, keyID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.byKeyID[keyID]
	if !ok {
		return errors.ErrAPIKeyNotFound
	}
	k.LastUsedAt = &at
	return nil
}

func (m *MockAPIKeyRepository) HasAdminKey(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, k := range m.byKeyID {
		if !k.Revoked && k.IsAdmin() {
			return true, nil
		}
	}
	return false, nil
}

// MockFailedAttemptRepository is an in-memory
// FailedAttemptRepositoryInterface.
type MockFailedAttemptRepository struct {
	mu       sync.RWMutex
	attempts map[string]*types.FailedAttempt
	lockouts map[string]*types.Lockout

	IncrementAttemptsFn func(context.Context, string, time.Time, time.Time) (int, error)
	GetLockoutFn        func(context.Context, string) (*types.Lockout, error)
}

func NewMockFailedAttemptRepository() *MockFailedAttemptRepository {
	return &MockFailedAttemptRepository{
		attempts: make(map[string]*types.FailedAttempt),
		lockouts: make(map[string]*types.Lockout),
	}
}

func (m *MockFailedAttemptRepository) IncrementAttempts(ctx context.Context, key string, now, windowStart time.Time) (int, error) {
	if m.IncrementAttemptsFn != nil {
		return m.IncrementAttemptsFn(ctx, key, now, windowStart)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[key]
	if !ok || a.WindowStart.Before(windowStart) {
		a = &types.FailedAttempt{Key: key, WindowStart: now}
		m.attempts[key] = a
	}
	a.Attempts++
	a.LastAttempt = now
	return a.Attempts, nil
}

func (m *MockFailedAttemptRepository) GetAttempts(ctx context.Context, key string) (*types.FailedAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.attempts[key]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m *MockFailedAttemptRepository) ClearAttempts(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, key)
	return nil
}

func (m *MockFailedAttemptRepository) GetLockout(ctx context.Context, key string) (*types.Lockout, error) {
	if m.GetLockoutFn != nil {
		return m.GetLockoutFn(ctx, key)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.lockouts[key]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, nil
}

func (m *MockFailedAttemptRepository) UpsertLockout(ctx context.Context, lockout *types.Lockout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *lockout
	m.lockouts[lockout.Key] = &cp
	return nil
}

func (m *MockFailedAttemptRepository) ClearLockout(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lockouts[key]; !ok {
		return errors.ErrLockoutNotFound
	}
	delete(m.lockouts, key)
	return nil
}

func (m *MockFailedAttemptRepository) ListLockouts(ctx context.Context, now time.Time) ([]*types.Lockout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*types.Lockout
	for _, l := range m.lockouts {
		if l.Active(now) {
			cp := *l
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

// MockPKCEChallengeRepository is an in-memory
// PKCEChallengeRepositoryInterface.
type MockPKCEChallengeRepository struct {
	mu         sync.Mutex
	challenges map[string]*types.PKCEChallenge
}

func NewMockPKCEChallengeRepository() *MockPKCEChallengeRepository {
	return &MockPKCEChallengeRepository{challenges: make(map[string]*types.PKCEChallenge)}
}

func (m *MockPKCEChallengeRepository) Store(ctx context.Context, challenge *types.PKCEChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *challenge
	m.challenges[challenge.State] = &cp
	return nil
}

func (m *MockPKCEChallengeRepository) Consume(ctx context.Context, state string) (*types.PKCEChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[state]
	if !ok || !c.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	delete(m.challenges, state)
	return c, nil
}

func (m *MockPKCEChallengeRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for state, c := range m.challenges {
		if c.ExpiresAt.Before(before) {
			delete(m.challenges, state)
			n++
		}
	}
	return n, nil
}

// MockRoleRepository is an in-memory RoleRepositoryInterface.
type MockRoleRepository struct {
	mu    sync.RWMutex
	roles map[string]*types.Role

	GetAllMappingsFn func(context.Context) (map[string][]string, error)
}

func NewMockRoleRepository() *MockRoleRepository {
	return &MockRoleRepository{roles: make(map[string]*types.Role)}
}

func (m *MockRoleRepository) Create(ctx context.Context, role *types.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[role.ID]; ok {
		return errors.ErrAlreadyExists
	}
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *MockRoleRepository) GetByID(ctx context.Context, id string) (*types.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.roles[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, errors.ErrRoleNotFound
}

func (m *MockRoleRepository) List(ctx context.Context) ([]*types.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*types.Role, 0, len(m.roles))
	for _, r := range m.roles {
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockRoleRepository) Update(ctx context.Context, role *types.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[role.ID]; !ok {
		return errors.ErrRoleNotFound
	}
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *MockRoleRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return errors.ErrRoleNotFound
	}
	delete(m.roles, id)
	return nil
}

func (m *MockRoleRepository) GetAllMappings(ctx context.Context) (map[string][]string, error) {
	if m.GetAllMappingsFn != nil {
		return m.GetAllMappingsFn(ctx)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	mappings := make(map[string][]string, len(m.roles))
	for id, r := range m.roles {
		mappings[id] = append([]string(nil), r.Permissions...)
	}
	return mappings, nil
}

// MockGroupRepository is an in-memory GroupRepositoryInterface.
type MockGroupRepository struct {
	mu     sync.RWMutex
	groups map[string]*types.Group
}

func NewMockGroupRepository() *MockGroupRepository {
	return &MockGroupRepository{groups: make(map[string]*types.Group)}
}

func (m *MockGroupRepository) Create(ctx context.Context, group *types.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[group.ID]; ok {
		return errors.ErrAlreadyExists
	}
	cp := *group
	m.groups[group.ID] = &cp
	return nil
}

func (m *MockGroupRepository) GetByID(ctx context.Context, id string) (*types.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.groups[id]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, errors.ErrGroupNotFound
}

func (m *MockGroupRepository) List(ctx context.Context) ([]*types.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*types.Group, 0, len(m.groups))
	for _, g := range m.groups {
		cp := *g
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockGroupRepository) Update(ctx context.Context, group *types.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[group.ID]; !ok {
		return errors.ErrGroupNotFound
	}
	cp := *group
	m.groups[group.ID] = &cp
	return nil
}

func (m *MockGroupRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return errors.ErrGroupNotFound
	}
	delete(m.groups, id)
	return nil
}

func (m *MockGroupRepository) GetAllMappings(ctx context.Context) (map[string][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mappings := make(map[string][]string, len(m.groups))
	for id, g := range m.groups {
		mappings[id] = append([]string(nil), g.Permissions...)
	}
	return mappings, nil
}

// MockTranslationConfigRepository is an in-memory
// TranslationConfigRepositoryInterface.
type MockTranslationConfigRepository struct {
	mu      sync.RWMutex
	configs map[string]*types.TranslationConfig
}

func NewMockTranslationConfigRepository() *MockTranslationConfigRepository {
	return &MockTranslationConfigRepository{configs: make(map[string]*types.TranslationConfig)}
}

func (m *MockTranslationConfigRepository) GetByIssuer(ctx context.Context, issuer string) (*types.TranslationConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.configs[issuer]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *MockTranslationConfigRepository) List(ctx context.Context) ([]*types.TranslationConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*types.TranslationConfig, 0, len(m.configs))
	for _, c := range m.configs {
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Issuer < result[j].Issuer })
	return result, nil
}

func (m *MockTranslationConfigRepository) Upsert(ctx context.Context, cfg *types.TranslationConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.configs[cfg.Issuer] = &cp
	return nil
}

func (m *MockTranslationConfigRepository) Delete(ctx context.Context, issuer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[issuer]; !ok {
		return errors.ErrNotFound
	}
	delete(m.configs, issuer)
	return nil
}

// MockRotationAuditRepository is an in-memory
// RotationAuditRepositoryInterface.
type MockRotationAuditRepository struct {
	mu      sync.RWMutex
	Entries []*types.RotationAudit
}

func NewMockRotationAuditRepository() *MockRotationAuditRepository {
	return &MockRotationAuditRepository{}
}

func (m *MockRotationAuditRepository) Create(ctx context.Context, entry *types.RotationAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.Entries = append(m.Entries, &cp)
	return nil
}

func (m *MockRotationAuditRepository) ListRecent(ctx context.Context, limit int) ([]*types.RotationAudit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*types.RotationAudit, 0, len(m.Entries))
	for i := len(m.Entries) - 1; i >= 0 && len(result) < limit; i-- {
		cp := *m.Entries[i]
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MockRotationAuditRepository) ListByKID(ctx context.Context, kid string, limit int) ([]*types.RotationAudit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*types.RotationAudit
	for i := len(m.Entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.Entries[i].KID == kid {
			cp := *m.Entries[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

// MockCache is an in-memory cache.CacheService with TTL handling and a
// broadcast pub/sub good enough for single-process tests.
type MockCache struct {
	mu      sync.Mutex
	entries map[string]mockCacheEntry
	subs    map[string][]chan *redis.Message

	Published []PublishedMessage
	GetDelFn  func(context.Context, string) ([]byte, error)
	PublishFn func(context.Context, string, interface{}) error
}

type mockCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// PublishedMessage records one Publish call for assertions.
type PublishedMessage struct {
	Channel string
	Payload []byte
}

func NewMockCache() *MockCache {
	return &MockCache{
		entries: make(map[string]mockCacheEntry),
		subs:    make(map[string][]chan *redis.Message),
	}
}

func (m *MockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || (!e.expiresAt.IsZero() && !e.expiresAt.After(time.Now())) {
		delete(m.entries, key)
		return nil, cache.ErrCacheMiss
	}
	return e.value, nil
}

func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := cache.EncodeValue(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := mockCacheEntry{value: data}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MockCache) GetDel(ctx context.Context, key string) ([]byte, error) {
	if m.GetDelFn != nil {
		return m.GetDelFn(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	delete(m.entries, key)
	if !ok || (!e.expiresAt.IsZero() && !e.expiresAt.After(time.Now())) {
		return nil, cache.ErrCacheMiss
	}
	return e.value, nil
}

func (m *MockCache) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

func (m *MockCache) Publish(ctx context.Context, channel string, message interface{}) error {
	if m.PublishFn != nil {
		return m.PublishFn(ctx, channel, message)
	}
	data, err := cache.EncodeValue(message)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.Published = append(m.Published, PublishedMessage{Channel: channel, Payload: data})
	subs := append([]chan *redis.Message(nil), m.subs[channel]...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- &redis.Message{Channel: channel, Payload: string(data)}:
		default:
		}
	}
	return nil
}

func (m *MockCache) Subscribe(ctx context.Context, channels ...string) <-chan *redis.Message {
	ch := make(chan *redis.Message, 16)
	m.mu.Lock()
	for _, channel := range channels {
		m.subs[channel] = append(m.subs[channel], ch)
	}
	m.mu.Unlock()
	return ch
}

func (m *MockCache) Ping(ctx context.Context) error { return nil }

func (m *MockCache) Close() error { return nil }

var _ cache.CacheService = (*MockCache)(nil)
