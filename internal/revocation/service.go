package revocation

import (
	"context"
	"sync"
	"time"

	"github.com/mwistrand/aussie-sub004/internal/cache"
	"github.com/mwistrand/aussie-sub004/internal/config"
	"github.com/mwistrand/aussie-sub004/internal/db"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/monitoring"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// defaultRevocationWindow bounds a revocation whose caller could not
// supply the token expiry. It must outlast the longest token we issue.
const defaultRevocationWindow = 24 * time.Hour

// Status summarizes the revocation subsystem for admin endpoints.
type Status struct {
	Enabled          bool `json:"enabled"`
	BloomEnabled     bool `json:"bloom_enabled"`
	BloomInitialized bool `json:"bloom_initialized"`
	CachedJTIs       int  `json:"cached_jtis"`
	CachedUsers      int  `json:"cached_users"`
	PubSubEnabled    bool `json:"pubsub_enabled"`
}

// Service answers "is this token revoked" through four tiers ordered by
// cost: TTL shortcut, bloom filter, local cache, repository. Lookup
// failures are logged and treated as not revoked so a database outage
// degrades to stale revocation data rather than a full auth outage.
type Service struct {
	cfg    config.RevocationConfig
	repo   db.TokenRevocationRepositoryInterface
	pubsub cache.CacheService
	logger logging.Logger

	bloom *Bloom
	local *LocalCache

	listenerMu sync.Mutex
	listeners  map[int]chan Event
	nextID     int

	startMu sync.Mutex
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewService wires the revocation tiers. pubsub may be nil when redis
// is disabled; the service then runs purely on local state.
func NewService(
	cfg config.RevocationConfig,
	repo db.TokenRevocationRepositoryInterface,
	pubsub cache.CacheService,
	logger logging.Logger,
) *Service {
	s := &Service{
		cfg:       cfg,
		repo:      repo,
		pubsub:    pubsub,
		logger:    logger.WithField("component", "revocation"),
		listeners: make(map[int]chan Event),
		stop:      make(chan struct{}),
	}
	if cfg.Bloom.Enabled {
		s.bloom = NewBloom(cfg.Bloom)
	}
	if cfg.Cache.Enabled {
		s.local = NewLocalCache(cfg.Cache)
	}
	return s
}

// IsRevoked checks a validated token against the revocation tiers.
// issuedAt and expiresAt come from the token's iat and exp claims; a
// zero expiresAt disables the TTL shortcut.
func (s *Service) IsRevoked(ctx context.Context, jti, userID string, issuedAt, expiresAt time.Time) bool {
	if !s.cfg.Enabled {
		return false
	}

	hasJTI := jti != ""
	checkUser := s.cfg.CheckUserRevocation && userID != ""
	if !hasJTI && !checkUser {
		return false
	}

	now := time.Now()
	if s.cfg.CheckThreshold > 0 && !expiresAt.IsZero() && expiresAt.Sub(now) < s.cfg.CheckThreshold {
		monitoring.RecordRevocationCheck("ttl_shortcut", false)
		return false
	}

	if s.bloom != nil {
		jtiClear := !hasJTI || !s.bloom.MightContainJTI(jti)
		userClear := !checkUser || !s.bloom.MightContainUser(userID)
		if jtiClear && userClear {
			monitoring.RecordRevocationCheck("bloom", false)
			return false
		}
	}

	if s.local != nil {
		if hasJTI && s.local.LookupJTI(jti) {
			monitoring.RecordRevocationCheck("cache", true)
			return true
		}
		if checkUser && s.local.LookupUser(userID, issuedAt) {
			monitoring.RecordRevocationCheck("cache", true)
			return true
		}
	}

	if hasJTI {
		rec, err := s.repo.GetRevokedToken(ctx, jti)
		if err != nil {
			s.logger.Warn(ctx, "Revocation lookup failed, treating token as not revoked",
				logging.String("jti", jti),
				logging.Error("error", err))
		} else if rec != nil && now.Before(rec.ExpiresAt) {
			if s.local != nil {
				s.local.RememberJTI(rec.JTI, rec.ExpiresAt)
			}
			monitoring.RecordRevocationCheck("repository", true)
			return true
		}
	}

	if checkUser {
		rec, err := s.repo.GetUserRevocation(ctx, userID)
		if err != nil {
			s.logger.Warn(ctx, "User revocation lookup failed, treating token as not revoked",
				logging.String("user_id", userID),
				logging.Error("error", err))
		} else if rec != nil && now.Before(rec.ExpiresAt) {
			// Cache the rule itself; the issuedBefore comparison runs
			// per token at lookup time.
			if s.local != nil {
				s.local.RememberUser(rec.UserID, rec.IssuedBefore, rec.ExpiresAt)
			}
			if rec.Covers(issuedAt) {
				monitoring.RecordRevocationCheck("repository", true)
				return true
			}
		}
	}

	monitoring.RecordRevocationCheck("repository", false)
	return false
}

// RevokeToken revokes a single token by its jti. expiresAt should be
// the token's exp claim; when zero the revocation is held for a day.
func (s *Service) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return apperrors.ErrValidation.WithMessage("jti is required")
	}
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(defaultRevocationWindow)
	}

	if err := s.repo.Revoke(ctx, jti, expiresAt); err != nil {
		return err
	}

	if s.bloom != nil {
		s.bloom.AddJTI(jti)
	}
	if s.local != nil {
		s.local.RememberJTI(jti, expiresAt)
	}
	monitoring.RecordRevocation("jti")

	s.publish(ctx, NewJTIRevokedEvent(jti, expiresAt))
	s.logger.Info(ctx, "Token revoked", logging.String("jti", jti))
	return nil
}

// RevokeUser revokes every token the subject obtained before
// issuedBefore (defaults to now). expiresAt bounds enforcement and
// defaults to a day past the cutoff.
func (s *Service) RevokeUser(ctx context.Context, userID string, issuedBefore, expiresAt time.Time) error {
	if userID == "" {
		return apperrors.ErrValidation.WithMessage("user_id is required")
	}
	if issuedBefore.IsZero() {
		issuedBefore = time.Now()
	}
	if expiresAt.IsZero() {
		expiresAt = issuedBefore.Add(defaultRevocationWindow)
	}

	if err := s.repo.RevokeUser(ctx, userID, issuedBefore, expiresAt); err != nil {
		return err
	}

	if s.bloom != nil {
		s.bloom.AddUser(userID)
	}
	if s.local != nil {
		s.local.RememberUser(userID, issuedBefore, expiresAt)
	}
	monitoring.RecordRevocation("user")

	s.publish(ctx, NewUserRevokedEvent(userID, issuedBefore, expiresAt))
	s.logger.Info(ctx, "User tokens revoked",
		logging.String("user_id", userID),
		logging.Duration("window", expiresAt.Sub(issuedBefore)))
	return nil
}

// publish sends the event to peers. Failures are logged only: the
// repository write already succeeded and peers converge on the next
// bloom rebuild.
func (s *Service) publish(ctx context.Context, evt Event) {
	if !s.cfg.PubSubEnabled || s.pubsub == nil {
		// No channel loopback will deliver this event, so feed the
		// admin stream directly.
		s.notifyListeners(evt)
		return
	}
	if err := s.pubsub.Publish(ctx, cache.RevocationChannel, evt); err != nil {
		s.logger.Warn(ctx, "Failed to publish revocation event",
			logging.String("type", evt.Type),
			logging.Error("error", err))
		s.notifyListeners(evt)
	}
}

// Start launches the background loops: initial bloom build, periodic
// rebuild plus expired-row cleanup, and the pub/sub subscriber.
func (s *Service) Start(ctx context.Context) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started || !s.cfg.Enabled {
		return
	}
	s.started = true

	if s.bloom != nil {
		if err := s.rebuild(ctx); err != nil {
			// Stay conservative: every check falls through to the
			// slower tiers until a rebuild succeeds.
			s.logger.Warn(ctx, "Initial bloom rebuild failed",
				logging.Error("error", err))
		}
		if s.cfg.Bloom.RebuildInterval > 0 {
			s.wg.Add(1)
			go s.maintenanceLoop(ctx)
		}
	}

	if s.cfg.PubSubEnabled && s.pubsub != nil {
		s.wg.Add(1)
		go s.subscribeLoop(ctx)
	}

	s.logger.Info(ctx, "Revocation service started",
		logging.Bool("bloom", s.bloom != nil),
		logging.Bool("local_cache", s.local != nil),
		logging.Bool("pubsub", s.cfg.PubSubEnabled && s.pubsub != nil))
}

// Stop halts the background loops and waits for them to exit.
func (s *Service) Stop() {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if !s.started {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.started = false
	s.stop = make(chan struct{})
}

func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Bloom.RebuildInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := s.repo.DeleteExpired(ctx, time.Now()); err != nil {
				s.logger.Warn(ctx, "Expired revocation cleanup failed",
					logging.Error("error", err))
			} else if n > 0 {
				s.logger.Debug(ctx, "Deleted expired revocations",
					logging.Int64("count", n))
			}
			if s.local != nil {
				s.local.Purge()
			}
			if err := s.rebuild(ctx); err != nil {
				s.logger.Warn(ctx, "Scheduled bloom rebuild failed",
					logging.Error("error", err))
			}
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) rebuild(ctx context.Context) error {
	err := s.bloom.Rebuild(func(addJTI, addUser func(string)) error {
		if err := s.repo.StreamRevokedTokens(ctx, func(t types.RevokedToken) error {
			addJTI(t.JTI)
			return nil
		}); err != nil {
			return err
		}
		return s.repo.StreamUserRevocations(ctx, func(u types.UserRevocation) error {
			addUser(u.UserID)
			return nil
		})
	})
	monitoring.RecordBloomRebuild(err == nil)
	return err
}

func (s *Service) subscribeLoop(ctx context.Context) {
	defer s.wg.Done()

	ch := s.pubsub.Subscribe(ctx, cache.RevocationChannel)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				s.logger.Warn(ctx, "Revocation subscription closed")
				return
			}
			evt, err := ParseEvent([]byte(msg.Payload))
			if err != nil {
				s.logger.Warn(ctx, "Dropping undecodable revocation event",
					logging.Error("error", err))
				continue
			}
			s.applyEvent(ctx, evt)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// applyEvent folds a peer's revocation into local state. Re-applying
// our own published events is harmless since every update is
// idempotent.
func (s *Service) applyEvent(ctx context.Context, evt Event) {
	switch evt.Type {
	case EventJTIRevoked:
		if s.bloom != nil {
			s.bloom.AddJTI(evt.JTI)
		}
		if s.local != nil {
			s.local.RememberJTI(evt.JTI, evt.ExpiresAtTime())
		}
	case EventUserRevoked:
		if s.bloom != nil {
			s.bloom.AddUser(evt.UserID)
		}
		if s.local != nil {
			s.local.RememberUser(evt.UserID, evt.IssuedBeforeTime(), evt.ExpiresAtTime())
		}
	}
	monitoring.RecordRevocationEventApplied(evt.Type)
	s.notifyListeners(evt)
	s.logger.Debug(ctx, "Applied revocation event", logging.String("type", evt.Type))
}

// SubscribeEvents registers a listener for applied revocation events,
// feeding the admin event stream. The returned cancel func must be
// called to release the listener.
func (s *Service) SubscribeEvents() (<-chan Event, func()) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Event, 16)
	s.listeners[id] = ch

	cancel := func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		if existing, ok := s.listeners[id]; ok {
			delete(s.listeners, id)
			close(existing)
		}
	}
	return ch, cancel
}

// notifyListeners fans out without blocking; a slow consumer misses
// events rather than stalling the subscriber loop.
func (s *Service) notifyListeners(evt Event) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	for _, ch := range s.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Status reports the subsystem state for the admin API.
func (s *Service) Status() Status {
	st := Status{
		Enabled:       s.cfg.Enabled,
		BloomEnabled:  s.bloom != nil,
		PubSubEnabled: s.cfg.PubSubEnabled && s.pubsub != nil,
	}
	if s.bloom != nil {
		st.BloomInitialized = s.bloom.Initialized()
	}
	if s.local != nil {
		st.CachedJTIs, st.CachedUsers = s.local.Len()
	}
	return st
}
