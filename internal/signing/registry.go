package signing

import (
	"context"
	"crypto/rsa"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/mwistrand/aussie-sub004/internal/db"
	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
	"github.com/mwistrand/aussie-sub004/internal/monitoring"
	"github.com/mwistrand/aussie-sub004/internal/types"
)

// Key pairs a persisted signing key record with its parsed RSA material.
// The private key is only populated for keys loaded through the registry;
// it never appears in API responses.
type Key struct {
	Record  *types.SigningKey
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// KID returns the key id of the underlying record.
func (k *Key) KID() string { return k.Record.KID }

// Snapshot is an immutable view of the key set. Readers load it through
// an atomic pointer, so token signing and verification never block on
// database access or on each other.
type Snapshot struct {
	// Active is the single key currently used for signing, nil when no
	// key is ACTIVE.
	Active *Key
	// Verification maps kid to every key whose signatures are still
	// accepted (ACTIVE and DEPRECATED).
	Verification map[string]*Key
	// VerificationList is Verification in newest-first order.
	VerificationList []*Key
	LastRefresh      time.Time
	Initialized      bool
}

// Status is a point-in-time summary of the registry for health and ops
// endpoints.
type Status struct {
	Initialized      bool      `json:"initialized"`
	ActiveKID        string    `json:"active_kid,omitempty"`
	VerificationKeys int       `json:"verification_keys"`
	LastRefresh      time.Time `json:"last_refresh"`
}

// Registry owns the signing key lifecycle. All mutations go through the
// repository and then rebuild the in-memory snapshot; lifecycle
// transitions are strictly forward (PENDING -> ACTIVE -> DEPRECATED ->
// RETIRED) and at most one key is ACTIVE at a time.
type Registry struct {
	repo    db.SigningKeyRepositoryInterface
	logger  logging.Logger
	keySize int

	// mu serializes mutations; reads go through the snapshot pointer.
	mu       sync.Mutex
	snapshot atomic.Pointer[Snapshot]
}

// NewRegistry creates a registry around the given repository. keySize is
// the RSA modulus size in bits for generated keys.
func NewRegistry(repo db.SigningKeyRepositoryInterface, keySize int, logger logging.Logger) *Registry {
	r := &Registry{
		repo:    repo,
		logger:  logger,
		keySize: keySize,
	}
	r.snapshot.Store(&Snapshot{Verification: map[string]*Key{}})
	return r
}

// CurrentSigning returns the key used to sign new tokens.
func (r *Registry) CurrentSigning() (*Key, error) {
	snap := r.snapshot.Load()
	if snap.Active == nil {
		return nil, apperrors.ErrNoActiveKey
	}
	return snap.Active, nil
}

// Verification returns the key for kid if its signatures are still
// accepted.
func (r *Registry) Verification(kid string) (*Key, error) {
	snap := r.snapshot.Load()
	key, ok := snap.Verification[kid]
	if !ok {
		return nil, apperrors.ErrKeyNotFound.WithDetails(map[string]string{"kid": kid})
	}
	return key, nil
}

// VerificationKeys returns every key accepted for verification,
// newest first.
func (r *Registry) VerificationKeys() []*Key {
	return r.snapshot.Load().VerificationList
}

// All lists every persisted key regardless of state, newest first.
func (r *Registry) All(ctx context.Context) ([]*types.SigningKey, error) {
	return r.repo.ListAll(ctx)
}

// Get returns the persisted record for kid.
func (r *Registry) Get(ctx context.Context, kid string) (*types.SigningKey, error) {
	return r.repo.GetByKID(ctx, kid)
}

// GenerateAndRegister creates a fresh RSA key pair and persists it in
// the PENDING state. The key signs nothing until it is activated.
func (r *Registry) GenerateAndRegister(ctx context.Context) (*types.SigningKey, error) {
	pair, err := GenerateKeyPair(r.keySize)
	if err != nil {
		return nil, apperrors.ErrInternal.WithError(err)
	}

	now := time.Now().UTC()
	kid, err := NewKID(now)
	if err != nil {
		return nil, apperrors.ErrInternal.WithError(err)
	}

	key := &types.SigningKey{
		KID:        kid,
		Algorithm:  AlgorithmRS256,
		PrivatePEM: pair.PrivatePEM,
		PublicPEM:  pair.PublicPEM,
		Status:     types.KeyStatusPending,
		CreatedAt:  now,
	}
	if err := r.Register(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Register persists an externally built key. Used by GenerateAndRegister
// and by tests that need deterministic key material.
func (r *Registry) Register(ctx context.Context, key *types.SigningKey) error {
	if key.Status == "" {
		key.Status = types.KeyStatusPending
	}
	if key.Status != types.KeyStatusPending {
		return apperrors.ErrStateViolation.WithMessage("new keys must be registered as PENDING")
	}
	if _, err := ParsePrivateKeyPEM(key.PrivatePEM); err != nil {
		return apperrors.ErrValidation.WithMessage("invalid private key PEM").WithError(err)
	}

	if err := r.repo.Create(ctx, key); err != nil {
		return err
	}

	r.logger.Info(ctx, "Registered signing key",
		logging.String("kid", key.KID),
		logging.String("algorithm", key.Algorithm))
	return nil
}

// Activate promotes a PENDING key to ACTIVE. Any currently ACTIVE key is
// deprecated first so the single-active invariant holds at every point;
// if the second step fails there is briefly no ACTIVE key, which the
// next refresh or activation repairs.
func (r *Registry) Activate(ctx context.Context, kid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, err := r.repo.GetByKID(ctx, kid)
	if err != nil {
		return err
	}
	if key.Status == types.KeyStatusActive {
		return nil
	}
	if !key.Status.CanTransitionTo(types.KeyStatusActive) {
		return apperrors.ErrStateViolation.WithMessage(
			fmt.Sprintf("cannot activate key in state %s", key.Status))
	}

	now := time.Now().UTC()
	current, err := r.repo.GetActive(ctx)
	if err != nil && !apperrors.IsNotFound(err) {
		return err
	}
	if current != nil && current.KID != kid {
		if err := r.repo.UpdateStatus(ctx, current.KID, types.KeyStatusDeprecated, now); err != nil {
			return err
		}
		r.logger.Info(ctx, "Deprecated signing key",
			logging.String("kid", current.KID),
			logging.String("replaced_by", kid))
	}

	if err := r.repo.UpdateStatus(ctx, kid, types.KeyStatusActive, now); err != nil {
		return err
	}
	r.logger.Info(ctx, "Activated signing key", logging.String("kid", kid))

	return r.refreshLocked(ctx)
}

// Deprecate moves an ACTIVE key out of signing duty while its signatures
// remain valid.
func (r *Registry) Deprecate(ctx context.Context, kid string) error {
	return r.transition(ctx, kid, types.KeyStatusDeprecated)
}

// Retire stops accepting a key's signatures entirely.
func (r *Registry) Retire(ctx context.Context, kid string) error {
	return r.transition(ctx, kid, types.KeyStatusRetired)
}

// Delete removes a RETIRED key's record. Keys in any other state must be
// walked through the lifecycle first.
func (r *Registry) Delete(ctx context.Context, kid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, err := r.repo.GetByKID(ctx, kid)
	if err != nil {
		return err
	}
	if key.Status != types.KeyStatusRetired {
		return apperrors.ErrStateViolation.WithMessage(
			fmt.Sprintf("cannot delete key in state %s, retire it first", key.Status))
	}
	if err := r.repo.Delete(ctx, kid); err != nil {
		return err
	}
	r.logger.Info(ctx, "Deleted retired signing key", logging.String("kid", kid))
	return nil
}

func (r *Registry) transition(ctx context.Context, kid string, next types.KeyStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, err := r.repo.GetByKID(ctx, kid)
	if err != nil {
		return err
	}
	if !key.Status.CanTransitionTo(next) {
		return apperrors.ErrStateViolation.WithMessage(
			fmt.Sprintf("cannot move key from %s to %s", key.Status, next))
	}

	if err := r.repo.UpdateStatus(ctx, kid, next, time.Now().UTC()); err != nil {
		return err
	}
	r.logger.Info(ctx, "Signing key state changed",
		logging.String("kid", kid),
		logging.String("from", string(key.Status)),
		logging.String("to", string(next)))

	return r.refreshLocked(ctx)
}

// RefreshCache rebuilds the snapshot from the repository. Called at
// startup, on a timer, and after every mutation.
func (r *Registry) RefreshCache(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshLocked(ctx)
}

func (r *Registry) refreshLocked(ctx context.Context) error {
	records, err := r.repo.ListForVerification(ctx)
	if err != nil {
		return err
	}

	snap := &Snapshot{
		Verification: make(map[string]*Key, len(records)),
		LastRefresh:  time.Now().UTC(),
		Initialized:  true,
	}
	counts := map[types.KeyStatus]int{}

	for _, record := range records {
		key, err := parseKey(record)
		if err != nil {
			r.logger.Error(ctx, "Skipping unparseable signing key",
				logging.String("kid", record.KID),
				logging.Error("error", err))
			continue
		}
		snap.Verification[record.KID] = key
		snap.VerificationList = append(snap.VerificationList, key)
		counts[record.Status]++
		if record.Status == types.KeyStatusActive {
			snap.Active = key
		}
	}
	sort.Slice(snap.VerificationList, func(i, j int) bool {
		return snap.VerificationList[i].Record.CreatedAt.After(snap.VerificationList[j].Record.CreatedAt)
	})

	r.snapshot.Store(snap)
	monitoring.SetSigningKeys(string(types.KeyStatusActive), counts[types.KeyStatusActive])
	monitoring.SetSigningKeys(string(types.KeyStatusDeprecated), counts[types.KeyStatusDeprecated])

	r.logger.Debug(ctx, "Signing key cache refreshed",
		logging.Int("verification_keys", len(snap.Verification)),
		logging.Bool("has_active", snap.Active != nil))
	return nil
}

// Status reports the registry's current snapshot state.
func (r *Registry) Status() Status {
	snap := r.snapshot.Load()
	s := Status{
		Initialized:      snap.Initialized,
		VerificationKeys: len(snap.Verification),
		LastRefresh:      snap.LastRefresh,
	}
	if snap.Active != nil {
		s.ActiveKID = snap.Active.KID()
	}
	return s
}

// PublicJWKS renders the verification keys as a JWKS document for
// downstream services that validate gateway-issued tokens themselves.
func (r *Registry) PublicJWKS() *jose.JSONWebKeySet {
	snap := r.snapshot.Load()
	set := &jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(snap.VerificationList))}
	for _, key := range snap.VerificationList {
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       key.Public,
			KeyID:     key.KID(),
			Algorithm: key.Record.Algorithm,
			Use:       "sig",
		})
	}
	return set
}

func parseKey(record *types.SigningKey) (*Key, error) {
	private, err := ParsePrivateKeyPEM(record.PrivatePEM)
	if err != nil {
		return nil, err
	}
	public, err := ParsePublicKeyPEM(record.PublicPEM)
	if err != nil {
		return nil, err
	}
	return &Key{Record: record, Private: private, Public: public}, nil
}
