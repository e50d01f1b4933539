package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mwistrand/aussie-sub004/internal/crypto"
)

// Repositories provides access to all repository types
type Repositories struct {
	db        *sql.DB // Keep reference for transaction support
	encryptor *crypto.Encryptor

	SigningKeys        *SigningKeyRepository
	TokenRevocations   *TokenRevocationRepository
	APIKeys            *APIKeyRepository
	FailedAttempts     *FailedAttemptRepository
	PKCEChallenges     *PKCEChallengeRepository
	Roles              *RoleRepository
	Groups             *GroupRepository
	TranslationConfigs *TranslationConfigRepository
	RotationAudit      *RotationAuditRepository
}

// NewRepositories creates a new Repositories instance with all repositories
// initialized. The encryptor seals signing key PEM and group rows at rest.
func NewRepositories(db *sql.DB, encryptor *crypto.Encryptor) *Repositories {
	return &Repositories{
		db:        db,
		encryptor: encryptor,

		SigningKeys:        NewSigningKeyRepository(db, encryptor),
		TokenRevocations:   NewTokenRevocationRepository(db),
		APIKeys:            NewAPIKeyRepository(db),
		FailedAttempts:     NewFailedAttemptRepository(db),
		PKCEChallenges:     NewPKCEChallengeRepository(db),
		Roles:              NewRoleRepository(db),
		Groups:             NewGroupRepository(db, encryptor),
		TranslationConfigs: NewTranslationConfigRepository(db),
		RotationAudit:      NewRotationAuditRepository(db),
	}
}

// Ping checks database connectivity for health probes
func (r *Repositories) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// WithTransaction executes the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// If the function succeeds, the transaction is committed.
func (r *Repositories) WithTransaction(ctx context.Context, fn func(txRepos *Repositories) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Create transaction-scoped repositories
	txRepos := &Repositories{
		db:        r.db, // Keep original db for nested transaction prevention
		encryptor: r.encryptor,

		SigningKeys:        NewSigningKeyRepository(tx, r.encryptor),
		TokenRevocations:   NewTokenRevocationRepository(tx),
		APIKeys:            NewAPIKeyRepository(tx),
		FailedAttempts:     NewFailedAttemptRepository(tx),
		PKCEChallenges:     NewPKCEChallengeRepository(tx),
		Roles:              NewRoleRepository(tx),
		Groups:             NewGroupRepository(tx, r.encryptor),
		TranslationConfigs: NewTranslationConfigRepository(tx),
		RotationAudit:      NewRotationAuditRepository(tx),
	}

	// Execute the function with transaction repositories
	if err := fn(txRepos); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx failed: %v, rollback failed: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
