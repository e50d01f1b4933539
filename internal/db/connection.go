package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mwistrand/aussie-sub004/internal/monitoring"
)

type DatabaseConfig struct {
	// URL is a postgres:// connection URL. Session parameters below are
	// appended to its query string.
	URL string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	ConnTimeout       time.Duration
	StatementTimeout  time.Duration
	LockTimeout       time.Duration
	IdleInTransaction time.Duration
}

func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		MaxOpenConns:      25,
		MaxIdleConns:      5,
		ConnMaxLifetime:   30 * time.Minute,
		ConnMaxIdleTime:   5 * time.Minute,
		ConnTimeout:       5 * time.Second,
		StatementTimeout:  30 * time.Second,
		LockTimeout:       5 * time.Second,
		IdleInTransaction: 10 * time.Minute,
	}
}

// DatabaseManager owns the connection pool. Probing belongs to
// internal/health and transactions to Repositories.WithTransaction;
// this type only opens, configures and reports on the pool.
type DatabaseManager struct {
	db     *sql.DB
	config *DatabaseConfig
	stopCh chan struct{}
}

func NewDatabaseManager(config *DatabaseConfig) (*DatabaseManager, error) {
	connStr, err := buildConnectionString(config)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	manager := &DatabaseManager{
		db:     db,
		config: config,
		stopCh: make(chan struct{}),
	}

	go manager.watchPool()

	logrus.WithFields(logrus.Fields{
		"max_open_conns": config.MaxOpenConns,
		"max_idle_conns": config.MaxIdleConns,
	}).Info("Database connection pool configured")

	return manager, nil
}

// buildConnectionString appends the session timeouts to the configured
// URL. Timeouts set server-side cover every statement the repositories
// run without each call site opting in.
func buildConnectionString(config *DatabaseConfig) (string, error) {
	u, err := url.Parse(config.URL)
	if err != nil {
		return "", fmt.Errorf("invalid database URL: %w", err)
	}

	params := u.Query()
	params.Set("application_name", "aussie-gateway")

	if config.ConnTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%.0f", config.ConnTimeout.Seconds()))
	}
	if config.StatementTimeout > 0 {
		params.Set("statement_timeout", fmt.Sprintf("%dms", config.StatementTimeout.Milliseconds()))
	}
	if config.LockTimeout > 0 {
		params.Set("lock_timeout", fmt.Sprintf("%dms", config.LockTimeout.Milliseconds()))
	}
	if config.IdleInTransaction > 0 {
		params.Set("idle_in_transaction_session_timeout", fmt.Sprintf("%dms", config.IdleInTransaction.Milliseconds()))
	}

	u.RawQuery = params.Encode()
	return u.String(), nil
}

func (dm *DatabaseManager) GetDB() *sql.DB {
	return dm.db
}

func (dm *DatabaseManager) Close() error {
	close(dm.stopCh)
	return dm.db.Close()
}

// watchPool samples pool statistics for the metrics endpoint and warns
// when auth traffic is queueing on the pool. Lockout and revocation
// checks sit on the hot path of every request, so pool exhaustion here
// turns into added auth latency before anything else breaks.
func (dm *DatabaseManager) watchPool() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-dm.stopCh:
			return
		case <-ticker.C:
		}

		stats := dm.db.Stats()
		monitoring.RecordDBConnections("aussie", stats.OpenConnections, stats.InUse)

		if stats.WaitCount > 0 {
			logrus.WithFields(logrus.Fields{
				"wait_count":    stats.WaitCount,
				"wait_duration": stats.WaitDuration.String(),
				"open":          stats.OpenConnections,
				"max_open":      stats.MaxOpenConnections,
			}).Warn("Auth queries are waiting on the connection pool")
		}
		if stats.OpenConnections == stats.MaxOpenConnections {
			logrus.Warn("Database connection pool is at maximum capacity")
		}
	}
}
