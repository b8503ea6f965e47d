// Package store provides PostgreSQL persistence with explicit sessions.
//
// The cardinal rule enforced by this package's API shape is that a Session
// is never shared across concurrent activities — every control loop, bus
// handler, and recovery attempt opens its own and closes it on every exit
// path.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vhz-mon/marketwatch/internal/config"
)

// Store owns the connection pool and hands out Sessions.
type Store struct {
	db               *gorm.DB
	statementTimeout time.Duration
}

// Open connects to PostgreSQL and configures the pool per cfg.
func Open(cfg config.StoreConfig) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Warn),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db, statementTimeout: cfg.StatementTimeout}, nil
}

// DB exposes the underlying *sql.DB, used only by the migration runner.
func (s *Store) DB() (*sql.DB, error) {
	return s.db.DB()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Session is an independent handle on the store, owned by exactly one
// concurrent activity for its whole lifetime. Each of its operations is a
// single statement that commits on its own; no operation groups several
// statements into one transaction.
type Session struct {
	db *gorm.DB
}

// NewSession opens a fresh session bound to ctx. The returned Session's
// statement timeout is the Store's configured default; 30s — 10s turned
// out too aggressive under proxy contention.
func (s *Store) NewSession(ctx context.Context) (*Session, error) {
	sess := s.db.Session(&gorm.Session{NewDB: false}).WithContext(ctx)

	timeoutMS := s.statementTimeout.Milliseconds()
	if timeoutMS > 0 {
		if err := sess.Exec(fmt.Sprintf("SET statement_timeout = %d", timeoutMS)).Error; err != nil {
			return nil, fmt.Errorf("set statement_timeout: %w", err)
		}
	}

	return &Session{db: sess}, nil
}

// Close marks the end of the session's unit of work. GORM sessions
// borrowed from the shared pool return their connection automatically
// once their last statement completes, so there is nothing to release
// here; the call exists so every owner has a single exit path to defer.
func (s *Session) Close() error { return nil }

// ErrNotFound is returned when a row lookup by id finds nothing.
var ErrNotFound = gorm.ErrRecordNotFound
