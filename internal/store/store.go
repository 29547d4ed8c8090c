// Package store wraps the bank's Postgres connection pool with the two
// primitives every DAO is built on: Serializable, a SERIALIZABLE
// transaction with bounded retry on serialization failure, and Conn, a
// plain pooled connection for reads and GC scans. It also owns the
// in-process notification bus long-polling handlers subscribe to.
//
// Grounded on internal/database/postgres.go (pool + migrate wrapper).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"libeufin-bank/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Config mirrors internal/database.Config; kept as a distinct type so
// the store package has no compile-time dependency on the old layout.
type Config struct {
	Host            string
	Port            string
	User            string
	Password        string
	DB              string
	SslMode         string
	MaxConns        int
	MinConns        int
	MaxConnLifetime int
	MaxConnIdleTime int
}

// pgSerializationFailure is Postgres error code 40001.
const pgSerializationFailure = "40001"

// maxSerializableAttempts bounds the retry-on-conflict loop so a
// pathologically contended workload still makes progress (or fails
// loudly) instead of retrying forever.
const maxSerializableAttempts = 8

// Store is the single DB-backed gateway every DAO is built on.
type Store struct {
	pool          *pgxpool.Pool
	migrationPath string
	bus           *Bus
}

// New opens the connection pool, verifies connectivity, and wires an
// empty notification bus.
func New(ctx context.Context, cfg Config) (*Store, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DB, cfg.SslMode)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		logger.Error("failed to parse store connection config", zap.Error(err))
		return nil, err
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = time.Duration(cfg.MaxConnLifetime) * time.Minute
	poolCfg.MaxConnIdleTime = time.Duration(cfg.MaxConnIdleTime) * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logger.Error("failed to create store connection pool", zap.Error(err))
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("store ping failed", zap.Error(err))
		pool.Close()
		return nil, err
	}

	logger.Info("bank store connection pool created")
	return &Store{pool: pool, migrationPath: "file://migrations", bus: newBus()}, nil
}

// Bus exposes the store's notification bus to long-polling handlers.
func (s *Store) Bus() *Bus { return s.bus }

// Pool exposes the raw pool to DAOs that live outside this package.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// RunMigrations applies pending migrations via golang-migrate, exactly
// as internal/database.DB.RunMigrations does.
func (s *Store) RunMigrations() error {
	connStr := s.pool.Config().ConnString()
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer sqlDB.Close()

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(s.migrationPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if err == migrate.ErrNoChange {
			logger.Info("no new bank migrations to apply")
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d", version)
	}
	logger.Info("bank migrations applied", zap.Uint("version", version))
	return nil
}

func (s *Store) Close() {
	if s.pool != nil {
		logger.Info("closing bank store connection pool")
		s.pool.Close()
	}
}

// SetMigrationPath overrides the default "file://migrations" path; used
// by tests to point at a project-relative migrations directory.
func (s *Store) SetMigrationPath(p string) { s.migrationPath = p }

// TxFunc is the body of a Serializable or Conn call.
type TxFunc func(ctx context.Context, tx pgx.Tx) error

// Serializable runs fn inside a SERIALIZABLE transaction, committing on
// a nil return and rolling back otherwise. Postgres serialization
// failures (40001) are retried with exponential backoff + jitter up to
// maxSerializableAttempts; any other error aborts immediately and
// propagates to the caller. This is the only way DAOs are allowed to
// mutate money-moving state.
func (s *Store) Serializable(ctx context.Context, fn TxFunc) error {
	var lastErr error
	for attempt := 0; attempt < maxSerializableAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 5 * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(backoff) + 1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		err := s.runOnce(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
		logger.Warn("serializable transaction conflict, retrying",
			zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("serializable transaction did not converge after %d attempts: %w", maxSerializableAttempts, lastErr)
}

// Conn runs fn in a plain (non-serializable) transaction — suitable for
// reads and GC scans that don't need snapshot-isolation guarantees
// beyond read-committed.
func (s *Store) Conn(ctx context.Context, fn TxFunc) error {
	return s.runOnce(ctx, pgx.TxOptions{}, fn)
}

func (s *Store) runOnce(ctx context.Context, opts pgx.TxOptions, fn TxFunc) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure
	}
	return false
}
