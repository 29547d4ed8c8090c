//go:build integration

package store

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// SetupTestStore connects to the test database and runs migrations,
// exactly as internal/database.SetupTestDB did for the teacher's
// card/transaction tables. The test database (libeufinbank_test) is
// expected to already exist (docker-compose or CI provisioning).
func SetupTestStore(t *testing.T) *Store {
	t.Helper()

	cfg := Config{
		Host:            "localhost",
		Port:            "5432",
		User:            "postgres",
		Password:        "postgres",
		DB:              "libeufinbank_test",
		SslMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 5,
		MaxConnIdleTime: 1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := New(ctx, cfg)
	require.NoError(t, err, "failed to connect to test store")

	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	projectRoot := filepath.Join(dir, "../..")
	migrationsPath := filepath.Join(projectRoot, "migrations")
	s.SetMigrationPath("file://" + migrationsPath)

	require.NoError(t, s.RunMigrations(), "failed to run migrations on test store")
	return s
}

// CleanupTestStore truncates every table between tests, in FK-safe
// order.
func CleanupTestStore(t *testing.T, s *Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tables := []string{
		"request_uids", "cashouts", "withdrawals", "challenges",
		"tx_rows", "tokens", "stats_counters", "accounts",
	}
	for _, table := range tables {
		_, err := s.pool.Exec(ctx, "TRUNCATE TABLE "+table+" CASCADE")
		require.NoError(t, err, "failed to truncate table %s", table)
	}
}
