//go:build integration

package gc

import (
	"context"
	"testing"
	"time"

	"libeufin-bank/internal/ledger"
	"libeufin-bank/internal/money"
	"libeufin-bank/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_AbortsStaleWithdrawals(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)

	zero := money.Amount{Value: 0, Frac: 0, Currency: "KUDOS"}
	accounts := ledger.NewAccountDAO(s, ledger.NewReservedLogins(nil))
	_, err := accounts.Create(context.Background(), &ledger.Account{
		Login:         "gcacct",
		PasswordHash:  "x",
		Name:          "GC Test",
		InternalPayto: "payto://iban/DE00gcacct",
		Balance:       money.Amount{Value: 50, Frac: 0, Currency: "KUDOS"},
		MaxDebit:      zero,
		TanChannel:    ledger.TanNone,
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)

	old := time.Now().Add(-48 * time.Hour)
	_, err = s.Pool().Exec(context.Background(),
		`INSERT INTO withdrawals (uuid, account_login, amount_value, amount_frac, amount_currency, status, created_at)
		 VALUES ($1, $2, 5, 0, 'KUDOS', 'pending', $3)`, uuid.New(), "gcacct", old)
	require.NoError(t, err)

	collector := NewCollector(s)
	report, err := collector.Collect(context.Background(), time.Now(), Thresholds{
		AbortAfter:  time.Hour,
		CleanAfter:  24 * time.Hour * 14,
		DeleteAfter: 24 * time.Hour * 350,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.AbortedWithdrawals)

	var count int
	require.NoError(t, s.Pool().QueryRow(context.Background(), `SELECT count(*) FROM withdrawals WHERE account_login = $1`, "gcacct").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestCollector_DeletesZeroBalanceSoftDeletedAccount(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)

	zero := money.Amount{Value: 0, Frac: 0, Currency: "KUDOS"}
	accounts := ledger.NewAccountDAO(s, ledger.NewReservedLogins(nil))
	_, err := accounts.Create(context.Background(), &ledger.Account{
		Login:         "gcdeleted",
		PasswordHash:  "x",
		Name:          "GC Deleted",
		InternalPayto: "payto://iban/DE00gcdeleted",
		Balance:       zero,
		MaxDebit:      zero,
		TanChannel:    ledger.TanNone,
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)

	longAgo := time.Now().Add(-400 * 24 * time.Hour)
	_, err = s.Pool().Exec(context.Background(),
		`UPDATE accounts SET deleted = true, deleted_at = $2 WHERE login = $1`, "gcdeleted", longAgo)
	require.NoError(t, err)

	collector := NewCollector(s)
	report, err := collector.Collect(context.Background(), time.Now(), Thresholds{
		AbortAfter:  time.Hour,
		CleanAfter:  24 * time.Hour * 14,
		DeleteAfter: 24 * time.Hour * 350,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.DeletedAccounts)

	var count int
	require.NoError(t, s.Pool().QueryRow(context.Background(), `SELECT count(*) FROM accounts WHERE login = $1`, "gcdeleted").Scan(&count))
	assert.Equal(t, 0, count)
}
