//go:build integration

package challenge

import (
	"context"
	"testing"
	"time"

	"libeufin-bank/internal/ledger"
	"libeufin-bank/internal/money"
	"libeufin-bank/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAccount(t *testing.T, s *store.Store, login string) {
	t.Helper()
	zero := money.Amount{Value: 0, Frac: 0, Currency: "KUDOS"}
	accounts := ledger.NewAccountDAO(s, ledger.NewReservedLogins(nil))
	_, err := accounts.Create(context.Background(), &ledger.Account{
		Login:         login,
		PasswordHash:  "x",
		Name:          "Test User",
		InternalPayto: "payto://iban/DE00" + login,
		Balance:       zero,
		MaxDebit:      zero,
		TanChannel:    ledger.TanNone,
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)
}

func TestEngine_GenerateCode_SixDigits(t *testing.T) {
	code, err := GenerateCode()
	require.NoError(t, err)
	assert.Len(t, code, 6)
}

func TestEngine_CreateAndTry_CorrectCode(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	seedAccount(t, s, "tanuser1")

	e := NewEngine(s)
	now := time.Now()
	id, code, err := e.Create(context.Background(), "tanuser1", "transaction", now, 5*time.Minute, 3)
	require.NoError(t, err)

	ok, noRetry, expired, err := e.Try(context.Background(), id, code, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, noRetry)
	assert.False(t, expired)
}

func TestEngine_Try_WrongCodeDecrementsRetries(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	seedAccount(t, s, "tanuser2")

	e := NewEngine(s)
	now := time.Now()
	id, _, err := e.Create(context.Background(), "tanuser2", "transaction", now, 5*time.Minute, 1)
	require.NoError(t, err)

	ok, noRetry, expired, err := e.Try(context.Background(), id, "000000", now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, noRetry)
	assert.False(t, expired)

	ok2, noRetry2, _, err := e.Try(context.Background(), id, "000000", now)
	require.NoError(t, err)
	assert.False(t, ok2)
	assert.True(t, noRetry2)
}

func TestEngine_Try_Expired(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	seedAccount(t, s, "tanuser3")

	e := NewEngine(s)
	now := time.Now()
	id, code, err := e.Create(context.Background(), "tanuser3", "transaction", now, time.Minute, 3)
	require.NoError(t, err)

	ok, noRetry, expired, err := e.Try(context.Background(), id, code, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, noRetry)
	assert.True(t, expired)
}

func TestEngine_Try_ConfirmedIsSticky(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	seedAccount(t, s, "tanuser4")

	e := NewEngine(s)
	now := time.Now()
	id, code, err := e.Create(context.Background(), "tanuser4", "transaction", now, 5*time.Minute, 3)
	require.NoError(t, err)

	ok, _, _, err := e.Try(context.Background(), id, code, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok2, noRetry2, expired2, err := e.Try(context.Background(), id, "wrong", now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok2)
	assert.False(t, noRetry2)
	assert.False(t, expired2)
}

func TestEngine_Resend_StillFreshReturnsExistingCode(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	seedAccount(t, s, "tanuser5")

	e := NewEngine(s)
	now := time.Now()
	id, code, err := e.Create(context.Background(), "tanuser5", "transaction", now, 5*time.Minute, 3)
	require.NoError(t, err)
	require.NoError(t, e.MarkSent(context.Background(), id, now))

	got, err := e.Resend(context.Background(), id, now.Add(10*time.Second), 5*time.Minute, time.Minute, 3)
	require.NoError(t, err)
	assert.Equal(t, code, got)
}

func TestEngine_Resend_PastRetransmitWindowGeneratesNewCode(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	seedAccount(t, s, "tanuser6")

	e := NewEngine(s)
	now := time.Now()
	id, code, err := e.Create(context.Background(), "tanuser6", "transaction", now, 5*time.Minute, 3)
	require.NoError(t, err)
	require.NoError(t, e.MarkSent(context.Background(), id, now))

	got, err := e.Resend(context.Background(), id, now.Add(2*time.Minute), 5*time.Minute, time.Minute, 3)
	require.NoError(t, err)
	assert.NotEqual(t, code, got)
}

func TestEngine_InvalidateForAccount(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	seedAccount(t, s, "tanuser7")

	e := NewEngine(s)
	now := time.Now()
	id, code, err := e.Create(context.Background(), "tanuser7", "transaction", now, 5*time.Minute, 3)
	require.NoError(t, err)

	require.NoError(t, e.InvalidateForAccount(context.Background(), "tanuser7", now.Add(time.Second)))

	ok, _, expired, err := e.Try(context.Background(), id, code, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, expired)
}
