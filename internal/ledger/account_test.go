//go:build integration

package ledger

import (
	"context"
	"testing"
	"time"

	"libeufin-bank/internal/money"
	"libeufin-bank/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccountDAO(t *testing.T, s *store.Store) *AccountDAO {
	return NewAccountDAO(s, NewReservedLogins([]string{"admin", "bank"}))
}

func sampleAccount(login string) *Account {
	zero := money.Amount{Value: 0, Frac: 0, Currency: "KUDOS"}
	return &Account{
		Login:         login,
		PasswordHash:  "x",
		Name:          "Alice Test",
		IsPublic:      false,
		InternalPayto: "payto://iban/DE00" + login,
		Balance:       zero,
		HasDebit:      false,
		MaxDebit:      zero,
		TanChannel:    TanNone,
		CreatedAt:     time.Now(),
	}
}

func TestAccountDAO_CreateAndGet(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	dao := newTestAccountDAO(t, s)

	ctx := context.Background()
	res, err := dao.Create(ctx, sampleAccount("alice"))
	require.NoError(t, err)
	assert.Equal(t, AccountCreated, res.Status)
	require.NotNil(t, res.Account)
	assert.Equal(t, "alice", res.Account.Login)

	got, err := dao.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "payto://iban/DE00alice", got.InternalPayto)
}

func TestAccountDAO_Create_ReservedLoginConflict(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	dao := newTestAccountDAO(t, s)

	res, err := dao.Create(context.Background(), sampleAccount("admin"))
	require.NoError(t, err)
	assert.Equal(t, AccountReservedUsernameConflict, res.Status)
}

func TestAccountDAO_Create_IdempotentNoop(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	dao := newTestAccountDAO(t, s)
	ctx := context.Background()

	a := sampleAccount("bob")
	res1, err := dao.Create(ctx, a)
	require.NoError(t, err)
	require.Equal(t, AccountCreated, res1.Status)

	res2, err := dao.Create(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, AccountIdempotentNoop, res2.Status)
}

func TestAccountDAO_Create_UsernameReuseOnMismatch(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	dao := newTestAccountDAO(t, s)
	ctx := context.Background()

	a := sampleAccount("carol")
	_, err := dao.Create(ctx, a)
	require.NoError(t, err)

	b := sampleAccount("carol")
	b.InternalPayto = "payto://iban/DE00different"
	res, err := dao.Create(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, AccountUsernameReuse, res.Status)
}

func TestAccountDAO_Create_PaytoReuse(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	dao := newTestAccountDAO(t, s)
	ctx := context.Background()

	a := sampleAccount("dave")
	_, err := dao.Create(ctx, a)
	require.NoError(t, err)

	b := sampleAccount("erin")
	b.InternalPayto = a.InternalPayto
	res, err := dao.Create(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, AccountPaytoReuse, res.Status)
}

func TestAccountDAO_SetAndVerifyPassword(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	dao := newTestAccountDAO(t, s)
	ctx := context.Background()

	_, err := dao.Create(ctx, sampleAccount("frank"))
	require.NoError(t, err)

	require.NoError(t, dao.SetPassword(ctx, "frank", "s3cret"))

	ok, err := dao.VerifyPassword(ctx, "frank", "s3cret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = dao.VerifyPassword(ctx, "frank", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccountDAO_Delete_RequiresZeroBalance(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	dao := newTestAccountDAO(t, s)
	ctx := context.Background()

	a := sampleAccount("grace")
	a.Balance = money.Amount{Value: 5, Frac: 0, Currency: "KUDOS"}
	_, err := dao.Create(ctx, a)
	require.NoError(t, err)

	res, err := dao.Delete(ctx, "grace")
	require.NoError(t, err)
	assert.Equal(t, AccountBalanceNotZero, res.Status)
}

func TestAccountDAO_Delete_ReservedLogin(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	dao := newTestAccountDAO(t, s)

	res, err := dao.Delete(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, AccountReservedUsernameConflict, res.Status)
}

func TestAccountDAO_AdminPatch_MaxDebit(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	dao := newTestAccountDAO(t, s)
	ctx := context.Background()

	_, err := dao.Create(ctx, sampleAccount("heidi"))
	require.NoError(t, err)

	newDebit := money.Amount{Value: 100, Frac: 0, Currency: "KUDOS"}
	res, err := dao.AdminPatch(ctx, "heidi", &newDebit, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Account)
	assert.Equal(t, 0, money.Compare(newDebit, res.Account.MaxDebit))
}
