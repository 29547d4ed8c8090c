//go:build integration

package withdrawal

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

func seedRegularAccount(t *testing.T, accounts *ledger.AccountDAO, login string, balance money.Amount) *ledger.Account {
	t.Helper()
	zero := money.Amount{Value: 0, Frac: 0, Currency: "KUDOS"}
	res, err := accounts.Create(context.Background(), &ledger.Account{
		Login:         login,
		PasswordHash:  "x",
		Name:          "Withdrawer",
		InternalPayto: "payto://iban/DE00" + login,
		Balance:       balance,
		MaxDebit:      zero,
		TanChannel:    ledger.TanNone,
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)
	return res.Account
}

// seedExchangeAccount gives the exchange a payto URI distinct from its
// login, matching a real deployment where SetDetails resolves the
// wallet-supplied payto to the account's login and Confirm must post
// the transfer by that resolved login, not the payto string.
func seedExchangeAccount(t *testing.T, accounts *ledger.AccountDAO, login string) string {
	t.Helper()
	zero := money.Amount{Value: 0, Frac: 0, Currency: "KUDOS"}
	payto := "payto://iban/DE00" + login
	_, err := accounts.Create(context.Background(), &ledger.Account{
		Login:           login,
		PasswordHash:    "x",
		Name:            "Exchange",
		InternalPayto:   payto,
		IsTalerExchange: true,
		Balance:         zero,
		MaxDebit:        zero,
		TanChannel:      ledger.TanNone,
		CreatedAt:       time.Now(),
	})
	require.NoError(t, err)
	return payto
}

func TestWithdrawalDAO_Create_Success(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	accounts := ledger.NewAccountDAO(s, ledger.NewReservedLogins(nil))
	txs := ledger.NewTransactionDAO(s)
	dao := NewDAO(s, accounts, txs)

	seedRegularAccount(t, accounts, "withdrawer1", money.Amount{Value: 50, Frac: 0, Currency: "KUDOS"})

	id := uuid.New()
	status, err := dao.Create(context.Background(), "withdrawer1", id, money.Amount{Value: 10, Frac: 0, Currency: "KUDOS"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, CreateSuccess, status)

	w, err := dao.Get(context.Background(), id, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, w.Status)
}

func TestWithdrawalDAO_Create_ExchangeAccountRejected(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	accounts := ledger.NewAccountDAO(s, ledger.NewReservedLogins(nil))
	txs := ledger.NewTransactionDAO(s)
	dao := NewDAO(s, accounts, txs)

	seedExchangeAccount(t, accounts, "exch1")

	status, err := dao.Create(context.Background(), "exch1", uuid.New(), money.Amount{Value: 1, Frac: 0, Currency: "KUDOS"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, CreateExchangeAccount, status)
}

func TestWithdrawalDAO_FullLifecycle(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	accounts := ledger.NewAccountDAO(s, ledger.NewReservedLogins(nil))
	txs := ledger.NewTransactionDAO(s)
	dao := NewDAO(s, accounts, txs)

	seedRegularAccount(t, accounts, "withdrawer2", money.Amount{Value: 50, Frac: 0, Currency: "KUDOS"})
	exchangePayto := seedExchangeAccount(t, accounts, "exch2")

	id := uuid.New()
	amount := money.Amount{Value: 10, Frac: 0, Currency: "KUDOS"}
	ctx := context.Background()

	status, err := dao.Create(ctx, "withdrawer2", id, amount, time.Now())
	require.NoError(t, err)
	require.Equal(t, CreateSuccess, status)

	sdStatus, err := dao.SetDetails(ctx, id, exchangePayto, "some-reserve-pub")
	require.NoError(t, err)
	assert.Equal(t, SetDetailsOK, sdStatus)

	cStatus, _, err := dao.Confirm(ctx, id, time.Now(), true)
	require.NoError(t, err)
	assert.Equal(t, ConfirmSuccess, cStatus)

	w, err := dao.Get(ctx, id, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, w.Status)
	assert.True(t, w.Confirmed)
	require.NotNil(t, w.SelectedExchangeLogin)
	assert.Equal(t, "exch2", *w.SelectedExchangeLogin)
}

func TestWithdrawalDAO_SetDetails_UnknownExchange(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	accounts := ledger.NewAccountDAO(s, ledger.NewReservedLogins(nil))
	txs := ledger.NewTransactionDAO(s)
	dao := NewDAO(s, accounts, txs)

	seedRegularAccount(t, accounts, "withdrawer3", money.Amount{Value: 50, Frac: 0, Currency: "KUDOS"})
	id := uuid.New()
	ctx := context.Background()
	_, err := dao.Create(ctx, "withdrawer3", id, money.Amount{Value: 5, Frac: 0, Currency: "KUDOS"}, time.Now())
	require.NoError(t, err)

	status, err := dao.SetDetails(ctx, id, "payto://nowhere", "rp")
	require.NoError(t, err)
	assert.Equal(t, SetDetailsUnknownExchange, status)
}

func TestWithdrawalDAO_Abort_ThenConfirmConflicts(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	accounts := ledger.NewAccountDAO(s, ledger.NewReservedLogins(nil))
	txs := ledger.NewTransactionDAO(s)
	dao := NewDAO(s, accounts, txs)

	seedRegularAccount(t, accounts, "withdrawer4", money.Amount{Value: 50, Frac: 0, Currency: "KUDOS"})
	id := uuid.New()
	ctx := context.Background()
	_, err := dao.Create(ctx, "withdrawer4", id, money.Amount{Value: 5, Frac: 0, Currency: "KUDOS"}, time.Now())
	require.NoError(t, err)

	aStatus, err := dao.Abort(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, AbortSuccess, aStatus)

	cStatus, _, err := dao.Confirm(ctx, id, time.Now(), true)
	require.NoError(t, err)
	assert.Equal(t, ConfirmAbortConflict, cStatus)
}

func TestWithdrawalDAO_Create_UnallowedDebit(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	accounts := ledger.NewAccountDAO(s, ledger.NewReservedLogins(nil))
	txs := ledger.NewTransactionDAO(s)
	dao := NewDAO(s, accounts, txs)

	seedRegularAccount(t, accounts, "withdrawer5", money.Amount{Value: 0, Frac: 0, Currency: "KUDOS"})

	status, err := dao.Create(context.Background(), "withdrawer5", uuid.New(), money.Amount{Value: 100, Frac: 0, Currency: "KUDOS"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, CreateUnallowedDebit, status)
}
