//go:build integration

package cashout

import (
	"context"
	"testing"
	"time"

	"libeufin-bank/internal/challenge"
	"libeufin-bank/internal/exchange"
	"libeufin-bank/internal/ledger"
	"libeufin-bank/internal/money"
	"libeufin-bank/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRates(t *testing.T) *exchange.RateTable {
	t.Helper()
	fee := money.Amount{Value: 0, Frac: 0, Currency: "USD"}
	tiny := money.Amount{Value: 0, Frac: 1_000_000, Currency: "USD"}
	min := money.Amount{Value: 1, Frac: 0, Currency: "KUDOS"}
	cfg := exchange.RatesConfig{
		Cashout: exchange.DirectionConfig{Ratio: 1.0, Fee: fee, TinyAmount: tiny, RoundingMode: exchange.RoundNearest, MinAmount: min},
		Cashin:  exchange.DirectionConfig{Ratio: 1.0, Fee: fee, TinyAmount: money.Amount{Value: 0, Frac: 1_000_000, Currency: "KUDOS"}, RoundingMode: exchange.RoundNearest, MinAmount: money.Amount{Value: 1, Frac: 0, Currency: "USD"}},
	}
	rt := exchange.NewRateTable(exchange.NewStaticSource(cfg))
	require.NoError(t, rt.Reload())
	return rt
}

func seedCashoutAccount(t *testing.T, accounts *ledger.AccountDAO, login string, balance money.Amount) {
	t.Helper()
	zero := money.Amount{Value: 0, Frac: 0, Currency: "KUDOS"}
	payto := "payto://iban/DE00" + login + "?receiver-name=Test"
	_, err := accounts.Create(context.Background(), &ledger.Account{
		Login:         login,
		PasswordHash:  "x",
		Name:          "Cashout Test",
		InternalPayto: "payto://iban/DE00" + login,
		CashoutPayto:  &payto,
		Balance:       balance,
		MaxDebit:      zero,
		TanChannel:    ledger.TanSMS,
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)
}

func newDAO(s *store.Store) (*DAO, *ledger.AccountDAO) {
	accounts := ledger.NewAccountDAO(s, ledger.NewReservedLogins(nil))
	txs := ledger.NewTransactionDAO(s)
	ch := challenge.NewEngine(s)
	return NewDAO(s, accounts, txs, ch, nil), accounts
}

func TestCashoutDAO_Create_ChallengeRequired(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	dao, accounts := newDAO(s)

	seedCashoutAccount(t, accounts, "cashout1", money.Amount{Value: 50, Frac: 0, Currency: "KUDOS"})

	debit := money.Amount{Value: 10, Frac: 0, Currency: "KUDOS"}
	credit := money.Amount{Value: 10, Frac: 0, Currency: "USD"}
	status, id, challengeID, err := dao.Create(context.Background(), "cashout1", "req-c1", debit, credit, false, time.Now(), time.Hour, 3)
	require.NoError(t, err)
	assert.Equal(t, CreateChallengeRequired, status)
	assert.Greater(t, id, int64(0))
	assert.Greater(t, challengeID, int64(0))

	c, err := dao.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, c.Status)
}

func TestCashoutDAO_Create_MissingCashoutInfo(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	dao, accounts := newDAO(s)

	zero := money.Amount{Value: 0, Frac: 0, Currency: "KUDOS"}
	_, err := accounts.Create(context.Background(), &ledger.Account{
		Login:         "cashout2",
		PasswordHash:  "x",
		Name:          "No Cashout Info",
		InternalPayto: "payto://iban/DE00cashout2",
		Balance:       money.Amount{Value: 50, Frac: 0, Currency: "KUDOS"},
		MaxDebit:      zero,
		TanChannel:    ledger.TanNone,
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)

	status, _, _, err := dao.Create(context.Background(), "cashout2", "req-c2", money.Amount{Value: 10, Frac: 0, Currency: "KUDOS"}, money.Amount{Value: 10, Frac: 0, Currency: "USD"}, false, time.Now(), time.Hour, 3)
	require.NoError(t, err)
	assert.Equal(t, CreateMissingInfo, status)
}

func TestCashoutDAO_Create_UnallowedDebit(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	dao, accounts := newDAO(s)

	seedCashoutAccount(t, accounts, "cashout3", money.Amount{Value: 0, Frac: 0, Currency: "KUDOS"})

	status, _, _, err := dao.Create(context.Background(), "cashout3", "req-c3", money.Amount{Value: 10, Frac: 0, Currency: "KUDOS"}, money.Amount{Value: 10, Frac: 0, Currency: "USD"}, false, time.Now(), time.Hour, 3)
	require.NoError(t, err)
	assert.Equal(t, CreateUnallowedDebit, status)
}

func TestCashoutDAO_Create_BadConversion(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	_, accounts := newDAO(s)
	dao := NewDAO(s, accounts, ledger.NewTransactionDAO(s), challenge.NewEngine(s), testRates(t))

	seedCashoutAccount(t, accounts, "cashout4", money.Amount{Value: 50, Frac: 0, Currency: "KUDOS"})

	status, _, _, err := dao.Create(context.Background(), "cashout4", "req-c4", money.Amount{Value: 10, Frac: 0, Currency: "KUDOS"}, money.Amount{Value: 999, Frac: 0, Currency: "USD"}, false, time.Now(), time.Hour, 3)
	require.NoError(t, err)
	assert.Equal(t, CreateBadConversion, status)
}

func TestCashoutDAO_Create_RequestUIDReuse(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	dao, accounts := newDAO(s)

	seedCashoutAccount(t, accounts, "cashout5", money.Amount{Value: 50, Frac: 0, Currency: "KUDOS"})
	seedCashoutAccount(t, accounts, "cashout5b", money.Amount{Value: 50, Frac: 0, Currency: "KUDOS"})

	debit := money.Amount{Value: 10, Frac: 0, Currency: "KUDOS"}
	credit := money.Amount{Value: 10, Frac: 0, Currency: "USD"}
	ctx := context.Background()

	status1, id1, _, err := dao.Create(ctx, "cashout5", "req-c5", debit, credit, false, time.Now(), time.Hour, 3)
	require.NoError(t, err)
	require.Equal(t, CreateChallengeRequired, status1)

	status2, id2, _, err := dao.Create(ctx, "cashout5", "req-c5", debit, credit, false, time.Now(), time.Hour, 3)
	require.NoError(t, err)
	assert.Equal(t, CreateChallengeRequired, status2)
	assert.Equal(t, id1, id2)

	status3, _, _, err := dao.Create(ctx, "cashout5b", "req-c5", debit, credit, false, time.Now(), time.Hour, 3)
	require.NoError(t, err)
	assert.Equal(t, CreateRequestUIDReuse, status3)
}

func TestCashoutDAO_Confirm_FullLifecycle(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	accounts := ledger.NewAccountDAO(s, ledger.NewReservedLogins(nil))
	txs := ledger.NewTransactionDAO(s)
	ch := challenge.NewEngine(s)
	zero := money.Amount{Value: 0, Frac: 0, Currency: "KUDOS"}
	_, err := accounts.Create(context.Background(), &ledger.Account{
		Login:         "bank",
		PasswordHash:  "x",
		Name:          "Bank",
		InternalPayto: "payto://iban/DE00bank",
		Balance:       zero,
		HasDebit:      true,
		MaxDebit:      money.Amount{Value: 1_000_000, Frac: 0, Currency: "KUDOS"},
		TanChannel:    ledger.TanNone,
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)
	dao := NewDAO(s, accounts, txs, ch, nil)

	seedCashoutAccount(t, accounts, "cashout6", money.Amount{Value: 50, Frac: 0, Currency: "KUDOS"})

	debit := money.Amount{Value: 10, Frac: 0, Currency: "KUDOS"}
	credit := money.Amount{Value: 10, Frac: 0, Currency: "USD"}
	ctx := context.Background()
	now := time.Now()

	status, id, challengeID, err := dao.Create(ctx, "cashout6", "req-c6", debit, credit, false, now, time.Hour, 3)
	require.NoError(t, err)
	require.Equal(t, CreateChallengeRequired, status)

	cStatus, err := dao.Confirm(ctx, id, now)
	require.NoError(t, err)
	assert.Equal(t, ConfirmStillPending, cStatus)

	ok, _, _, err := ch.Try(ctx, challengeID, mustCode(ctx, t, s, challengeID), now)
	require.NoError(t, err)
	require.True(t, ok)

	cStatus, err = dao.Confirm(ctx, id, now)
	require.NoError(t, err)
	assert.Equal(t, ConfirmSuccess, cStatus)

	c, err := dao.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, c.Status)
	assert.NotNil(t, c.ConfirmedAt)

	acct, err := accounts.Get(ctx, "cashout6")
	require.NoError(t, err)
	assert.Equal(t, 0, money.Compare(money.Amount{Value: 40, Frac: 0, Currency: "KUDOS"}, acct.Balance))
}

func mustCode(ctx context.Context, t *testing.T, s *store.Store, challengeID int64) string {
	t.Helper()
	var code string
	require.NoError(t, s.Pool().QueryRow(ctx, `SELECT code FROM challenges WHERE id = $1`, challengeID).Scan(&code))
	return code
}

func TestCashoutDAO_Confirm_ExpiredAborts(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	dao, accounts := newDAO(s)

	seedCashoutAccount(t, accounts, "cashout7", money.Amount{Value: 50, Frac: 0, Currency: "KUDOS"})

	debit := money.Amount{Value: 10, Frac: 0, Currency: "KUDOS"}
	credit := money.Amount{Value: 10, Frac: 0, Currency: "USD"}
	ctx := context.Background()
	now := time.Now()

	_, id, _, err := dao.Create(ctx, "cashout7", "req-c7", debit, credit, false, now, time.Minute, 3)
	require.NoError(t, err)

	later := now.Add(time.Hour)
	status, err := dao.Confirm(ctx, id, later)
	require.NoError(t, err)
	assert.Equal(t, ConfirmExpired, status)

	c, err := dao.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, c.Status)
}
