//go:build integration

package stats

import (
	"context"
	"testing"
	"time"

	"libeufin-bank/internal/ledger"
	"libeufin-bank/internal/money"
	"libeufin-bank/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	ts := time.Date(2026, 3, 15, 14, 32, 7, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC), Truncate(FrameHour, ts))
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), Truncate(FrameDay, ts))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Truncate(FrameMonth, ts))
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Truncate(FrameYear, ts))
}

func TestRecordAndQuery(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)

	zero := money.Amount{Value: 0, Frac: 0, Currency: "KUDOS"}
	accounts := ledger.NewAccountDAO(s, ledger.NewReservedLogins(nil))
	_, err := accounts.Create(context.Background(), &ledger.Account{
		Login:         "statsacct",
		PasswordHash:  "x",
		Name:          "Stats",
		InternalPayto: "payto://iban/DE00statsacct",
		Balance:       zero,
		MaxDebit:      zero,
		TanChannel:    ledger.TanNone,
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	amount := money.Amount{Value: 5, Frac: 0, Currency: "KUDOS"}

	err = s.Serializable(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		return Record(ctx, tx, MetricCashout, now, amount, nil)
	})
	require.NoError(t, err)
	err = s.Serializable(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		return Record(ctx, tx, MetricCashout, now.Add(time.Minute), amount, nil)
	})
	require.NoError(t, err)

	q := NewQuerier(s.Pool())
	counters, err := q.CurrentFrame(context.Background(), FrameHour, now)
	require.NoError(t, err)
	require.Len(t, counters, 1)
	assert.Equal(t, int64(2), counters[0].Count)
	assert.Equal(t, int64(10), counters[0].VolumeRegionalValue)
}
