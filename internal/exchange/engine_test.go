package exchange

import (
	"testing"

	"libeufin-bank/internal/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.Parse(s, money.EIGHT)
	require.NoError(t, err)
	return a
}

func testConfig() RatesConfig {
	return RatesConfig{
		Cashout: DirectionConfig{
			Ratio:        1.0,
			Fee:          money.Amount{Value: 0, Frac: 0, Currency: "USD"},
			TinyAmount:   money.Amount{Value: 0, Frac: 1_000_000, Currency: "USD"}, // 0.01
			RoundingMode: RoundNearest,
			MinAmount:    money.Amount{Value: 1, Frac: 0, Currency: "KUDOS"},
		},
		Cashin: DirectionConfig{
			Ratio:        1.0,
			Fee:          money.Amount{Value: 0, Frac: 0, Currency: "KUDOS"},
			TinyAmount:   money.Amount{Value: 0, Frac: 1_000_000, Currency: "KUDOS"},
			RoundingMode: RoundNearest,
			MinAmount:    money.Amount{Value: 1, Frac: 0, Currency: "USD"},
		},
	}
}

func TestRateTable_NotEnabledUntilReload(t *testing.T) {
	rt := NewRateTable(NewStaticSource(testConfig()))
	assert.False(t, rt.Enabled())
	require.NoError(t, rt.Reload())
	assert.True(t, rt.Enabled())
}

func TestForwardCashout_BelowMin_BadConversion(t *testing.T) {
	rt := NewRateTable(NewStaticSource(testConfig()))
	require.NoError(t, rt.Reload())

	debit := mustParse(t, "KUDOS:0.5")
	_, err := rt.ForwardCashout(debit, "USD")
	assert.ErrorIs(t, err, ErrBadConversion)
}

func TestForwardCashout_NotImplementedWhenDisabled(t *testing.T) {
	rt := NewRateTable(NewStaticSource(testConfig()))
	_, err := rt.ForwardCashout(mustParse(t, "KUDOS:10"), "USD")
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestForwardInverseCashout_RoundTrip(t *testing.T) {
	rt := NewRateTable(NewStaticSource(testConfig()))
	require.NoError(t, rt.Reload())

	debit := mustParse(t, "KUDOS:10")
	credit, err := rt.ForwardCashout(debit, "USD")
	require.NoError(t, err)

	backToDebit, err := rt.InverseCashout(credit, "KUDOS")
	require.NoError(t, err)
	assert.Equal(t, 0, money.Compare(debit, backToDebit))
}

func TestValidateCashoutConversion(t *testing.T) {
	rt := NewRateTable(NewStaticSource(testConfig()))
	require.NoError(t, rt.Reload())

	debit := mustParse(t, "KUDOS:10")
	credit, err := rt.ForwardCashout(debit, "USD")
	require.NoError(t, err)

	assert.NoError(t, rt.ValidateCashoutConversion(debit, credit))

	wrong := mustParse(t, "USD:999")
	assert.ErrorIs(t, rt.ValidateCashoutConversion(debit, wrong), ErrBadConversion)
}

func TestRoundToTiny_NearestBankersRounding(t *testing.T) {
	tiny := money.Amount{Value: 0, Frac: 10_000_000, Currency: "USD"} // 0.1
	cur := "USD"

	// 0.25 rounds to 0.2 (even) under banker's rounding at 0.1 granularity.
	amt := money.Amount{Value: 0, Frac: 25_000_000, Currency: cur}
	rounded, err := roundToTiny(amt, tiny, RoundNearest)
	require.NoError(t, err)
	assert.Equal(t, uint32(20_000_000), rounded.Frac)

	// 0.35 rounds to 0.4 (even) under banker's rounding at 0.1 granularity.
	amt2 := money.Amount{Value: 0, Frac: 35_000_000, Currency: cur}
	rounded2, err := roundToTiny(amt2, tiny, RoundNearest)
	require.NoError(t, err)
	assert.Equal(t, uint32(40_000_000), rounded2.Frac)
}

func TestRoundToTiny_Zero(t *testing.T) {
	tiny := money.Amount{Value: 0, Frac: 10_000_000, Currency: "USD"}
	amt := money.Amount{Value: 0, Frac: 19_000_000, Currency: "USD"}
	rounded, err := roundToTiny(amt, tiny, RoundZero)
	require.NoError(t, err)
	assert.Equal(t, uint32(10_000_000), rounded.Frac)
}

func TestRoundToTiny_Up(t *testing.T) {
	tiny := money.Amount{Value: 0, Frac: 10_000_000, Currency: "USD"}
	amt := money.Amount{Value: 0, Frac: 11_000_000, Currency: "USD"}
	rounded, err := roundToTiny(amt, tiny, RoundUp)
	require.NoError(t, err)
	assert.Equal(t, uint32(20_000_000), rounded.Frac)
}
