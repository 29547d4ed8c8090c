package exchange

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"libeufin-bank/internal/money"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrBadConversion is returned when a conversion would yield a negative
// credit or the debit amount is below the configured minimum.
var ErrBadConversion = errors.New("bad conversion")

// ErrNotImplemented is returned by conversion endpoints when no rate
// table has been installed.
var ErrNotImplemented = errors.New("conversion not implemented")

// RateTable holds the live conversion configuration and a small LRU
// cache of recent forward/inverse computations, so repeated quotes for
// the same amount (a wallet polling a quote endpoint) don't redo the
// rounding arithmetic. Hot-reloadable: Reload atomically swaps both the
// config and the cache in one atomic swap.
type RateTable struct {
	mu     sync.RWMutex
	cfg    *RatesConfig
	cache  *lru.Cache[string, money.Amount]
	source RateSource
}

// NewRateTable builds an empty, disabled RateTable. Call Reload to
// install a configuration before use.
func NewRateTable(source RateSource) *RateTable {
	c, _ := lru.New[string, money.Amount](1024)
	return &RateTable{cache: c, source: source}
}

// Reload reloads the configuration from the table's RateSource.
func (t *RateTable) Reload() error {
	cfg, err := t.source.Load()
	if err != nil {
		return err
	}
	c, _ := lru.New[string, money.Amount](1024)
	t.mu.Lock()
	t.cfg = &cfg
	t.cache = c
	t.mu.Unlock()
	return nil
}

// Enabled reports whether a rate table has been loaded.
func (t *RateTable) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg != nil
}

func (t *RateTable) snapshot() (RatesConfig, *lru.Cache[string, money.Amount], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.cfg == nil {
		return RatesConfig{}, nil, false
	}
	return *t.cfg, t.cache, true
}

func convertForward(debit money.Amount, dc DirectionConfig, creditCurrency string) (money.Amount, error) {
	if money.Compare(debit, dc.MinAmount) < 0 {
		return money.Amount{}, ErrBadConversion
	}
	rawUnits := float64(toBaseUnits(debit)) * dc.Ratio
	if rawUnits < 0 || math.IsNaN(rawUnits) || math.IsInf(rawUnits, 0) {
		return money.Amount{}, ErrBadConversion
	}
	raw := fromBaseUnits(uint64(math.Round(rawUnits)), creditCurrency)
	rounded, err := roundToTiny(raw, dc.TinyAmount, dc.RoundingMode)
	if err != nil {
		return money.Amount{}, err
	}
	credit, err := money.Sub(rounded, dc.Fee)
	if err != nil {
		// fee exceeds the rounded amount: negative credit
		return money.Amount{}, ErrBadConversion
	}
	return credit, nil
}

func convertInverse(credit money.Amount, dc DirectionConfig, debitCurrency string) (money.Amount, error) {
	withFee, err := money.Add(credit, dc.Fee)
	if err != nil {
		return money.Amount{}, err
	}
	if dc.Ratio == 0 {
		return money.Amount{}, ErrBadConversion
	}
	rawUnits := float64(toBaseUnits(withFee)) / dc.Ratio
	if rawUnits < 0 || math.IsNaN(rawUnits) || math.IsInf(rawUnits, 0) {
		return money.Amount{}, ErrBadConversion
	}
	debit := fromBaseUnits(uint64(math.Round(rawUnits)), debitCurrency)
	if money.Compare(debit, dc.MinAmount) < 0 {
		return money.Amount{}, ErrBadConversion
	}
	return debit, nil
}

// ForwardCashout computes the fiat credit for a regional debit amount.
func (t *RateTable) ForwardCashout(debit money.Amount, creditCurrency string) (money.Amount, error) {
	cfg, cache, ok := t.snapshot()
	if !ok {
		return money.Amount{}, ErrNotImplemented
	}
	key := "cashout-fwd:" + debit.String()
	if v, ok := cache.Get(key); ok {
		return v, nil
	}
	credit, err := convertForward(debit, cfg.Cashout, creditCurrency)
	if err != nil {
		return money.Amount{}, err
	}
	cache.Add(key, credit)
	return credit, nil
}

// InverseCashout computes the regional debit amount required to
// produce the given fiat credit.
func (t *RateTable) InverseCashout(credit money.Amount, debitCurrency string) (money.Amount, error) {
	cfg, cache, ok := t.snapshot()
	if !ok {
		return money.Amount{}, ErrNotImplemented
	}
	key := "cashout-inv:" + credit.String()
	if v, ok := cache.Get(key); ok {
		return v, nil
	}
	debit, err := convertInverse(credit, cfg.Cashout, debitCurrency)
	if err != nil {
		return money.Amount{}, err
	}
	cache.Add(key, debit)
	return debit, nil
}

// ForwardCashin computes the regional credit for a fiat debit amount.
func (t *RateTable) ForwardCashin(debit money.Amount, creditCurrency string) (money.Amount, error) {
	cfg, cache, ok := t.snapshot()
	if !ok {
		return money.Amount{}, ErrNotImplemented
	}
	key := "cashin-fwd:" + debit.String()
	if v, ok := cache.Get(key); ok {
		return v, nil
	}
	credit, err := convertForward(debit, cfg.Cashin, creditCurrency)
	if err != nil {
		return money.Amount{}, err
	}
	cache.Add(key, credit)
	return credit, nil
}

// InverseCashin computes the fiat debit amount required to produce the
// given regional credit.
func (t *RateTable) InverseCashin(credit money.Amount, debitCurrency string) (money.Amount, error) {
	cfg, cache, ok := t.snapshot()
	if !ok {
		return money.Amount{}, ErrNotImplemented
	}
	key := "cashin-inv:" + credit.String()
	if v, ok := cache.Get(key); ok {
		return v, nil
	}
	debit, err := convertInverse(credit, cfg.Cashin, debitCurrency)
	if err != nil {
		return money.Amount{}, err
	}
	cache.Add(key, debit)
	return debit, nil
}

// ValidateCashoutConversion confirms amountCredit is what ForwardCashout
// would produce for amountDebit, per internal/cashout's BadConversion
// precondition.
func (t *RateTable) ValidateCashoutConversion(amountDebit, amountCredit money.Amount) error {
	expected, err := t.ForwardCashout(amountDebit, amountCredit.Currency)
	if err != nil {
		return err
	}
	if money.Compare(expected, amountCredit) != 0 {
		return fmt.Errorf("%w: expected %s, got %s", ErrBadConversion, expected, amountCredit)
	}
	return nil
}
