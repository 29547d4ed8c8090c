package exchange

import "libeufin-bank/internal/money"

// roundToTiny rounds amt to the nearest multiple of tiny (both amounts
// in the same currency's base units) under mode. "nearest" uses
// round-half-to-even (banker's rounding) at the tiny_amount granularity
// — the spec leaves the midpoint behavior unspecified and suggests this
// choice (see SPEC_FULL.md Open Question decision #2).
func roundToTiny(amt, tiny money.Amount, mode RoundingMode) (money.Amount, error) {
	if tiny.IsZero() {
		return amt, nil
	}
	units := toBaseUnits(amt)
	tinyUnits := toBaseUnits(tiny)
	if tinyUnits == 0 {
		return amt, nil
	}

	quotient := units / tinyUnits
	remainder := units % tinyUnits

	switch mode {
	case RoundZero:
		// truncate toward zero: quotient already is the floor division
	case RoundUp:
		if remainder != 0 {
			quotient++
		}
	case RoundNearest:
		twice := remainder * 2
		switch {
		case twice > tinyUnits:
			quotient++
		case twice == tinyUnits:
			if quotient%2 != 0 {
				quotient++
			}
		}
	}

	return fromBaseUnits(quotient, amt.Currency), nil
}

func toBaseUnits(a money.Amount) uint64 {
	return a.Value*money.FracUnit + uint64(a.Frac)
}

func fromBaseUnits(units uint64, currency string) money.Amount {
	return money.Amount{
		Value:    units / money.FracUnit,
		Frac:     uint32(units % money.FracUnit),
		Currency: currency,
	}
}
