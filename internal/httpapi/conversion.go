package httpapi

import (
	"errors"
	"net/http"

	"libeufin-bank/internal/exchange"
	"libeufin-bank/internal/money"
)

func (s *Server) handleConversionConfig(w http.ResponseWriter, r *http.Request) {
	if s.rates == nil || !s.rates.Enabled() {
		writeError(w, newErr(http.StatusNotImplemented, codeNotImplemented, "no conversion rate table configured"))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		RegionalCurrency string `json:"regional_currency"`
		FiatCurrency     string `json:"fiat_currency"`
	}{
		RegionalCurrency: s.cfg.Bank.RegionalCurrency,
		FiatCurrency:     s.cfg.Bank.FiatCurrency,
	})
}

func (s *Server) handleCashinRate(w http.ResponseWriter, r *http.Request) {
	s.quote(w, r, true)
}

func (s *Server) handleCashoutRate(w http.ResponseWriter, r *http.Request) {
	s.quote(w, r, false)
}

// quote serves the forward/inverse cash-in or cash-out quote: exactly
// one of amount_debit/amount_credit must be given.
func (s *Server) quote(w http.ResponseWriter, r *http.Request, cashin bool) {
	if s.rates == nil {
		writeError(w, newErr(http.StatusNotImplemented, codeNotImplemented, "no conversion rate table configured"))
		return
	}
	debitStr := r.URL.Query().Get("amount_debit")
	creditStr := r.URL.Query().Get("amount_credit")

	switch {
	case debitStr != "" && creditStr == "":
		debit, perr := parseAmount(debitStr)
		if perr != nil {
			writeError(w, perr)
			return
		}
		creditCurrency := s.cfg.Bank.FiatCurrency
		if cashin {
			creditCurrency = s.cfg.Bank.RegionalCurrency
		}
		forward := s.rates.ForwardCashout
		if cashin {
			forward = s.rates.ForwardCashin
		}
		credit, err := forward(debit, creditCurrency)
		writeQuote(w, debit, credit, err)
	case creditStr != "" && debitStr == "":
		credit, perr := parseAmount(creditStr)
		if perr != nil {
			writeError(w, perr)
			return
		}
		debitCurrency := s.cfg.Bank.RegionalCurrency
		if cashin {
			debitCurrency = s.cfg.Bank.FiatCurrency
		}
		inverse := s.rates.InverseCashout
		if cashin {
			inverse = s.rates.InverseCashin
		}
		debit, err := inverse(credit, debitCurrency)
		writeQuote(w, debit, credit, err)
	default:
		writeError(w, newErr(http.StatusBadRequest, codeParameterMissing, "exactly one of amount_debit or amount_credit is required"))
	}
}

func writeQuote(w http.ResponseWriter, debit, credit money.Amount, err error) {
	if errors.Is(err, exchange.ErrBadConversion) {
		writeError(w, newErr(http.StatusBadRequest, codeBadConversion, err.Error()))
		return
	}
	if errors.Is(err, exchange.ErrNotImplemented) {
		writeError(w, newErr(http.StatusNotImplemented, codeNotImplemented, err.Error()))
		return
	}
	if err != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		AmountDebit  string `json:"amount_debit"`
		AmountCredit string `json:"amount_credit"`
	}{
		AmountDebit:  debit.String(),
		AmountCredit: credit.String(),
	})
}
