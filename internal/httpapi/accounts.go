package httpapi

import (
	"errors"
	"net/http"
	"time"

	"libeufin-bank/internal/auth"
	"libeufin-bank/internal/crypto"
	"libeufin-bank/internal/ledger"
	"libeufin-bank/internal/money"
)

type createAccountRequest struct {
	Login           string  `json:"username"`
	Password        string  `json:"password"`
	Name            string  `json:"name"`
	Phone           *string `json:"phone"`
	Email           *string `json:"email"`
	CashoutPayto    *string `json:"cashout_payto_uri"`
	TanChannel      string  `json:"tan_channel"`
	IsPublic        bool    `json:"is_public"`
	IsTalerExchange bool    `json:"is_taler_exchange"`
	InternalPayto   string  `json:"internal_payto_uri"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Login == "" || req.Password == "" || req.InternalPayto == "" {
		writeError(w, newErr(http.StatusBadRequest, codeParameterMissing, "username, password and internal_payto_uri are required"))
		return
	}
	internalPayto, perr := canonicalizePayto(req.InternalPayto)
	if perr != nil {
		writeError(w, perr)
		return
	}
	var cashoutPayto *string
	if req.CashoutPayto != nil {
		canon, perr := canonicalizePayto(*req.CashoutPayto)
		if perr != nil {
			writeError(w, perr)
			return
		}
		cashoutPayto = &canon
	}
	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}
	tanChannel := ledger.TanChannel(req.TanChannel)
	if tanChannel == "" {
		tanChannel = ledger.TanNone
	}
	zero := money.Amount{Value: 0, Frac: 0, Currency: s.cfg.Bank.RegionalCurrency}
	maxDebit, perr := parseAmount(s.cfg.Bank.DefaultMaxDebit)
	if perr != nil {
		maxDebit = zero
	}

	result, err := s.accounts.Create(r.Context(), &ledger.Account{
		Login:           req.Login,
		PasswordHash:    hash,
		Name:            req.Name,
		Phone:           req.Phone,
		Email:           req.Email,
		CashoutPayto:    cashoutPayto,
		TanChannel:      tanChannel,
		IsPublic:        req.IsPublic,
		IsTalerExchange: req.IsTalerExchange,
		InternalPayto:   internalPayto,
		Balance:         zero,
		MaxDebit:        maxDebit,
		CreatedAt:       time.Now(),
	})
	if err != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}
	switch result.Status {
	case ledger.AccountCreated, ledger.AccountIdempotentNoop:
		writeJSON(w, http.StatusOK, struct {
			Login string `json:"username"`
		}{Login: req.Login})
	case ledger.AccountUsernameReuse:
		writeError(w, newErr(http.StatusConflict, codeUsernameReuse, "username already taken"))
	case ledger.AccountPaytoReuse:
		writeError(w, newErr(http.StatusConflict, codePaytoReuse, "internal payto already bound to another account"))
	case ledger.AccountReservedUsernameConflict:
		writeError(w, newErr(http.StatusConflict, codeReservedUsernameConflict, "username is reserved"))
	default:
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, "unexpected account creation outcome"))
	}
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request, _ auth.Identity, login string) {
	a, err := s.accounts.Get(r.Context(), login)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		writeError(w, newErr(http.StatusNotFound, codeNotFound, "no such account"))
		return
	}
	if err != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, toAccountView(a))
}

type patchAccountRequest struct {
	MaxDebit   *string `json:"debit_threshold"`
	TanChannel *string `json:"tan_channel"`
	Password   *string `json:"password"`
}

func (s *Server) handlePatchAccount(w http.ResponseWriter, r *http.Request, id auth.Identity, login string) {
	var req patchAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if (req.MaxDebit != nil || req.TanChannel != nil) && !id.IsAdmin {
		writeError(w, newErr(http.StatusForbidden, codeNonAdminPatchForbidden, "only admin may change debit threshold or tan channel"))
		return
	}

	if req.Password != nil {
		if err := s.accounts.SetPassword(r.Context(), login, *req.Password); err != nil {
			writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
			return
		}
	}

	var maxDebit *money.Amount
	if req.MaxDebit != nil {
		amt, perr := parseAmount(*req.MaxDebit)
		if perr != nil {
			writeError(w, perr)
			return
		}
		maxDebit = &amt
	}
	var tanChannel *ledger.TanChannel
	if req.TanChannel != nil {
		tc := ledger.TanChannel(*req.TanChannel)
		tanChannel = &tc
	}
	if maxDebit != nil || tanChannel != nil {
		if tanChannel != nil {
			if err := s.challenges.InvalidateForAccount(r.Context(), login, time.Now()); err != nil {
				writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
				return
			}
		}
		if _, err := s.accounts.AdminPatch(r.Context(), login, maxDebit, tanChannel); err != nil {
			if errors.Is(err, ledger.ErrAccountNotFound) {
				writeError(w, newErr(http.StatusNotFound, codeNotFound, "no such account"))
				return
			}
			writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
			return
		}
	}
	writeNoContent(w)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request, _ auth.Identity, login string) {
	result, err := s.accounts.Delete(r.Context(), login)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		writeError(w, newErr(http.StatusNotFound, codeNotFound, "no such account"))
		return
	}
	if err != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}
	switch result.Status {
	case ledger.AccountCreated:
		writeNoContent(w)
	case ledger.AccountBalanceNotZero:
		writeError(w, newErr(http.StatusConflict, codeBalanceNotZero, "account balance must be zero before deletion"))
	case ledger.AccountReservedUsernameConflict:
		writeError(w, newErr(http.StatusForbidden, codeForbidden, "reserved accounts cannot be deleted"))
	default:
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, "unexpected account deletion outcome"))
	}
}
