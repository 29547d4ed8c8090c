package httpapi

import (
	"net/http"

	"libeufin-bank/internal/withdrawal"
)

// The taler-integration endpoints are the wallet-facing half of the
// withdrawal FSM: unauthenticated, reachable only with the withdrawal
// UUID the bank handed the wallet out of band.

func (s *Server) handleWalletGetWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, perr := parseUUIDPath(r)
	if perr != nil {
		writeError(w, perr)
		return
	}
	wd, err := s.withdrawals.Get(r.Context(), id, nil, 0)
	if err != nil {
		writeError(w, newErr(http.StatusNotFound, codeNotFound, "no such withdrawal"))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Amount        string `json:"amount"`
		SelectionDone bool   `json:"selection_done"`
		TransferDone  bool   `json:"transfer_done"`
		Aborted       bool   `json:"aborted"`
	}{
		Amount:        wd.Amount.String(),
		SelectionDone: wd.SelectionDone,
		TransferDone:  wd.Confirmed,
		Aborted:       wd.Status == withdrawal.StatusAborted,
	})
}

type selectWithdrawalRequest struct {
	ExchangePayto string `json:"selected_exchange"`
	ReservePub    string `json:"reserve_pub"`
}

func (s *Server) handleWalletSelectWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, perr := parseUUIDPath(r)
	if perr != nil {
		writeError(w, perr)
		return
	}
	var req selectWithdrawalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	exchangePayto, perr := canonicalizePayto(req.ExchangePayto)
	if perr != nil {
		writeError(w, perr)
		return
	}
	status, err := s.withdrawals.SetDetails(r.Context(), id, exchangePayto, req.ReservePub)
	if err != nil {
		writeError(w, newErr(http.StatusNotFound, codeNotFound, "no such withdrawal"))
		return
	}
	switch status {
	case withdrawal.SetDetailsOK, withdrawal.SetDetailsIdempotentNoop:
		writeNoContent(w)
	case withdrawal.SetDetailsReserveConflict:
		writeError(w, newErr(http.StatusConflict, codeReserveSelectionConflict, "withdrawal already selected with different details"))
	case withdrawal.SetDetailsUnknownExchange:
		writeError(w, newErr(http.StatusNotFound, codeUnknownCreditor, "unknown exchange account"))
	case withdrawal.SetDetailsNotExchange:
		writeError(w, newErr(http.StatusConflict, codeAccountIsNotExchange, "selected account is not an exchange"))
	default:
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, "unexpected selection outcome"))
	}
}

func (s *Server) handleWalletAbortWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, perr := parseUUIDPath(r)
	if perr != nil {
		writeError(w, perr)
		return
	}
	status, err := s.withdrawals.Abort(r.Context(), id)
	if err != nil {
		writeError(w, newErr(http.StatusNotFound, codeNotFound, "no such withdrawal"))
		return
	}
	if status == withdrawal.AbortConfirmConflict {
		writeError(w, newErr(http.StatusConflict, codeAbortConfirmConflict, "withdrawal already confirmed"))
		return
	}
	writeNoContent(w)
}
