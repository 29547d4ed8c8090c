package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"libeufin-bank/internal/auth"
	"libeufin-bank/internal/ledger"
)

type createTxRequest struct {
	Payto      string  `json:"paytoUri"`
	Amount     string  `json:"amount"`
	RequestUID *string `json:"request_uid"`
}

func (s *Server) handleCreateTx(w http.ResponseWriter, r *http.Request, _ auth.Identity, login string) {
	var req createTxRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	creditorPayto, subject, paytoAmount, perr := splitPaytoSubject(req.Payto)
	if perr != nil {
		writeError(w, perr)
		return
	}
	creditorAcct, err := s.accounts.GetByPayto(r.Context(), creditorPayto)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		writeError(w, newErr(http.StatusNotFound, codeUnknownCreditor, "unknown creditor payto"))
		return
	}
	if err != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}
	amountStr := req.Amount
	if paytoAmount != "" {
		amountStr = paytoAmount
	}
	amount, perr := parseAmount(amountStr)
	if perr != nil {
		writeError(w, perr)
		return
	}
	result, err := s.txs.Create(r.Context(), login, creditorAcct.Login, subject, amount, time.Now(), false, req.RequestUID)
	if err != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}
	switch result.Status {
	case ledger.TxPosted:
		writeJSON(w, http.StatusOK, struct {
			RowID int64 `json:"row_id"`
		}{RowID: result.RowID})
	case ledger.TxChallengeRequired:
		writeAccepted(w, result.ChallengeID)
	case ledger.TxCurrencyMismatch:
		writeError(w, newErr(http.StatusBadRequest, codeCurrencyMismatch, "amount currency does not match account currency"))
	case ledger.TxSameAccount:
		writeError(w, newErr(http.StatusConflict, codeSameAccount, "debtor and creditor must differ"))
	case ledger.TxAdminCreditor:
		writeError(w, newErr(http.StatusBadRequest, codeAdminCreditor, "only admin may credit admin"))
	case ledger.TxUnallowedDebit:
		writeError(w, newErr(http.StatusConflict, codeUnallowedDebit, "debit exceeds the account's allowed threshold"))
	case ledger.TxUnknownAccount:
		writeError(w, newErr(http.StatusNotFound, codeUnknownAccount, "unknown counterparty account"))
	case ledger.TxRequestUIDReused:
		writeError(w, newErr(http.StatusConflict, codeRequestUIDReused, "request_uid already used with a different payload"))
	default:
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, "unexpected transaction outcome"))
	}
}

func (s *Server) handleTxHistory(w http.ResponseWriter, r *http.Request, _ auth.Identity, login string) {
	delta := 20
	if v := r.URL.Query().Get("delta"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			delta = n
		}
	}
	var start int64
	if v := r.URL.Query().Get("start"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			start = n
		}
	}
	longPoll := 0
	if v := r.URL.Query().Get("long_poll_ms"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			longPoll = n
		}
	}
	rows, err := s.txs.History(r.Context(), login, delta, start, longPoll)
	if err != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}
	views := make([]txRowView, 0, len(rows))
	for _, row := range rows {
		views = append(views, toTxRowView(row))
	}
	writeJSON(w, http.StatusOK, struct {
		Transactions []txRowView `json:"transactions"`
	}{Transactions: views})
}

func (s *Server) handleGetTx(w http.ResponseWriter, r *http.Request, _ auth.Identity, login string) {
	rowID, err := strconv.ParseInt(r.PathValue("row_id"), 10, 64)
	if err != nil {
		writeError(w, newErr(http.StatusBadRequest, codeParameterMalformed, "row_id must be numeric"))
		return
	}
	rows, herr := s.txs.History(r.Context(), login, 1, rowID-1, 0)
	if herr != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, herr.Error()))
		return
	}
	for _, row := range rows {
		if row.RowID == rowID {
			writeJSON(w, http.StatusOK, toTxRowView(row))
			return
		}
	}
	writeError(w, newErr(http.StatusNotFound, codeTransactionNotFound, "no such transaction"))
}
