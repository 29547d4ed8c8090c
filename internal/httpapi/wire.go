package httpapi

import (
	"net/http"

	"libeufin-bank/internal/auth"
	"libeufin-bank/internal/talerwire"
)

type wireTransferRequest struct {
	RequestUID      string `json:"request_uid"`
	Amount          string `json:"amount"`
	ExchangeBaseURL string `json:"exchange_base_url"`
	Wtid            string `json:"wtid"`
	CreditAccount   string `json:"credit_account"`
}

func (s *Server) handleWireTransfer(w http.ResponseWriter, r *http.Request, _ auth.Identity, login string) {
	var req wireTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, perr := parseAmount(req.Amount)
	if perr != nil {
		writeError(w, perr)
		return
	}
	creditorPayto, _, _, perr := splitPaytoSubject(req.CreditAccount)
	if perr != nil {
		writeError(w, perr)
		return
	}
	creditorAcct, err := s.accounts.GetByPayto(r.Context(), creditorPayto)
	if err != nil {
		writeError(w, newErr(http.StatusNotFound, codeUnknownCreditor, "unknown credit_account"))
		return
	}
	status, rowID, err := s.wire.Transfer(r.Context(), login, req.RequestUID, req.Wtid, req.ExchangeBaseURL, amount, creditorAcct.Login)
	if err != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}
	switch status {
	case talerwire.TransferSuccess:
		writeJSON(w, http.StatusOK, struct {
			RowID int64 `json:"row_id"`
		}{RowID: rowID})
	case talerwire.TransferRequestUIDReuse:
		writeError(w, newErr(http.StatusConflict, codeTransferRequestUIDReused, "request_uid already used with different transfer details"))
	case talerwire.TransferUnknownCreditor:
		writeError(w, newErr(http.StatusNotFound, codeUnknownCreditor, "unknown creditor account"))
	case talerwire.TransferExchangeCreditor:
		writeError(w, newErr(http.StatusConflict, codeAccountIsExchange, "creditor cannot be another exchange account"))
	case talerwire.TransferBalanceInsufficient:
		writeError(w, newErr(http.StatusConflict, codeUnallowedDebit, "transfer exceeds the exchange account's balance"))
	default:
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, "unexpected transfer outcome"))
	}
}

type addIncomingRequest struct {
	ReservePub   string `json:"reserve_pub"`
	Amount       string `json:"amount"`
	DebitAccount string `json:"debit_account"`
}

func (s *Server) handleWireAddIncoming(w http.ResponseWriter, r *http.Request, _ auth.Identity, login string) {
	var req addIncomingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, perr := parseAmount(req.Amount)
	if perr != nil {
		writeError(w, perr)
		return
	}
	debtorPayto, _, _, perr := splitPaytoSubject(req.DebitAccount)
	if perr != nil {
		writeError(w, perr)
		return
	}
	debtorAcct, err := s.accounts.GetByPayto(r.Context(), debtorPayto)
	if err != nil {
		writeError(w, newErr(http.StatusNotFound, codeUnknownDebtor, "unknown debit_account"))
		return
	}
	status, rowID, err := s.wire.AddIncoming(r.Context(), login, req.ReservePub, amount, debtorAcct.Login)
	if err != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}
	switch status {
	case talerwire.AddIncomingSuccess:
		writeJSON(w, http.StatusOK, struct {
			RowID int64 `json:"row_id"`
		}{RowID: rowID})
	case talerwire.AddIncomingReservePubReuse:
		writeError(w, newErr(http.StatusConflict, codeDuplicateReservePubSubj, "reserve_pub already used"))
	case talerwire.AddIncomingUnknownDebtor:
		writeError(w, newErr(http.StatusNotFound, codeUnknownDebtor, "unknown debit_account"))
	case talerwire.AddIncomingExchangeDebtor:
		writeError(w, newErr(http.StatusConflict, codeAccountIsExchange, "debtor cannot be another exchange account"))
	case talerwire.AddIncomingBalanceInsufficient:
		writeError(w, newErr(http.StatusConflict, codeUnallowedDebit, "debtor cannot cover this amount"))
	default:
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, "unexpected add-incoming outcome"))
	}
}

func (s *Server) handleWireHistoryIncoming(w http.ResponseWriter, r *http.Request, id auth.Identity, login string) {
	s.wireHistory(w, r, login, "incoming")
}

func (s *Server) handleWireHistoryOutgoing(w http.ResponseWriter, r *http.Request, id auth.Identity, login string) {
	s.wireHistory(w, r, login, "outgoing")
}

func (s *Server) wireHistory(w http.ResponseWriter, r *http.Request, login, kind string) {
	rows, err := s.txs.History(r.Context(), login, 1000, 0, 0)
	if err != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}
	var views []txRowView
	for _, row := range rows {
		if string(row.Kind) == kind {
			views = append(views, toTxRowView(row))
		}
	}
	writeJSON(w, http.StatusOK, struct {
		Transfers []txRowView `json:"transfers"`
	}{Transfers: views})
}
