package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"libeufin-bank/internal/auth"
	"libeufin-bank/internal/withdrawal"
)

type createWithdrawalRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleCreateWithdrawal(w http.ResponseWriter, r *http.Request, _ auth.Identity, login string) {
	var req createWithdrawalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, perr := parseAmount(req.Amount)
	if perr != nil {
		writeError(w, perr)
		return
	}
	id := uuid.New()
	status, err := s.withdrawals.Create(r.Context(), login, id, amount, time.Now())
	if err != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}
	switch status {
	case withdrawal.CreateSuccess:
		writeJSON(w, http.StatusOK, struct {
			WithdrawalID string `json:"withdrawal_id"`
			TalerURI     string `json:"taler_withdraw_uri"`
		}{
			WithdrawalID: id.String(),
			TalerURI:     "taler://withdraw/" + s.cfg.Server.BaseURL + "/" + id.String(),
		})
	case withdrawal.CreateExchangeAccount:
		writeError(w, newErr(http.StatusConflict, codeAccountIsExchange, "exchange accounts cannot withdraw"))
	case withdrawal.CreateUnallowedDebit:
		writeError(w, newErr(http.StatusConflict, codeUnallowedDebit, "amount exceeds the account's allowed threshold"))
	default:
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, "unexpected withdrawal creation outcome"))
	}
}

func parseUUIDPath(r *http.Request) (uuid.UUID, *apiError) {
	id, err := uuid.Parse(r.PathValue("uuid"))
	if err != nil {
		return uuid.UUID{}, newErr(http.StatusBadRequest, codeParameterMalformed, "malformed withdrawal id")
	}
	return id, nil
}

func writeWithdrawalView(w http.ResponseWriter, wd *withdrawal.Withdrawal) {
	writeJSON(w, http.StatusOK, struct {
		Status           string `json:"status"`
		Amount           string `json:"amount"`
		SelectionDone    bool   `json:"selection_done"`
		SelectedExchange string `json:"selected_exchange,omitempty"`
		Confirmed        bool   `json:"confirmation_done"`
	}{
		Status:           string(wd.Status),
		Amount:           wd.Amount.String(),
		SelectionDone:    wd.SelectionDone,
		SelectedExchange: derefOr(wd.SelectedExchange, ""),
		Confirmed:        wd.Confirmed,
	})
}

func derefOr(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return *p
}

func (s *Server) handleGetWithdrawal(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	id, perr := parseUUIDPath(r)
	if perr != nil {
		writeError(w, perr)
		return
	}
	longPoll := 0
	if v := r.URL.Query().Get("long_poll_ms"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			longPoll = n
		}
	}
	wd, err := s.withdrawals.Get(r.Context(), id, nil, longPoll)
	if err != nil {
		writeError(w, newErr(http.StatusNotFound, codeNotFound, "no such withdrawal"))
		return
	}
	writeWithdrawalView(w, wd)
}

func (s *Server) handleAbortWithdrawal(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
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

func (s *Server) handleConfirmWithdrawal(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	id, perr := parseUUIDPath(r)
	if perr != nil {
		writeError(w, perr)
		return
	}
	status, _, err := s.withdrawals.Confirm(r.Context(), id, time.Now(), false)
	if err != nil {
		writeError(w, newErr(http.StatusNotFound, codeNotFound, "no such withdrawal"))
		return
	}
	switch status {
	case withdrawal.ConfirmSuccess:
		writeNoContent(w)
	case withdrawal.ConfirmAbortConflict:
		writeError(w, newErr(http.StatusConflict, codeConfirmAbortConflict, "withdrawal was aborted"))
	case withdrawal.ConfirmUnallowedDebit:
		writeError(w, newErr(http.StatusConflict, codeUnallowedDebit, "amount exceeds the account's allowed threshold"))
	case withdrawal.ConfirmChallengeRequired:
		writeError(w, newErr(http.StatusForbidden, codeMissingTanInfo, "a TAN challenge must be solved before confirming"))
	default:
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, "unexpected withdrawal confirmation outcome"))
	}
}
