package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"libeufin-bank/internal/auth"
	"libeufin-bank/internal/cashout"
)

type createCashoutRequest struct {
	RequestUID   string `json:"request_uid"`
	AmountDebit  string `json:"amount_debit"`
	AmountCredit string `json:"amount_credit"`
}

func (s *Server) handleCreateCashout(w http.ResponseWriter, r *http.Request, _ auth.Identity, login string) {
	var req createCashoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	debit, perr := parseAmount(req.AmountDebit)
	if perr != nil {
		writeError(w, perr)
		return
	}
	credit, perr := parseAmount(req.AmountCredit)
	if perr != nil {
		writeError(w, perr)
		return
	}
	status, id, challengeID, err := s.cashouts.Create(r.Context(), login, req.RequestUID, debit, credit, false,
		time.Now(), s.cfg.Bank.ChallengeValidity, s.cfg.Bank.ChallengeRetries)
	if err != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}
	switch status {
	case cashout.CreateSuccess:
		writeJSON(w, http.StatusOK, struct {
			CashoutID int64 `json:"cashout_id"`
		}{CashoutID: id})
	case cashout.CreateChallengeRequired:
		writeJSON(w, http.StatusAccepted, struct {
			CashoutID   int64 `json:"cashout_id"`
			ChallengeID int64 `json:"challenge_id"`
		}{CashoutID: id, ChallengeID: challengeID})
	case cashout.CreateRequestUIDReuse:
		writeError(w, newErr(http.StatusConflict, codeRequestUIDReused, "request_uid already used by another account"))
	case cashout.CreateBadConversion:
		writeError(w, newErr(http.StatusBadRequest, codeBadConversion, "amount_credit does not match the current conversion rate"))
	case cashout.CreateUnallowedDebit:
		writeError(w, newErr(http.StatusConflict, codeUnallowedDebit, "amount exceeds the account's allowed threshold"))
	case cashout.CreateMissingInfo:
		writeError(w, newErr(http.StatusBadRequest, codeMissingTanInfo, "account is missing cashout payto or tan channel"))
	default:
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, "unexpected cashout creation outcome"))
	}
}

func parseCashoutID(r *http.Request) (int64, *apiError) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, newErr(http.StatusBadRequest, codeParameterMalformed, "malformed cashout id")
	}
	return id, nil
}

func (s *Server) handleGetCashout(w http.ResponseWriter, r *http.Request, _ auth.Identity, _ string) {
	id, perr := parseCashoutID(r)
	if perr != nil {
		writeError(w, perr)
		return
	}
	c, err := s.cashouts.Get(r.Context(), id)
	if err != nil {
		writeError(w, newErr(http.StatusNotFound, codeNotFound, "no such cashout"))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status       string `json:"status"`
		AmountDebit  string `json:"amount_debit"`
		AmountCredit string `json:"amount_credit"`
	}{
		Status:       string(c.Status),
		AmountDebit:  c.AmountDebit.String(),
		AmountCredit: c.AmountCredit.String(),
	})
}

func (s *Server) handleConfirmCashout(w http.ResponseWriter, r *http.Request, _ auth.Identity, _ string) {
	id, perr := parseCashoutID(r)
	if perr != nil {
		writeError(w, perr)
		return
	}
	status, err := s.cashouts.Confirm(r.Context(), id, time.Now())
	if err != nil {
		writeError(w, newErr(http.StatusNotFound, codeNotFound, "no such cashout"))
		return
	}
	switch status {
	case cashout.ConfirmSuccess:
		writeNoContent(w)
	case cashout.ConfirmStillPending:
		writeError(w, newErr(http.StatusConflict, codeConfirmIncomplete, "the attached TAN challenge has not been solved yet"))
	case cashout.ConfirmAbortConflict:
		writeError(w, newErr(http.StatusConflict, codeConfirmAbortConflict, "cashout was aborted"))
	case cashout.ConfirmExpired:
		writeError(w, newErr(http.StatusGone, codeTanChallengeExpired, "the attached TAN challenge expired"))
	default:
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, "unexpected cashout confirmation outcome"))
	}
}

func (s *Server) handleAbortCashout(w http.ResponseWriter, r *http.Request, _ auth.Identity, _ string) {
	writeError(w, newErr(http.StatusNotImplemented, codeNotImplemented, "cashout abort is not yet supported"))
}
