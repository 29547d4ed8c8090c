package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"libeufin-bank/internal/auth"
	"libeufin-bank/internal/ledger"
	tanqueue "libeufin-bank/internal/queue"
)

// tanStreamName is the Redis stream the out-of-process TAN delivery
// script consumes from.
const tanStreamName = "bank:tan-send"

func parseChallengeID(r *http.Request) (int64, *apiError) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, newErr(http.StatusBadRequest, codeParameterMalformed, "malformed challenge id")
	}
	return id, nil
}

// handleSendChallenge triggers (or re-triggers, inside the resend
// window) TAN delivery for an already-created challenge, dispatching
// the send job onto the Redis stream for the external delivery script.
func (s *Server) handleSendChallenge(w http.ResponseWriter, r *http.Request, _ auth.Identity, login string) {
	id, perr := parseChallengeID(r)
	if perr != nil {
		writeError(w, perr)
		return
	}
	acct, err := s.accounts.Get(r.Context(), login)
	if err != nil {
		writeError(w, newErr(http.StatusNotFound, codeNotFound, "no such account"))
		return
	}
	if acct.TanChannel == ledger.TanNone {
		writeError(w, newErr(http.StatusBadRequest, codeTanChannelNotSupported, "account has no TAN channel configured"))
		return
	}
	now := time.Now()
	code, err := s.challenges.Resend(r.Context(), id, now, s.cfg.Bank.ChallengeValidity, s.cfg.Bank.ChallengeResend, s.cfg.Bank.ChallengeRetries)
	if err != nil {
		writeError(w, newErr(http.StatusNotFound, codeChallengeNotFound, "no such challenge"))
		return
	}
	if err := s.dispatchTanSend(r.Context(), login, string(acct.TanChannel), code); err != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}
	if err := s.challenges.MarkSent(r.Context(), id, now); err != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}
	writeNoContent(w)
}

func (s *Server) dispatchTanSend(ctx context.Context, login, channel, code string) error {
	if s.tanQueue == nil {
		return nil
	}
	msg := tanqueue.NewTanSendMessage(login, channel, code)
	data, err := msg.ToJSON()
	if err != nil {
		return err
	}
	_, err = s.tanQueue.Publish(ctx, tanStreamName, data)
	return err
}

type confirmChallengeRequest struct {
	Code string `json:"tan_code"`
}

func (s *Server) handleConfirmChallenge(w http.ResponseWriter, r *http.Request, _ auth.Identity, _ string) {
	id, perr := parseChallengeID(r)
	if perr != nil {
		writeError(w, perr)
		return
	}
	var req confirmChallengeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ok, noRetry, expired, err := s.challenges.Try(r.Context(), id, req.Code, time.Now())
	if err != nil {
		writeError(w, newErr(http.StatusNotFound, codeChallengeNotFound, "no such challenge"))
		return
	}
	switch {
	case ok:
		writeNoContent(w)
	case expired:
		writeError(w, newErr(http.StatusGone, codeTanChallengeExpired, "challenge expired"))
	case noRetry:
		writeError(w, newErr(http.StatusForbidden, codeTanChallengeFailed, "no attempts remaining"))
	default:
		writeError(w, newErr(http.StatusForbidden, codeTanChallengeFailed, "incorrect code"))
	}
}
