package httpapi

import (
	"errors"
	"net/http"
	"time"

	"libeufin-bank/internal/auth"
	"libeufin-bank/internal/crypto"
	"libeufin-bank/internal/ledger"
)

type createTokenRequest struct {
	Scope       string `json:"scope"`
	Duration    *int64 `json:"duration_seconds"`
	Refreshable bool   `json:"refreshable"`
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request, id auth.Identity, login string) {
	var req createTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	scope := ledger.TokenScope(req.Scope)
	if scope != ledger.ScopeReadOnly && scope != ledger.ScopeReadWrite {
		writeError(w, newErr(http.StatusBadRequest, codeParameterMalformed, "scope must be readonly or readwrite"))
		return
	}
	now := time.Now()
	var expiresAt *time.Time
	if req.Duration != nil {
		t := now.Add(time.Duration(*req.Duration) * time.Second)
		expiresAt = &t
	}
	result, content, err := s.tokens.Create(r.Context(), login, scope, req.Refreshable, now, expiresAt)
	if err != nil {
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}
	if result.Status == ledger.TokenBadDuration {
		writeError(w, newErr(http.StatusBadRequest, codeParameterMalformed, "requested duration exceeds the configured maximum"))
		return
	}
	writeJSON(w, http.StatusOK, struct {
		AccessToken string `json:"access_token"`
		Expiration  int64  `json:"expiration"`
	}{
		AccessToken: "secret-token:" + crypto.EncodeTokenContent(content),
		Expiration:  result.Token.ExpiresAt.Unix(),
	})
}

func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request, _ auth.Identity, _ string) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer secret-token:"
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		writeError(w, newErr(http.StatusBadRequest, codeHeadersMalformed, "token deletion requires the bearer token being deleted"))
		return
	}
	content, err := crypto.DecodeTokenContent(header[len(prefix):])
	if err != nil {
		writeError(w, newErr(http.StatusBadRequest, codeHeadersMalformed, err.Error()))
		return
	}
	if err := s.tokens.Delete(r.Context(), content); err != nil {
		if errors.Is(err, ledger.ErrTokenNotFound) {
			writeError(w, newErr(http.StatusNotFound, codeNotFound, "no such token"))
			return
		}
		writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
		return
	}
	writeNoContent(w)
}
