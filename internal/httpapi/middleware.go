package httpapi

import (
	"compress/flate"
	"context"
	"io"
	"net/http"
	"time"

	"libeufin-bank/internal/auth"
)

// maxBodyBytes bounds a decompressed request body.
const maxBodyBytes = 4 * 1024

type ctxKey int

const identityKey ctxKey = 0

// decodeBody wraps r.Body, decompressing the supported content
// encodings (identity, deflate) and capping the decompressed size.
func decodeBody(r *http.Request) (io.ReadCloser, *apiError) {
	switch r.Header.Get("Content-Encoding") {
	case "", "identity":
		return http.MaxBytesReader(nil, r.Body, maxBodyBytes), nil
	case "deflate":
		fr := flate.NewReader(r.Body)
		return struct {
			io.Reader
			io.Closer
		}{io.LimitReader(fr, maxBodyBytes), fr}, nil
	default:
		return nil, newErr(http.StatusUnsupportedMediaType, codeCompressionInvalid, "unsupported content-encoding")
	}
}

// withBodyLimit wraps a handler so every request body is read through
// decodeBody before the handler sees it; r.Body is replaced with the
// decoded, size-limited reader, which handlers read as usual.
func withBodyLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, apiErr := decodeBody(r)
		if apiErr != nil {
			writeError(w, apiErr)
			return
		}
		r.Body = body
		next(w, r)
	}
}

// requireAuth authenticates the caller via internal/auth and passes
// the resulting Identity through to next.
func (s *Server) requireAuth(next func(http.ResponseWriter, *http.Request, auth.Identity)) http.HandlerFunc {
	return withBodyLimit(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.auth.Authenticate(r.Context(), r.Header.Get("Authorization"), time.Now())
		switch {
		case err == auth.ErrParameterMissing:
			writeError(w, newErr(http.StatusUnauthorized, codeParameterMissing, "missing Authorization header"))
			return
		case err == auth.ErrHeadersMalformed:
			writeError(w, newErr(http.StatusBadRequest, codeHeadersMalformed, "malformed Authorization header"))
			return
		case err == auth.ErrUnauthorized:
			writeError(w, newErr(http.StatusUnauthorized, codeUnauthorized, "bad credentials"))
			return
		case err != nil:
			writeError(w, newErr(http.StatusInternalServerError, codeInternal, err.Error()))
			return
		}
		next(w, r, id)
	})
}

// requireAdmin is requireAuth plus an admin-identity gate, for
// endpoints with no per-account path segment (e.g. /monitor).
func (s *Server) requireAdmin(next func(http.ResponseWriter, *http.Request, auth.Identity)) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request, id auth.Identity) {
		if !id.IsAdmin {
			writeError(w, newErr(http.StatusForbidden, codeForbidden, "admin only"))
			return
		}
		next(w, r, id)
	})
}

// requireAccount is requireAuth plus the path-segment authorization
// rule: the caller must own pathLogin (the {login} path value) or be
// admin when allowAdmin is set.
func (s *Server) requireAccount(allowAdmin bool, next func(http.ResponseWriter, *http.Request, auth.Identity, string)) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request, id auth.Identity) {
		login := r.PathValue("login")
		if err := auth.AuthorizePath(id, login, allowAdmin); err != nil {
			writeError(w, newErr(http.StatusNotFound, codeNotFound, "no such account"))
			return
		}
		next(w, r, id, login)
	})
}

func withIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}
