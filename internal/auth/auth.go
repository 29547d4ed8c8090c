// Package auth implements the HTTP surface's two authenticators (C13):
// basic-auth against the stored bcrypt hash and bearer-token lookup
// against internal/ledger's token table, plus the admin/own-account
// path-authorization rule. Grounded on card/service.go's sentinel-error
// style for auth failures; new otherwise, since the teacher has no HTTP
// auth layer of its own.
package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"libeufin-bank/internal/crypto"
	"libeufin-bank/internal/ledger"
)

// Errors returned by Authenticate.
var (
	ErrHeadersMalformed = errors.New("HEADERS_MALFORMED")
	ErrParameterMissing = errors.New("PARAMETER_MISSING")
	ErrUnauthorized     = errors.New("UNAUTHORIZED")
	ErrForbidden        = errors.New("FORBIDDEN")
)

// Identity is the authenticated caller.
type Identity struct {
	Login   string
	IsAdmin bool
}

const adminLogin = "admin"

// Authenticator verifies Basic and Bearer credentials against the
// ledger's account and token tables.
type Authenticator struct {
	accounts *ledger.AccountDAO
	tokens   *ledger.TokenDAO
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(accounts *ledger.AccountDAO, tokens *ledger.TokenDAO) *Authenticator {
	return &Authenticator{accounts: accounts, tokens: tokens}
}

// Authenticate parses the Authorization header and verifies it,
// dispatching to Basic or Bearer per its scheme prefix.
func (a *Authenticator) Authenticate(ctx context.Context, header string, now time.Time) (Identity, error) {
	if header == "" {
		return Identity{}, ErrParameterMissing
	}
	switch {
	case strings.HasPrefix(header, "Basic "):
		return a.basicAuth(ctx, strings.TrimPrefix(header, "Basic "))
	case strings.HasPrefix(header, "Bearer "):
		return a.bearerAuth(ctx, strings.TrimPrefix(header, "Bearer "), now)
	default:
		return Identity{}, ErrHeadersMalformed
	}
}

func (a *Authenticator) basicAuth(ctx context.Context, credentials string) (Identity, error) {
	decoded, err := decodeBasic(credentials)
	if err != nil {
		return Identity{}, ErrHeadersMalformed
	}
	login, password, ok := strings.Cut(decoded, ":")
	if !ok {
		return Identity{}, ErrHeadersMalformed
	}
	ok, err = a.accounts.VerifyPassword(ctx, login, password)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return Identity{}, ErrUnauthorized
	}
	if err != nil {
		return Identity{}, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return Identity{}, ErrUnauthorized
	}
	return Identity{Login: login, IsAdmin: login == adminLogin}, nil
}

func (a *Authenticator) bearerAuth(ctx context.Context, value string, now time.Time) (Identity, error) {
	if !strings.HasPrefix(value, "secret-token:") {
		return Identity{}, ErrHeadersMalformed
	}
	content, err := crypto.DecodeTokenContent(strings.TrimPrefix(value, "secret-token:"))
	if err != nil {
		return Identity{}, ErrHeadersMalformed
	}
	tok, err := a.tokens.Get(ctx, content)
	if errors.Is(err, ledger.ErrTokenNotFound) {
		return Identity{}, ErrUnauthorized
	}
	if err != nil {
		return Identity{}, fmt.Errorf("looking up token: %w", err)
	}
	if now.After(tok.ExpiresAt) {
		return Identity{}, ErrUnauthorized
	}
	return Identity{Login: tok.Login, IsAdmin: tok.Login == adminLogin}, nil
}

// AuthorizePath enforces the path-segment authorization rule: the
// "admin" path segment requires an admin identity; a per-account path
// requires the caller's own identity, or admin when allowAdmin is set.
func AuthorizePath(id Identity, pathLogin string, allowAdmin bool) error {
	if pathLogin == adminLogin {
		if !id.IsAdmin {
			return ErrForbidden
		}
		return nil
	}
	if id.Login == pathLogin {
		return nil
	}
	if allowAdmin && id.IsAdmin {
		return nil
	}
	return ErrForbidden
}

// decodeBasic decodes the base64 "login:password" payload of a Basic
// Authorization header.
func decodeBasic(s string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
