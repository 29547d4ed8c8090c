package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"libeufin-bank/internal/crypto"
	"libeufin-bank/internal/store"

	"github.com/jackc/pgx/v5"
)

// maxFarFuture is the sentinel expiry used for "forever" tokens,
// rather than time.Time's zero/max, to keep Postgres timestamp
// arithmetic well-defined.
var maxFarFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// TokenDAO is the bearer-token DAO (C4).
type TokenDAO struct {
	store       *store.Store
	maxDuration time.Duration
}

// NewTokenDAO constructs a TokenDAO with the configured max token
// duration policy.
func NewTokenDAO(s *store.Store, maxDuration time.Duration) *TokenDAO {
	return &TokenDAO{store: s, maxDuration: maxDuration}
}

// Create mints a new bearer token for login. expiresAt == nil means
// "forever".
func (d *TokenDAO) Create(ctx context.Context, login string, scope TokenScope, refreshable bool, now time.Time, expiresAt *time.Time) (TokenResult, []byte, error) {
	expires := maxFarFuture
	if expiresAt != nil {
		if expiresAt.Before(now) || expiresAt.Sub(now) > d.maxDuration {
			return TokenResult{Status: TokenBadDuration}, nil, nil
		}
		expires = *expiresAt
	}

	content, err := crypto.NewTokenContent()
	if err != nil {
		return TokenResult{}, nil, fmt.Errorf("generating token content: %w", err)
	}

	var result TokenResult
	err = d.store.Conn(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO tokens (content, login, scope, refreshable, created_at, expires_at)
			VALUES ($1,$2,$3,$4,$5,$6)`, content, login, string(scope), refreshable, now, expires)
		if err != nil {
			return fmt.Errorf("inserting token: %w", err)
		}
		result = TokenResult{Status: TokenCreated, Token: &Token{
			Content: content, Login: login, Scope: scope, Refreshable: refreshable,
			CreatedAt: now, ExpiresAt: expires,
		}}
		return nil
	})
	return result, content, err
}

// Get looks up a token by its raw content bytes.
func (d *TokenDAO) Get(ctx context.Context, content []byte) (*Token, error) {
	var t Token
	var scope string
	err := d.store.Conn(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, `SELECT content, login, scope, refreshable, created_at, expires_at
			FROM tokens WHERE content = $1`, content).Scan(
			&t.Content, &t.Login, &scope, &t.Refreshable, &t.CreatedAt, &t.ExpiresAt,
		)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up token: %w", err)
	}
	t.Scope = TokenScope(scope)
	return &t, nil
}

// Delete removes a token by content.
func (d *TokenDAO) Delete(ctx context.Context, content []byte) error {
	return d.store.Conn(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM tokens WHERE content = $1`, content)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrTokenNotFound
		}
		return nil
	})
}

// Refresh rotates a refreshable token: validates the old one is still
// live and refreshable, then mints a replacement for the same login.
func (d *TokenDAO) Refresh(ctx context.Context, oldContent []byte, now time.Time, expiresAt *time.Time) (TokenResult, []byte, error) {
	old, err := d.Get(ctx, oldContent)
	if err != nil {
		return TokenResult{}, nil, err
	}
	if !old.Refreshable || now.After(old.ExpiresAt) {
		return TokenResult{Status: TokenBadDuration}, nil, nil
	}
	result, content, err := d.Create(ctx, old.Login, old.Scope, old.Refreshable, now, expiresAt)
	if err != nil || result.Status != TokenCreated {
		return result, content, err
	}
	if err := d.Delete(ctx, oldContent); err != nil {
		return TokenResult{}, nil, err
	}
	return result, content, nil
}
