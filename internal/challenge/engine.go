// Package challenge implements the TAN/2FA challenge state machine
// (C5): code issuance, retransmission, retry counting, expiry and
// confirmation. Grounded on the teacher's card/service.go
// generateCardCode retry-loop idiom for code generation and its
// cache.SetNX-guarded lock pattern for atomic confirm-binding.
package challenge

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"libeufin-bank/internal/store"

	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("challenge not found")

// Engine is the challenge engine bound to a Store.
type Engine struct {
	store *store.Store
}

// NewEngine constructs a challenge Engine.
func NewEngine(s *store.Store) *Engine {
	return &Engine{store: s}
}

// GenerateCode produces a random 6-digit TAN code, following the same
// crypto/rand digit-generation idiom as the teacher's card code
// generator (reads crypto/rand on every call, no package-level PRNG state).
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generating TAN code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Create inserts a new pending challenge for account/operation and
// returns its id.
func (e *Engine) Create(ctx context.Context, accountLogin, operationKind string, now time.Time, validity time.Duration, retries int) (int64, string, error) {
	code, err := GenerateCode()
	if err != nil {
		return 0, "", err
	}
	var id int64
	err = e.store.Conn(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, `INSERT INTO challenges (account_login, operation_kind, code, created_at, expires_at, retries_left)
			VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			accountLogin, operationKind, code, now, now.Add(validity), retries).Scan(&id)
	})
	if err != nil {
		return 0, "", fmt.Errorf("creating challenge: %w", err)
	}
	return id, code, nil
}

// MarkSent records that the code was handed to the external TAN
// delivery script at `now`; `resend` uses this to decide whether it's
// still inside the retransmit window.
func (e *Engine) MarkSent(ctx context.Context, id int64, now time.Time) error {
	return e.store.Conn(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE challenges SET sent_at = $2 WHERE id = $1`, id, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Try attempts code_attempt against challenge id at time now. Returns
// (ok, no_retry, expired): confirmed is sticky, expiry beats further
// retries, and retries exhausted beats a wrong-code attempt.
func (e *Engine) Try(ctx context.Context, id int64, codeAttempt string, now time.Time) (ok, noRetry, expired bool, err error) {
	err = e.store.Serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var code string
		var expiresAt time.Time
		var retriesLeft int
		var confirmedAt *time.Time
		scanErr := tx.QueryRow(ctx, `SELECT code, expires_at, retries_left, confirmed_at FROM challenges WHERE id = $1 FOR UPDATE`, id).
			Scan(&code, &expiresAt, &retriesLeft, &confirmedAt)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("loading challenge: %w", scanErr)
		}

		// Rule 1: confirmed is sticky.
		if confirmedAt != nil {
			ok, noRetry, expired = true, false, false
			return nil
		}

		// Rule 4: expiry takes priority over further retries.
		if now.After(expiresAt) {
			ok, noRetry, expired = false, false, true
			return nil
		}

		// Rule 2: retries already exhausted.
		if retriesLeft <= 0 {
			ok, noRetry, expired = false, true, false
			return nil
		}

		if codeAttempt == code {
			if _, e := tx.Exec(ctx, `UPDATE challenges SET confirmed_at = $2 WHERE id = $1`, id, now); e != nil {
				return e
			}
			ok, noRetry, expired = true, false, false
			return nil
		}

		remaining := retriesLeft - 1
		if _, e := tx.Exec(ctx, `UPDATE challenges SET retries_left = $2 WHERE id = $1`, id, remaining); e != nil {
			return e
		}
		ok = false
		noRetry = remaining <= 0
		expired = false
		return nil
	})
	return ok, noRetry, expired, err
}

// Resend returns the existing code if still within the retransmit
// window and unexpired, otherwise installs a fresh code and resets
// retries.
func (e *Engine) Resend(ctx context.Context, id int64, now time.Time, validity, retransmitPeriod time.Duration, retries int) (codeToTransmit string, err error) {
	err = e.store.Serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var code string
		var expiresAt time.Time
		var sentAt *time.Time
		scanErr := tx.QueryRow(ctx, `SELECT code, expires_at, sent_at FROM challenges WHERE id = $1 FOR UPDATE`, id).
			Scan(&code, &expiresAt, &sentAt)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if scanErr != nil {
			return fmt.Errorf("loading challenge: %w", scanErr)
		}

		stillFresh := sentAt != nil && now.Before(sentAt.Add(retransmitPeriod)) && now.Before(expiresAt)
		if stillFresh {
			codeToTransmit = code
			return nil
		}

		newCode, genErr := GenerateCode()
		if genErr != nil {
			return genErr
		}
		if _, e := tx.Exec(ctx, `UPDATE challenges SET code=$2, expires_at=$3, retries_left=$4, sent_at=NULL, confirmed_at=NULL WHERE id=$1`,
			id, newCode, now.Add(validity), retries); e != nil {
			return e
		}
		codeToTransmit = newCode
		return nil
	})
	return codeToTransmit, err
}

// InvalidateForAccount invalidates all open (unconfirmed) challenges
// for an account by forcing their expiry, in a transaction of its own.
// The account PATCH handler in internal/httpapi calls it after
// ledger.AccountDAO.AdminPatch has committed, so the two updates are not
// atomic. Callers running inside an existing Serializable transaction
// should use InvalidateForAccountTx.
func (e *Engine) InvalidateForAccount(ctx context.Context, accountLogin string, now time.Time) error {
	return e.store.Conn(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return InvalidateForAccountTx(ctx, tx, accountLogin, now)
	})
}

// InvalidateForAccountTx is the transaction-scoped version, for callers
// that need the invalidation atomic with their own update. Its only
// caller in this repository is InvalidateForAccount.
func InvalidateForAccountTx(ctx context.Context, tx pgx.Tx, accountLogin string, now time.Time) error {
	_, err := tx.Exec(ctx, `UPDATE challenges SET expires_at = $2
		WHERE account_login = $1 AND confirmed_at IS NULL AND expires_at > $2`, accountLogin, now)
	return err
}
