// Package gc implements the periodic retention sweep (C12) that hard
// deletes stale non-terminal and terminal rows once they age past
// their retention window. Grounded on cmd/worker/fund_card/main.go's
// worker main shape (config load → db → signal-driven loop), reworked
// from a Redis stream consumer into a ticking collector.
package gc

import (
	"context"
	"fmt"
	"time"

	"libeufin-bank/internal/store"

	"github.com/jackc/pgx/v5"
)

// Thresholds are the three retention windows a sweep enforces.
type Thresholds struct {
	AbortAfter  time.Duration
	CleanAfter  time.Duration
	DeleteAfter time.Duration
}

// Report tallies what one Collect pass removed, for logging.
type Report struct {
	AbortedWithdrawals int64
	AbortedCashouts    int64
	AbortedChallenges  int64
	CleanedTokens      int64
	CleanedWithdrawals int64
	CleanedCashouts    int64
	CleanedChallenges  int64
	DeletedAccounts    int64
	DeletedTxRows      int64
}

// Collector runs retention sweeps against the store.
type Collector struct {
	store *store.Store
}

// NewCollector constructs a Collector.
func NewCollector(s *store.Store) *Collector {
	return &Collector{store: s}
}

// Collect runs one sweep:
//  1. hard-delete withdrawal/cashout/challenge rows in a non-terminal
//     state older than AbortAfter;
//  2. delete tokens, TAN challenges, and terminal non-ledger rows older
//     than CleanAfter;
//  3. remove soft-deleted accounts (and their ledger history) older
//     than DeleteAfter, enforcing balance == 0.
//
// Every step runs in its own serializable transaction so a failure
// partway through leaves the prior steps' deletions committed.
func (c *Collector) Collect(ctx context.Context, now time.Time, th Thresholds) (Report, error) {
	var report Report

	if err := c.store.Serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		abortCutoff := now.Add(-th.AbortAfter)

		tag, err := tx.Exec(ctx, `DELETE FROM withdrawals WHERE status IN ('pending', 'selected') AND created_at < $1`, abortCutoff)
		if err != nil {
			return fmt.Errorf("aborting stale withdrawals: %w", err)
		}
		report.AbortedWithdrawals = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM cashouts WHERE status = 'pending' AND created_at < $1`, abortCutoff)
		if err != nil {
			return fmt.Errorf("aborting stale cashouts: %w", err)
		}
		report.AbortedCashouts = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM challenges WHERE confirmed_at IS NULL AND created_at < $1`, abortCutoff)
		if err != nil {
			return fmt.Errorf("aborting stale challenges: %w", err)
		}
		report.AbortedChallenges = tag.RowsAffected()
		return nil
	}); err != nil {
		return report, err
	}

	if err := c.store.Serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		cleanCutoff := now.Add(-th.CleanAfter)

		tag, err := tx.Exec(ctx, `DELETE FROM tokens WHERE expires_at < $1`, cleanCutoff)
		if err != nil {
			return fmt.Errorf("cleaning expired tokens: %w", err)
		}
		report.CleanedTokens = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM withdrawals WHERE status IN ('aborted', 'confirmed') AND created_at < $1`, cleanCutoff)
		if err != nil {
			return fmt.Errorf("cleaning terminal withdrawals: %w", err)
		}
		report.CleanedWithdrawals = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM cashouts WHERE status IN ('aborted', 'confirmed') AND created_at < $1`, cleanCutoff)
		if err != nil {
			return fmt.Errorf("cleaning terminal cashouts: %w", err)
		}
		report.CleanedCashouts = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM challenges WHERE confirmed_at IS NOT NULL AND created_at < $1`, cleanCutoff)
		if err != nil {
			return fmt.Errorf("cleaning confirmed challenges: %w", err)
		}
		report.CleanedChallenges = tag.RowsAffected()
		return nil
	}); err != nil {
		return report, err
	}

	if err := c.store.Serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		deleteCutoff := now.Add(-th.DeleteAfter)

		rows, err := tx.Query(ctx, `SELECT login FROM accounts
			WHERE deleted AND deleted_at < $1 AND balance_value = 0 AND balance_frac = 0`, deleteCutoff)
		if err != nil {
			return fmt.Errorf("selecting accounts for deletion: %w", err)
		}
		var logins []string
		for rows.Next() {
			var login string
			if err := rows.Scan(&login); err != nil {
				rows.Close()
				return fmt.Errorf("scanning account for deletion: %w", err)
			}
			logins = append(logins, login)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, login := range logins {
			tag, err := tx.Exec(ctx, `DELETE FROM tx_rows WHERE account_login = $1`, login)
			if err != nil {
				return fmt.Errorf("deleting ledger history for %s: %w", login, err)
			}
			report.DeletedTxRows += tag.RowsAffected()

			if _, err := tx.Exec(ctx, `DELETE FROM accounts WHERE login = $1`, login); err != nil {
				return fmt.Errorf("deleting account %s: %w", login, err)
			}
			report.DeletedAccounts++
		}

		if len(logins) > 0 {
			if _, err := tx.Exec(ctx, `REINDEX INDEX tx_rows_reserve_pub_idx`); err != nil {
				return fmt.Errorf("rebuilding reserve_pub index: %w", err)
			}
			if _, err := tx.Exec(ctx, `REINDEX INDEX tx_rows_wtid_idx`); err != nil {
				return fmt.Errorf("rebuilding wtid index: %w", err)
			}
		}
		return nil
	}); err != nil {
		return report, err
	}

	return report, nil
}
