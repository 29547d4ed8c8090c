// Package cashout implements the Cashout DAO+FSM (C9): a TAN-gated
// regional→fiat conversion whose debit posting is deferred until the
// attached challenge is confirmed, at which point the posting and the
// status transition commit atomically. Grounded on the teacher's
// card/service.go RedeemCard FSM shape, with challenge binding from
// internal/challenge (C5) and conversion validation from
// internal/exchange (C10).
package cashout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"libeufin-bank/internal/challenge"
	"libeufin-bank/internal/exchange"
	"libeufin-bank/internal/ledger"
	"libeufin-bank/internal/money"
	"libeufin-bank/internal/stats"
	"libeufin-bank/internal/store"

	"github.com/jackc/pgx/v5"
)

// Status is the cashout's FSM state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAborted   Status = "aborted"
	StatusConfirmed Status = "confirmed"
)

// CreateStatus tags the outcome of Create.
type CreateStatus int

const (
	CreateSuccess CreateStatus = iota
	CreateRequestUIDReuse
	CreateBadConversion
	CreateUnallowedDebit
	CreateChallengeRequired
	CreateMissingInfo
)

// ConfirmStatus tags the outcome of Confirm.
type ConfirmStatus int

const (
	ConfirmSuccess ConfirmStatus = iota
	ConfirmStillPending
	ConfirmAbortConflict
	ConfirmExpired
)

// Cashout is a cashout row.
type Cashout struct {
	ID             int64
	RequestUID     string
	AccountLogin   string
	AmountDebit    money.Amount
	AmountCredit   money.Amount
	Status         Status
	TanChallengeID *int64
	CreatedAt      time.Time
	ConfirmedAt    *time.Time
}

// bankClearingAccount is the reserved system account a cashout's
// regional-currency debit is credited to, standing in for the external
// fiat wire the bank operator sends out of band (this bank does no
// direct interbank settlement).
const bankClearingAccount = "bank"

// DAO is the cashout DAO+FSM.
type DAO struct {
	store     *store.Store
	accounts  *ledger.AccountDAO
	txs       *ledger.TransactionDAO
	challenge *challenge.Engine
	rates     *exchange.RateTable
}

// NewDAO constructs a cashout DAO.
func NewDAO(s *store.Store, accounts *ledger.AccountDAO, txs *ledger.TransactionDAO, ch *challenge.Engine, rates *exchange.RateTable) *DAO {
	return &DAO{store: s, accounts: accounts, txs: txs, challenge: ch, rates: rates}
}

// Create validates preconditions, registers the cashout, and attaches a
// TAN challenge unless tanOk signals one was already solved inline.
func (d *DAO) Create(ctx context.Context, accountLogin, requestUID string, amountDebit, amountCredit money.Amount, tanOk bool, now time.Time, validity time.Duration, retries int) (CreateStatus, int64, int64, error) {
	var status CreateStatus
	var id, challengeID int64
	err := d.store.Serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var existingDigest string
		var existingID int64
		var existingChallengeID *int64
		var existingStatus string
		err := tx.QueryRow(ctx, `SELECT account_login, id, tan_challenge_id, status FROM cashouts WHERE request_uid = $1`, requestUID).
			Scan(&existingDigest, &existingID, &existingChallengeID, &existingStatus)
		if err == nil {
			if existingDigest != accountLogin {
				status = CreateRequestUIDReuse
				return nil
			}
			id = existingID
			if existingChallengeID != nil && Status(existingStatus) == StatusPending {
				challengeID = *existingChallengeID
				status = CreateChallengeRequired
				return nil
			}
			status = CreateSuccess
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("checking cashout request_uid: %w", err)
		}

		acct, err := d.accounts.Get(ctx, accountLogin)
		if err != nil {
			return err
		}
		if acct.IsTalerExchange || acct.TanChannel == ledger.TanNone || acct.CashoutPayto == nil {
			status = CreateMissingInfo
			return nil
		}

		if d.rates != nil {
			if err := d.rates.ValidateCashoutConversion(amountDebit, amountCredit); err != nil {
				if errors.Is(err, exchange.ErrBadConversion) {
					status = CreateBadConversion
					return nil
				}
				return err
			}
		}

		if !debitCapacityCovers(acct, amountDebit) {
			status = CreateUnallowedDebit
			return nil
		}

		var chID *int64
		if !tanOk {
			cid, _, err := d.challenge.Create(ctx, accountLogin, "cashout", now, validity, retries)
			if err != nil {
				return err
			}
			chID = &cid
		}

		err = tx.QueryRow(ctx, `INSERT INTO cashouts (
			request_uid, account_login,
			amount_debit_value, amount_debit_frac, amount_debit_currency,
			amount_credit_value, amount_credit_frac, amount_credit_currency,
			status, tan_challenge_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
			requestUID, accountLogin,
			amountDebit.Value, amountDebit.Frac, amountDebit.Currency,
			amountCredit.Value, amountCredit.Frac, amountCredit.Currency,
			string(StatusPending), chID, now,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("creating cashout: %w", err)
		}

		if chID != nil {
			challengeID = *chID
			status = CreateChallengeRequired
		} else {
			status = CreateSuccess
		}
		return nil
	})
	return status, id, challengeID, err
}

func debitCapacityCovers(acct *ledger.Account, amount money.Amount) bool {
	ok, err := money.IsBalanceEnough(acct.Balance, amount, acct.HasDebit, acct.MaxDebit)
	return err == nil && ok
}

// Confirm posts the deferred debit atomically with the pending→confirmed
// transition, once the bound TAN challenge (if any) has been solved. A
// challenge left unconfirmed past expiry aborts the cashout.
func (d *DAO) Confirm(ctx context.Context, id int64, now time.Time) (ConfirmStatus, error) {
	var status ConfirmStatus
	err := d.store.Serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		c, err := getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if c.Status == StatusConfirmed {
			status = ConfirmSuccess
			return nil
		}
		if c.Status == StatusAborted {
			status = ConfirmAbortConflict
			return nil
		}

		if c.TanChallengeID != nil {
			var confirmedAt *time.Time
			var expiresAt time.Time
			err := tx.QueryRow(ctx, `SELECT confirmed_at, expires_at FROM challenges WHERE id = $1`, *c.TanChallengeID).
				Scan(&confirmedAt, &expiresAt)
			if err != nil {
				return fmt.Errorf("loading cashout challenge: %w", err)
			}
			if confirmedAt == nil {
				if now.After(expiresAt) {
					if _, err := tx.Exec(ctx, `UPDATE cashouts SET status=$2 WHERE id=$1`, id, string(StatusAborted)); err != nil {
						return err
					}
					status = ConfirmExpired
					return nil
				}
				status = ConfirmStillPending
				return nil
			}
		}

		txResult, err := d.txs.Create(ctx, c.AccountLogin, bankClearingAccount, "cashout settlement", c.AmountDebit, now, true, &c.RequestUID)
		if err != nil {
			return err
		}
		if txResult.Status != ledger.TxPosted {
			status = ConfirmStillPending
			return nil
		}

		if _, err := tx.Exec(ctx, `UPDATE cashouts SET status=$2, confirmed_at=$3 WHERE id=$1`, id, string(StatusConfirmed), now); err != nil {
			return err
		}
		creditAmount := c.AmountCredit
		if err := stats.Record(ctx, tx, stats.MetricCashout, now, c.AmountDebit, &creditAmount); err != nil {
			return err
		}
		status = ConfirmSuccess
		return nil
	})
	return status, err
}

// Get returns a cashout by id.
func (d *DAO) Get(ctx context.Context, id int64) (*Cashout, error) {
	var c *Cashout
	err := d.store.Conn(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var e error
		c, e = getTx(ctx, tx, id)
		return e
	})
	return c, err
}

func getTx(ctx context.Context, tx pgx.Tx, id int64) (*Cashout, error) {
	var c Cashout
	var status string
	err := tx.QueryRow(ctx, `SELECT id, request_uid, account_login,
		amount_debit_value, amount_debit_frac, amount_debit_currency,
		amount_credit_value, amount_credit_frac, amount_credit_currency,
		status, tan_challenge_id, created_at, confirmed_at
		FROM cashouts WHERE id = $1`, id).Scan(
		&c.ID, &c.RequestUID, &c.AccountLogin,
		&c.AmountDebit.Value, &c.AmountDebit.Frac, &c.AmountDebit.Currency,
		&c.AmountCredit.Value, &c.AmountCredit.Frac, &c.AmountCredit.Currency,
		&status, &c.TanChallengeID, &c.CreatedAt, &c.ConfirmedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cashout %d: %w", id, pgx.ErrNoRows)
	}
	if err != nil {
		return nil, err
	}
	c.Status = Status(status)
	return &c, nil
}
