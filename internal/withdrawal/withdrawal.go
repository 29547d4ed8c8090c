// Package withdrawal implements the withdrawal DAO+FSM (C7): a
// UUID-keyed pending→selected→confirmed lifecycle with dual-actor
// coordination (wallet selects the exchange, account owner confirms)
// and long-polling status delivery. Grounded on the teacher's
// card/service.go RedeemCard FSM shape: validate, lock/transition,
// record, notify.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"libeufin-bank/internal/ledger"
	"libeufin-bank/internal/money"
	"libeufin-bank/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Status is the withdrawal's FSM state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSelected  Status = "selected"
	StatusAborted   Status = "aborted"
	StatusConfirmed Status = "confirmed"
)

// CreateStatus tags the outcome of Create.
type CreateStatus int

const (
	CreateSuccess CreateStatus = iota
	CreateExchangeAccount
	CreateUnallowedDebit
)

// SetDetailsStatus tags the outcome of SetDetails.
type SetDetailsStatus int

const (
	SetDetailsOK SetDetailsStatus = iota
	SetDetailsIdempotentNoop
	SetDetailsReserveConflict
	SetDetailsUnknownExchange
	SetDetailsNotExchange
)

// ConfirmStatus tags the outcome of Confirm.
type ConfirmStatus int

const (
	ConfirmSuccess ConfirmStatus = iota
	ConfirmAbortConflict
	ConfirmUnallowedDebit
	ConfirmChallengeRequired
)

// AbortStatus tags the outcome of Abort.
type AbortStatus int

const (
	AbortSuccess AbortStatus = iota
	AbortConfirmConflict
)

// Withdrawal is a withdrawal row.
type Withdrawal struct {
	UUID                  uuid.UUID
	AccountLogin          string
	Amount                money.Amount
	Status                Status
	ReservePub            *string
	SelectedExchange      *string
	SelectedExchangeLogin *string
	SelectionDone         bool
	Confirmed             bool
	CreatedAt             time.Time
}

// DAO is the withdrawal DAO+FSM, bound to a Store and the ledger's
// Account/Transaction DAOs (confirmation posts the underlying
// exchange-incoming transfer).
type DAO struct {
	store    *store.Store
	accounts *ledger.AccountDAO
	txs      *ledger.TransactionDAO
}

// NewDAO constructs a withdrawal DAO.
func NewDAO(s *store.Store, accounts *ledger.AccountDAO, txs *ledger.TransactionDAO) *DAO {
	return &DAO{store: s, accounts: accounts, txs: txs}
}

// Create starts a new withdrawal for account, rejecting exchange
// accounts and amounts exceeding the wallet's debit capacity at create
// time; Confirm runs the same debit-capacity check again since the
// balance may have moved between create and confirm.
func (d *DAO) Create(ctx context.Context, accountLogin string, id uuid.UUID, amount money.Amount, now time.Time) (CreateStatus, error) {
	var status CreateStatus
	err := d.store.Serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		acct, err := d.accounts.Get(ctx, accountLogin)
		if err != nil {
			return err
		}
		if acct.IsTalerExchange {
			status = CreateExchangeAccount
			return nil
		}
		if !debitCapacityCovers(acct, amount) {
			status = CreateUnallowedDebit
			return nil
		}
		_, err = tx.Exec(ctx, `INSERT INTO withdrawals (uuid, account_login, amount_value, amount_frac, amount_currency, status, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`, id, accountLogin, amount.Value, amount.Frac, amount.Currency, string(StatusPending), now)
		if err != nil {
			return fmt.Errorf("creating withdrawal: %w", err)
		}
		status = CreateSuccess
		return nil
	})
	if err == nil {
		d.store.Bus().Publish("withdrawal:"+id.String(), 0)
	}
	return status, err
}

func debitCapacityCovers(acct *ledger.Account, amount money.Amount) bool {
	ok, err := money.IsBalanceEnough(acct.Balance, amount, acct.HasDebit, acct.MaxDebit)
	return err == nil && ok
}

// SetDetails transitions pending→selected with the wallet-chosen
// exchange and reserve_pub. Idempotent on identical parameters.
func (d *DAO) SetDetails(ctx context.Context, id uuid.UUID, exchangePayto, reservePub string) (SetDetailsStatus, error) {
	var status SetDetailsStatus
	err := d.store.Serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		w, err := getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if w.SelectionDone {
			if w.ReservePub != nil && *w.ReservePub == reservePub && w.SelectedExchange != nil && *w.SelectedExchange == exchangePayto {
				status = SetDetailsIdempotentNoop
				return nil
			}
			status = SetDetailsReserveConflict
			return nil
		}

		var exchangeLogin string
		var isExchange bool
		findErr := tx.QueryRow(ctx, `SELECT login, is_taler_exchange FROM accounts WHERE internal_payto = $1`, exchangePayto).
			Scan(&exchangeLogin, &isExchange)
		if errors.Is(findErr, pgx.ErrNoRows) {
			status = SetDetailsUnknownExchange
			return nil
		}
		if findErr != nil {
			return findErr
		}
		if !isExchange {
			status = SetDetailsNotExchange
			return nil
		}

		_, err = tx.Exec(ctx, `UPDATE withdrawals SET status=$2, reserve_pub=$3, selected_exchange=$4, selected_exchange_login=$5, selection_done=true WHERE uuid=$1`,
			id, string(StatusSelected), reservePub, exchangePayto, exchangeLogin)
		if err != nil {
			return err
		}
		status = SetDetailsOK
		return nil
	})
	if err == nil {
		d.store.Bus().Publish("withdrawal:"+id.String(), 0)
	}
	return status, err
}

// Confirm transitions selected→confirmed, posting the underlying
// exchange-incoming transfer atomically.
func (d *DAO) Confirm(ctx context.Context, id uuid.UUID, now time.Time, tanOk bool) (ConfirmStatus, int64, error) {
	var status ConfirmStatus
	var rowID int64
	err := d.store.Serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		w, err := getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if w.Status == StatusAborted {
			status = ConfirmAbortConflict
			return nil
		}
		if w.Status == StatusConfirmed {
			status = ConfirmSuccess
			return nil
		}

		acct, err := d.accounts.Get(ctx, w.AccountLogin)
		if err != nil {
			return err
		}
		if !debitCapacityCovers(acct, w.Amount) {
			status = ConfirmUnallowedDebit
			return nil
		}
		if acct.TanChannel != ledger.TanNone && !tanOk {
			status = ConfirmChallengeRequired
			return nil
		}

		txResult, err := d.txs.Create(ctx, w.AccountLogin, *w.SelectedExchangeLogin, *w.ReservePub, w.Amount, now, true, nil)
		if err != nil {
			return err
		}
		if txResult.Status != ledger.TxPosted {
			status = ConfirmUnallowedDebit
			return nil
		}
		rowID = txResult.RowID

		_, err = tx.Exec(ctx, `UPDATE withdrawals SET status=$2, confirmed=true WHERE uuid=$1`, id, string(StatusConfirmed))
		if err != nil {
			return err
		}
		status = ConfirmSuccess
		return nil
	})
	if err == nil {
		d.store.Bus().Publish("withdrawal:"+id.String(), 0)
	}
	return status, rowID, err
}

// Abort transitions pending|selected→aborted.
func (d *DAO) Abort(ctx context.Context, id uuid.UUID) (AbortStatus, error) {
	var status AbortStatus
	err := d.store.Serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		w, err := getTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if w.Status == StatusConfirmed {
			status = AbortConfirmConflict
			return nil
		}
		if w.Status == StatusAborted {
			status = AbortSuccess
			return nil
		}
		_, err = tx.Exec(ctx, `UPDATE withdrawals SET status=$2 WHERE uuid=$1`, id, string(StatusAborted))
		if err != nil {
			return err
		}
		status = AbortSuccess
		return nil
	})
	if err == nil {
		d.store.Bus().Publish("withdrawal:"+id.String(), 0)
	}
	return status, err
}

// Get returns the current withdrawal, long-polling on the notification
// bus up to long_poll_ms if its status still equals oldState.
func (d *DAO) Get(ctx context.Context, id uuid.UUID, oldState *Status, longPollMs int) (*Withdrawal, error) {
	w, err := d.getOnce(ctx, id)
	if err != nil {
		return nil, err
	}
	if oldState == nil || w.Status != *oldState || longPollMs <= 0 {
		return w, nil
	}
	timeout := time.Duration(longPollMs) * time.Millisecond
	if _, ok := d.store.Bus().WaitOne(ctx, "withdrawal:"+id.String(), timeout); !ok {
		return w, nil
	}
	return d.getOnce(ctx, id)
}

func (d *DAO) getOnce(ctx context.Context, id uuid.UUID) (*Withdrawal, error) {
	var w *Withdrawal
	err := d.store.Conn(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var e error
		w, e = getTx(ctx, tx, id)
		return e
	})
	return w, err
}

func getTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Withdrawal, error) {
	var w Withdrawal
	var status string
	err := tx.QueryRow(ctx, `SELECT uuid, account_login, amount_value, amount_frac, amount_currency, status,
		reserve_pub, selected_exchange, selected_exchange_login, selection_done, confirmed, created_at
		FROM withdrawals WHERE uuid = $1`, id).Scan(
		&w.UUID, &w.AccountLogin, &w.Amount.Value, &w.Amount.Frac, &w.Amount.Currency, &status,
		&w.ReservePub, &w.SelectedExchange, &w.SelectedExchangeLogin, &w.SelectionDone, &w.Confirmed, &w.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("withdrawal %s: %w", id, pgx.ErrNoRows)
	}
	if err != nil {
		return nil, err
	}
	w.Status = Status(status)
	return &w, nil
}
