// Package talerwire implements the wire-gateway Exchange DAO (C8):
// two narrow, auth-gated operations an exchange operator's account
// uses to record incoming reserve top-ups and outgoing transfers.
// Grounded on transaction_repository.go's uniqueness-constraint
// handling (pgconn.PgError 23505), applied here to reserve_pub/wtid
// instead of a card code.
package talerwire

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"libeufin-bank/internal/ledger"
	"libeufin-bank/internal/money"
	"libeufin-bank/internal/stats"
	"libeufin-bank/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// AddIncomingStatus tags the outcome of AddIncoming.
type AddIncomingStatus int

const (
	AddIncomingSuccess AddIncomingStatus = iota
	AddIncomingReservePubReuse
	AddIncomingUnknownDebtor
	AddIncomingExchangeDebtor
	AddIncomingBalanceInsufficient
)

// TransferStatus tags the outcome of Transfer.
type TransferStatus int

const (
	TransferSuccess TransferStatus = iota
	TransferRequestUIDReuse
	TransferUnknownCreditor
	TransferExchangeCreditor
	TransferBalanceInsufficient
)

// DAO is the wire-gateway Exchange DAO, bound to an exchange account.
type DAO struct {
	store    *store.Store
	accounts *ledger.AccountDAO
}

// NewDAO constructs a talerwire DAO.
func NewDAO(s *store.Store, accounts *ledger.AccountDAO) *DAO {
	return &DAO{store: s, accounts: accounts}
}

// AddIncoming records amount flowing from debtor into exchangeLogin's
// account, tagged by a globally-unique reserve_pub.
func (d *DAO) AddIncoming(ctx context.Context, exchangeLogin, reservePub string, amount money.Amount, debtor string) (AddIncomingStatus, int64, error) {
	var status AddIncomingStatus
	var rowID int64
	err := d.store.Serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		debtorAcct, err := d.accounts.Get(ctx, debtor)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			status = AddIncomingUnknownDebtor
			return nil
		}
		if err != nil {
			return err
		}
		if debtorAcct.IsTalerExchange {
			status = AddIncomingExchangeDebtor
			return nil
		}
		ok, err := money.IsBalanceEnough(debtorAcct.Balance, amount, debtorAcct.HasDebit, debtorAcct.MaxDebit)
		if err != nil {
			return err
		}
		if !ok {
			status = AddIncomingBalanceInsufficient
			return nil
		}

		exchangeAcct, err := d.accounts.Get(ctx, exchangeLogin)
		if err != nil {
			return err
		}

		sp, err := tx.Begin(ctx)
		if err != nil {
			return err
		}
		rid, err := insertRow(ctx, sp, debtor, exchangeAcct.InternalPayto, reservePub, amount, ledger.DirDebit, ledger.KindIncoming, &reservePub, nil, nil)
		if isUniqueViolation(err) {
			_ = sp.Rollback(ctx)
			status = AddIncomingReservePubReuse
			return nil
		}
		if err != nil {
			return err
		}
		if err := sp.Commit(ctx); err != nil {
			return err
		}
		if _, err := insertRow(ctx, tx, exchangeLogin, debtorAcct.InternalPayto, reservePub, amount, ledger.DirCredit, ledger.KindIncoming, &reservePub, nil, nil); err != nil {
			return err
		}
		if err := adjustBalance(ctx, tx, debtor, amount, true); err != nil {
			return err
		}
		if err := adjustBalance(ctx, tx, exchangeLogin, amount, false); err != nil {
			return err
		}
		if err := stats.Record(ctx, tx, stats.MetricTalerIn, time.Now(), amount, nil); err != nil {
			return err
		}

		rowID = rid
		status = AddIncomingSuccess
		return nil
	})
	if err == nil && status == AddIncomingSuccess {
		d.store.Bus().Publish("account:"+debtor, rowID)
		d.store.Bus().Publish("account:"+exchangeLogin, rowID)
	}
	return status, rowID, err
}

// Transfer records an outgoing transfer from exchangeLogin to creditor,
// tagged by wtid/url, with payload-sensitive request_uid idempotency:
// the same UID with different (wtid, url, amount, creditor) is a
// conflict, identical payload returns the original row.
func (d *DAO) Transfer(ctx context.Context, exchangeLogin, requestUID, wtid, url string, amount money.Amount, creditor string) (TransferStatus, int64, error) {
	var status TransferStatus
	var rowID int64
	digest := transferDigest(wtid, url, amount, creditor)
	err := d.store.Serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var existingDigest string
		var existingRowID int64
		err := tx.QueryRow(ctx, `SELECT payload_digest, row_id FROM request_uids WHERE request_uid = $1`, requestUID).
			Scan(&existingDigest, &existingRowID)
		if err == nil {
			if existingDigest != digest {
				status = TransferRequestUIDReuse
				return nil
			}
			status = TransferSuccess
			rowID = existingRowID
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		creditorAcct, err := d.accounts.Get(ctx, creditor)
		if errors.Is(err, ledger.ErrAccountNotFound) {
			status = TransferUnknownCreditor
			return nil
		}
		if err != nil {
			return err
		}
		if creditorAcct.IsTalerExchange {
			status = TransferExchangeCreditor
			return nil
		}

		exchangeAcct, err := d.accounts.Get(ctx, exchangeLogin)
		if err != nil {
			return err
		}
		ok, err := money.IsBalanceEnough(exchangeAcct.Balance, amount, exchangeAcct.HasDebit, exchangeAcct.MaxDebit)
		if err != nil {
			return err
		}
		if !ok {
			status = TransferBalanceInsufficient
			return nil
		}

		subject := fmt.Sprintf("%s %s", wtid, url)
		sp, err := tx.Begin(ctx)
		if err != nil {
			return err
		}
		rid, err := insertRow(ctx, sp, exchangeLogin, creditorAcct.InternalPayto, subject, amount, ledger.DirDebit, ledger.KindOutgoing, nil, &wtid, &url)
		if isUniqueViolation(err) {
			_ = sp.Rollback(ctx)
			status = TransferRequestUIDReuse
			return nil
		}
		if err != nil {
			return err
		}
		if err := sp.Commit(ctx); err != nil {
			return err
		}
		if _, err := insertRow(ctx, tx, creditor, exchangeAcct.InternalPayto, subject, amount, ledger.DirCredit, ledger.KindOutgoing, nil, &wtid, &url); err != nil {
			return err
		}
		if err := adjustBalance(ctx, tx, exchangeLogin, amount, true); err != nil {
			return err
		}
		if err := adjustBalance(ctx, tx, creditor, amount, false); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO request_uids (request_uid, payload_digest, row_id) VALUES ($1,$2,$3)`,
			requestUID, digest, rid); err != nil {
			return fmt.Errorf("recording request_uid: %w", err)
		}
		if err := stats.Record(ctx, tx, stats.MetricTalerOut, time.Now(), amount, nil); err != nil {
			return err
		}

		rowID = rid
		status = TransferSuccess
		return nil
	})
	if err == nil && status == TransferSuccess {
		d.store.Bus().Publish("account:"+exchangeLogin, rowID)
		d.store.Bus().Publish("account:"+creditor, rowID)
	}
	return status, rowID, err
}

func transferDigest(wtid, url string, amount money.Amount, creditor string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s", wtid, url, amount.String(), creditor)
	return hex.EncodeToString(h.Sum(nil))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func insertRow(ctx context.Context, tx pgx.Tx, login, counterparty, subject string, amount money.Amount, dir ledger.Direction, kind ledger.TxKind, reservePub, wtid, exchURL *string) (int64, error) {
	var rowID int64
	err := tx.QueryRow(ctx, `INSERT INTO tx_rows (
		account_login, counterparty_payto, subject, amount_value, amount_frac, amount_currency,
		direction, timestamp, kind, reserve_pub, wtid, exchange_url
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING row_id`,
		login, counterparty, subject, amount.Value, amount.Frac, amount.Currency,
		string(dir), time.Now(), string(kind), reservePub, wtid, exchURL,
	).Scan(&rowID)
	return rowID, err
}

func adjustBalance(ctx context.Context, tx pgx.Tx, login string, amount money.Amount, isDebit bool) error {
	var balValue int64
	var balFrac int32
	var hasDebit bool
	if err := tx.QueryRow(ctx, `SELECT balance_value, balance_frac, has_debit FROM accounts WHERE login=$1 FOR UPDATE`, login).
		Scan(&balValue, &balFrac, &hasDebit); err != nil {
		return err
	}
	balance := money.Amount{Value: uint64(balValue), Frac: uint32(balFrac), Currency: amount.Currency}

	var nextBal money.Amount
	var nextHasDebit bool
	if isDebit {
		if hasDebit {
			s, err := money.Add(balance, amount)
			if err != nil {
				return err
			}
			nextBal, nextHasDebit = s, true
		} else if money.Compare(balance, amount) >= 0 {
			d, err := money.Sub(balance, amount)
			if err != nil {
				return err
			}
			nextBal, nextHasDebit = d, false
		} else {
			r, err := money.Sub(amount, balance)
			if err != nil {
				return err
			}
			nextBal, nextHasDebit = r, true
		}
	} else {
		if hasDebit {
			if money.Compare(balance, amount) >= 0 {
				d, err := money.Sub(balance, amount)
				if err != nil {
					return err
				}
				nextBal, nextHasDebit = d, true
			} else {
				r, err := money.Sub(amount, balance)
				if err != nil {
					return err
				}
				nextBal, nextHasDebit = r, false
			}
		} else {
			s, err := money.Add(balance, amount)
			if err != nil {
				return err
			}
			nextBal, nextHasDebit = s, false
		}
	}
	_, err := tx.Exec(ctx, `UPDATE accounts SET balance_value=$2, balance_frac=$3, has_debit=$4 WHERE login=$1`,
		login, nextBal.Value, nextBal.Frac, nextHasDebit)
	return err
}
