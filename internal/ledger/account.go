package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"libeufin-bank/internal/crypto"
	"libeufin-bank/internal/money"
	"libeufin-bank/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// AccountDAO is the Account DAO (C3), grounded on the teacher's
// card_repository.go repository pattern: a thin struct over *store.Store
// with one method per operation, pgconn.PgError mapped to sentinel/
// tagged conflicts instead of raw DB errors leaking out.
type AccountDAO struct {
	store    *store.Store
	reserved *ReservedLogins
}

// NewAccountDAO constructs an AccountDAO bound to a store and the
// process-wide reserved-login set.
func NewAccountDAO(s *store.Store, reserved *ReservedLogins) *AccountDAO {
	return &AccountDAO{store: s, reserved: reserved}
}

// Create registers a new account, or is a no-op success if an account
// with the same (login, payto, name, public, taler-exchange) already
// exists. Reserved logins always conflict: they can only come into
// being through Bootstrap.
func (d *AccountDAO) Create(ctx context.Context, a *Account) (AccountResult, error) {
	if d.reserved.Contains(a.Login) {
		return AccountResult{Status: AccountReservedUsernameConflict}, nil
	}
	return d.insert(ctx, a)
}

// Bootstrap creates or idempotently confirms a reserved account (the
// admin identity, the bank clearing account) at process startup. It is
// the only path that can bring a reserved login into existence; it is
// never reachable from the HTTP API, so an operator cannot be tricked
// into minting one over the wire.
func (d *AccountDAO) Bootstrap(ctx context.Context, a *Account) (AccountResult, error) {
	return d.insert(ctx, a)
}

func (d *AccountDAO) insert(ctx context.Context, a *Account) (AccountResult, error) {
	var result AccountResult
	err := d.store.Serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		existing, err := getAccountTx(ctx, tx, a.Login)
		if err != nil && !errors.Is(err, ErrAccountNotFound) {
			return err
		}
		if err == nil {
			if existing.InternalPayto == a.InternalPayto &&
				existing.Name == a.Name &&
				existing.IsPublic == a.IsPublic &&
				existing.IsTalerExchange == a.IsTalerExchange {
				result = AccountResult{Status: AccountIdempotentNoop, Account: existing}
				return nil
			}
			result = AccountResult{Status: AccountUsernameReuse}
			return nil
		}

		// payto must be unique across accounts
		var paytoOwner string
		err = tx.QueryRow(ctx, `SELECT login FROM accounts WHERE internal_payto = $1`, a.InternalPayto).Scan(&paytoOwner)
		if err == nil {
			result = AccountResult{Status: AccountPaytoReuse}
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("checking payto uniqueness: %w", err)
		}

		_, err = tx.Exec(ctx, `INSERT INTO accounts (
			login, password_hash, name, phone, email, cashout_payto, tan_channel,
			is_public, is_taler_exchange, internal_payto,
			balance_value, balance_frac, balance_currency, has_debit,
			max_debit_value, max_debit_frac, max_debit_currency, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
			a.Login, a.PasswordHash, a.Name, a.Phone, a.Email, a.CashoutPayto, string(a.TanChannel),
			a.IsPublic, a.IsTalerExchange, a.InternalPayto,
			a.Balance.Value, a.Balance.Frac, a.Balance.Currency, a.HasDebit,
			a.MaxDebit.Value, a.MaxDebit.Frac, a.MaxDebit.Currency, a.CreatedAt,
		)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			result = AccountResult{Status: AccountUsernameReuse}
			return nil
		}
		if err != nil {
			return fmt.Errorf("creating account: %w", err)
		}

		created, err := getAccountTx(ctx, tx, a.Login)
		if err != nil {
			return err
		}
		result = AccountResult{Status: AccountCreated, Account: created}
		return nil
	})
	return result, err
}

// SetPassword bcrypt-hashes and stores a new password for login.
func (d *AccountDAO) SetPassword(ctx context.Context, login, password string) error {
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	return d.store.Conn(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE accounts SET password_hash = $2 WHERE login = $1 AND deleted = false`, login, hash)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrAccountNotFound
		}
		return nil
	})
}

// VerifyPassword checks login's stored bcrypt hash against password.
func (d *AccountDAO) VerifyPassword(ctx context.Context, login, password string) (bool, error) {
	a, err := d.Get(ctx, login)
	if err != nil {
		return false, err
	}
	return crypto.VerifyPassword(a.PasswordHash, password), nil
}

// Get fetches an account by login.
func (d *AccountDAO) Get(ctx context.Context, login string) (*Account, error) {
	var a *Account
	err := d.store.Conn(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		a, err = getAccountTx(ctx, tx, login)
		return err
	})
	return a, err
}

// GetByPayto resolves the account whose internal_payto exactly matches
// payto, for handlers that receive a wire destination rather than a
// login.
func (d *AccountDAO) GetByPayto(ctx context.Context, payto string) (*Account, error) {
	var a *Account
	err := d.store.Conn(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var login string
		err := tx.QueryRow(ctx, `SELECT login FROM accounts WHERE internal_payto = $1`, payto).Scan(&login)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		if err != nil {
			return fmt.Errorf("looking up account by payto: %w", err)
		}
		a, err = getAccountTx(ctx, tx, login)
		return err
	})
	return a, err
}

// AdminPatch applies admin-only fields (debit threshold, tan channel);
// non-admins cannot set their own threshold or channel.
func (d *AccountDAO) AdminPatch(ctx context.Context, login string, maxDebit *money.Amount, tanChannel *TanChannel) (AccountResult, error) {
	var result AccountResult
	err := d.store.Serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		existing, err := getAccountTx(ctx, tx, login)
		if err != nil {
			return err
		}
		if maxDebit != nil {
			_, err = tx.Exec(ctx, `UPDATE accounts SET max_debit_value=$2, max_debit_frac=$3, max_debit_currency=$4 WHERE login=$1`,
				login, maxDebit.Value, maxDebit.Frac, maxDebit.Currency)
			if err != nil {
				return err
			}
		}
		if tanChannel != nil {
			_, err = tx.Exec(ctx, `UPDATE accounts SET tan_channel=$2 WHERE login=$1`, login, string(*tanChannel))
			if err != nil {
				return err
			}
			// Invalidating open challenges bound to the account is the
			// caller's (internal/challenge) responsibility; see
			// challenge.Engine.InvalidateForAccount, invoked by the
			// httpapi PATCH handler in the same request after this call.
		}
		updated, err := getAccountTx(ctx, tx, login)
		if err != nil {
			return err
		}
		_ = existing
		result = AccountResult{Status: AccountCreated, Account: updated}
		return nil
	})
	return result, err
}

// Delete soft-deletes an account. Requires balance == 0; reserved
// logins can never be deleted.
func (d *AccountDAO) Delete(ctx context.Context, login string) (AccountResult, error) {
	if d.reserved.Contains(login) {
		return AccountResult{Status: AccountReservedUsernameConflict}, nil
	}
	var result AccountResult
	err := d.store.Serializable(ctx, func(ctx context.Context, tx pgx.Tx) error {
		a, err := getAccountTx(ctx, tx, login)
		if err != nil {
			return err
		}
		if !a.Balance.IsZero() {
			result = AccountResult{Status: AccountBalanceNotZero}
			return nil
		}
		now := time.Now()
		_, err = tx.Exec(ctx, `UPDATE accounts SET deleted = true, deleted_at = $2 WHERE login = $1`, login, now)
		if err != nil {
			return err
		}
		result = AccountResult{Status: AccountCreated}
		return nil
	})
	return result, err
}

func getAccountTx(ctx context.Context, tx pgx.Tx, login string) (*Account, error) {
	var a Account
	var tanChannel string
	var deletedAt *time.Time
	err := tx.QueryRow(ctx, `SELECT
		login, password_hash, name, phone, email, cashout_payto, tan_channel,
		is_public, is_taler_exchange, internal_payto,
		balance_value, balance_frac, balance_currency, has_debit,
		max_debit_value, max_debit_frac, max_debit_currency,
		deleted, created_at, deleted_at
	FROM accounts WHERE login = $1`, login).Scan(
		&a.Login, &a.PasswordHash, &a.Name, &a.Phone, &a.Email, &a.CashoutPayto, &tanChannel,
		&a.IsPublic, &a.IsTalerExchange, &a.InternalPayto,
		&a.Balance.Value, &a.Balance.Frac, &a.Balance.Currency, &a.HasDebit,
		&a.MaxDebit.Value, &a.MaxDebit.Frac, &a.MaxDebit.Currency,
		&a.Deleted, &a.CreatedAt, &deletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning account %s: %w", login, err)
	}
	a.TanChannel = TanChannel(tanChannel)
	a.DeletedAt = deletedAt
	return &a, nil
}
