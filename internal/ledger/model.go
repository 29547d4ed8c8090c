// Package ledger implements the account, bearer-token and transaction
// DAOs that sit directly on top of internal/store: the ledger kernel
// proper. Every money-moving method runs inside Store.Serializable.
package ledger

import (
	"time"

	"libeufin-bank/internal/money"
)

// TanChannel is how a one-time code is delivered to a customer.
type TanChannel string

const (
	TanNone  TanChannel = "none"
	TanSMS   TanChannel = "sms"
	TanEmail TanChannel = "email"
)

// Account is the 1:1 customer/account record.
type Account struct {
	RowID           int64
	Login           string
	PasswordHash    string
	Name            string
	Phone           *string
	Email           *string
	CashoutPayto    *string
	TanChannel      TanChannel
	IsPublic        bool
	IsTalerExchange bool
	InternalPayto   string
	Balance         money.Amount
	HasDebit        bool
	MaxDebit        money.Amount
	Deleted         bool
	CreatedAt       time.Time
	DeletedAt       *time.Time
}

// SignedBalance reports the account's effective signed balance:
// negative when HasDebit, positive otherwise.
func (a *Account) SignedBalance() (money.Amount, bool) {
	return a.Balance, a.HasDebit
}

// TokenScope limits what a bearer token may authorize.
type TokenScope string

const (
	ScopeReadOnly  TokenScope = "readonly"
	ScopeReadWrite TokenScope = "readwrite"
)

// Token is a bearer-token row.
type Token struct {
	Content      []byte
	Login        string
	Scope        TokenScope
	Refreshable  bool
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Direction is which side of a posting an account sits on.
type Direction string

const (
	DirCredit Direction = "credit"
	DirDebit  Direction = "debit"
)

// TxKind marks a row as a plain transfer or an exchange-protocol
// posting recognized from reserved subject-metadata patterns.
type TxKind string

const (
	KindPlain    TxKind = "plain"
	KindIncoming TxKind = "incoming" // exchange add-incoming, keyed by reserve_pub
	KindOutgoing TxKind = "outgoing" // exchange transfer, keyed by wtid+url
)

// TxRow is one side of a posted transaction.
type TxRow struct {
	RowID        int64
	AccountLogin string
	CounterParty string // the payto of the other side
	Subject      string
	Amount       money.Amount
	Direction    Direction
	Timestamp    time.Time
	Kind         TxKind
	ReservePub   *string
	Wtid         *string
	ExchangeURL  *string
	RequestUID   *string
}
