package httpapi

import (
	"encoding/json"
	"net/http"

	"libeufin-bank/internal/ledger"
	"libeufin-bank/internal/money"
)

// decodeJSON reads and decodes a JSON request body, already wrapped by
// withBodyLimit; a malformed payload maps to PARAMETER_MALFORMED.
func decodeJSON(r *http.Request, v any) *apiError {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return newErr(http.StatusBadRequest, codeParameterMalformed, err.Error())
	}
	return nil
}

func parseAmount(s string) (money.Amount, *apiError) {
	a, err := money.Parse(s, money.EIGHT)
	if err != nil {
		return money.Amount{}, newErr(http.StatusBadRequest, codeParameterMalformed, err.Error())
	}
	return a, nil
}

// accountView is the wire shape of an account, stripping the password
// hash and internal row id.
type accountView struct {
	Login           string  `json:"username"`
	Name            string  `json:"name"`
	Phone           *string `json:"phone,omitempty"`
	Email           *string `json:"email,omitempty"`
	CashoutPayto    *string `json:"cashout_payto_uri,omitempty"`
	TanChannel      string  `json:"tan_channel"`
	IsPublic        bool    `json:"is_public"`
	IsTalerExchange bool    `json:"is_taler_exchange"`
	PaytoURI        string  `json:"payto_uri"`
	Balance         string  `json:"balance"`
	DebitBalance    bool    `json:"debit_balance"`
	MaxDebit        string  `json:"max_debit_threshold"`
}

func toAccountView(a *ledger.Account) accountView {
	return accountView{
		Login:           a.Login,
		Name:            a.Name,
		Phone:           a.Phone,
		Email:           a.Email,
		CashoutPayto:    a.CashoutPayto,
		TanChannel:      string(a.TanChannel),
		IsPublic:        a.IsPublic,
		IsTalerExchange: a.IsTalerExchange,
		PaytoURI:        a.InternalPayto,
		Balance:         a.Balance.String(),
		DebitBalance:    a.HasDebit,
		MaxDebit:        a.MaxDebit.String(),
	}
}

type txRowView struct {
	RowID        int64   `json:"row_id"`
	Direction    string  `json:"direction"`
	Amount       string  `json:"amount"`
	Subject      string  `json:"subject"`
	CounterParty string  `json:"counterpart"`
	Timestamp    int64   `json:"date"`
	Kind         string  `json:"kind,omitempty"`
	ReservePub   *string `json:"reserve_pub,omitempty"`
	Wtid         *string `json:"wtid,omitempty"`
	ExchangeURL  *string `json:"exchange_url,omitempty"`
}

func toTxRowView(r ledger.TxRow) txRowView {
	return txRowView{
		RowID:        r.RowID,
		Direction:    string(r.Direction),
		Amount:       r.Amount.String(),
		Subject:      r.Subject,
		CounterParty: r.CounterParty,
		Timestamp:    r.Timestamp.Unix(),
		Kind:         string(r.Kind),
		ReservePub:   r.ReservePub,
		Wtid:         r.Wtid,
		ExchangeURL:  r.ExchangeURL,
	}
}
