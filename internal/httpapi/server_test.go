//go:build integration

package httpapi

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"libeufin-bank/config"
	"libeufin-bank/internal/auth"
	"libeufin-bank/internal/cashout"
	"libeufin-bank/internal/challenge"
	"libeufin-bank/internal/exchange"
	"libeufin-bank/internal/ledger"
	"libeufin-bank/internal/stats"
	"libeufin-bank/internal/store"
	"libeufin-bank/internal/talerwire"
	"libeufin-bank/internal/withdrawal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, s *store.Store) (*Server, *ledger.AccountDAO) {
	t.Helper()
	accounts := ledger.NewAccountDAO(s, ledger.NewReservedLogins(nil))
	tokens := ledger.NewTokenDAO(s, 8760*time.Hour)
	txs := ledger.NewTransactionDAO(s)
	challenges := challenge.NewEngine(s)
	withdrawals := withdrawal.NewDAO(s, accounts, txs)
	wire := talerwire.NewDAO(s, accounts)
	rates := exchange.NewRateTable(exchange.NewStaticSource(exchange.RatesConfig{}))
	cashouts := cashout.NewDAO(s, accounts, txs, challenges, rates)
	statsQ := stats.NewQuerier(s.Pool())
	authenticator := auth.NewAuthenticator(accounts, tokens)

	var cfg config.BankConfig
	cfg.Bank.RegionalCurrency = "KUDOS"
	cfg.Bank.FiatCurrency = "EUR"
	cfg.Bank.DefaultMaxDebit = "KUDOS:0"
	cfg.Bank.ChallengeValidity = 5 * time.Minute
	cfg.Bank.ChallengeRetries = 3
	cfg.Bank.ChallengeResend = time.Minute
	cfg.Server.BaseURL = "bank.example"

	srv := NewServer(cfg, Deps{
		Accounts:    accounts,
		Tokens:      tokens,
		Txs:         txs,
		Withdrawals: withdrawals,
		Wire:        wire,
		Cashouts:    cashouts,
		Challenges:  challenges,
		Rates:       rates,
		Stats:       statsQ,
		Auth:        authenticator,
	})
	return srv, accounts
}

func basicAuthHeader(login, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(login+":"+password))
}

func doJSON(t *testing.T, mux http.Handler, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateAccount_ThenGet(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	srv, _ := newTestServer(t, s)
	mux := srv.Routes()

	rec := doJSON(t, mux, http.MethodPost, "/accounts", "", createAccountRequest{
		Login:         "alice",
		Password:      "s3cret",
		Name:          "Alice",
		InternalPayto: "payto://iban/DE00alice",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/accounts/alice", basicAuthHeader("alice", "s3cret"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view accountView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "alice", view.Login)
	assert.Equal(t, "KUDOS:0.00000000", view.Balance)
}

func TestCreateAccount_UsernameReuse(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	srv, _ := newTestServer(t, s)
	mux := srv.Routes()

	req := createAccountRequest{Login: "bob", Password: "x", Name: "Bob", InternalPayto: "payto://iban/DE00bob"}
	rec := doJSON(t, mux, http.MethodPost, "/accounts", "", req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/accounts", "", createAccountRequest{
		Login: "bob", Password: "y", Name: "Bob Two", InternalPayto: "payto://iban/DE00bob2",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	var apiErr apiError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, codeUsernameReuse, apiErr.Code)
}

func TestGetAccount_RequiresOwnerOrAdmin(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	srv, _ := newTestServer(t, s)
	mux := srv.Routes()

	doJSON(t, mux, http.MethodPost, "/accounts", "", createAccountRequest{
		Login: "carol", Password: "pw1", Name: "Carol", InternalPayto: "payto://iban/DE00carol",
	})
	doJSON(t, mux, http.MethodPost, "/accounts", "", createAccountRequest{
		Login: "dave", Password: "pw2", Name: "Dave", InternalPayto: "payto://iban/DE00dave",
	})

	rec := doJSON(t, mux, http.MethodGet, "/accounts/carol", basicAuthHeader("dave", "pw2"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/accounts/carol", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTransaction_PostThenHistory(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	srv, _ := newTestServer(t, s)
	mux := srv.Routes()

	doJSON(t, mux, http.MethodPost, "/accounts", "", createAccountRequest{
		Login: "payer", Password: "pw", Name: "Payer", InternalPayto: "payto://iban/DE00payer",
	})
	doJSON(t, mux, http.MethodPost, "/accounts", "", createAccountRequest{
		Login: "payee", Password: "pw", Name: "Payee", InternalPayto: "payto://iban/DE00payee",
	})

	rec := doJSON(t, mux, http.MethodPost, "/accounts/payer/transactions", basicAuthHeader("payer", "pw"), createTxRequest{
		Payto:  "payto://iban/DE00payee?message=birthday+gift",
		Amount: "KUDOS:0.00000000",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/accounts/payee/transactions", basicAuthHeader("payee", "pw"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist struct {
		Transactions []txRowView `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist.Transactions, 1)
	assert.Equal(t, "birthday gift", hist.Transactions[0].Subject)
}

func TestConversionConfig_NotImplementedWhenDisabled(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	srv, _ := newTestServer(t, s)
	mux := srv.Routes()

	rec := doJSON(t, mux, http.MethodGet, "/conversion-info/config", "", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestWithdrawal_CreateThenGet(t *testing.T) {
	s := store.SetupTestStore(t)
	defer s.Close()
	defer store.CleanupTestStore(t, s)
	srv, _ := newTestServer(t, s)
	mux := srv.Routes()

	doJSON(t, mux, http.MethodPost, "/accounts", "", createAccountRequest{
		Login: "withdrawer", Password: "pw", Name: "Withdrawer", InternalPayto: "payto://iban/DE00withdrawer",
	})

	rec := doJSON(t, mux, http.MethodPost, "/accounts/withdrawer/withdrawals", basicAuthHeader("withdrawer", "pw"), createWithdrawalRequest{
		Amount: "KUDOS:0.00000000",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var created struct {
		WithdrawalID string `json:"withdrawal_id"`
		TalerURI     string `json:"taler_withdraw_uri"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.WithdrawalID)

	rec = doJSON(t, mux, http.MethodGet, "/withdrawals/"+created.WithdrawalID, basicAuthHeader("withdrawer", "pw"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
