package httpapi

import (
	"net/http"

	"libeufin-bank/config"
	"libeufin-bank/internal/auth"
	"libeufin-bank/internal/cashout"
	"libeufin-bank/internal/challenge"
	"libeufin-bank/internal/exchange"
	"libeufin-bank/internal/ledger"
	"libeufin-bank/internal/stats"
	"libeufin-bank/internal/talerwire"
	"libeufin-bank/internal/withdrawal"
	"libeufin-bank/pkg/queue"
)

// Server holds every DAO the HTTP surface dispatches to. Grounded on
// cmd/api/main.go's wiring shape, extended so it actually builds and
// serves a mux instead of standing empty.
type Server struct {
	cfg config.BankConfig

	accounts    *ledger.AccountDAO
	tokens      *ledger.TokenDAO
	txs         *ledger.TransactionDAO
	withdrawals *withdrawal.DAO
	wire        *talerwire.DAO
	cashouts    *cashout.DAO
	challenges  *challenge.Engine
	rates       *exchange.RateTable
	statsQ      *stats.Querier
	auth        *auth.Authenticator
	tanQueue    *queue.StreamQueue
}

// Deps bundles the constructed DAOs NewServer needs. Kept as a struct
// rather than a long positional parameter list since the set of DAOs
// is the full domain surface (C1-C13) and will only grow.
type Deps struct {
	Accounts    *ledger.AccountDAO
	Tokens      *ledger.TokenDAO
	Txs         *ledger.TransactionDAO
	Withdrawals *withdrawal.DAO
	Wire        *talerwire.DAO
	Cashouts    *cashout.DAO
	Challenges  *challenge.Engine
	Rates       *exchange.RateTable
	Stats       *stats.Querier
	Auth        *auth.Authenticator
	TanQueue    *queue.StreamQueue
}

// NewServer constructs a Server bound to cfg and deps.
func NewServer(cfg config.BankConfig, deps Deps) *Server {
	return &Server{
		cfg:         cfg,
		accounts:    deps.Accounts,
		tokens:      deps.Tokens,
		txs:         deps.Txs,
		withdrawals: deps.Withdrawals,
		wire:        deps.Wire,
		cashouts:    deps.Cashouts,
		challenges:  deps.Challenges,
		rates:       deps.Rates,
		statsQ:      deps.Stats,
		auth:        deps.Auth,
		tanQueue:    deps.TanQueue,
	}
}

// Routes builds the full endpoint table onto a stdlib ServeMux, using
// Go 1.22's method+path-value patterns.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /accounts", withBodyLimit(s.handleCreateAccount))
	mux.HandleFunc("GET /accounts/{login}", s.requireAccount(true, s.handleGetAccount))
	mux.HandleFunc("PATCH /accounts/{login}", s.requireAccount(true, s.handlePatchAccount))
	mux.HandleFunc("DELETE /accounts/{login}", s.requireAccount(true, s.handleDeleteAccount))

	mux.HandleFunc("POST /accounts/{login}/token", s.requireAccount(false, s.handleCreateToken))
	mux.HandleFunc("DELETE /accounts/{login}/token", s.requireAccount(false, s.handleDeleteToken))

	mux.HandleFunc("GET /accounts/{login}/transactions", s.requireAccount(true, s.handleTxHistory))
	mux.HandleFunc("POST /accounts/{login}/transactions", s.requireAccount(false, s.handleCreateTx))
	mux.HandleFunc("GET /accounts/{login}/transactions/{row_id}", s.requireAccount(true, s.handleGetTx))

	mux.HandleFunc("POST /accounts/{login}/withdrawals", s.requireAccount(false, s.handleCreateWithdrawal))
	mux.HandleFunc("GET /withdrawals/{uuid}", s.requireAuth(s.handleGetWithdrawal))
	mux.HandleFunc("POST /withdrawals/{uuid}/abort", s.requireAuth(s.handleAbortWithdrawal))
	mux.HandleFunc("POST /withdrawals/{uuid}/confirm", s.requireAuth(s.handleConfirmWithdrawal))

	mux.HandleFunc("GET /taler-integration/withdrawal-operation/{uuid}", s.handleWalletGetWithdrawal)
	mux.HandleFunc("POST /taler-integration/withdrawal-operation/{uuid}", withBodyLimit(s.handleWalletSelectWithdrawal))
	mux.HandleFunc("POST /taler-integration/withdrawal-operation/{uuid}/abort", s.handleWalletAbortWithdrawal)

	mux.HandleFunc("POST /accounts/{login}/taler-wire-gateway/transfer", s.requireAccount(false, s.handleWireTransfer))
	mux.HandleFunc("POST /accounts/{login}/taler-wire-gateway/admin/add-incoming", s.requireAccount(false, s.handleWireAddIncoming))
	mux.HandleFunc("GET /accounts/{login}/taler-wire-gateway/history/incoming", s.requireAccount(false, s.handleWireHistoryIncoming))
	mux.HandleFunc("GET /accounts/{login}/taler-wire-gateway/history/outgoing", s.requireAccount(false, s.handleWireHistoryOutgoing))

	mux.HandleFunc("POST /accounts/{login}/cashouts", s.requireAccount(false, s.handleCreateCashout))
	mux.HandleFunc("GET /accounts/{login}/cashouts/{id}", s.requireAccount(false, s.handleGetCashout))
	mux.HandleFunc("POST /accounts/{login}/cashouts/{id}/confirm", s.requireAccount(false, s.handleConfirmCashout))
	mux.HandleFunc("POST /accounts/{login}/cashouts/{id}/abort", s.requireAccount(false, s.handleAbortCashout))

	mux.HandleFunc("POST /accounts/{login}/challenge/{id}", s.requireAccount(false, s.handleSendChallenge))
	mux.HandleFunc("POST /accounts/{login}/challenge/{id}/confirm", s.requireAccount(false, s.handleConfirmChallenge))

	mux.HandleFunc("GET /conversion-info/config", s.handleConversionConfig)
	mux.HandleFunc("GET /conversion-info/cashin-rate", s.handleCashinRate)
	mux.HandleFunc("GET /conversion-info/cashout-rate", s.handleCashoutRate)

	mux.HandleFunc("GET /monitor", s.requireAdmin(s.handleMonitor))

	return mux
}
