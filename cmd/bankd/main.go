package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"libeufin-bank/config"
	"libeufin-bank/internal/auth"
	"libeufin-bank/internal/cashout"
	"libeufin-bank/internal/challenge"
	"libeufin-bank/internal/crypto"
	"libeufin-bank/internal/exchange"
	"libeufin-bank/internal/httpapi"
	"libeufin-bank/internal/ledger"
	"libeufin-bank/internal/money"
	"libeufin-bank/internal/stats"
	"libeufin-bank/internal/store"
	"libeufin-bank/internal/talerwire"
	"libeufin-bank/internal/withdrawal"
	"libeufin-bank/pkg/cache"
	"libeufin-bank/pkg/logger"
	"libeufin-bank/pkg/queue"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

var Cfg config.BankConfig

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Init(logger.GetEnv(), "bankd"); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filepath.Dir(filepath.Dir(filename)))
	configPath := config.Path(root).Join("config.toml")

	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cache.Close()

	var storeCfg store.Config
	if err := copier.Copy(&storeCfg, &Cfg.Database); err != nil {
		return fmt.Errorf("failed to copy store config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := store.New(ctx, storeCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer s.Close()

	if err := s.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	reserved := ledger.NewReservedLogins(Cfg.Bank.ReservedLogins)
	accounts := ledger.NewAccountDAO(s, reserved)

	if err := bootstrapReservedAccounts(ctx, accounts, Cfg); err != nil {
		return fmt.Errorf("failed to bootstrap reserved accounts: %w", err)
	}
	tokens := ledger.NewTokenDAO(s, Cfg.Bank.MaxTokenDuration)
	txs := ledger.NewTransactionDAO(s)
	challenges := challenge.NewEngine(s)
	withdrawals := withdrawal.NewDAO(s, accounts, txs)
	wire := talerwire.NewDAO(s, accounts)

	rates := exchange.NewRateTable(conversionSource(Cfg))
	if Cfg.Conversion.Enabled {
		if err := rates.Reload(); err != nil {
			return fmt.Errorf("failed to load conversion rate table: %w", err)
		}
	}

	cashouts := cashout.NewDAO(s, accounts, txs, challenges, rates)
	statsQ := stats.NewQuerier(s.Pool())
	authenticator := auth.NewAuthenticator(accounts, tokens)
	tanQueue := queue.NewStreamQueue(cache.Client)

	srv := httpapi.NewServer(Cfg, httpapi.Deps{
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
		TanQueue:    tanQueue,
	})

	httpSrv := &http.Server{
		Addr:    Cfg.Server.Listen,
		Handler: srv.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bankd listening", zap.String("addr", Cfg.Server.Listen), zap.String("base_url", Cfg.Server.BaseURL))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("bankd received shutdown signal")
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// bootstrapReservedAccounts ensures the admin identity and the bank
// clearing account exist before the HTTP server starts accepting
// requests. These logins are reserved (config.toml's reserved_logins)
// and AccountDAO.Create refuses them unconditionally, so they can only
// come into being through this startup-time path, never over the wire.
// Idempotent: a second run against an already-bootstrapped database is
// a no-op.
func bootstrapReservedAccounts(ctx context.Context, accounts *ledger.AccountDAO, cfg config.BankConfig) error {
	zero := money.Amount{Value: 0, Frac: 0, Currency: cfg.Bank.RegionalCurrency}

	adminPassword := cfg.Bank.AdminPassword
	if adminPassword == "" {
		generated, err := randomPassword()
		if err != nil {
			return fmt.Errorf("generating admin password: %w", err)
		}
		adminPassword = generated
		logger.Warn("no bank.admin_password configured, generated a one-time admin password for this bootstrap; set LIBEUFIN_BANK_ADMIN_PASSWORD to pin it across restarts")
	}
	adminHash, err := crypto.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("hashing admin password: %w", err)
	}
	if _, err := accounts.Bootstrap(ctx, &ledger.Account{
		Login:         "admin",
		PasswordHash:  adminHash,
		Name:          "Bank Administrator",
		InternalPayto: "payto://iban/ADMIN-" + cfg.Bank.RegionalCurrency,
		Balance:       zero,
		MaxDebit:      zero,
		TanChannel:    ledger.TanNone,
		CreatedAt:     time.Now(),
	}); err != nil {
		return fmt.Errorf("bootstrapping admin account: %w", err)
	}

	bankPassword, err := randomPassword()
	if err != nil {
		return fmt.Errorf("generating bank clearing account password: %w", err)
	}
	bankHash, err := crypto.HashPassword(bankPassword)
	if err != nil {
		return fmt.Errorf("hashing bank clearing account password: %w", err)
	}
	if _, err := accounts.Bootstrap(ctx, &ledger.Account{
		Login:         "bank",
		PasswordHash:  bankHash,
		Name:          "Bank Clearing Account",
		InternalPayto: "payto://iban/BANK-" + cfg.Bank.RegionalCurrency,
		Balance:       zero,
		HasDebit:      true,
		MaxDebit:      money.Amount{Value: 1<<62 - 1, Frac: 0, Currency: cfg.Bank.RegionalCurrency},
		TanChannel:    ledger.TanNone,
		CreatedAt:     time.Now(),
	}); err != nil {
		return fmt.Errorf("bootstrapping bank clearing account: %w", err)
	}
	return nil
}

// randomPassword returns a base32-encoded random secret suitable for an
// account that is never meant to be logged into interactively.
func randomPassword() (string, error) {
	content, err := crypto.NewTokenContent()
	if err != nil {
		return "", err
	}
	return crypto.EncodeTokenContent(content), nil
}

// conversionSource picks the TOML rate file when conversion is
// enabled, or a disabled static source otherwise so NewRateTable always
// has a non-nil RateSource to hold onto for a later Reload.
func conversionSource(cfg config.BankConfig) exchange.RateSource {
	if cfg.Conversion.Enabled && cfg.Conversion.Path != "" {
		return exchange.NewTOMLFileSource(cfg.Conversion.Path)
	}
	return exchange.NewStaticSource(exchange.RatesConfig{})
}
