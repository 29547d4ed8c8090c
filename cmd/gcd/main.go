package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"libeufin-bank/config"
	"libeufin-bank/internal/gc"
	"libeufin-bank/internal/store"
	"libeufin-bank/pkg/cache"
	"libeufin-bank/pkg/logger"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

var Cfg config.BankConfig

const leaderLockKey = "gcd:leader"
const leaderLockTTL = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Init(logger.GetEnv(), "gcd"); err != nil {
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

	collector := gc.NewCollector(s)
	thresholds := gc.Thresholds{
		AbortAfter:  Cfg.GC.AbortAfter,
		CleanAfter:  Cfg.GC.CleanAfter,
		DeleteAfter: Cfg.GC.DeleteAfter,
	}

	ticker := time.NewTicker(Cfg.GC.Interval)
	defer ticker.Stop()

	logger.Info("gcd running",
		zap.Duration("interval", Cfg.GC.Interval),
		zap.Duration("abort_after", thresholds.AbortAfter),
		zap.Duration("clean_after", thresholds.CleanAfter),
		zap.Duration("delete_after", thresholds.DeleteAfter),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigChan:
			logger.Info("gcd received shutdown signal")
			return nil
		case <-ticker.C:
			runPass(ctx, collector, thresholds)
		}
	}
}

// runPass acquires the leader lock before collecting so a
// horizontally-scaled deployment never runs two destructive sweeps at
// once; any other replica simply skips this tick.
func runPass(ctx context.Context, collector *gc.Collector, thresholds gc.Thresholds) {
	acquired, err := cache.TryAcquireLock(ctx, leaderLockKey, leaderLockTTL)
	if err != nil {
		logger.Error("gcd lock acquisition failed", zap.Error(err))
		return
	}
	if !acquired {
		logger.Debug("gcd skipping pass, another replica holds the lock")
		return
	}
	defer cache.ReleaseLock(ctx, leaderLockKey)

	report, err := collector.Collect(ctx, time.Now(), thresholds)
	if err != nil {
		logger.Error("gcd collection pass failed", zap.Error(err))
		return
	}
	logger.Info("gcd collection pass complete",
		zap.Int64("aborted_withdrawals", report.AbortedWithdrawals),
		zap.Int64("aborted_cashouts", report.AbortedCashouts),
		zap.Int64("aborted_challenges", report.AbortedChallenges),
		zap.Int64("cleaned_tokens", report.CleanedTokens),
		zap.Int64("cleaned_withdrawals", report.CleanedWithdrawals),
		zap.Int64("cleaned_cashouts", report.CleanedCashouts),
		zap.Int64("cleaned_challenges", report.CleanedChallenges),
		zap.Int64("deleted_accounts", report.DeletedAccounts),
		zap.Int64("deleted_tx_rows", report.DeletedTxRows),
	)
}
