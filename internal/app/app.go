// Package app provides the top-level application lifecycle for pairbot. It
// wires infrastructure (stores, caches, blob storage, notifications), builds
// the trading engine, and runs the feed and maintenance goroutines until the
// context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/pairbot/internal/config"
	"github.com/alanyoungcy/pairbot/internal/crypto"
	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/alanyoungcy/pairbot/internal/exchange"
	"github.com/alanyoungcy/pairbot/internal/exchange/binance"
	"github.com/alanyoungcy/pairbot/internal/exchange/paper"
	"github.com/alanyoungcy/pairbot/internal/executor"
	"github.com/alanyoungcy/pairbot/internal/feed"
	"github.com/alanyoungcy/pairbot/internal/pairs"
	"github.com/alanyoungcy/pairbot/internal/pipeline"
	"github.com/alanyoungcy/pairbot/internal/ticker"
)

// defaultPaperBalance is the starting quote balance for paper exchanges when
// none is configured.
const defaultPaperBalance = 10000

// engineLockTTL bounds how long a crashed process keeps its per-exchange
// engine lock. The lock manager refreshes held locks well within the TTL.
const engineLockTTL = 30 * time.Second

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires dependencies, builds the engine, and
// blocks until the context is cancelled or a goroutine fails. Open pair
// states are cancelled on the way out.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// One engine instance per exchange account. The lock prevents a second
	// deployment from double-driving live orders; paper mode skips it.
	if a.cfg.Mode == "trade" && deps.LockManager != nil {
		for _, ex := range a.cfg.Exchanges {
			unlock, err := deps.LockManager.Acquire(ctx, "engine:"+ex.Name, engineLockTTL)
			if err != nil {
				return fmt.Errorf("app: engine lock %s: %w", ex.Name, err)
			}
			a.closers = append(a.closers, unlock)
		}
	}

	registry, err := a.buildExchanges(ctx)
	if err != nil {
		return fmt.Errorf("app: build exchanges: %w", err)
	}

	// In-memory ticker cache, optionally mirrored to Redis for
	// cross-process visibility. The engine always reads locally.
	memTickers := ticker.NewCache()
	var tickers domain.TickerCache = memTickers
	if deps.TickerCache != nil {
		tickers = ticker.NewMirrored(memTickers, deps.TickerCache, a.logger)
	}

	exec := executor.New(registry, tickers, executor.Config{
		MaxRetries:      a.cfg.Order.Retry,
		RetryDelay:      a.cfg.Order.RetryDelay(),
		AdjustThreshold: a.cfg.Order.AdjustPriceDiff,
		FreshThreshold:  a.cfg.Order.PriceFreshThreshold.Duration,
		PollAttempts:    a.cfg.Order.PricePollAttempts,
		PollInterval:    a.cfg.Order.PricePollInterval.Duration,
	}, a.logger)

	calc := pairs.NewCalculator(tickers, a.logger)
	execution := pairs.NewExecution(
		registry,
		exec,
		calc,
		tickers,
		a.cfg.Order.MaxTickRetries,
		a.cfg.Order.StateTimeout.Duration,
		a.cfg.Order.ReuseTolerance,
		a.logger,
	)
	if deps.OrderStore != nil {
		execution.WithPersistence(deps.OrderStore, deps.AuditStore)
	}
	if deps.SignalBus != nil {
		execution.WithSignalBus(deps.SignalBus)
	}
	if deps.Notifier != nil {
		execution.WithNotifier(deps.Notifier)
	}

	manager := pairs.NewManager(execution, exec, a.cfg, a.cfg.Tick.Ordering.Duration, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	manager.Start(ctx)

	// Market-data feeds, one per exchange with configured pairs.
	for _, exCfg := range a.cfg.Exchanges {
		symbols := a.cfg.SymbolsFor(exCfg.Name)
		if len(symbols) == 0 {
			continue
		}
		wsFeed := feed.NewBinanceFeed(exCfg.WSURL, exCfg.Name, symbols, tickers, a.logger)
		g.Go(func() error {
			defer wsFeed.Close()
			return wsFeed.Run(ctx)
		})
	}

	// External signals drive the state machine through the Redis bus.
	if deps.SignalBus != nil {
		feeder := feed.NewSignalFeeder(deps.SignalBus, a.cfg.Signals.Channel, manager, a.logger)
		g.Go(func() error {
			return feeder.Run(ctx)
		})
	}

	// Order-history archival on the configured cron schedule.
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		cronExpr := a.cfg.Archive.Cron
		g.Go(func() error {
			return archiver.RunCron(ctx, cronExpr)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		// Cancel open states with a fresh context; ctx is already done.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		manager.OnTerminate(shutdownCtx)
		if deps.Notifier != nil {
			if err := deps.Notifier.NotifyAll(shutdownCtx, "Engine stopping", "open pair states cancelled"); err != nil {
				a.logger.Warn("shutdown notification failed", slog.String("error", err.Error()))
			}
		}
		return ctx.Err()
	})

	a.logger.InfoContext(ctx, "engine running",
		slog.Int("exchanges", len(registry.All())),
		slog.Int("pairs", len(a.cfg.Pairs)),
	)
	if deps.Notifier != nil {
		msg := fmt.Sprintf("mode=%s exchanges=%d pairs=%d", a.cfg.Mode, len(registry.All()), len(a.cfg.Pairs))
		if err := deps.Notifier.NotifyAll(ctx, "Engine started", msg); err != nil {
			a.logger.Warn("startup notification failed", slog.String("error", err.Error()))
		}
	}

	return g.Wait()
}

// buildExchanges constructs the adapter registry for the configured mode. In
// paper mode every configured (or pair-referenced) exchange gets an
// in-memory adapter; in trade mode each exchange gets a REST adapter with
// resolved credentials.
func (a *App) buildExchanges(ctx context.Context) (*exchange.Registry, error) {
	registry := exchange.NewRegistry()

	if a.cfg.Mode == "paper" {
		for _, name := range a.paperExchangeNames() {
			balance := float64(defaultPaperBalance)
			for _, exCfg := range a.cfg.Exchanges {
				if exCfg.Name == name && exCfg.PaperBalance > 0 {
					balance = exCfg.PaperBalance
				}
			}
			registry.Add(paper.New(name, balance))
			a.logger.Info("paper exchange ready",
				slog.String("exchange", name),
				slog.Float64("balance", balance),
			)
		}
		return registry, nil
	}

	for _, exCfg := range a.cfg.Exchanges {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:           exCfg.APISecret,
			EncryptedSecretPath: exCfg.EncryptedSecretPath,
			Password:            exCfg.SecretPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("exchange %s: %w", exCfg.Name, err)
		}

		adapter := binance.New(exCfg.Name, exCfg.BaseURL, &crypto.HMACAuth{
			Key:    exCfg.APIKey,
			Secret: secret,
		})
		if err := adapter.LoadSymbolFilters(ctx, a.cfg.SymbolsFor(exCfg.Name)); err != nil {
			return nil, fmt.Errorf("exchange %s: %w", exCfg.Name, err)
		}
		registry.Add(adapter)
	}
	return registry, nil
}

// paperExchangeNames returns the exchange names to simulate: the configured
// exchanges, plus any exchange referenced only by a pair.
func (a *App) paperExchangeNames() []string {
	var names []string
	seen := make(map[string]bool)
	for _, exCfg := range a.cfg.Exchanges {
		if !seen[exCfg.Name] {
			seen[exCfg.Name] = true
			names = append(names, exCfg.Name)
		}
	}
	for _, p := range a.cfg.Pairs {
		if !seen[p.Exchange] {
			seen[p.Exchange] = true
			names = append(names, p.Exchange)
		}
	}
	return names
}

// Close tears down all resources in reverse registration order. Safe to call
// multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
