package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/pairbot/internal/blob/s3"
	"github.com/alanyoungcy/pairbot/internal/cache/redis"
	"github.com/alanyoungcy/pairbot/internal/config"
	"github.com/alanyoungcy/pairbot/internal/domain"
	"github.com/alanyoungcy/pairbot/internal/notify"
	"github.com/alanyoungcy/pairbot/internal/store/postgres"
)

// Dependencies bundles the infrastructure-level dependencies the trading
// engine runs on. Every field is optional; nil means the corresponding
// subsystem is disabled in configuration and the engine degrades gracefully
// (no persistence, no events, no archival). It is constructed by Wire and
// torn down by the returned cleanup function.
type Dependencies struct {
	// Persistence
	OrderStore domain.OrderStore
	AuditStore domain.AuditStore

	// Redis
	SignalBus   domain.SignalBus
	TickerCache domain.TickerCache
	LockManager domain.LockManager

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs the concrete dependency implementations enabled by the
// given configuration and returns them together with a cleanup function that
// must be called on shutdown to release connections.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (order trail + audit log) ---
	if cfg.Database.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis (event bus, ticker mirror, engine lock) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.TickerCache = redis.NewTickerCache(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- S3 blob storage (order-history archival) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		// Archival needs the order trail to read from.
		if deps.OrderStore != nil && deps.AuditStore != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.OrderStore, deps.AuditStore)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}
