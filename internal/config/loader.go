package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PAIRBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PAIRBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Order engine ──
	setInt(&cfg.Order.Retry, "PAIRBOT_ORDER_RETRY")
	setInt(&cfg.Order.RetryMs, "PAIRBOT_ORDER_RETRY_MS")
	setFloat64(&cfg.Order.AdjustPriceDiff, "PAIRBOT_ORDER_ADJUST_PRICE_DIFF")
	setFloat64(&cfg.Order.ReuseTolerance, "PAIRBOT_ORDER_REUSE_TOLERANCE")
	setInt(&cfg.Order.MaxTickRetries, "PAIRBOT_ORDER_MAX_TICK_RETRIES")
	setDuration(&cfg.Order.StateTimeout, "PAIRBOT_ORDER_STATE_TIMEOUT")
	setDuration(&cfg.Order.PriceFreshThreshold, "PAIRBOT_ORDER_PRICE_FRESH_THRESHOLD")

	// ── Tick ──
	setDuration(&cfg.Tick.Ordering, "PAIRBOT_TICK_ORDERING")

	// ── Database ──
	setBool(&cfg.Database.Enabled, "PAIRBOT_DATABASE_ENABLED")
	setStr(&cfg.Database.DSN, "PAIRBOT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "PAIRBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "PAIRBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "PAIRBOT_DATABASE_NAME")
	setStr(&cfg.Database.User, "PAIRBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "PAIRBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "PAIRBOT_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "PAIRBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "PAIRBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "PAIRBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PAIRBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PAIRBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAIRBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAIRBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PAIRBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PAIRBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PAIRBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PAIRBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PAIRBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAIRBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAIRBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAIRBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAIRBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PAIRBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PAIRBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PAIRBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "PAIRBOT_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "PAIRBOT_ARCHIVE_CRON")

	// ── Signals ──
	setStr(&cfg.Signals.Channel, "PAIRBOT_SIGNALS_CHANNEL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PAIRBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PAIRBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PAIRBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PAIRBOT_NOTIFY_EVENTS")

	// ── Exchange credentials, keyed by upper-cased exchange name ──
	for i := range cfg.Exchanges {
		name := strings.ToUpper(cfg.Exchanges[i].Name)
		setStr(&cfg.Exchanges[i].APIKey, "PAIRBOT_EXCHANGE_"+name+"_API_KEY")
		setStr(&cfg.Exchanges[i].APISecret, "PAIRBOT_EXCHANGE_"+name+"_API_SECRET")
		setStr(&cfg.Exchanges[i].SecretPassword, "PAIRBOT_EXCHANGE_"+name+"_SECRET_PASSWORD")
	}

	// ── Top-level ──
	setStr(&cfg.Mode, "PAIRBOT_MODE")
	setStr(&cfg.LogLevel, "PAIRBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
