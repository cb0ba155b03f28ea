// Package config defines the top-level configuration for pairbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/pairbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PAIRBOT_* environment
// variables.
type Config struct {
	Exchanges []ExchangeConfig `toml:"exchanges"`
	Pairs     []PairConfig     `toml:"pairs"`
	Order     OrderConfig      `toml:"order"`
	Tick      TickConfig       `toml:"tick"`
	Database  DatabaseConfig   `toml:"database"`
	Redis     RedisConfig      `toml:"redis"`
	S3        S3Config         `toml:"s3"`
	Archive   ArchiveConfig    `toml:"archive"`
	Signals   SignalsConfig    `toml:"signals"`
	Notify    NotifyConfig     `toml:"notify"`
	Mode      string           `toml:"mode"`
	LogLevel  string           `toml:"log_level"`
}

// ExchangeConfig holds per-exchange API credentials. The secret may be given
// raw or as an encrypted key file plus password (see internal/crypto).
type ExchangeConfig struct {
	Name                string `toml:"name"`
	APIKey              string `toml:"api_key"`
	APISecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`

	// BaseURL overrides the REST endpoint (testnet, mirrors). Empty means
	// the adapter's production default.
	BaseURL string `toml:"base_url"`

	// WSURL is the market-data websocket endpoint for this exchange.
	WSURL string `toml:"ws_url"`

	// PaperBalance is the starting quote balance when running in paper
	// mode. Zero falls back to 10000.
	PaperBalance float64 `toml:"paper_balance"`
}

// PairConfig declares one traded instrument and the capital committed to it.
// Exactly one of the capital fields should be set.
type PairConfig struct {
	Exchange        string  `toml:"exchange"`
	Symbol          string  `toml:"symbol"`
	AssetCapital    float64 `toml:"asset_capital"`
	CurrencyCapital float64 `toml:"currency_capital"`
	BalancePercent  float64 `toml:"balance_percent"`

	// Market forces market orders instead of post-only limit orders for
	// this instrument.
	Market bool `toml:"market"`
}

// Capital resolves the configured capital variant, or nil when none is set.
func (p PairConfig) Capital() *domain.OrderCapital {
	switch {
	case p.AssetCapital > 0:
		c := domain.CapitalAsset(p.AssetCapital)
		return &c
	case p.CurrencyCapital > 0:
		c := domain.CapitalCurrency(p.CurrencyCapital)
		return &c
	case p.BalancePercent > 0:
		c := domain.CapitalBalance(p.BalancePercent)
		return &c
	default:
		return nil
	}
}

// OrderConfig holds the order executor's retry and price-adjustment knobs.
// The tolerance defaults are hand-tuned values carried over from production;
// they are configurable rather than re-derived.
type OrderConfig struct {
	// Retry is the max placement retries inside the executor.
	Retry int `toml:"retry"`
	// RetryMs is the pause between placement retries.
	RetryMs int `toml:"retry_ms"`
	// AdjustPriceDiff is the percent drift beyond which a tracked order is
	// moved to the fresh top-of-book price.
	AdjustPriceDiff float64 `toml:"adjust_price_diff"`
	// ReuseTolerance is the percent distance from the current bid within
	// which an existing live order is adopted instead of placing a new one.
	ReuseTolerance float64 `toml:"reuse_tolerance"`
	// MaxTickRetries is the business retry budget per pair state.
	MaxTickRetries int `toml:"max_tick_retries"`
	// StateTimeout cancels a pair state older than this regardless of
	// retries.
	StateTimeout duration `toml:"state_timeout"`
	// PriceFreshThreshold is how young a ticker must be to count as fresh.
	PriceFreshThreshold duration `toml:"price_fresh_threshold"`
	// PricePollAttempts and PricePollInterval bound the fresh-price wait.
	PricePollAttempts int      `toml:"price_poll_attempts"`
	PricePollInterval duration `toml:"price_poll_interval"`
}

// RetryDelay returns RetryMs as a duration.
func (o OrderConfig) RetryDelay() time.Duration {
	return time.Duration(o.RetryMs) * time.Millisecond
}

// TickConfig holds scheduler intervals.
type TickConfig struct {
	// Ordering is the pair state re-evaluation interval.
	Ordering duration `toml:"ordering"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
	Enabled      bool   `toml:"enabled"`

	// RunMigrations applies embedded schema migrations on startup.
	RunMigrations bool `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds order-history archival parameters. Cron is a standard
// five-field cron expression evaluated in UTC.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// SignalsConfig controls the external signal subscription. Signals arrive on
// a Redis pub/sub channel and are applied as pair state updates.
type SignalsConfig struct {
	Channel string `toml:"channel"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration baseline.
func Defaults() Config {
	return Config{
		Order: OrderConfig{
			Retry:               4,
			RetryMs:             1500,
			AdjustPriceDiff:     0.15,
			ReuseTolerance:      0.45,
			MaxTickRetries:      10,
			StateTimeout:        duration{25 * time.Minute},
			PriceFreshThreshold: duration{10 * time.Second},
			PricePollAttempts:   40,
			PricePollInterval:   duration{200 * time.Millisecond},
		},
		Tick: TickConfig{
			Ordering: duration{10800 * time.Millisecond},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "pairbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			Cron:          "0 3 * * *",
		},
		Signals: SignalsConfig{
			Channel: "signals",
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// Validate checks the configuration for inconsistencies that would only
// surface later as confusing runtime failures.
func (c *Config) Validate() error {
	switch c.Mode {
	case "trade", "paper":
	default:
		return fmt.Errorf("config: unknown mode %q (want trade or paper)", c.Mode)
	}

	if c.Mode == "trade" && len(c.Exchanges) == 0 {
		return fmt.Errorf("config: trade mode requires at least one exchange")
	}
	for _, ex := range c.Exchanges {
		if ex.Name == "" {
			return fmt.Errorf("config: exchange with empty name")
		}
		if c.Mode == "trade" && ex.APIKey == "" {
			return fmt.Errorf("config: exchange %q missing api_key", ex.Name)
		}
		if c.Mode == "trade" && ex.APISecret == "" && ex.EncryptedSecretPath == "" {
			return fmt.Errorf("config: exchange %q needs api_secret or encrypted_secret_path", ex.Name)
		}
	}

	seen := make(map[string]bool, len(c.Pairs))
	for _, p := range c.Pairs {
		if p.Exchange == "" || p.Symbol == "" {
			return fmt.Errorf("config: pair with empty exchange or symbol")
		}
		key := p.Exchange + ":" + p.Symbol
		if seen[key] {
			return fmt.Errorf("config: duplicate pair %s", key)
		}
		seen[key] = true

		populated := 0
		for _, v := range []float64{p.AssetCapital, p.CurrencyCapital, p.BalancePercent} {
			if v > 0 {
				populated++
			}
		}
		if populated > 1 {
			return fmt.Errorf("config: pair %s sets more than one capital variant", key)
		}
		if p.BalancePercent > 100 {
			return fmt.Errorf("config: pair %s balance_percent %v exceeds 100", key, p.BalancePercent)
		}
	}

	if c.Order.Retry < 0 || c.Order.MaxTickRetries < 0 {
		return fmt.Errorf("config: negative retry budget")
	}
	if c.Tick.Ordering.Duration <= 0 {
		return fmt.Errorf("config: tick.ordering must be positive")
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}

	return nil
}

// GetSymbolCapital implements domain.PairConfigProvider from the static pair
// list. It returns nil when the pair is unknown or has no capital set.
func (c *Config) GetSymbolCapital(exchange, symbol string) *domain.OrderCapital {
	for _, p := range c.Pairs {
		if p.Exchange == exchange && p.Symbol == symbol {
			return p.Capital()
		}
	}
	return nil
}

// GetSymbolOptions returns the per-pair execution options map consumed by
// the pair state engine. Signal-supplied options are merged on top by the
// manager, so a configured market flag can still be overridden per signal.
func (c *Config) GetSymbolOptions(exchange, symbol string) map[string]string {
	for _, p := range c.Pairs {
		if p.Exchange == exchange && p.Symbol == symbol {
			opts := map[string]string{}
			if p.Market {
				opts["market"] = "true"
			}
			return opts
		}
	}
	return map[string]string{}
}

// SymbolsFor returns the distinct symbols configured for one exchange, in
// declaration order. Used to build market-data subscriptions.
func (c *Config) SymbolsFor(exchange string) []string {
	var symbols []string
	seen := make(map[string]bool)
	for _, p := range c.Pairs {
		if p.Exchange != exchange || seen[p.Symbol] {
			continue
		}
		seen[p.Symbol] = true
		symbols = append(symbols, p.Symbol)
	}
	return symbols
}

// Compile-time interface check.
var _ domain.PairConfigProvider = (*Config)(nil)
