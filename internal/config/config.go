// Package config defines the top-level configuration for the funding-rate
// arbitrage alert engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mkravets/fundarb/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FUNDARB_* environment
// variables.
type Config struct {
	Detector  DetectorConfig  `toml:"detector"`
	Limits    LimitsConfig    `toml:"limits"`
	Session   SessionConfig   `toml:"session"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Exchanges ExchangesConfig `toml:"exchanges"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// DetectorConfig holds detection cycle parameters.
type DetectorConfig struct {
	// Exchanges to scan, e.g. ["binance", "bybit"].
	Exchanges []string `toml:"exchanges"`
	// Pairs to monitor in "BASE/QUOTE" form.
	Pairs []string `toml:"pairs"`
	// FeeFreePairs may resolve a missing fee sample to zero. Any other pair
	// with an unknown fee is skipped rather than assumed free.
	FeeFreePairs []string `toml:"fee_free_pairs"`
	// Threshold is the minimum net rate difference for an opportunity.
	Threshold float64 `toml:"threshold"`
	// Interval between detection cycles.
	Interval duration `toml:"interval"`
	// FetchTimeout bounds the concurrent sample fetch; the cycle proceeds
	// with whatever samples arrived in time.
	FetchTimeout duration `toml:"fetch_timeout"`
	// FetchConcurrency caps the sample-fetch fan-out.
	FetchConcurrency int `toml:"fetch_concurrency"`
}

// LimitsConfig holds the per-user delivery budget.
type LimitsConfig struct {
	// DailyCap is the rolling-24h delivery cap for a private free-tier user.
	DailyCap int `toml:"daily_cap"`
	// TierDailyCaps overrides DailyCap per subscription tier.
	TierDailyCaps map[string]int `toml:"tier_daily_caps"`
	// CycleCap is the maximum deliveries to one user in a single pass.
	CycleCap int `toml:"cycle_cap"`
	// Cooldown is the minimum gap between two deliveries to the same user.
	Cooldown duration `toml:"cooldown"`
	// GroupMultiplier scales the free-tier daily cap for group/channel
	// contexts, which share one allowance among many readers.
	GroupMultiplier int `toml:"group_multiplier"`
	// GroupMinDelay is the mandatory delay between detection and delivery
	// for group/channel contexts.
	GroupMinDelay duration `toml:"group_min_delay"`
	// GroupNoticeEnabled controls whether shared contexts receive the
	// generic (non-sensitive) notice at all.
	GroupNoticeEnabled bool `toml:"group_notice_enabled"`
}

// SessionConfig holds session lifetime parameters.
type SessionConfig struct {
	// InactivityWindow is the sliding expiration: any interaction restarts
	// it in full.
	InactivityWindow duration `toml:"inactivity_window"`
}

// SchedulerConfig holds distribution pass parameters.
type SchedulerConfig struct {
	// Workers caps concurrent per-user evaluations in a pass.
	Workers int `toml:"workers"`
	// PassDeadline bounds one distribution pass; unevaluated users are
	// deferred to the next cycle.
	PassDeadline duration `toml:"pass_deadline"`
}

// ExchangesConfig holds per-exchange API endpoints.
type ExchangesConfig struct {
	Binance BinanceConfig `toml:"binance"`
	Bybit   BybitConfig   `toml:"bybit"`
}

// BinanceConfig holds Binance futures API endpoints and credentials.
type BinanceConfig struct {
	BaseURL string `toml:"base_url"`
	WsURL   string `toml:"ws_url"`
	// StreamEnabled turns on the mark-price websocket feed that keeps the
	// funding-rate cache fresh between polling cycles.
	StreamEnabled bool `toml:"stream_enabled"`
	// APIKey/APISecret unlock the private commission-rate endpoint. Without
	// them the taker fee is unknown unless taker_fee is set.
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	// TakerFee is a static account taker-fee rate; negative means unknown.
	TakerFee float64 `toml:"taker_fee"`
}

// BybitConfig holds Bybit API endpoints and credentials.
type BybitConfig struct {
	BaseURL   string  `toml:"base_url"`
	APIKey    string  `toml:"api_key"`
	APISecret string  `toml:"api_secret"`
	TakerFee  float64 `toml:"taker_fee"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible cold-storage parameters for the decision
// archiver.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// RetentionDays is how long decisions stay in postgres before they are
	// exported to cold storage.
	RetentionDays int `toml:"retention_days"`
}

// TelegramConfig holds Telegram Bot API credentials for the notification
// transport.
type TelegramConfig struct {
	Token string `toml:"token"`
	// RetryDelay is the fixed wait before the single retry on a transient
	// send failure.
	RetryDelay duration `toml:"retry_delay"`
}

// duration wraps time.Duration for TOML string parsing ("5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the documented default values.
func Defaults() Config {
	return Config{
		Detector: DetectorConfig{
			Exchanges:        []string{"binance", "bybit"},
			Pairs:            []string{"BTC/USDT", "ETH/USDT"},
			Threshold:        0.0005,
			Interval:         duration{5 * time.Minute},
			FetchTimeout:     duration{15 * time.Second},
			FetchConcurrency: 8,
		},
		Limits: LimitsConfig{
			DailyCap: 10,
			TierDailyCaps: map[string]int{
				"basic":      20,
				"premium":    50,
				"enterprise": 100,
			},
			CycleCap:           2,
			Cooldown:           duration{4 * time.Hour},
			GroupMultiplier:    2,
			GroupMinDelay:      duration{5 * time.Minute},
			GroupNoticeEnabled: true,
		},
		Session: SessionConfig{
			InactivityWindow: duration{7 * 24 * time.Hour},
		},
		Scheduler: SchedulerConfig{
			Workers:      16,
			PassDeadline: duration{2 * time.Minute},
		},
		Exchanges: ExchangesConfig{
			Binance: BinanceConfig{
				BaseURL:       "https://fapi.binance.com",
				WsURL:         "wss://fstream.binance.com/ws",
				StreamEnabled: false,
				TakerFee:      -1,
			},
			Bybit: BybitConfig{
				BaseURL:  "https://api.bybit.com",
				TakerFee: -1,
			},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "fundarb",
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
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "fundarb-audit",
			ForcePathStyle: true,
			RetentionDays:  90,
		},
		Telegram: TelegramConfig{
			RetryDelay: duration{2 * time.Second},
		},
		Mode:     "distribute",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"detect":     true,
	"distribute": true,
	"archive":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// knownExchanges enumerates the exchanges the gateway can serve.
var knownExchanges = map[domain.ExchangeID]bool{
	domain.ExchangeBinance: true,
	domain.ExchangeBybit:   true,
	domain.ExchangeOKX:     true,
	domain.ExchangeBitget:  true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode is matched case-insensitively everywhere it is consulted.
	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: detect, distribute, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Detector.Exchanges) < 2 {
		errs = append(errs, "detector: at least two exchanges are required to detect a spread")
	}
	for _, ex := range c.Detector.Exchanges {
		if !knownExchanges[domain.ParseExchangeID(ex)] {
			errs = append(errs, fmt.Sprintf("detector: unknown exchange %q", ex))
		}
	}
	for _, p := range c.Detector.Pairs {
		if _, err := domain.NewTradingPair(p); err != nil {
			errs = append(errs, fmt.Sprintf("detector: invalid pair %q", p))
		}
	}
	for _, p := range c.Detector.FeeFreePairs {
		if _, err := domain.NewTradingPair(p); err != nil {
			errs = append(errs, fmt.Sprintf("detector: invalid fee-free pair %q", p))
		}
	}
	if c.Detector.Threshold <= 0 {
		errs = append(errs, "detector: threshold must be positive")
	}
	if c.Detector.Interval.Duration <= 0 {
		errs = append(errs, "detector: interval must be positive")
	}
	if c.Detector.FetchConcurrency <= 0 {
		errs = append(errs, "detector: fetch_concurrency must be positive")
	}

	if c.Limits.DailyCap <= 0 {
		errs = append(errs, "limits: daily_cap must be positive")
	}
	if c.Limits.CycleCap <= 0 {
		errs = append(errs, "limits: cycle_cap must be positive")
	}
	if c.Limits.Cooldown.Duration < 0 {
		errs = append(errs, "limits: cooldown must not be negative")
	}
	if c.Limits.GroupMultiplier <= 0 {
		errs = append(errs, "limits: group_multiplier must be positive")
	}
	for tier := range c.Limits.TierDailyCaps {
		switch domain.SubscriptionTier(tier) {
		case domain.TierFree, domain.TierBasic, domain.TierPremium, domain.TierEnterprise:
		default:
			errs = append(errs, fmt.Sprintf("limits: unknown tier %q in tier_daily_caps", tier))
		}
	}

	if c.Session.InactivityWindow.Duration <= 0 {
		errs = append(errs, "session: inactivity_window must be positive")
	}
	if c.Scheduler.Workers <= 0 {
		errs = append(errs, "scheduler: workers must be positive")
	}
	if c.Scheduler.PassDeadline.Duration <= 0 {
		errs = append(errs, "scheduler: pass_deadline must be positive")
	}

	if mode == "distribute" && c.Telegram.Token == "" {
		errs = append(errs, "telegram: token is required for mode distribute")
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket is required when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region is required when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DailyCapFor resolves the effective daily cap for a tier and chat context.
// Shared contexts use the free-tier cap scaled by the group multiplier,
// regardless of the owning user's tier.
func (c *Config) DailyCapFor(tier domain.SubscriptionTier, chatCtx domain.ChatContextType) int {
	if chatCtx.IsShared() {
		return c.Limits.DailyCap * c.Limits.GroupMultiplier
	}
	if cap, ok := c.Limits.TierDailyCaps[string(tier)]; ok && cap > 0 {
		return cap
	}
	return c.Limits.DailyCap
}
