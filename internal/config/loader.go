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
// built-in defaults, applies FUNDARB_* environment variable overrides, and
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

// applyEnvOverrides reads well-known FUNDARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Detector ──
	setStringSlice(&cfg.Detector.Exchanges, "FUNDARB_DETECTOR_EXCHANGES")
	setStringSlice(&cfg.Detector.Pairs, "FUNDARB_DETECTOR_PAIRS")
	setStringSlice(&cfg.Detector.FeeFreePairs, "FUNDARB_DETECTOR_FEE_FREE_PAIRS")
	setFloat64(&cfg.Detector.Threshold, "FUNDARB_DETECTOR_THRESHOLD")
	setDuration(&cfg.Detector.Interval, "FUNDARB_DETECTOR_INTERVAL")
	setDuration(&cfg.Detector.FetchTimeout, "FUNDARB_DETECTOR_FETCH_TIMEOUT")
	setInt(&cfg.Detector.FetchConcurrency, "FUNDARB_DETECTOR_FETCH_CONCURRENCY")

	// ── Limits ──
	setInt(&cfg.Limits.DailyCap, "FUNDARB_LIMITS_DAILY_CAP")
	setInt(&cfg.Limits.CycleCap, "FUNDARB_LIMITS_CYCLE_CAP")
	setDuration(&cfg.Limits.Cooldown, "FUNDARB_LIMITS_COOLDOWN")
	setInt(&cfg.Limits.GroupMultiplier, "FUNDARB_LIMITS_GROUP_MULTIPLIER")
	setDuration(&cfg.Limits.GroupMinDelay, "FUNDARB_LIMITS_GROUP_MIN_DELAY")
	setBool(&cfg.Limits.GroupNoticeEnabled, "FUNDARB_LIMITS_GROUP_NOTICE_ENABLED")

	// ── Session / scheduler ──
	setDuration(&cfg.Session.InactivityWindow, "FUNDARB_SESSION_INACTIVITY_WINDOW")
	setInt(&cfg.Scheduler.Workers, "FUNDARB_SCHEDULER_WORKERS")
	setDuration(&cfg.Scheduler.PassDeadline, "FUNDARB_SCHEDULER_PASS_DEADLINE")

	// ── Exchanges ──
	setStr(&cfg.Exchanges.Binance.BaseURL, "FUNDARB_BINANCE_BASE_URL")
	setStr(&cfg.Exchanges.Binance.WsURL, "FUNDARB_BINANCE_WS_URL")
	setBool(&cfg.Exchanges.Binance.StreamEnabled, "FUNDARB_BINANCE_STREAM_ENABLED")
	setStr(&cfg.Exchanges.Binance.APIKey, "FUNDARB_BINANCE_API_KEY")
	setStr(&cfg.Exchanges.Binance.APISecret, "FUNDARB_BINANCE_API_SECRET")
	setFloat64(&cfg.Exchanges.Binance.TakerFee, "FUNDARB_BINANCE_TAKER_FEE")
	setStr(&cfg.Exchanges.Bybit.BaseURL, "FUNDARB_BYBIT_BASE_URL")
	setStr(&cfg.Exchanges.Bybit.APIKey, "FUNDARB_BYBIT_API_KEY")
	setStr(&cfg.Exchanges.Bybit.APISecret, "FUNDARB_BYBIT_API_SECRET")
	setFloat64(&cfg.Exchanges.Bybit.TakerFee, "FUNDARB_BYBIT_TAKER_FEE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FUNDARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FUNDARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUNDARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUNDARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUNDARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUNDARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUNDARB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUNDARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUNDARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUNDARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUNDARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUNDARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUNDARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FUNDARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FUNDARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FUNDARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUNDARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUNDARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUNDARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUNDARB_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "FUNDARB_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "FUNDARB_S3_RETENTION_DAYS")

	// ── Telegram ──
	setStr(&cfg.Telegram.Token, "FUNDARB_TELEGRAM_TOKEN")
	setDuration(&cfg.Telegram.RetryDelay, "FUNDARB_TELEGRAM_RETRY_DELAY")

	// ── Top-level ──
	setStr(&cfg.Mode, "FUNDARB_MODE")
	setStr(&cfg.LogLevel, "FUNDARB_LOG_LEVEL")
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
