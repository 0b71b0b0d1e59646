package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/mkravets/fundarb/internal/blob/s3"
	"github.com/mkravets/fundarb/internal/config"
	"github.com/mkravets/fundarb/internal/crypto"
	"github.com/mkravets/fundarb/internal/dispatch"
	"github.com/mkravets/fundarb/internal/domain"
	"github.com/mkravets/fundarb/internal/exchange"
	"github.com/mkravets/fundarb/internal/ratelimit"
	"github.com/mkravets/fundarb/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Market data
	Gateway *exchange.Gateway

	// Stores
	Profiles  domain.ProfileStore
	Decisions domain.DecisionStore

	// Rate limiting
	RateLimits domain.RateLimitStore

	// Notifications
	Transport domain.NotificationTransport

	// Cold storage
	Archiver *s3blob.DecisionArchiver
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	switch mode {
	case "distribute", "archive":
		return true
	default:
		return false
	}
}

// needsGateway returns true for modes that read market data.
func needsGateway(mode string) bool {
	switch mode {
	case "detect", "distribute":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Exchange gateway (only for modes that read market data) ---
	if needsGateway(mode) {
		gw := exchange.NewGateway(logger)

		binance := binanceVenue(cfg.Exchanges.Binance)
		gw.Register(domain.ExchangeBinance, binance)
		gw.Register(domain.ExchangeBybit, bybitVenue(cfg.Exchanges.Bybit))

		// Optional mark-price stream: keeps the Binance funding rates fresh
		// between polling cycles. A failed connect degrades to REST only.
		if cfg.Exchanges.Binance.StreamEnabled {
			ws := exchange.NewBinanceWSClient(markPriceStreamURL(cfg.Exchanges.Binance.WsURL))
			ws.OnFundingRate(gw.StreamHandler(domain.ExchangeBinance))
			if err := ws.Connect(ctx); err != nil {
				logger.WarnContext(ctx, "wire: binance stream connect failed, falling back to REST",
					slog.String("error", err.Error()),
				)
			} else {
				closers = append(closers, func() { _ = ws.Close() })
			}
		}

		deps.Gateway = gw
	}

	// --- PostgreSQL (only for modes that need persistence) ---
	var decisionStore *postgres.DecisionStore
	if needsPostgres(mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		// Run migrations if enabled.
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Profiles = postgres.NewProfileStore(pool)
		decisionStore = postgres.NewDecisionStore(pool)
		deps.Decisions = decisionStore
	}

	// --- Redis rate limiter (distribution consumes delivery quota) ---
	if mode == "distribute" {
		limitStore, err := ratelimit.NewRedisStore(ctx, ratelimit.RedisConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		}, rateLimits(cfg))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = limitStore.Close() })
		deps.RateLimits = limitStore

		deps.Transport = dispatch.NewTelegramTransport(cfg.Telegram.Token)
	}

	// --- S3 cold storage (archive mode moves decisions out of postgres) ---
	if mode == "archive" {
		if !cfg.S3.Enabled {
			cleanup()
			return nil, nil, fmt.Errorf("wire: archive mode requires s3.enabled")
		}
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.Archiver = s3blob.NewDecisionArchiver(
			decisionStore,
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			logger,
		)
	}

	return deps, cleanup, nil
}

// binanceVenue builds the Binance client, optionally wrapped with the
// configured static taker fee.
func binanceVenue(cfg config.BinanceConfig) exchange.VenueClient {
	auth := &crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.APISecret}
	var venue exchange.VenueClient = exchange.NewBinanceClient(cfg.BaseURL, auth)
	if cfg.TakerFee >= 0 {
		venue = exchange.StaticFee{VenueClient: venue, Fee: cfg.TakerFee}
	}
	return venue
}

// bybitVenue builds the Bybit client, optionally wrapped with the configured
// static taker fee.
func bybitVenue(cfg config.BybitConfig) exchange.VenueClient {
	auth := &crypto.HMACAuth{Key: cfg.APIKey, Secret: cfg.APISecret}
	var venue exchange.VenueClient = exchange.NewBybitClient(cfg.BaseURL, auth)
	if cfg.TakerFee >= 0 {
		venue = exchange.StaticFee{VenueClient: venue, Fee: cfg.TakerFee}
	}
	return venue
}

// markPriceStreamURL appends the all-market mark-price stream name to the
// configured WebSocket root.
func markPriceStreamURL(wsURL string) string {
	return strings.TrimRight(wsURL, "/") + "/!markPrice@arr"
}

// rateLimits maps the limits configuration to the rate-limit store shape.
func rateLimits(cfg *config.Config) ratelimit.Limits {
	tierCaps := make(map[domain.SubscriptionTier]int, len(cfg.Limits.TierDailyCaps))
	for tier, cap := range cfg.Limits.TierDailyCaps {
		tierCaps[domain.SubscriptionTier(tier)] = cap
	}
	return ratelimit.Limits{
		DailyCap:        cfg.Limits.DailyCap,
		TierDailyCaps:   tierCaps,
		GroupMultiplier: cfg.Limits.GroupMultiplier,
		CycleCap:        cfg.Limits.CycleCap,
		Cooldown:        cfg.Limits.Cooldown.Duration,
	}
}
