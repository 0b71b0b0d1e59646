package ratelimit

import (
	"context"
	"crypto/tls"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkravets/fundarb/internal/domain"
)

//go:embed scripts/try_consume.lua
var tryConsumeLua string

// cycleKeyTTL is how long a per-cycle counter key lives. Passes are minutes
// long; an hour comfortably outlives any pass without accumulating keys.
const cycleKeyTTL = time.Hour

// RedisConfig holds connection parameters for the Redis-backed store.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// RedisStore implements domain.RateLimitStore on Redis. All three invariants
// (daily cap, cycle cap, cooldown) are checked and consumed in one Lua
// script run, so two workers racing on the same user serialize inside Redis
// and can never both be granted the same slot.
type RedisStore struct {
	rdb        *redis.Client
	limits     Limits
	tryConsume *redis.Script
	now        func() time.Time
}

// NewRedisStore dials Redis, verifies connectivity, and returns the store.
func NewRedisStore(ctx context.Context, cfg RedisConfig, limits Limits) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ratelimit: redis ping: %w", err)
	}

	return &RedisStore{
		rdb:        rdb,
		limits:     limits,
		tryConsume: redis.NewScript(tryConsumeLua),
		now:        time.Now,
	}, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func userKey(userID string) string {
	return "fundarb:ratelimit:user:" + userID
}

func cycleKey(cycleID, userID string) string {
	return "fundarb:ratelimit:cycle:" + cycleID + ":" + userID
}

// TryConsume atomically consumes one delivery slot for the user, or denies
// without changing anything. A denial is a normal outcome; the error return
// is reserved for Redis being unreachable, which callers treat as
// fail-closed per user.
func (s *RedisStore) TryConsume(ctx context.Context, userID string, tier domain.SubscriptionTier, chatCtx domain.ChatContextType, cycleID string) (domain.ConsumeResult, error) {
	raw, err := s.tryConsume.Run(ctx, s.rdb,
		[]string{userKey(userID), cycleKey(cycleID, userID)},
		s.now().UnixMilli(),
		s.limits.capFor(tier, chatCtx),
		s.limits.CycleCap,
		s.limits.Cooldown.Milliseconds(),
		dailyWindow.Milliseconds(),
		cycleKeyTTL.Milliseconds(),
	).Slice()
	if err != nil {
		return domain.ConsumeResult{}, fmt.Errorf("ratelimit: try consume %s: %w (%v)", userID, domain.ErrStoreUnavailable, err)
	}
	if len(raw) != 2 {
		return domain.ConsumeResult{}, fmt.Errorf("ratelimit: try consume %s: unexpected reply length %d", userID, len(raw))
	}

	allowed, _ := raw[0].(int64)
	if allowed == 1 {
		return domain.ConsumeResult{Allowed: true}, nil
	}

	reason, _ := raw[1].(string)
	return domain.ConsumeResult{Denial: domain.ConsumeDenial(reason)}, nil
}

// Compile-time interface check.
var _ domain.RateLimitStore = (*RedisStore)(nil)
