package domain

import (
	"context"
	"time"
)

// MarketDataGateway supplies funding-rate and taker-fee samples per
// (exchange, pair). A missing observation is reported as ErrNotFound; the
// detector treats it as a skippable gap, never as a zero value.
type MarketDataGateway interface {
	GetFundingRate(ctx context.Context, exchange ExchangeID, pair TradingPair) (FundingRateSample, error)
	GetTradingFee(ctx context.Context, exchange ExchangeID, pair TradingPair) (FeeSample, error)
}

// ProfileStore supplies read-only eligibility snapshots from the durable
// session/subscription/profile storage.
type ProfileStore interface {
	GetEligibilityContext(ctx context.Context, userID string) (UserEligibilityContext, error)
	// ListCandidateUserIDs returns the ids of users with a session activity
	// inside the given window, the candidate set for a distribution pass.
	ListCandidateUserIDs(ctx context.Context, activeWithin time.Duration) ([]string, error)
}

// RateLimitCounters is the per-user delivery accounting owned exclusively by
// the RateLimitStore. The daily window is rolling: it starts at first use
// and resets 24h later, not at a calendar boundary.
type RateLimitCounters struct {
	UserID           string
	DailyCount       int
	DailyWindowStart time.Time
	LastDeliveryAt   time.Time
}

// ConsumeDenial names which rate-limit invariant rejected a consume attempt.
type ConsumeDenial string

const (
	DenyDailyCap ConsumeDenial = "daily_cap"
	DenyCycleCap ConsumeDenial = "cycle_cap"
	DenyCooldown ConsumeDenial = "cooldown"
)

// ConsumeResult is the outcome of one TryConsume call. A denial is a normal
// outcome, not an error.
type ConsumeResult struct {
	Allowed bool
	Denial  ConsumeDenial
}

// RateLimitStore enforces the per-user delivery budget. TryConsume is a
// single atomic check-and-increment: it either consumes one delivery slot
// (daily counter, cycle counter, cooldown timestamp all updated together)
// or changes nothing. Concurrent callers for the same user must serialize
// through it; two racing workers can never both be granted the same slot.
//
// cycleID scopes the per-cycle cap to one distribution pass. The tier and
// chat context select the effective daily cap.
type RateLimitStore interface {
	TryConsume(ctx context.Context, userID string, tier SubscriptionTier, chatCtx ChatContextType, cycleID string) (ConsumeResult, error)
}

// NotificationTransport performs the raw message send. Implementations
// return ErrTransportBlocked for permanent failures (blocked recipient);
// any other error is treated as transient and retried once by the
// dispatcher.
type NotificationTransport interface {
	Send(ctx context.Context, userID string, message string) error
}

// DecisionStore is the append-only audit sink for distribution decisions.
type DecisionStore interface {
	InsertBatch(ctx context.Context, decisions []DistributionDecision) error
	// ListBefore returns decisions attempted strictly before the cutoff,
	// used by the cold-storage archiver.
	ListBefore(ctx context.Context, before time.Time) ([]DistributionDecision, error)
}
