// Package eligibility implements the layered per-(user, opportunity) filter
// that decides whether a delivery is permitted. Layers run cheapest first
// and short-circuit on the first failure; only the rate-limit layer mutates
// state, and it runs last so quota is never consumed for a user who could
// not have received the opportunity anyway.
package eligibility

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkravets/fundarb/internal/domain"
)

// Config holds the evaluator parameters.
type Config struct {
	// SessionWindow is the sliding inactivity window; any interaction
	// restarts it in full.
	SessionWindow time.Duration
	// TierCategories maps each tier to the opportunity categories it may
	// receive. A tier absent from the map receives nothing.
	TierCategories map[domain.SubscriptionTier][]domain.OpportunityCategory
}

// DefaultTierCategories grants arbitrage to every tier and technical
// signals to the paid analysis tiers.
func DefaultTierCategories() map[domain.SubscriptionTier][]domain.OpportunityCategory {
	return map[domain.SubscriptionTier][]domain.OpportunityCategory{
		domain.TierFree:       {domain.CategoryArbitrage},
		domain.TierBasic:      {domain.CategoryArbitrage},
		domain.TierPremium:    {domain.CategoryArbitrage, domain.CategoryTechnical},
		domain.TierEnterprise: {domain.CategoryArbitrage, domain.CategoryTechnical},
	}
}

// Result is the outcome of one evaluation. Reason is set iff Eligible is
// false.
type Result struct {
	Eligible bool
	Reason   domain.SkipReason
	// Denial names the rate-limit invariant that rejected the user when
	// Reason is SkipRateLimit.
	Denial domain.ConsumeDenial
}

func eligible() Result                   { return Result{Eligible: true} }
func skipped(r domain.SkipReason) Result { return Result{Reason: r} }

// Evaluator applies the six-layer filter.
type Evaluator struct {
	limits domain.RateLimitStore
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Evaluator that consumes quota from the given store.
func New(limits domain.RateLimitStore, cfg Config, logger *slog.Logger) *Evaluator {
	if cfg.TierCategories == nil {
		cfg.TierCategories = DefaultTierCategories()
	}
	return &Evaluator{
		limits: limits,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "eligibility")),
		now:    time.Now,
	}
}

// Evaluate runs all layers for one (user, opportunity) pair. The pure layers
// (session, permission, preferences, API keys, compliance) run before the
// rate-limit consume so a denied user never burns quota on an opportunity
// they could not receive. An error means eligibility could not be confirmed
// (store unreachable); the caller must fail closed for this user.
func (e *Evaluator) Evaluate(ctx context.Context, user domain.UserEligibilityContext, opp domain.ArbitrageOpportunity, cycleID string) (Result, error) {
	now := e.now()

	// 1. Session: initialized, not expired, sliding window still open.
	if !user.HasActiveSession {
		return skipped(domain.SkipSession), nil
	}
	if !user.SessionLastSeen.IsZero() && now.Sub(user.SessionLastSeen) >= e.cfg.SessionWindow {
		return skipped(domain.SkipSession), nil
	}

	// 2. Subscription tier and context allowance.
	if !e.tierAllows(user.Tier, opp.Category()) {
		return skipped(domain.SkipPermission), nil
	}

	// 3. Preferences.
	if !user.Preferences.PushEnabled {
		return skipped(domain.SkipPreference), nil
	}
	if !user.Preferences.Opted(opp.Category()) {
		return skipped(domain.SkipPreference), nil
	}
	if user.Preferences.QuietHours.Contains(now) {
		return skipped(domain.SkipPreference), nil
	}

	// 5. API compatibility: credentials for both legs are required.
	if !user.HasKeys(opp.LongExchange, opp.ShortExchange) {
		return skipped(domain.SkipAPIKeys), nil
	}

	// 6. Compliance.
	if user.Compliance.Prohibits(opp.Category()) {
		return skipped(domain.SkipCompliance), nil
	}

	// 4. Rate limit, the only mutating layer, once everything else passed.
	res, err := e.limits.TryConsume(ctx, user.UserID, user.Tier, user.ChatContext, cycleID)
	if err != nil {
		return Result{}, fmt.Errorf("eligibility: confirm quota for %s: %w", user.UserID, err)
	}
	if !res.Allowed {
		e.logger.DebugContext(ctx, "rate limit denied",
			slog.String("user_id", user.UserID),
			slog.String("denial", string(res.Denial)),
		)
		return Result{Reason: domain.SkipRateLimit, Denial: res.Denial}, nil
	}

	return eligible(), nil
}

func (e *Evaluator) tierAllows(tier domain.SubscriptionTier, cat domain.OpportunityCategory) bool {
	for _, c := range e.cfg.TierCategories[tier] {
		if c == cat {
			return true
		}
	}
	return false
}
