// Package ratelimit implements the per-user delivery budget behind a single
// atomic TryConsume operation. Two backends exist: a Redis store whose Lua
// script serializes racing distribution workers across instances, and an
// in-process store guarding each user's counters with a mutex for co-located
// deployments and tests.
package ratelimit

import (
	"time"

	"github.com/mkravets/fundarb/internal/domain"
)

// dailyWindow is the rolling window the daily cap is measured over. The
// window starts at a user's first delivery, not at a calendar boundary.
const dailyWindow = 24 * time.Hour

// Limits holds the budget parameters shared by both backends.
type Limits struct {
	// DailyCap is the baseline rolling-24h cap for a private free-tier user.
	DailyCap int
	// TierDailyCaps overrides DailyCap per subscription tier.
	TierDailyCaps map[domain.SubscriptionTier]int
	// GroupMultiplier scales the baseline cap for shared contexts.
	GroupMultiplier int
	// CycleCap bounds deliveries to one user within a single pass.
	CycleCap int
	// Cooldown is the minimum gap between two deliveries to one user.
	Cooldown time.Duration
}

// capFor resolves the effective daily cap. Shared contexts always use the
// baseline cap times the group multiplier; the owner's tier does not apply
// because the allowance is shared by every reader of the group.
func (l Limits) capFor(tier domain.SubscriptionTier, chatCtx domain.ChatContextType) int {
	if chatCtx.IsShared() {
		m := l.GroupMultiplier
		if m <= 0 {
			m = 1
		}
		return l.DailyCap * m
	}
	if cap, ok := l.TierDailyCaps[tier]; ok && cap > 0 {
		return cap
	}
	return l.DailyCap
}
