package domain

import (
	"fmt"
	"time"
)

// ChatContextType is the closed set of delivery contexts. The dispatcher
// switches exhaustively over this type; adding a context is a compile-time
// visible change, not a string comparison scattered across call sites.
type ChatContextType string

const (
	ChatContextPrivate ChatContextType = "private"
	ChatContextGroup   ChatContextType = "group"
	ChatContextChannel ChatContextType = "channel"
)

// IsShared reports whether the context is visible to more than one person.
// Shared contexts never receive opportunity-specific trading fields.
func (c ChatContextType) IsShared() bool {
	return c == ChatContextGroup || c == ChatContextChannel
}

// SubscriptionTier is a user's subscription level.
type SubscriptionTier string

const (
	TierFree       SubscriptionTier = "free"
	TierBasic      SubscriptionTier = "basic"
	TierPremium    SubscriptionTier = "premium"
	TierEnterprise SubscriptionTier = "enterprise"
)

// QuietHours is a daily do-not-disturb window, stored as "HH:MM" strings and
// evaluated against the clock of the caller-supplied time. The engine passes
// its own wall clock; no per-user timezone is stored, so users set the window
// in the engine's zone. The window may span midnight (e.g. 22:00-08:00).
type QuietHours struct {
	Enabled bool
	Start   string
	End     string
}

// Contains reports whether t falls inside the quiet window. Malformed
// boundaries disable the window rather than blocking all deliveries.
func (q QuietHours) Contains(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, err1 := parseClock(q.Start)
	end, err2 := parseClock(q.End)
	if err1 != nil || err2 != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	// Window spans midnight.
	return minute >= start || minute < end
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("domain: parse clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("domain: clock %q out of range", s)
	}
	return h*60 + m, nil
}

// NotificationPreferences are the per-user delivery preferences.
type NotificationPreferences struct {
	PushEnabled     bool
	OptedCategories []OpportunityCategory
	QuietHours      QuietHours
}

// Opted reports whether the user opted into the given category.
func (p NotificationPreferences) Opted(cat OpportunityCategory) bool {
	for _, c := range p.OptedCategories {
		if c == cat {
			return true
		}
	}
	return false
}

// ComplianceFlags carries jurisdiction/regulatory restrictions attached to a
// user profile.
type ComplianceFlags struct {
	Blocked              bool
	ProhibitedCategories []OpportunityCategory
}

// Prohibits reports whether delivery of the given category is blocked.
func (f ComplianceFlags) Prohibits(cat OpportunityCategory) bool {
	if f.Blocked {
		return true
	}
	for _, c := range f.ProhibitedCategories {
		if c == cat {
			return true
		}
	}
	return false
}

// UserEligibilityContext is a read-only snapshot of everything the
// eligibility filter needs for one (user, opportunity) evaluation. It is
// supplied by the profile store and is valid for a single evaluation only.
type UserEligibilityContext struct {
	UserID           string
	HasActiveSession bool
	SessionLastSeen  time.Time
	Tier             SubscriptionTier
	ChatContext      ChatContextType
	ExchangeKeys     map[ExchangeID]bool // exchanges with usable API credentials
	Preferences      NotificationPreferences
	Compliance       ComplianceFlags
}

// HasKeys reports whether the user holds usable credentials for every given
// exchange.
func (u UserEligibilityContext) HasKeys(exchanges ...ExchangeID) bool {
	for _, ex := range exchanges {
		if !u.ExchangeKeys[ex] {
			return false
		}
	}
	return true
}
