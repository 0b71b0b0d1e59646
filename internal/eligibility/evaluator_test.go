package eligibility

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mkravets/fundarb/internal/domain"
	"github.com/mkravets/fundarb/internal/ratelimit"
)

var evalNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func newEvaluator(t *testing.T, store domain.RateLimitStore) *Evaluator {
	t.Helper()
	if store == nil {
		store = ratelimit.NewMemoryStore(ratelimit.Limits{
			DailyCap:        10,
			GroupMultiplier: 2,
			CycleCap:        2,
			Cooldown:        4 * time.Hour,
		})
	}
	e := New(store, Config{
		SessionWindow: 7 * 24 * time.Hour,
	}, slog.New(slog.DiscardHandler))
	e.now = func() time.Time { return evalNow }
	return e
}

func eligibleUser() domain.UserEligibilityContext {
	return domain.UserEligibilityContext{
		UserID:           "u1",
		HasActiveSession: true,
		SessionLastSeen:  evalNow.Add(-time.Hour),
		Tier:             domain.TierFree,
		ChatContext:      domain.ChatContextPrivate,
		ExchangeKeys: map[domain.ExchangeID]bool{
			domain.ExchangeBinance: true,
			domain.ExchangeBybit:   true,
		},
		Preferences: domain.NotificationPreferences{
			PushEnabled:     true,
			OptedCategories: []domain.OpportunityCategory{domain.CategoryArbitrage},
		},
	}
}

func testOpp() domain.ArbitrageOpportunity {
	pair, _ := domain.NewTradingPair("BTC/USDT")
	return domain.ArbitrageOpportunity{
		ID:            "opp-1",
		Pair:          pair,
		LongExchange:  domain.ExchangeBybit,
		ShortExchange: domain.ExchangeBinance,
		NetRateDiff:   0.0007,
		DetectedAt:    evalNow.Add(-10 * time.Minute),
	}
}

func TestEvaluate_EligibleUserPasses(t *testing.T) {
	e := newEvaluator(t, nil)
	res, err := e.Evaluate(context.Background(), eligibleUser(), testOpp(), "c1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !res.Eligible {
		t.Fatalf("got %+v, want eligible", res)
	}
}

func TestEvaluate_Layers(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.UserEligibilityContext)
		want   domain.SkipReason
	}{
		{
			name:   "no session",
			mutate: func(u *domain.UserEligibilityContext) { u.HasActiveSession = false },
			want:   domain.SkipSession,
		},
		{
			name: "session past sliding window",
			mutate: func(u *domain.UserEligibilityContext) {
				u.SessionLastSeen = evalNow.Add(-8 * 24 * time.Hour)
			},
			want: domain.SkipSession,
		},
		{
			name: "tier lacks category",
			mutate: func(u *domain.UserEligibilityContext) {
				u.Tier = domain.SubscriptionTier("unknown")
			},
			want: domain.SkipPermission,
		},
		{
			name:   "push disabled",
			mutate: func(u *domain.UserEligibilityContext) { u.Preferences.PushEnabled = false },
			want:   domain.SkipPreference,
		},
		{
			name: "category not opted",
			mutate: func(u *domain.UserEligibilityContext) {
				u.Preferences.OptedCategories = []domain.OpportunityCategory{domain.CategoryTechnical}
			},
			want: domain.SkipPreference,
		},
		{
			name: "quiet hours",
			mutate: func(u *domain.UserEligibilityContext) {
				u.Preferences.QuietHours = domain.QuietHours{Enabled: true, Start: "11:00", End: "13:00"}
			},
			want: domain.SkipPreference,
		},
		{
			name: "missing one leg's credentials",
			mutate: func(u *domain.UserEligibilityContext) {
				u.ExchangeKeys = map[domain.ExchangeID]bool{domain.ExchangeBybit: true}
			},
			want: domain.SkipAPIKeys,
		},
		{
			name:   "compliance block",
			mutate: func(u *domain.UserEligibilityContext) { u.Compliance.Blocked = true },
			want:   domain.SkipCompliance,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEvaluator(t, nil)
			user := eligibleUser()
			tc.mutate(&user)
			res, err := e.Evaluate(context.Background(), user, testOpp(), "c1")
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if res.Eligible || res.Reason != tc.want {
				t.Fatalf("got %+v, want skip %s", res, tc.want)
			}
		})
	}
}

func TestEvaluate_RateLimitDenied(t *testing.T) {
	store := ratelimit.NewMemoryStore(ratelimit.Limits{
		DailyCap:        1,
		GroupMultiplier: 2,
		CycleCap:        2,
	})
	e := newEvaluator(t, store)
	user := eligibleUser()

	res, err := e.Evaluate(context.Background(), user, testOpp(), "c1")
	if err != nil || !res.Eligible {
		t.Fatalf("first evaluation: res=%+v err=%v", res, err)
	}

	res, err = e.Evaluate(context.Background(), user, testOpp(), "c1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if res.Eligible || res.Reason != domain.SkipRateLimit || res.Denial != domain.DenyDailyCap {
		t.Fatalf("got %+v, want daily cap rate-limit skip", res)
	}
}

// failingStore simulates an unreachable backing store.
type failingStore struct{}

func (failingStore) TryConsume(context.Context, string, domain.SubscriptionTier, domain.ChatContextType, string) (domain.ConsumeResult, error) {
	return domain.ConsumeResult{}, domain.ErrStoreUnavailable
}

func TestEvaluate_StoreErrorFailsClosed(t *testing.T) {
	e := newEvaluator(t, failingStore{})
	_, err := e.Evaluate(context.Background(), eligibleUser(), testOpp(), "c1")
	if err == nil {
		t.Fatal("got nil error, want store failure to propagate")
	}
}

// TestEvaluate_NoQuotaBurnOnPureFailure ensures a user failing a pure layer
// never consumes a delivery slot.
func TestEvaluate_NoQuotaBurnOnPureFailure(t *testing.T) {
	store := ratelimit.NewMemoryStore(ratelimit.Limits{DailyCap: 10, GroupMultiplier: 2, CycleCap: 2})
	e := newEvaluator(t, store)

	user := eligibleUser()
	user.ExchangeKeys = nil // fails the API layer
	if res, _ := e.Evaluate(context.Background(), user, testOpp(), "c1"); res.Eligible {
		t.Fatal("user without credentials must not be eligible")
	}

	if c := store.Counters(user.UserID); c.DailyCount != 0 {
		t.Fatalf("daily count %d after pure-layer failure, want 0", c.DailyCount)
	}
}
