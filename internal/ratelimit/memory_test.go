package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mkravets/fundarb/internal/domain"
)

func testLimits() Limits {
	return Limits{
		DailyCap:        10,
		GroupMultiplier: 2,
		CycleCap:        2,
		Cooldown:        4 * time.Hour,
	}
}

// advance swaps the store clock for a controllable one and returns the
// setter.
func advance(s *MemoryStore, start time.Time) func(time.Duration) {
	current := start
	s.now = func() time.Time { return current }
	return func(d time.Duration) { current = current.Add(d) }
}

func TestTryConsume_DailyCap(t *testing.T) {
	s := NewMemoryStore(testLimits())
	tick := advance(s, time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := s.TryConsume(ctx, "u1", domain.TierFree, domain.ChatContextPrivate, cycle(i))
		if err != nil {
			t.Fatalf("TryConsume #%d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("TryConsume #%d denied (%s), want allowed", i, res.Denial)
		}
		tick(5 * time.Hour) // clear cooldown between deliveries
	}

	// The 11th within the same rolling day is denied. Note the window started
	// at first use, so only deliveries inside it count.
	s2 := NewMemoryStore(testLimits())
	tick2 := advance(s2, time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC))
	lim := testLimits()
	lim.Cooldown = 0
	s2.limits = lim
	for i := 0; i < 10; i++ {
		res, _ := s2.TryConsume(ctx, "u1", domain.TierFree, domain.ChatContextPrivate, cycle(i))
		if !res.Allowed {
			t.Fatalf("TryConsume #%d denied (%s), want allowed", i, res.Denial)
		}
		tick2(time.Minute)
	}
	res, err := s2.TryConsume(ctx, "u1", domain.TierFree, domain.ChatContextPrivate, cycle(11))
	if err != nil {
		t.Fatalf("TryConsume: %v", err)
	}
	if res.Allowed || res.Denial != domain.DenyDailyCap {
		t.Fatalf("got %+v, want daily cap denial", res)
	}

	// After the rolling window elapses the budget resets.
	tick2(25 * time.Hour)
	res, _ = s2.TryConsume(ctx, "u1", domain.TierFree, domain.ChatContextPrivate, cycle(12))
	if !res.Allowed {
		t.Fatalf("got %+v, want allowed after window reset", res)
	}
}

func TestTryConsume_Cooldown(t *testing.T) {
	s := NewMemoryStore(testLimits())
	tick := advance(s, time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	res, _ := s.TryConsume(ctx, "u1", domain.TierFree, domain.ChatContextPrivate, "c1")
	if !res.Allowed {
		t.Fatalf("first consume denied: %+v", res)
	}

	// 2 hours later: denied by cooldown even though the daily cap has room.
	tick(2 * time.Hour)
	res, _ = s.TryConsume(ctx, "u1", domain.TierFree, domain.ChatContextPrivate, "c2")
	if res.Allowed || res.Denial != domain.DenyCooldown {
		t.Fatalf("got %+v, want cooldown denial", res)
	}

	// Past the 4h cooldown it is allowed again.
	tick(3 * time.Hour)
	res, _ = s.TryConsume(ctx, "u1", domain.TierFree, domain.ChatContextPrivate, "c3")
	if !res.Allowed {
		t.Fatalf("got %+v, want allowed after cooldown", res)
	}
}

func TestTryConsume_CycleCap(t *testing.T) {
	lim := testLimits()
	lim.Cooldown = 0
	s := NewMemoryStore(lim)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, _ := s.TryConsume(ctx, "u1", domain.TierFree, domain.ChatContextPrivate, "pass-1")
		if !res.Allowed {
			t.Fatalf("consume #%d denied: %+v", i, res)
		}
	}
	res, _ := s.TryConsume(ctx, "u1", domain.TierFree, domain.ChatContextPrivate, "pass-1")
	if res.Allowed || res.Denial != domain.DenyCycleCap {
		t.Fatalf("got %+v, want cycle cap denial", res)
	}

	// A new pass has a fresh cycle budget (daily cap still applies).
	res, _ = s.TryConsume(ctx, "u1", domain.TierFree, domain.ChatContextPrivate, "pass-2")
	if !res.Allowed {
		t.Fatalf("got %+v, want allowed in next pass", res)
	}
}

func TestTryConsume_TierAndGroupCaps(t *testing.T) {
	lim := testLimits()
	lim.Cooldown = 0
	lim.TierDailyCaps = map[domain.SubscriptionTier]int{domain.TierPremium: 3}
	lim.DailyCap = 1
	lim.CycleCap = 100
	s := NewMemoryStore(lim)
	ctx := context.Background()

	// Premium tier gets its own cap.
	allowed := 0
	for i := 0; i < 5; i++ {
		res, _ := s.TryConsume(ctx, "premium-user", domain.TierPremium, domain.ChatContextPrivate, "c")
		if res.Allowed {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("premium allowed %d deliveries, want 3", allowed)
	}

	// Groups use base cap x multiplier regardless of the owner's tier.
	allowed = 0
	for i := 0; i < 5; i++ {
		res, _ := s.TryConsume(ctx, "group-1", domain.TierEnterprise, domain.ChatContextGroup, "c")
		if res.Allowed {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("group allowed %d deliveries, want 2 (base 1 x multiplier 2)", allowed)
	}
}

// TestTryConsume_Atomicity drives N concurrent consumers at a user with K
// remaining slots and requires exactly K grants.
func TestTryConsume_Atomicity(t *testing.T) {
	lim := testLimits()
	lim.Cooldown = 0
	lim.DailyCap = 100
	lim.CycleCap = 2 // K = 2 within one pass
	s := NewMemoryStore(lim)
	ctx := context.Background()

	const n = 64
	var allowed atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := s.TryConsume(ctx, "u1", domain.TierFree, domain.ChatContextPrivate, "pass-1")
			if err != nil {
				t.Errorf("TryConsume: %v", err)
				return
			}
			if res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := allowed.Load(); got != 2 {
		t.Fatalf("%d concurrent grants, want exactly 2", got)
	}
	if c := s.Counters("u1"); c.DailyCount != 2 {
		t.Fatalf("daily count %d, want 2", c.DailyCount)
	}
}

func cycle(i int) string {
	return "cycle-" + string(rune('a'+i%26))
}
