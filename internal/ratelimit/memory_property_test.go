package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/mkravets/fundarb/internal/domain"
)

// TestTryConsume_BudgetProperty replays random gap sequences against the
// store and checks that no sequence of grants ever violates the cooldown or
// the rolling daily cap, regardless of how calls are spaced.
func TestTryConsume_BudgetProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("grants never violate cooldown or rolling daily cap", prop.ForAll(
		func(gapsMin []int64) bool {
			lim := Limits{
				DailyCap:        5,
				GroupMultiplier: 2,
				CycleCap:        100,
				Cooldown:        4 * time.Hour,
			}
			s := NewMemoryStore(lim)
			tick := advance(s, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC))
			ctx := context.Background()

			var grants []time.Time
			var firstCall time.Time
			for i, gap := range gapsMin {
				tick(time.Duration(gap) * time.Minute)
				if firstCall.IsZero() {
					firstCall = s.now()
				}
				res, err := s.TryConsume(ctx, "u1", domain.TierFree, domain.ChatContextPrivate, cycle(i))
				if err != nil {
					return false
				}
				if res.Allowed {
					grants = append(grants, s.now())
				}
			}

			for i := 1; i < len(grants); i++ {
				if grants[i].Sub(grants[i-1]) < lim.Cooldown {
					return false
				}
			}
			// The first accounting window starts at the first call; grants
			// inside it must not exceed the daily cap.
			n := 0
			for _, g := range grants {
				if g.Sub(firstCall) < dailyWindow {
					n++
				}
			}
			return n <= lim.DailyCap
		},
		gen.SliceOf(gen.Int64Range(0, 10*60)),
	))

	properties.TestingRun(t)
}
