package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/mkravets/fundarb/internal/domain"
)

// MemoryStore implements domain.RateLimitStore in process memory. Each user
// gets a mutex-guarded counter entry, so concurrent TryConsume calls for the
// same user serialize on that entry. Suitable only for single-instance
// deployments; multi-instance setups must use the Redis store.
type MemoryStore struct {
	limits Limits
	now    func() time.Time

	mu    sync.Mutex
	users map[string]*userEntry
}

// userEntry carries one user's counters. cycles keeps only the counters for
// recently seen pass ids; stale ids are dropped as new ones appear.
type userEntry struct {
	mu       sync.Mutex
	counters domain.RateLimitCounters
	cycles   map[string]int
}

// NewMemoryStore creates a MemoryStore with the given limits.
func NewMemoryStore(limits Limits) *MemoryStore {
	return &MemoryStore{
		limits: limits,
		now:    time.Now,
		users:  make(map[string]*userEntry),
	}
}

func (s *MemoryStore) entry(userID string) *userEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.users[userID]
	if !ok {
		e = &userEntry{
			counters: domain.RateLimitCounters{UserID: userID},
			cycles:   make(map[string]int),
		}
		s.users[userID] = e
	}
	return e
}

// TryConsume atomically consumes one delivery slot or denies without
// changing anything. Checks and mutation happen under the user's entry lock.
func (s *MemoryStore) TryConsume(_ context.Context, userID string, tier domain.SubscriptionTier, chatCtx domain.ChatContextType, cycleID string) (domain.ConsumeResult, error) {
	e := s.entry(userID)
	now := s.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Rolling window reset, measured from first use in window.
	if e.counters.DailyWindowStart.IsZero() || now.Sub(e.counters.DailyWindowStart) >= dailyWindow {
		e.counters.DailyCount = 0
		e.counters.DailyWindowStart = now
	}

	if e.counters.DailyCount >= s.limits.capFor(tier, chatCtx) {
		return domain.ConsumeResult{Denial: domain.DenyDailyCap}, nil
	}
	if !e.counters.LastDeliveryAt.IsZero() && now.Sub(e.counters.LastDeliveryAt) < s.limits.Cooldown {
		return domain.ConsumeResult{Denial: domain.DenyCooldown}, nil
	}
	if e.cycles[cycleID] >= s.limits.CycleCap {
		return domain.ConsumeResult{Denial: domain.DenyCycleCap}, nil
	}

	e.counters.DailyCount++
	e.counters.LastDeliveryAt = now
	if len(e.cycles) > 4 {
		for id := range e.cycles {
			if id != cycleID {
				delete(e.cycles, id)
			}
		}
	}
	e.cycles[cycleID]++

	return domain.ConsumeResult{Allowed: true}, nil
}

// Counters returns a copy of the user's current counters, for inspection.
func (s *MemoryStore) Counters(userID string) domain.RateLimitCounters {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

// Compile-time interface check.
var _ domain.RateLimitStore = (*MemoryStore)(nil)
