// Package scheduler runs distribution passes: it fans detected opportunities
// out to the candidate population, one eligibility evaluation per
// (opportunity, user) pair, and records an auditable decision for every
// pair it touches. Evaluations run on a bounded worker pool under a pass
// deadline; work the deadline cuts off is deferred to the next cycle, never
// stalled.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mkravets/fundarb/internal/dispatch"
	"github.com/mkravets/fundarb/internal/domain"
	"github.com/mkravets/fundarb/internal/eligibility"
)

// Config holds distribution pass parameters.
type Config struct {
	// Workers caps concurrent per-user evaluations.
	Workers int
	// PassDeadline bounds one pass end to end.
	PassDeadline time.Duration
	// GroupNoticeEnabled controls whether shared contexts receive the
	// generic notice at all. Trading specifics never go to shared contexts
	// either way.
	GroupNoticeEnabled bool
	// GroupMinDelay is the mandatory gap between detection and delivery for
	// shared contexts. An eligible shared-context send that would land
	// earlier is held back and dispatched once the gap has elapsed; private
	// contexts deliver immediately.
	GroupMinDelay time.Duration
}

// Scheduler consumes detected opportunities and dispatches deliveries.
type Scheduler struct {
	profiles   domain.ProfileStore
	evaluator  *eligibility.Evaluator
	dispatcher *dispatch.Dispatcher
	decisions  domain.DecisionStore
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time

	// delayed tracks held-back shared-context sends still in flight.
	delayed sync.WaitGroup
}

// New creates a Scheduler. decisions may be nil when no audit sink is
// configured; decisions are then only returned to the caller.
func New(
	profiles domain.ProfileStore,
	evaluator *eligibility.Evaluator,
	dispatcher *dispatch.Dispatcher,
	decisions domain.DecisionStore,
	cfg Config,
	logger *slog.Logger,
) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	return &Scheduler{
		profiles:   profiles,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		decisions:  decisions,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "scheduler")),
		now:        time.Now,
	}
}

// passTally tracks deliveries per user within one pass for the soft
// fairness preference.
type passTally struct {
	mu    sync.Mutex
	count map[string]int
}

func (t *passTally) get(userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count[userID]
}

func (t *passTally) inc(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count[userID]++
}

// Distribute runs one pass over the given opportunities and candidate users
// and returns one decision per evaluated (opportunity, user) pair. Pairs
// handed to a delayed shared-context dispatch are absent from the return;
// their decisions are persisted when the held-back send completes.
// Opportunities with a higher net rate difference are processed first so
// constrained capacity goes to the most valuable signals. Users who have
// received fewer deliveries this pass are evaluated earlier for each
// subsequent opportunity; this is a soft preference, not a guarantee.
func (s *Scheduler) Distribute(ctx context.Context, opps []domain.ArbitrageOpportunity, candidateIDs []string) []domain.DistributionDecision {
	if len(opps) == 0 || len(candidateIDs) == 0 {
		return nil
	}

	cycleID := uuid.New().String()
	s.logger.InfoContext(ctx, "distribution pass started",
		slog.String("cycle_id", cycleID),
		slog.Int("opportunities", len(opps)),
		slog.Int("candidates", len(candidateIDs)),
	)

	if s.cfg.PassDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PassDeadline)
		defer cancel()
	}

	ordered := make([]domain.ArbitrageOpportunity, len(opps))
	copy(ordered, opps)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].NetRateDiff > ordered[j].NetRateDiff
	})

	tally := &passTally{count: make(map[string]int, len(candidateIDs))}

	var mu sync.Mutex
	var all []domain.DistributionDecision

	for _, opp := range ordered {
		users := s.fairOrder(candidateIDs, tally)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Workers)
		for _, userID := range users {
			g.Go(func() error {
				decision, settled := s.evaluateOne(gctx, opp, userID, cycleID, tally)
				if settled {
					mu.Lock()
					all = append(all, decision)
					mu.Unlock()
				}
				return nil
			})
		}
		// Tasks never return errors; each failure becomes a decision.
		_ = g.Wait()
	}

	s.persist(ctx, all)

	delivered := 0
	for _, d := range all {
		if d.Outcome == domain.OutcomeDelivered {
			delivered++
		}
	}
	s.logger.InfoContext(ctx, "distribution pass complete",
		slog.String("cycle_id", cycleID),
		slog.Int("decisions", len(all)),
		slog.Int("delivered", delivered),
	)
	return all
}

// fairOrder sorts candidates ascending by deliveries received this pass so
// lower-received users go first when the worker pool is the bottleneck.
func (s *Scheduler) fairOrder(candidateIDs []string, tally *passTally) []string {
	users := make([]string, len(candidateIDs))
	copy(users, candidateIDs)
	sort.SliceStable(users, func(i, j int) bool {
		return tally.get(users[i]) < tally.get(users[j])
	})
	return users
}

// evaluateOne produces the decision for a single (opportunity, user) pair.
// Every outcome, including failures to even evaluate, is a decision: the
// audit trail has no silent gaps. A false settled return means the send was
// handed to a delayed dispatch which records the pair's decision itself.
func (s *Scheduler) evaluateOne(ctx context.Context, opp domain.ArbitrageOpportunity, userID, cycleID string, tally *passTally) (_ domain.DistributionDecision, settled bool) {
	decision := domain.DistributionDecision{
		AttemptID:     uuid.New().String(),
		OpportunityID: opp.ID,
		UserID:        userID,
		AttemptedAt:   s.now(),
	}

	// Deadline already passed: defer to the next cycle instead of stalling.
	if ctx.Err() != nil {
		decision.Outcome = domain.OutcomeSkipped
		decision.SkipReason = domain.SkipDeferred
		return decision, true
	}

	user, err := s.profiles.GetEligibilityContext(ctx, userID)
	if err != nil {
		// Fail closed: never deliver to a user whose eligibility is unknown.
		s.logger.WarnContext(ctx, "eligibility context unavailable",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		decision.Outcome = domain.OutcomeSkipped
		decision.SkipReason = domain.SkipStoreError
		return decision, true
	}
	decision.ChatContext = user.ChatContext

	if user.ChatContext.IsShared() && !s.cfg.GroupNoticeEnabled {
		decision.Outcome = domain.OutcomeSkipped
		decision.SkipReason = domain.SkipPermission
		return decision, true
	}

	res, err := s.evaluator.Evaluate(ctx, user, opp, cycleID)
	if err != nil {
		decision.Outcome = domain.OutcomeSkipped
		decision.SkipReason = domain.SkipStoreError
		return decision, true
	}
	if !res.Eligible {
		decision.Outcome = domain.OutcomeSkipped
		decision.SkipReason = res.Reason
		return decision, true
	}

	// Shared contexts wait out the minimum gap since detection. Quota was
	// already consumed above, so the slot is reserved for this send.
	if user.ChatContext.IsShared() {
		if wait := opp.DetectedAt.Add(s.cfg.GroupMinDelay).Sub(s.now()); wait > 0 {
			s.deliverLater(ctx, user, opp, decision, wait)
			return decision, false
		}
	}

	if err := s.dispatcher.Deliver(ctx, user, opp); err != nil {
		decision.Outcome = domain.OutcomeFailed
		return decision, true
	}

	tally.inc(userID)
	decision.Outcome = domain.OutcomeDelivered
	return decision, true
}

// delayedSendGrace bounds how long past its scheduled time a held-back send
// may keep trying before it is abandoned.
const delayedSendGrace = 30 * time.Second

// deliverLater dispatches a shared-context send once the remaining minimum
// delay has elapsed. The pass does not wait for it; the send outlives the
// pass deadline and records its own decision so the pair still ends with
// exactly one audit row.
func (s *Scheduler) deliverLater(ctx context.Context, user domain.UserEligibilityContext, opp domain.ArbitrageOpportunity, decision domain.DistributionDecision, wait time.Duration) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wait+delayedSendGrace)

	s.logger.InfoContext(ctx, "shared-context send held for minimum delay",
		slog.String("opportunity_id", opp.ID),
		slog.String("user_id", user.UserID),
		slog.Duration("wait", wait),
	)

	s.delayed.Add(1)
	go func() {
		defer s.delayed.Done()
		defer cancel()

		timer := time.NewTimer(wait)
		defer timer.Stop()
		<-timer.C

		if err := s.dispatcher.Deliver(sendCtx, user, opp); err != nil {
			decision.Outcome = domain.OutcomeFailed
		} else {
			decision.Outcome = domain.OutcomeDelivered
		}
		decision.AttemptedAt = s.now()
		s.persist(sendCtx, []domain.DistributionDecision{decision})
	}()
}

// Wait blocks until every held-back shared-context send has completed. Call
// it on shutdown so pending notices are dispatched, not dropped.
func (s *Scheduler) Wait() {
	s.delayed.Wait()
}

// persist appends the pass's decisions to the audit sink. Audit failures
// are logged, not fatal: the pass already happened.
func (s *Scheduler) persist(ctx context.Context, decisions []domain.DistributionDecision) {
	if s.decisions == nil || len(decisions) == 0 {
		return
	}
	// Use a fresh timeout so a pass-deadline expiry does not also lose the
	// audit trail.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := s.decisions.InsertBatch(persistCtx, decisions); err != nil {
		s.logger.ErrorContext(ctx, "persist decisions failed",
			slog.Int("count", len(decisions)),
			slog.String("error", err.Error()),
		)
	}
}
