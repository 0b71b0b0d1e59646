package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mkravets/fundarb/internal/detector"
	"github.com/mkravets/fundarb/internal/dispatch"
	"github.com/mkravets/fundarb/internal/domain"
	"github.com/mkravets/fundarb/internal/eligibility"
	"github.com/mkravets/fundarb/internal/scheduler"
)

// DetectMode runs detection cycles on the configured interval and logs every
// opportunity found. Nothing is delivered; this mode exists for dry runs and
// for watching the market before enabling distribution.
func (a *App) DetectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting detect mode",
		slog.Duration("interval", a.cfg.Detector.Interval.Duration),
	)

	det := a.buildDetector(deps)
	exchanges := a.watchExchanges()
	pairs := a.watchPairs()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Detector.Interval.Duration)
		defer ticker.Stop()

		for {
			opps := det.Detect(ctx, exchanges, pairs, a.cfg.Detector.Threshold)
			for _, opp := range opps {
				a.logger.InfoContext(ctx, "opportunity detected",
					slog.String("id", opp.ID),
					slog.String("pair", opp.Pair.Symbol),
					slog.String("long", string(opp.LongExchange)),
					slog.String("short", string(opp.ShortExchange)),
					slog.Float64("net_rate_diff", opp.NetRateDiff),
				)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})

	return g.Wait()
}

// DistributeMode runs the full engine: detection cycles feed distribution
// passes that fan the opportunities out to the eligible user population.
func (a *App) DistributeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting distribute mode",
		slog.Duration("interval", a.cfg.Detector.Interval.Duration),
		slog.Int("workers", a.cfg.Scheduler.Workers),
	)

	det := a.buildDetector(deps)
	exchanges := a.watchExchanges()
	pairs := a.watchPairs()

	evaluator := eligibility.New(deps.RateLimits, eligibility.Config{
		SessionWindow: a.cfg.Session.InactivityWindow.Duration,
	}, a.logger)
	dispatcher := dispatch.New(deps.Transport, a.cfg.Telegram.RetryDelay.Duration, a.logger)
	sched := scheduler.New(deps.Profiles, evaluator, dispatcher, deps.Decisions, scheduler.Config{
		Workers:            a.cfg.Scheduler.Workers,
		PassDeadline:       a.cfg.Scheduler.PassDeadline.Duration,
		GroupNoticeEnabled: a.cfg.Limits.GroupNoticeEnabled,
		GroupMinDelay:      a.cfg.Limits.GroupMinDelay.Duration,
	}, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Detector.Interval.Duration)
		defer ticker.Stop()

		for {
			a.runCycle(ctx, det, sched, deps, exchanges, pairs)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})

	err := g.Wait()
	// Let held-back group notices finish dispatching before teardown.
	sched.Wait()
	return err
}

// runCycle executes one detect-then-distribute cycle. Candidate lookup
// failures skip the pass rather than distributing to a stale population.
func (a *App) runCycle(
	ctx context.Context,
	det *detector.Detector,
	sched *scheduler.Scheduler,
	deps *Dependencies,
	exchanges []domain.ExchangeID,
	pairs []domain.TradingPair,
) {
	opps := det.Detect(ctx, exchanges, pairs, a.cfg.Detector.Threshold)
	if len(opps) == 0 {
		return
	}

	candidates, err := deps.Profiles.ListCandidateUserIDs(ctx, a.cfg.Session.InactivityWindow.Duration)
	if err != nil {
		a.logger.ErrorContext(ctx, "candidate lookup failed, skipping pass",
			slog.Int("opportunities", len(opps)),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(candidates) == 0 {
		a.logger.InfoContext(ctx, "no active candidates, skipping pass",
			slog.Int("opportunities", len(opps)),
		)
		return
	}

	sched.Distribute(ctx, opps, candidates)
}

// ArchiveMode exports decisions past the retention cutoff to object storage
// once a day, starting immediately.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	retention := time.Duration(a.cfg.S3.RetentionDays) * 24 * time.Hour
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.S3.RetentionDays),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			cutoff := time.Now().UTC().Add(-retention)
			n, err := deps.Archiver.Archive(ctx, cutoff)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive run failed",
					slog.Time("cutoff", cutoff),
					slog.String("error", err.Error()),
				)
			} else if n == 0 {
				a.logger.InfoContext(ctx, "nothing to archive", slog.Time("cutoff", cutoff))
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})

	return g.Wait()
}

// buildDetector constructs the detector from the configured watch list.
func (a *App) buildDetector(deps *Dependencies) *detector.Detector {
	return detector.New(deps.Gateway, detector.Config{
		FeeFree:          a.feeFreePairs(),
		FetchTimeout:     a.cfg.Detector.FetchTimeout.Duration,
		FetchConcurrency: a.cfg.Detector.FetchConcurrency,
	}, a.logger)
}

// watchExchanges parses the configured exchange ids. Validation already
// rejected unknown names.
func (a *App) watchExchanges() []domain.ExchangeID {
	ids := make([]domain.ExchangeID, 0, len(a.cfg.Detector.Exchanges))
	for _, ex := range a.cfg.Detector.Exchanges {
		ids = append(ids, domain.ParseExchangeID(ex))
	}
	return ids
}

// watchPairs parses the configured pair symbols, dropping any that fail to
// parse. Validation already rejected malformed symbols.
func (a *App) watchPairs() []domain.TradingPair {
	pairs := make([]domain.TradingPair, 0, len(a.cfg.Detector.Pairs))
	for _, symbol := range a.cfg.Detector.Pairs {
		pair, err := domain.NewTradingPair(symbol)
		if err != nil {
			continue
		}
		pairs = append(pairs, pair)
	}
	return pairs
}

// feeFreePairs builds the canonical-symbol lookup for pairs whose missing fee
// samples may resolve to zero.
func (a *App) feeFreePairs() map[string]bool {
	out := make(map[string]bool, len(a.cfg.Detector.FeeFreePairs))
	for _, symbol := range a.cfg.Detector.FeeFreePairs {
		pair, err := domain.NewTradingPair(symbol)
		if err != nil {
			continue
		}
		out[pair.Symbol] = true
	}
	return out
}
