// Package detector implements fee-aware funding-rate arbitrage detection
// across exchange/pair combinations. One Detect call is one detection cycle:
// it fans out sample fetches, pairs up exchanges per pair, and emits every
// combination whose net rate difference clears the configured threshold.
package detector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mkravets/fundarb/internal/domain"
)

// Config holds the detection parameters.
type Config struct {
	// FeeFree lists pair symbols whose missing fee samples may resolve to
	// zero. Every other pair with an unknown fee is skipped outright.
	FeeFree map[string]bool
	// FetchTimeout bounds the sample fan-out; the cycle proceeds with
	// whatever samples arrived in time.
	FetchTimeout time.Duration
	// FetchConcurrency caps concurrent gateway calls.
	FetchConcurrency int
}

// Detector computes arbitrage opportunities from gateway data.
type Detector struct {
	gateway domain.MarketDataGateway
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Detector reading from the given gateway.
func New(gateway domain.MarketDataGateway, cfg Config, logger *slog.Logger) *Detector {
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 8
	}
	return &Detector{
		gateway: gateway,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "detector")),
		now:     time.Now,
	}
}

// sampleKey addresses one (exchange, pair) combination in the fetch result
// maps.
type sampleKey struct {
	exchange domain.ExchangeID
	symbol   string
}

// cycleSamples indexes the fetch results of one cycle.
type cycleSamples struct {
	mu    sync.Mutex
	rates map[sampleKey]domain.FundingRateSample
	fees  map[sampleKey]domain.FeeSample
}

// Detect runs one detection cycle over the given exchanges and pairs and
// returns every opportunity whose net rate difference is positive and at
// least threshold. Single fetch failures degrade to missing samples; Detect
// never fails on partial data. The result order carries no meaning.
func (d *Detector) Detect(ctx context.Context, exchanges []domain.ExchangeID, pairs []domain.TradingPair, threshold float64) []domain.ArbitrageOpportunity {
	if len(pairs) == 0 {
		d.logger.Warn("no pairs configured, skipping detection cycle")
		return nil
	}

	cycle := d.now().UTC()
	samples := d.fetchSamples(ctx, exchanges, pairs)

	var opps []domain.ArbitrageOpportunity
	for _, pair := range pairs {
		for i := 0; i < len(exchanges); i++ {
			for j := i + 1; j < len(exchanges); j++ {
				opp, ok := d.compare(samples, pair, exchanges[i], exchanges[j], threshold, cycle)
				if ok {
					opps = append(opps, opp)
				}
			}
		}
	}

	d.logger.Info("detection cycle complete",
		slog.Time("cycle", cycle),
		slog.Int("pairs", len(pairs)),
		slog.Int("exchanges", len(exchanges)),
		slog.Int("opportunities", len(opps)),
	)
	return opps
}

// fetchSamples fans out funding-rate and fee fetches for every (exchange,
// pair) combination with bounded concurrency. All fetches are independent;
// a failed or absent result leaves a gap in the maps rather than aborting
// the cycle.
func (d *Detector) fetchSamples(ctx context.Context, exchanges []domain.ExchangeID, pairs []domain.TradingPair) *cycleSamples {
	if d.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.FetchTimeout)
		defer cancel()
	}

	samples := &cycleSamples{
		rates: make(map[sampleKey]domain.FundingRateSample, len(exchanges)*len(pairs)),
		fees:  make(map[sampleKey]domain.FeeSample, len(exchanges)*len(pairs)),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.FetchConcurrency)

	for _, ex := range exchanges {
		for _, pair := range pairs {
			key := sampleKey{exchange: ex, symbol: pair.Symbol}

			g.Go(func() error {
				rate, err := d.gateway.GetFundingRate(ctx, key.exchange, pair)
				if err != nil {
					if !errors.Is(err, domain.ErrNotFound) {
						d.logger.Debug("funding rate fetch failed",
							slog.String("exchange", string(key.exchange)),
							slog.String("pair", pair.Symbol),
							slog.String("error", err.Error()),
						)
					}
					return nil
				}
				samples.mu.Lock()
				samples.rates[key] = rate
				samples.mu.Unlock()
				return nil
			})

			g.Go(func() error {
				fee, err := d.gateway.GetTradingFee(ctx, key.exchange, pair)
				if err != nil || !fee.Known {
					return nil
				}
				samples.mu.Lock()
				samples.fees[key] = fee
				samples.mu.Unlock()
				return nil
			})
		}
	}

	// Tasks only ever return nil; Wait is for joining, not error collection.
	_ = g.Wait()
	return samples
}

// compare evaluates one unordered exchange combination for one pair. The
// long side is always the exchange with the lower funding rate, so swapping
// a and b never changes the outcome.
func (d *Detector) compare(samples *cycleSamples, pair domain.TradingPair, a, b domain.ExchangeID, threshold float64, cycle time.Time) (domain.ArbitrageOpportunity, bool) {
	rateA, okA := samples.rates[sampleKey{exchange: a, symbol: pair.Symbol}]
	rateB, okB := samples.rates[sampleKey{exchange: b, symbol: pair.Symbol}]
	if !okA || !okB {
		return domain.ArbitrageOpportunity{}, false
	}

	// A tie has zero spread and can never clear a positive threshold.
	if rateA.Rate == rateB.Rate {
		return domain.ArbitrageOpportunity{}, false
	}

	long, short := a, b
	longRate, shortRate := rateA.Rate, rateB.Rate
	if rateA.Rate > rateB.Rate {
		long, short = b, a
		longRate, shortRate = rateB.Rate, rateA.Rate
	}
	rateDiff := shortRate - longRate

	longFee, ok := d.resolveFee(samples, pair, long)
	if !ok {
		return domain.ArbitrageOpportunity{}, false
	}
	shortFee, ok := d.resolveFee(samples, pair, short)
	if !ok {
		return domain.ArbitrageOpportunity{}, false
	}

	totalFees := longFee + shortFee
	net := rateDiff - totalFees
	if net <= 0 || net < threshold {
		return domain.ArbitrageOpportunity{}, false
	}

	return domain.ArbitrageOpportunity{
		ID:            domain.OpportunityID(pair, long, short, cycle),
		Pair:          pair,
		LongExchange:  long,
		ShortExchange: short,
		LongRate:      longRate,
		ShortRate:     shortRate,
		RateDiff:      rateDiff,
		LongFee:       longFee,
		ShortFee:      shortFee,
		TotalFees:     totalFees,
		NetRateDiff:   net,
		DetectedAt:    cycle,
	}, true
}

// resolveFee returns the taker fee for one side of a combination. A missing
// fee is only ever zero for pairs explicitly configured fee-free; otherwise
// the combination is dropped so incomplete data can never overstate profit.
func (d *Detector) resolveFee(samples *cycleSamples, pair domain.TradingPair, ex domain.ExchangeID) (float64, bool) {
	if fee, ok := samples.fees[sampleKey{exchange: ex, symbol: pair.Symbol}]; ok {
		return fee.TakerFee, true
	}
	if d.cfg.FeeFree[pair.Symbol] {
		return 0, true
	}
	d.logger.Warn("fee unknown and pair not fee-free, skipping combination",
		slog.String("exchange", string(ex)),
		slog.String("pair", pair.Symbol),
	)
	return 0, false
}
