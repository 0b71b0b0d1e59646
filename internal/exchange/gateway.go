package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkravets/fundarb/internal/domain"
)

// VenueClient is the per-exchange market-data surface the gateway
// aggregates. TakerFee returns known=false when the venue cannot resolve
// the fee (missing credentials, no fee schedule for the symbol).
type VenueClient interface {
	FundingRate(ctx context.Context, symbol string) (rate float64, observedAt time.Time, err error)
	TakerFee(ctx context.Context, symbol string) (fee float64, known bool, err error)
}

// StaticFee wraps a venue client and overrides its taker fee with a
// configured constant, for accounts whose fee schedule is known without
// hitting the private endpoint.
type StaticFee struct {
	VenueClient
	Fee float64
}

// TakerFee returns the configured fee for every symbol.
func (s StaticFee) TakerFee(context.Context, string) (float64, bool, error) {
	return s.Fee, true, nil
}

const (
	// streamFreshness bounds how old a streamed funding rate may be before
	// the gateway falls back to REST.
	streamFreshness = 2 * time.Minute

	// feeTTL bounds how long a resolved taker fee is served from cache.
	// Fee schedules change rarely; an hour keeps the private endpoints cold.
	feeTTL = time.Hour
)

// Gateway aggregates the venue clients behind domain.MarketDataGateway.
// Streamed funding rates are preferred over REST when fresh; taker fees are
// cached per (exchange, symbol).
type Gateway struct {
	clients map[domain.ExchangeID]VenueClient
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	streamed map[string]streamedRate
	fees     map[string]cachedFee
}

type streamedRate struct {
	rate       float64
	observedAt time.Time
}

type cachedFee struct {
	fee        float64
	resolvedAt time.Time
}

// NewGateway creates an empty Gateway; venues are added with Register.
func NewGateway(logger *slog.Logger) *Gateway {
	return &Gateway{
		clients:  make(map[domain.ExchangeID]VenueClient),
		logger:   logger.With(slog.String("component", "exchange")),
		now:      time.Now,
		streamed: make(map[string]streamedRate),
		fees:     make(map[string]cachedFee),
	}
}

// Register adds a venue client. Registering the same exchange twice
// replaces the previous client.
func (g *Gateway) Register(exchange domain.ExchangeID, client VenueClient) {
	g.clients[exchange] = client
}

// ObserveStreamedRate records a funding rate pushed by a venue stream. Wire
// it as the stream handler, e.g. ws.OnFundingRate(gateway.StreamHandler(ex)).
func (g *Gateway) ObserveStreamedRate(exchange domain.ExchangeID, symbol string, rate float64, observedAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.streamed[venueKey(exchange, symbol)] = streamedRate{rate: rate, observedAt: observedAt}
}

// StreamHandler adapts ObserveStreamedRate to the WebSocket handler shape
// for one exchange.
func (g *Gateway) StreamHandler(exchange domain.ExchangeID) FundingRateHandler {
	return func(symbol string, rate float64, observedAt time.Time) {
		g.ObserveStreamedRate(exchange, symbol, rate, observedAt)
	}
}

// GetFundingRate returns the freshest funding rate for the pair on the
// exchange: the streamed value when recent enough, otherwise one REST call.
func (g *Gateway) GetFundingRate(ctx context.Context, exchange domain.ExchangeID, pair domain.TradingPair) (domain.FundingRateSample, error) {
	symbol := marketSymbol(pair)

	g.mu.RLock()
	s, ok := g.streamed[venueKey(exchange, symbol)]
	g.mu.RUnlock()
	if ok && g.now().Sub(s.observedAt) < streamFreshness {
		return domain.FundingRateSample{
			Pair:       pair,
			Exchange:   exchange,
			Rate:       s.rate,
			ObservedAt: s.observedAt,
		}, nil
	}

	client, ok := g.clients[exchange]
	if !ok {
		return domain.FundingRateSample{}, fmt.Errorf("exchange: %s: %w", exchange, domain.ErrNotFound)
	}

	rate, observedAt, err := client.FundingRate(ctx, symbol)
	if err != nil {
		return domain.FundingRateSample{}, err
	}
	return domain.FundingRateSample{
		Pair:       pair,
		Exchange:   exchange,
		Rate:       rate,
		ObservedAt: observedAt,
	}, nil
}

// GetTradingFee returns the taker fee for the pair on the exchange. A fee
// the venue cannot resolve comes back with Known=false, never as zero.
func (g *Gateway) GetTradingFee(ctx context.Context, exchange domain.ExchangeID, pair domain.TradingPair) (domain.FeeSample, error) {
	symbol := marketSymbol(pair)
	key := venueKey(exchange, symbol)

	g.mu.RLock()
	f, ok := g.fees[key]
	g.mu.RUnlock()
	if ok && g.now().Sub(f.resolvedAt) < feeTTL {
		return domain.KnownFee(pair, exchange, f.fee), nil
	}

	client, ok := g.clients[exchange]
	if !ok {
		return domain.FeeSample{}, fmt.Errorf("exchange: %s: %w", exchange, domain.ErrNotFound)
	}

	fee, known, err := client.TakerFee(ctx, symbol)
	if err != nil {
		return domain.FeeSample{}, err
	}
	if !known {
		return domain.UnknownFee(pair, exchange), nil
	}

	g.mu.Lock()
	g.fees[key] = cachedFee{fee: fee, resolvedAt: g.now()}
	g.mu.Unlock()

	return domain.KnownFee(pair, exchange, fee), nil
}

// marketSymbol maps a trading pair to the contract symbol both venues use
// for USDT perpetuals: base and quote concatenated, e.g. BTC/USDT -> BTCUSDT.
func marketSymbol(pair domain.TradingPair) string {
	return pair.Base + pair.Quote
}

func venueKey(exchange domain.ExchangeID, symbol string) string {
	return string(exchange) + "|" + symbol
}

// Compile-time interface check.
var _ domain.MarketDataGateway = (*Gateway)(nil)
