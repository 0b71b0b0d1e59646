package detector

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mkravets/fundarb/internal/domain"
)

// fakeGateway serves samples from in-memory maps. Missing entries behave
// like the real gateway: ErrNotFound for rates, unknown for fees.
type fakeGateway struct {
	rates map[string]float64 // "exchange|symbol" -> funding rate
	fees  map[string]float64 // "exchange|symbol" -> taker fee
}

func key(ex domain.ExchangeID, symbol string) string {
	return string(ex) + "|" + symbol
}

func (f *fakeGateway) GetFundingRate(_ context.Context, ex domain.ExchangeID, pair domain.TradingPair) (domain.FundingRateSample, error) {
	rate, ok := f.rates[key(ex, pair.Symbol)]
	if !ok {
		return domain.FundingRateSample{}, domain.ErrNotFound
	}
	return domain.FundingRateSample{Pair: pair, Exchange: ex, Rate: rate, ObservedAt: time.Now()}, nil
}

func (f *fakeGateway) GetTradingFee(_ context.Context, ex domain.ExchangeID, pair domain.TradingPair) (domain.FeeSample, error) {
	fee, ok := f.fees[key(ex, pair.Symbol)]
	if !ok {
		return domain.UnknownFee(pair, ex), nil
	}
	return domain.KnownFee(pair, ex, fee), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func mustPair(t *testing.T, symbol string) domain.TradingPair {
	t.Helper()
	p, err := domain.NewTradingPair(symbol)
	if err != nil {
		t.Fatalf("NewTradingPair(%q): %v", symbol, err)
	}
	return p
}

func TestDetect_EmitsWhenNetClearsThreshold(t *testing.T) {
	pair := mustPair(t, "BTC/USDT")
	gw := &fakeGateway{
		rates: map[string]float64{
			key(domain.ExchangeBinance, "BTC/USDT"): 0.0010,
			key(domain.ExchangeBybit, "BTC/USDT"):   0.0001,
		},
		fees: map[string]float64{
			key(domain.ExchangeBinance, "BTC/USDT"): 0.0001,
			key(domain.ExchangeBybit, "BTC/USDT"):   0.0001,
		},
	}
	d := New(gw, Config{}, testLogger())

	opps := d.Detect(context.Background(), []domain.ExchangeID{domain.ExchangeBinance, domain.ExchangeBybit}, []domain.TradingPair{pair}, 0.0005)
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(opps))
	}

	opp := opps[0]
	if opp.LongExchange != domain.ExchangeBybit || opp.ShortExchange != domain.ExchangeBinance {
		t.Errorf("long=%s short=%s, want long=bybit short=binance", opp.LongExchange, opp.ShortExchange)
	}
	if got, want := opp.RateDiff, 0.0009; !almostEqual(got, want) {
		t.Errorf("RateDiff=%v, want %v", got, want)
	}
	if got, want := opp.TotalFees, 0.0002; !almostEqual(got, want) {
		t.Errorf("TotalFees=%v, want %v", got, want)
	}
	if got, want := opp.NetRateDiff, 0.0007; !almostEqual(got, want) {
		t.Errorf("NetRateDiff=%v, want %v", got, want)
	}
	if opp.ID == "" {
		t.Error("opportunity id is empty")
	}
}

func TestDetect_BelowThresholdIsDropped(t *testing.T) {
	pair := mustPair(t, "BTC/USDT")
	gw := &fakeGateway{
		rates: map[string]float64{
			key(domain.ExchangeBinance, "BTC/USDT"): 0.0010,
			key(domain.ExchangeBybit, "BTC/USDT"):   0.0001,
		},
		fees: map[string]float64{
			key(domain.ExchangeBinance, "BTC/USDT"): 0.0001,
			key(domain.ExchangeBybit, "BTC/USDT"):   0.0001,
		},
	}
	d := New(gw, Config{}, testLogger())

	// net = 0.0007 < 0.001
	opps := d.Detect(context.Background(), []domain.ExchangeID{domain.ExchangeBinance, domain.ExchangeBybit}, []domain.TradingPair{pair}, 0.001)
	if len(opps) != 0 {
		t.Fatalf("got %d opportunities, want 0", len(opps))
	}
}

func TestDetect_UnknownFeeSkipsCombination(t *testing.T) {
	pair := mustPair(t, "BTC/USDT")
	exchanges := []domain.ExchangeID{domain.ExchangeBinance, domain.ExchangeBybit, domain.ExchangeOKX}
	gw := &fakeGateway{
		rates: map[string]float64{
			key(domain.ExchangeBinance, "BTC/USDT"): 0.0020,
			key(domain.ExchangeBybit, "BTC/USDT"):   0.0001,
			key(domain.ExchangeOKX, "BTC/USDT"):     -0.0010, // huge spread, but fee unknown
		},
		fees: map[string]float64{
			key(domain.ExchangeBinance, "BTC/USDT"): 0.0001,
			key(domain.ExchangeBybit, "BTC/USDT"):   0.0001,
		},
	}
	d := New(gw, Config{}, testLogger())

	opps := d.Detect(context.Background(), exchanges, []domain.TradingPair{pair}, 0.0001)
	for _, opp := range opps {
		if opp.LongExchange == domain.ExchangeOKX || opp.ShortExchange == domain.ExchangeOKX {
			t.Fatalf("okx leg emitted despite unknown fee: %+v", opp)
		}
	}
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1 (binance/bybit only)", len(opps))
	}
}

func TestDetect_FeeFreePairResolvesUnknownToZero(t *testing.T) {
	pair := mustPair(t, "BTC/USDT")
	gw := &fakeGateway{
		rates: map[string]float64{
			key(domain.ExchangeBinance, "BTC/USDT"): 0.0010,
			key(domain.ExchangeBybit, "BTC/USDT"):   0.0001,
		},
		// No fee samples at all.
	}
	d := New(gw, Config{FeeFree: map[string]bool{"BTC/USDT": true}}, testLogger())

	opps := d.Detect(context.Background(), []domain.ExchangeID{domain.ExchangeBinance, domain.ExchangeBybit}, []domain.TradingPair{pair}, 0.0005)
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(opps))
	}
	if opps[0].TotalFees != 0 {
		t.Errorf("TotalFees=%v, want 0 for a fee-free pair", opps[0].TotalFees)
	}
}

func TestDetect_MissingRateSkipsCombination(t *testing.T) {
	pair := mustPair(t, "ETH/USDT")
	gw := &fakeGateway{
		rates: map[string]float64{
			key(domain.ExchangeBinance, "ETH/USDT"): 0.0010,
			// bybit missing
		},
		fees: map[string]float64{
			key(domain.ExchangeBinance, "ETH/USDT"): 0.0001,
			key(domain.ExchangeBybit, "ETH/USDT"):   0.0001,
		},
	}
	d := New(gw, Config{}, testLogger())

	opps := d.Detect(context.Background(), []domain.ExchangeID{domain.ExchangeBinance, domain.ExchangeBybit}, []domain.TradingPair{pair}, 0.0001)
	if len(opps) != 0 {
		t.Fatalf("got %d opportunities, want 0", len(opps))
	}
}

func TestDetect_EqualRatesAreSkipped(t *testing.T) {
	pair := mustPair(t, "BTC/USDT")
	gw := &fakeGateway{
		rates: map[string]float64{
			key(domain.ExchangeBinance, "BTC/USDT"): 0.0005,
			key(domain.ExchangeBybit, "BTC/USDT"):   0.0005,
		},
		fees: map[string]float64{
			key(domain.ExchangeBinance, "BTC/USDT"): 0,
			key(domain.ExchangeBybit, "BTC/USDT"):   0,
		},
	}
	d := New(gw, Config{}, testLogger())

	opps := d.Detect(context.Background(), []domain.ExchangeID{domain.ExchangeBinance, domain.ExchangeBybit}, []domain.TradingPair{pair}, 0.0001)
	if len(opps) != 0 {
		t.Fatalf("got %d opportunities, want 0 for tied rates", len(opps))
	}
}

func TestDetect_NoPairsReturnsEmpty(t *testing.T) {
	d := New(&fakeGateway{}, Config{}, testLogger())
	opps := d.Detect(context.Background(), []domain.ExchangeID{domain.ExchangeBinance, domain.ExchangeBybit}, nil, 0.0005)
	if len(opps) != 0 {
		t.Fatalf("got %d opportunities, want 0", len(opps))
	}
}

func TestDetect_DeterministicIDs(t *testing.T) {
	pair := mustPair(t, "BTC/USDT")
	cycle := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	gw := &fakeGateway{
		rates: map[string]float64{
			key(domain.ExchangeBinance, "BTC/USDT"): 0.0010,
			key(domain.ExchangeBybit, "BTC/USDT"):   0.0001,
		},
		fees: map[string]float64{
			key(domain.ExchangeBinance, "BTC/USDT"): 0,
			key(domain.ExchangeBybit, "BTC/USDT"):   0,
		},
	}

	d1 := New(gw, Config{}, testLogger())
	d1.now = func() time.Time { return cycle }
	d2 := New(gw, Config{}, testLogger())
	d2.now = func() time.Time { return cycle }

	exchanges := []domain.ExchangeID{domain.ExchangeBinance, domain.ExchangeBybit}
	a := d1.Detect(context.Background(), exchanges, []domain.TradingPair{pair}, 0.0005)
	b := d2.Detect(context.Background(), exchanges, []domain.TradingPair{pair}, 0.0005)
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("got %d/%d opportunities, want 1/1", len(a), len(b))
	}
	if a[0].ID != b[0].ID {
		t.Errorf("ids differ for identical cycles: %s vs %s", a[0].ID, b[0].ID)
	}
}

func almostEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-12
}
