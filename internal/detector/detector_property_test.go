package detector

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/mkravets/fundarb/internal/domain"
)

func propPair() domain.TradingPair {
	p, _ := domain.NewTradingPair("BTC/USDT")
	return p
}

var propExchanges = []domain.ExchangeID{domain.ExchangeBinance, domain.ExchangeBybit}

func TestDetect_ThresholdProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("every emitted opportunity clears the threshold with positive net", prop.ForAll(
		func(rateA, rateB, feeA, feeB, threshold float64) bool {
			pair := propPair()
			gw := &fakeGateway{
				rates: map[string]float64{
					key(domain.ExchangeBinance, pair.Symbol): rateA,
					key(domain.ExchangeBybit, pair.Symbol):   rateB,
				},
				fees: map[string]float64{
					key(domain.ExchangeBinance, pair.Symbol): feeA,
					key(domain.ExchangeBybit, pair.Symbol):   feeB,
				},
			}
			d := New(gw, Config{}, testLogger())

			for _, opp := range d.Detect(context.Background(), propExchanges, []domain.TradingPair{pair}, threshold) {
				if opp.NetRateDiff <= 0 || opp.NetRateDiff < threshold {
					return false
				}
				if opp.RateDiff < 0 {
					return false
				}
			}
			return true
		},
		gen.Float64Range(-0.01, 0.01),
		gen.Float64Range(-0.01, 0.01),
		gen.Float64Range(0, 0.002),
		gen.Float64Range(0, 0.002),
		gen.Float64Range(0.00001, 0.005),
	))

	properties.TestingRun(t)
}

func TestDetect_SymmetryProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("exchange input order never changes the long/short assignment", prop.ForAll(
		func(rateA, rateB float64) bool {
			pair := propPair()
			gw := &fakeGateway{
				rates: map[string]float64{
					key(domain.ExchangeBinance, pair.Symbol): rateA,
					key(domain.ExchangeBybit, pair.Symbol):   rateB,
				},
				fees: map[string]float64{
					key(domain.ExchangeBinance, pair.Symbol): 0,
					key(domain.ExchangeBybit, pair.Symbol):   0,
				},
			}
			d := New(gw, Config{}, testLogger())

			forward := d.Detect(context.Background(), []domain.ExchangeID{domain.ExchangeBinance, domain.ExchangeBybit}, []domain.TradingPair{pair}, 0.00001)
			reversed := d.Detect(context.Background(), []domain.ExchangeID{domain.ExchangeBybit, domain.ExchangeBinance}, []domain.TradingPair{pair}, 0.00001)

			if len(forward) != len(reversed) {
				return false
			}
			for i := range forward {
				if forward[i].LongExchange != reversed[i].LongExchange {
					return false
				}
				if forward[i].ShortExchange != reversed[i].ShortExchange {
					return false
				}
			}
			return true
		},
		gen.Float64Range(-0.01, 0.01),
		gen.Float64Range(-0.01, 0.01),
	))

	properties.TestingRun(t)
}

func TestDetect_FeeSkipProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("no opportunity is ever emitted when one side's fee is unknown", prop.ForAll(
		func(rateA, rateB float64) bool {
			pair := propPair()
			gw := &fakeGateway{
				rates: map[string]float64{
					key(domain.ExchangeBinance, pair.Symbol): rateA,
					key(domain.ExchangeBybit, pair.Symbol):   rateB,
				},
				fees: map[string]float64{
					// bybit fee intentionally absent
					key(domain.ExchangeBinance, pair.Symbol): 0.0001,
				},
			}
			d := New(gw, Config{}, testLogger())

			opps := d.Detect(context.Background(), propExchanges, []domain.TradingPair{pair}, 0.00001)
			return len(opps) == 0
		},
		gen.Float64Range(-0.05, 0.05),
		gen.Float64Range(-0.05, 0.05),
	))

	properties.TestingRun(t)
}
