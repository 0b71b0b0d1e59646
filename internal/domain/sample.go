package domain

import "time"

// FundingRateSample is one funding-rate observation for an (exchange, pair)
// combination within a detection cycle. Samples are ephemeral inputs and are
// never persisted.
type FundingRateSample struct {
	Pair       TradingPair
	Exchange   ExchangeID
	Rate       float64
	ObservedAt time.Time
}

// FeeSample is a taker-fee observation. A missing fee is NOT the same as a
// zero fee: the detector must skip combinations with unknown fees unless the
// pair is explicitly configured fee-free. The Known flag makes every call
// site handle the unknown case deliberately.
type FeeSample struct {
	Pair     TradingPair
	Exchange ExchangeID
	TakerFee float64
	Known    bool
}

// KnownFee builds a FeeSample with a resolved taker-fee rate.
func KnownFee(pair TradingPair, exchange ExchangeID, rate float64) FeeSample {
	return FeeSample{Pair: pair, Exchange: exchange, TakerFee: rate, Known: true}
}

// UnknownFee builds a FeeSample whose taker fee could not be resolved.
func UnknownFee(pair TradingPair, exchange ExchangeID) FeeSample {
	return FeeSample{Pair: pair, Exchange: exchange}
}
