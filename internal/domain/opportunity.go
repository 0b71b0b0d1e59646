package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// OpportunityCategory classifies an opportunity for subscription and
// preference checks.
type OpportunityCategory string

const (
	CategoryArbitrage OpportunityCategory = "arbitrage"
	CategoryTechnical OpportunityCategory = "technical"
)

// ArbitrageOpportunity is a fee-adjusted funding-rate spread between two
// exchanges for one pair. Instances are immutable once constructed and are
// only constructed when the net rate difference is positive and clears the
// configured threshold.
type ArbitrageOpportunity struct {
	ID            string
	Pair          TradingPair
	LongExchange  ExchangeID // lower funding rate: collect the spread going long
	ShortExchange ExchangeID // higher funding rate
	LongRate      float64
	ShortRate     float64
	RateDiff      float64 // ShortRate - LongRate, always >= 0
	LongFee       float64
	ShortFee      float64
	TotalFees     float64
	NetRateDiff   float64 // RateDiff - TotalFees
	DetectedAt    time.Time
}

// Category returns the opportunity category. All funding-rate spreads are
// arbitrage-class opportunities.
func (o ArbitrageOpportunity) Category() OpportunityCategory { return CategoryArbitrage }

// OpportunityID derives the deterministic identifier for an opportunity.
// The same (pair, long, short, cycle) always hashes to the same id, which is
// what lets the audit trail deduplicate re-detections within a cycle.
func OpportunityID(pair TradingPair, long, short ExchangeID, cycle time.Time) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", pair.Symbol, long, short, cycle.UnixMilli())))
	return hex.EncodeToString(h[:16])
}
