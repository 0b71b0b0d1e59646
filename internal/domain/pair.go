package domain

import (
	"fmt"
	"strings"
)

// ExchangeID identifies a supported derivatives exchange.
type ExchangeID string

const (
	ExchangeBinance ExchangeID = "binance"
	ExchangeBybit   ExchangeID = "bybit"
	ExchangeOKX     ExchangeID = "okx"
	ExchangeBitget  ExchangeID = "bitget"
)

// ParseExchangeID normalizes a raw exchange name. Unknown names are returned
// as-is so config validation can reject them with context.
func ParseExchangeID(s string) ExchangeID {
	return ExchangeID(strings.ToLower(strings.TrimSpace(s)))
}

// TradingPair is an immutable perpetual contract pair. Symbol is the
// canonical "BASE/QUOTE" form used as the lookup key everywhere.
type TradingPair struct {
	Base   string
	Quote  string
	Symbol string
}

// NewTradingPair builds a TradingPair from a "BASE/QUOTE" symbol.
func NewTradingPair(symbol string) (TradingPair, error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(symbol)), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return TradingPair{}, fmt.Errorf("domain: invalid pair symbol %q", symbol)
	}
	return TradingPair{
		Base:   parts[0],
		Quote:  parts[1],
		Symbol: parts[0] + "/" + parts[1],
	}, nil
}

// String implements fmt.Stringer.
func (p TradingPair) String() string { return p.Symbol }
