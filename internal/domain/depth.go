package domain

import "github.com/shopspring/decimal"

// Level is one price level of an order book side.
type Level struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// MarketDepth is a normalized order book snapshot. Bids are sorted by price
// descending, asks ascending, both truncated to the depth the gateway was
// configured with.
type MarketDepth struct {
	Bids []Level
	Asks []Level
}

// Crossed reports whether the book is in a nonsensical state (best bid at or
// above best ask). Callers must treat a crossed book as stale and skip the tick.
func (d MarketDepth) Crossed() bool {
	if len(d.Bids) == 0 || len(d.Asks) == 0 {
		return true
	}
	return d.Bids[0].Price.GreaterThanOrEqual(d.Asks[0].Price)
}

// BestBid returns the highest bid price, zero when the side is empty.
func (d MarketDepth) BestBid() decimal.Decimal {
	if len(d.Bids) == 0 {
		return decimal.Zero
	}
	return d.Bids[0].Price
}

// BestAsk returns the lowest ask price, zero when the side is empty.
func (d MarketDepth) BestAsk() decimal.Decimal {
	if len(d.Asks) == 0 {
		return decimal.Zero
	}
	return d.Asks[0].Price
}
