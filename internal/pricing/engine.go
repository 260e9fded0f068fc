// Package pricing computes quote prices and wall volumes from order book
// depth and recent trade activity.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/quoter/internal/domain"
)

// minSellWall filters out dust asks when walking the sell side.
var minSellWall = decimal.NewFromFloat(0.1)

// Resting describes the bot's own order currently sitting in the book, so
// the walks can ignore its volume.
type Resting struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Engine holds the tunables of the quoting policy for one pair.
type Engine struct {
	OperativeAmount decimal.Decimal
	MinWall         decimal.Decimal
	MaxWall         decimal.Decimal
	MinDifference   decimal.Decimal
	MinPriceUpdate  decimal.Decimal
	PricePrecision  int32
}

// tick is the smallest representable price step at the configured precision.
func (e *Engine) tick() decimal.Decimal {
	return decimal.New(1, -e.PricePrecision)
}

// PriceEq reports whether two prices are equal within half a tick.
func (e *Engine) PriceEq(a, b decimal.Decimal) bool {
	half := e.tick().Div(decimal.NewFromInt(2))
	return a.Sub(b).Abs().LessThan(half)
}

// WallVolume scales the bid-volume threshold between the configured bounds:
// a frantic market hides the order behind a bigger wall.
func (e *Engine) WallVolume(madness float64) decimal.Decimal {
	m := decimal.NewFromFloat(madness)
	return e.MinWall.Add(m.Mul(e.MaxWall.Sub(e.MinWall)))
}

// Interval picks the pause before the next tick, shrinking toward min as the
// market gets busier.
func (e *Engine) Interval(madness float64, min, max time.Duration) time.Duration {
	d := time.Duration(float64(max-min) * madness)
	return max - d
}

// SuggestBuyPrice walks the bids from best to worst, accumulating visible
// volume while discounting the bot's own resting order, and quotes one tick
// above the first level where the accumulated volume plus the operative
// amount clears the wall and the level still leaves room under the best ask.
func (e *Engine) SuggestBuyPrice(depth domain.MarketDepth, own *Resting, wall decimal.Decimal) decimal.Decimal {
	lowestAsk := depth.Asks[0].Price
	bestBid := depth.Bids[0].Price

	sum := decimal.Zero
	for _, bid := range depth.Bids {
		sum = sum.Add(bid.Amount)
		if own != nil && e.PriceEq(bid.Price, own.Price) {
			sum = sum.Sub(own.Amount)
		}

		if sum.Add(e.OperativeAmount).GreaterThan(wall) &&
			bid.Price.Add(e.MinDifference).LessThan(lowestAsk) {
			price := bid.Price.Add(e.tick()).Round(e.PricePrecision)

			// Not improving book position and barely moving: keep the
			// old price and save a server round trip.
			if own != nil && price.LessThan(bestBid) &&
				price.Sub(own.Price).Abs().LessThan(e.MinPriceUpdate) {
				return own.Price
			}
			return price
		}
	}

	// Book too dry, park one tick under the worst visible bid.
	price := depth.Bids[len(depth.Bids)-1].Price.Sub(e.tick()).Round(e.PricePrecision)
	if own != nil && price.Sub(own.Price).Abs().LessThan(e.MinPriceUpdate) {
		return own.Price
	}
	return price
}

// SuggestSellPrice walks the asks from best to worst, skipping the bot's own
// order and dust levels, and undercuts the first ask that still clears the
// executed buy price plus the required margin.
func (e *Engine) SuggestSellPrice(depth domain.MarketDepth, own *Resting, executedBuyPrice decimal.Decimal) decimal.Decimal {
	floor := executedBuyPrice.Add(e.MinDifference)

	sum := decimal.Zero
	for _, ask := range depth.Asks {
		if own != nil && e.PriceEq(ask.Price, own.Price) && ask.Amount.Equal(own.Amount) {
			continue
		}
		sum = sum.Add(ask.Amount)
		if sum.LessThan(minSellWall) {
			continue
		}

		if ask.Price.GreaterThan(floor) {
			if own != nil && e.PriceEq(ask.Price, own.Price) {
				return own.Price
			}
			return ask.Price.Sub(e.tick()).Round(e.PricePrecision)
		}
	}

	// Every ask sits below our margin. Quote the minimum profitable price
	// and wait out the fall.
	return floor.Round(e.PricePrecision)
}
