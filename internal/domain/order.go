package domain

import "github.com/shopspring/decimal"

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type OrderStatus string

const (
	OrderOpen            OrderStatus = "OPEN"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderClosed          OrderStatus = "CLOSED"
	OrderUnknown         OrderStatus = "UNKNOWN"
)

// OrderState is the venue-reported view of an order, normalized by a gateway.
// A gateway that cannot find the order in the open-order listing reports it as
// OrderClosed; closed-by-fill and closed-by-cancel are indistinguishable there,
// the lifecycle manager resolves the ambiguity with a balance cross-check.
type OrderState struct {
	ID     string
	Side   Side
	Price  decimal.Decimal
	Amount decimal.Decimal
	Status OrderStatus
}

func (s OrderState) Closed() bool {
	return s.Status == OrderClosed
}
