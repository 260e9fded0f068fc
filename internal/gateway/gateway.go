// Package gateway defines the normalized exchange interface every venue
// adapter implements. Venue JSON quirks stop at this boundary; everything
// above works on the shared domain types.
package gateway

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/quoter/internal/domain"
)

// ErrThinBook is returned by MarketDepth when the decoded book carries fewer
// levels than the configured minimum. Callers must skip the tick rather than
// trade on a thin snapshot.
var ErrThinBook = errors.New("order book has too few levels")

// OrderRejected is a venue business rejection of a well-formed order request.
// Not retried generically; specific codes trigger specific recovery.
type OrderRejected struct {
	Code    string
	Message string
}

func (e *OrderRejected) Error() string {
	return fmt.Sprintf("order rejected by venue: %s (code=%s)", e.Message, e.Code)
}

// InsufficientBalance reports whether the rejection is the venue telling us
// our balance moved under our feet.
func (e *OrderRejected) InsufficientBalance() bool {
	return e.Code == RejectInsufficientBalance
}

const RejectInsufficientBalance = "insufficient_balance"

// Gateway is one venue behind the normalized contract.
type Gateway interface {
	Name() string

	// MarketDepth returns a snapshot with bids descending and asks ascending,
	// truncated to the configured depth. ErrThinBook below the minimum.
	MarketDepth(ctx context.Context, pair domain.Pair) (domain.MarketDepth, error)

	Balances(ctx context.Context) (domain.Balances, error)

	// RecentTrades returns up to limit public trades, newest first.
	RecentTrades(ctx context.Context, pair domain.Pair, limit int) ([]domain.PublicTrade, error)

	// OrderStatus reports the venue's view of an order. An order missing from
	// the open-order listing is reported as closed; whether it filled or was
	// cancelled is for the lifecycle manager to resolve.
	OrderStatus(ctx context.Context, pair domain.Pair, orderID string) (domain.OrderState, error)

	// PlaceOrder submits a limit order and returns its venue id.
	// Returns *OrderRejected on a business rejection.
	PlaceOrder(ctx context.Context, pair domain.Pair, side domain.Side, price, amount decimal.Decimal) (string, error)

	// CancelOrder returns false with a nil error when the venue reports the
	// order could not be cancelled because it already closed.
	CancelOrder(ctx context.Context, pair domain.Pair, orderID string) (bool, error)

	// OpenOrders lists all resting orders of the account, zombie sweep input.
	OpenOrders(ctx context.Context, pair domain.Pair) ([]domain.OrderState, error)

	// LastResponse exposes the venue transport's most recent raw body for
	// diagnostic replay after an unhandled failure.
	LastResponse() []byte

	Close() error
}
