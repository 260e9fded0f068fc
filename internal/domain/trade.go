package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PublicTrade is one executed trade from a venue's public trade feed, newest
// first in listings. Feeds the market activity coefficient.
type PublicTrade struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
	Time   time.Time
}

type ActionKind string

const (
	ActionPlaced    ActionKind = "placed"
	ActionUpdated   ActionKind = "updated"
	ActionCancelled ActionKind = "cancelled"
	ActionFilled    ActionKind = "filled"
	ActionRequoted  ActionKind = "requoted"
	ActionSkipped   ActionKind = "skipped"
)

// ActionEvent records one order action a strategy took during a tick.
type ActionEvent struct {
	Kind    ActionKind
	Side    Side
	Pair    Pair
	OrderID string
	Price   decimal.Decimal
	Amount  decimal.Decimal
}

func (e ActionEvent) String() string {
	return fmt.Sprintf("%s %s %s id=%s price=%s amount=%s",
		e.Pair.String(), e.Kind, e.Side, e.OrderID, e.Price.String(), e.Amount.String())
}
