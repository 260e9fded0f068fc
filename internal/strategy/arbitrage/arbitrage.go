// Package arbitrage shuttles one asset between two venues ("legs") at fixed
// sell prices, one resting order per leg. It knows nothing about the order
// book: each leg simply offers its full balance, and a fill on one side
// frees balance the other side picks up next tick. Balance deltas
// cross-check every reported close and partial fill, since the venues here
// do not distinguish fills from server-side cancellations.
package arbitrage

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/quoter/internal/domain"
	"github.com/vadiminshakov/quoter/internal/gateway"
	"github.com/vadiminshakov/quoter/internal/lifecycle"
)

const defaultInterval = 15 * time.Second

// Leg is one side of the arbitrage: a venue, the pair sold there and the
// fixed price to sell at.
type Leg struct {
	Gateway   gateway.Gateway
	Manager   *lifecycle.Manager
	Pair      domain.Pair
	SellPrice decimal.Decimal
}

type leg struct {
	Leg
	name    string
	handle  *lifecycle.Handle
	last    decimal.Decimal
	hasLast bool
}

type Arbitrage struct {
	base      *leg
	arb       *leg
	threshold decimal.Decimal
	interval  time.Duration
	logger    *zap.Logger
}

func New(base, arb Leg, threshold decimal.Decimal, logger *zap.Logger) *Arbitrage {
	return &Arbitrage{
		base:      &leg{Leg: base, name: "base"},
		arb:       &leg{Leg: arb, name: "arb"},
		threshold: threshold,
		interval:  defaultInterval,
		logger:    logger,
	}
}

func (s *Arbitrage) Name() string {
	return fmt.Sprintf("arbitrage %s %s/%s", s.base.Pair.Base, s.base.Gateway.Name(), s.arb.Gateway.Name())
}

func (s *Arbitrage) Interval() time.Duration { return s.interval }

func (s *Arbitrage) Tick(ctx context.Context) ([]domain.ActionEvent, error) {
	baseBal, err := s.balance(ctx, s.base)
	if err != nil {
		return nil, err
	}
	arbBal, err := s.balance(ctx, s.arb)
	if err != nil {
		return nil, err
	}
	s.logger.Info("leg balances",
		zap.String("base", baseBal.String()),
		zap.String("arb", arbBal.String()))

	var events []domain.ActionEvent
	ev, err := s.checkLeg(ctx, s.base, s.arb, baseBal, arbBal)
	events = append(events, ev...)
	if err != nil {
		return events, err
	}
	ev, err = s.checkLeg(ctx, s.arb, s.base, arbBal, baseBal)
	events = append(events, ev...)
	if err != nil {
		return events, err
	}

	s.base.last, s.base.hasLast = baseBal, true
	s.arb.last, s.arb.hasLast = arbBal, true
	return events, nil
}

func (s *Arbitrage) balance(ctx context.Context, l *leg) (decimal.Decimal, error) {
	balances, err := l.Gateway.Balances(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to fetch %s leg balance", l.name)
	}
	b := balances.Get(l.Pair.Base)
	return b.Available, nil
}

func (s *Arbitrage) checkLeg(ctx context.Context, own, other *leg, ownBal, otherBal decimal.Decimal) ([]domain.ActionEvent, error) {
	if own.handle == nil {
		if ownBal.GreaterThan(s.threshold) {
			return s.recreate(ctx, own, ownBal)
		}
		return nil, nil
	}

	state, err := own.Gateway.OrderStatus(ctx, own.Pair, own.handle.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query %s leg order", own.name)
	}

	switch {
	case state.Closed():
		// The manager tells cancellations and fills apart by whether the
		// order's funds came back to the balance.
		resolved, events, err := own.Manager.ResolveClosed(ctx, own.handle, s.threshold)
		if err != nil {
			return events, err
		}
		if resolved.Status != domain.OrderClosed {
			s.logger.Warn("leg order closed but balance did not move, re-placed",
				zap.String("leg", own.name),
				zap.String("order_id", resolved.ID))
			own.handle = resolved
			return events, nil
		}

		s.logger.Info("leg order filled",
			zap.String("leg", own.name),
			zap.String("order_id", own.handle.ID),
			zap.String("amount", own.handle.Amount.String()))
		own.handle = nil
		// The fill landed on the other leg, grow its order.
		more, err := s.recreate(ctx, other, otherBal)
		return append(events, more...), err

	case state.Amount.Add(s.threshold).LessThan(own.handle.Amount):
		// Reported remainder shrank. Trust it only if the other leg's
		// balance actually grew since last tick.
		if other.hasLast && otherBal.Sub(s.threshold).GreaterThan(other.last) {
			s.logger.Info("leg order partially filled",
				zap.String("leg", own.name),
				zap.String("order_id", own.handle.ID),
				zap.String("remaining", state.Amount.String()))
			own.handle.Amount = state.Amount
			return s.recreate(ctx, other, otherBal)
		}
		s.logger.Warn("leg order amount decreased but opposite balance validation failed",
			zap.String("leg", own.name),
			zap.String("order_id", own.handle.ID))
		return nil, nil

	case state.Amount.Add(s.threshold).LessThan(ownBal):
		// Own balance grew past the resting amount: the other leg sold
		// into us, fold the new balance into this order.
		return s.recreate(ctx, own, ownBal)

	default:
		return nil, nil
	}
}

// recreate replaces the leg's resting order with one covering the full
// current balance. A cancel that reports the order already gone defers to
// the next tick instead of risking a duplicate.
func (s *Arbitrage) recreate(ctx context.Context, l *leg, balance decimal.Decimal) ([]domain.ActionEvent, error) {
	var events []domain.ActionEvent
	if l.handle != nil {
		cancelled, ev, err := l.Manager.Cancel(ctx, l.handle)
		events = append(events, ev...)
		if err != nil {
			return events, err
		}
		if !cancelled {
			s.logger.Info("leg order already closed, deferring recreate",
				zap.String("leg", l.name),
				zap.String("order_id", l.handle.ID))
			return events, nil
		}
		l.handle = nil
	}

	h, ev, err := l.Manager.PlaceSell(ctx, l.Pair, l.SellPrice, balance)
	events = append(events, ev...)
	if err != nil {
		return events, err
	}
	l.handle = h
	return events, nil
}
