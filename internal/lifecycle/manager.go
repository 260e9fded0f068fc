// Package lifecycle owns the state machine of every order this bot places:
// placement, cancel-then-recreate updates, partial fill requotes, ambiguous
// close resolution and the periodic zombie sweep.
package lifecycle

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/quoter/internal/domain"
	"github.com/vadiminshakov/quoter/internal/gateway"
	"github.com/vadiminshakov/quoter/internal/registry"
)

// Handle is the local view of one resting order. Strategies hold handles but
// never mutate them; all transitions go through the Manager.
type Handle struct {
	ID            string
	Side          domain.Side
	Pair          domain.Pair
	Price         decimal.Decimal
	Amount        decimal.Decimal
	Status        domain.OrderStatus
	ExecutedPrice decimal.Decimal
}

type Config struct {
	MinOrderAmount  decimal.Decimal
	PricePrecision  int32
	AmountPrecision int32
	SweepEvery      int
}

type Manager struct {
	gw     gateway.Gateway
	reg    *registry.Registry
	cfg    Config
	logger *zap.Logger

	sweepTick int
}

func NewManager(gw gateway.Gateway, reg *registry.Registry, cfg Config, logger *zap.Logger) *Manager {
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = 10
	}
	return &Manager{gw: gw, reg: reg, cfg: cfg, logger: logger}
}

func (m *Manager) priceEq(a, b decimal.Decimal) bool {
	half := decimal.New(5, -m.cfg.PricePrecision-1)
	return a.Sub(b).Abs().LessThan(half)
}

// PlaceBuy places a buy order and registers its id as bot-owned.
func (m *Manager) PlaceBuy(ctx context.Context, pair domain.Pair, price, amount decimal.Decimal) (*Handle, []domain.ActionEvent, error) {
	return m.place(ctx, pair, domain.Buy, price, amount)
}

// PlaceSell places a sell order. An insufficient-balance rejection clamps
// the amount down to the re-queried available balance and retries exactly
// once; below MinOrderAmount the placement is abandoned for this tick.
func (m *Manager) PlaceSell(ctx context.Context, pair domain.Pair, price, amount decimal.Decimal) (*Handle, []domain.ActionEvent, error) {
	h, events, err := m.place(ctx, pair, domain.Sell, price, amount)
	var rejected *gateway.OrderRejected
	if !errors.As(err, &rejected) || !rejected.InsufficientBalance() {
		return h, events, err
	}

	balances, err := m.gw.Balances(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to re-query balance after sell rejection")
	}
	available := balances.Get(pair.Base).Available.RoundFloor(m.cfg.AmountPrecision)
	if available.LessThan(m.cfg.MinOrderAmount) {
		m.logger.Warn("sell rejected and available balance below minimum, skipping",
			zap.String("pair", pair.String()),
			zap.String("available", available.String()))
		return nil, []domain.ActionEvent{{Kind: domain.ActionSkipped, Side: domain.Sell, Pair: pair, Price: price, Amount: amount}}, nil
	}

	m.logger.Info("sell rejected for insufficient balance, retrying clamped",
		zap.String("pair", pair.String()),
		zap.String("requested", amount.String()),
		zap.String("clamped", available.String()))
	return m.place(ctx, pair, domain.Sell, price, available)
}

func (m *Manager) place(ctx context.Context, pair domain.Pair, side domain.Side, price, amount decimal.Decimal) (*Handle, []domain.ActionEvent, error) {
	id, err := m.gw.PlaceOrder(ctx, pair, side, price, amount)
	if err != nil {
		return nil, nil, err
	}
	if err := m.reg.Add(m.gw.Name(), pair.String(), id); err != nil {
		return nil, nil, errors.Wrap(err, "failed to register placed order")
	}

	h := &Handle{ID: id, Side: side, Pair: pair, Price: price, Amount: amount, Status: domain.OrderOpen}
	event := domain.ActionEvent{Kind: domain.ActionPlaced, Side: side, Pair: pair, OrderID: id, Price: price, Amount: amount}
	m.logger.Info("order placed",
		zap.String("order_id", id),
		zap.String("side", string(side)),
		zap.String("pair", pair.String()),
		zap.String("price", price.String()),
		zap.String("amount", amount.String()))
	return h, []domain.ActionEvent{event}, nil
}

// Reconcile compares the venue-reported state of a tracked order with the
// desired price and amount and performs at most one transition. The returned
// handle replaces the argument; a handle in status Closed is terminal and
// must be dropped by the caller.
func (m *Manager) Reconcile(ctx context.Context, h *Handle, desiredPrice, desiredAmount decimal.Decimal) (*Handle, []domain.ActionEvent, error) {
	state, err := m.gw.OrderStatus(ctx, h.Pair, h.ID)
	if err != nil {
		return h, nil, err
	}

	if state.Closed() {
		h.Status = domain.OrderClosed
		h.ExecutedPrice = h.Price
		if err := m.reg.Remove(m.gw.Name(), h.Pair.String(), h.ID); err != nil {
			return h, nil, errors.Wrap(err, "failed to deregister closed order")
		}
		m.logger.Info("order closed",
			zap.String("order_id", h.ID),
			zap.String("side", string(h.Side)),
			zap.String("price", h.Price.String()))
		return h, []domain.ActionEvent{{Kind: domain.ActionFilled, Side: h.Side, Pair: h.Pair, OrderID: h.ID, Price: h.Price, Amount: h.Amount}}, nil
	}

	// Partial fill: venue reports less remaining than we track.
	if state.Amount.LessThan(h.Amount) {
		h.ExecutedPrice = h.Price
		remaining := state.Amount
		m.logger.Info("order partially filled",
			zap.String("order_id", h.ID),
			zap.String("side", string(h.Side)),
			zap.String("remaining", remaining.String()))

		if remaining.LessThan(m.cfg.MinOrderAmount) {
			return m.cancelOut(ctx, h)
		}
		return m.update(ctx, h, desiredPrice, remaining, domain.ActionRequoted)
	}

	if !m.priceEq(h.Price, desiredPrice) || desiredAmount.GreaterThan(h.Amount) {
		return m.update(ctx, h, desiredPrice, desiredAmount, domain.ActionUpdated)
	}

	return h, nil, nil
}

// update is cancel followed by recreate. A cancel that reports the order
// already gone aborts the recreate: the next tick's reconciliation will see
// the true state, and placing now could double-spend.
func (m *Manager) update(ctx context.Context, h *Handle, price, amount decimal.Decimal, kind domain.ActionKind) (*Handle, []domain.ActionEvent, error) {
	cancelled, err := m.gw.CancelOrder(ctx, h.Pair, h.ID)
	if err != nil {
		return h, nil, err
	}
	if !cancelled {
		m.logger.Info("order already closed, deferring update to next tick",
			zap.String("order_id", h.ID))
		return h, []domain.ActionEvent{{Kind: domain.ActionSkipped, Side: h.Side, Pair: h.Pair, OrderID: h.ID}}, nil
	}
	if err := m.reg.Remove(m.gw.Name(), h.Pair.String(), h.ID); err != nil {
		return h, nil, errors.Wrap(err, "failed to deregister cancelled order")
	}

	replacement, events, err := m.place(ctx, h.Pair, h.Side, price, amount)
	if err != nil {
		return nil, events, err
	}
	replacement.ExecutedPrice = h.ExecutedPrice
	events[len(events)-1].Kind = kind
	return replacement, events, nil
}

func (m *Manager) cancelOut(ctx context.Context, h *Handle) (*Handle, []domain.ActionEvent, error) {
	cancelled, err := m.gw.CancelOrder(ctx, h.Pair, h.ID)
	if err != nil {
		return h, nil, err
	}
	if !cancelled {
		return h, []domain.ActionEvent{{Kind: domain.ActionSkipped, Side: h.Side, Pair: h.Pair, OrderID: h.ID}}, nil
	}
	if err := m.reg.Remove(m.gw.Name(), h.Pair.String(), h.ID); err != nil {
		return h, nil, errors.Wrap(err, "failed to deregister cancelled order")
	}
	h.Status = domain.OrderClosed
	m.logger.Info("dust remainder cancelled", zap.String("order_id", h.ID))
	return h, []domain.ActionEvent{{Kind: domain.ActionCancelled, Side: h.Side, Pair: h.Pair, OrderID: h.ID, Price: h.Price, Amount: h.Amount}}, nil
}

// Cancel cancels a tracked order without replacing it. Returns false when
// the venue reports the order already closed.
func (m *Manager) Cancel(ctx context.Context, h *Handle) (bool, []domain.ActionEvent, error) {
	cancelled, err := m.gw.CancelOrder(ctx, h.Pair, h.ID)
	if err != nil {
		return false, nil, err
	}
	if !cancelled {
		return false, nil, nil
	}
	if err := m.reg.Remove(m.gw.Name(), h.Pair.String(), h.ID); err != nil {
		return true, nil, errors.Wrap(err, "failed to deregister cancelled order")
	}
	h.Status = domain.OrderClosed
	return true, []domain.ActionEvent{{Kind: domain.ActionCancelled, Side: h.Side, Pair: h.Pair, OrderID: h.ID, Price: h.Price, Amount: h.Amount}}, nil
}

// ResolveClosed disambiguates a close reported by a venue that does not
// distinguish fills from server-side cancellations. The funds the order had
// locked (the base asset for a sell, the quote for a buy) reappearing in
// full in the available balance, within tolerance, mean nothing traded: the
// close was a cancellation and the same order is re-placed. Otherwise the
// close is recorded as a fill. Best effort: funds held outside the order or
// concurrent manual trading on the account can fool the comparison.
func (m *Manager) ResolveClosed(ctx context.Context, h *Handle, tolerance decimal.Decimal) (*Handle, []domain.ActionEvent, error) {
	balances, err := m.gw.Balances(ctx)
	if err != nil {
		return h, nil, err
	}

	asset, locked := h.Pair.Quote, h.Price.Mul(h.Amount)
	if h.Side == domain.Sell {
		asset, locked = h.Pair.Base, h.Amount
	}
	available := balances.Get(asset).Available

	if available.Sub(locked).Abs().LessThanOrEqual(tolerance) && locked.GreaterThan(tolerance) {
		m.logger.Warn("order vanished but its funds came back, re-placing",
			zap.String("order_id", h.ID),
			zap.String("side", string(h.Side)))
		if err := m.reg.Remove(m.gw.Name(), h.Pair.String(), h.ID); err != nil {
			return h, nil, errors.Wrap(err, "failed to deregister vanished order")
		}
		return m.place(ctx, h.Pair, h.Side, h.Price, h.Amount)
	}

	h.Status = domain.OrderClosed
	h.ExecutedPrice = h.Price
	if err := m.reg.Remove(m.gw.Name(), h.Pair.String(), h.ID); err != nil {
		return h, nil, errors.Wrap(err, "failed to deregister filled order")
	}
	return h, []domain.ActionEvent{{Kind: domain.ActionFilled, Side: h.Side, Pair: h.Pair, OrderID: h.ID, Price: h.Price, Amount: h.Amount}}, nil
}

// SweepZombies runs every SweepEvery-th call. It cancels resting orders
// this bot placed in some run but no longer tracks. Ids absent from the
// registry are presumed manual and never touched.
func (m *Manager) SweepZombies(ctx context.Context, pair domain.Pair, tracked ...*Handle) ([]domain.ActionEvent, error) {
	m.sweepTick++
	if m.sweepTick%m.cfg.SweepEvery != 0 {
		return nil, nil
	}

	open, err := m.gw.OpenOrders(ctx, pair)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list open orders for sweep")
	}

	trackedIDs := make(map[string]struct{}, len(tracked))
	for _, h := range tracked {
		if h != nil {
			trackedIDs[h.ID] = struct{}{}
		}
	}

	var events []domain.ActionEvent
	for _, o := range open {
		if _, ok := trackedIDs[o.ID]; ok {
			continue
		}
		if !m.reg.Owns(m.gw.Name(), pair.String(), o.ID) {
			continue
		}

		cancelled, err := m.gw.CancelOrder(ctx, pair, o.ID)
		if err != nil {
			return events, errors.Wrapf(err, "failed to cancel zombie order %s", o.ID)
		}
		if cancelled {
			m.logger.Warn("cancelled zombie order",
				zap.String("order_id", o.ID),
				zap.String("pair", pair.String()))
			events = append(events, domain.ActionEvent{Kind: domain.ActionCancelled, Side: o.Side, Pair: pair, OrderID: o.ID, Price: o.Price, Amount: o.Amount})
		}
		if err := m.reg.Remove(m.gw.Name(), pair.String(), o.ID); err != nil {
			return events, errors.Wrap(err, "failed to deregister zombie order")
		}
	}
	return events, nil
}
