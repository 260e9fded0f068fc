// Package maker implements a market-making policy: keep a buy order resting
// behind a volume wall, and once it fills, sell the acquired amount back
// above the executed price. Market madness modulates both the wall depth
// and the tick cadence.
package maker

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
	"github.com/vadiminshakov/quoter/internal/pricing"
)

const tradesHistoryDepth = 10

// amountEps guards against placing orders for rounding residue.
var amountEps = decimal.NewFromFloat(0.00001)

type Config struct {
	Pair         domain.Pair
	MinAvgVolume decimal.Decimal
	MaxAvgVolume decimal.Decimal
	MinInterval  time.Duration
	MaxInterval  time.Duration
}

type Maker struct {
	cfg     Config
	gw      gateway.Gateway
	manager *lifecycle.Manager
	engine  *pricing.Engine
	logger  *zap.Logger

	buy              *lifecycle.Handle
	sell             *lifecycle.Handle
	executedBuyPrice decimal.Decimal
	interval         time.Duration
}

func New(cfg Config, gw gateway.Gateway, manager *lifecycle.Manager, engine *pricing.Engine, logger *zap.Logger) *Maker {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 8 * time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 20 * time.Second
	}
	return &Maker{
		cfg:      cfg,
		gw:       gw,
		manager:  manager,
		engine:   engine,
		logger:   logger,
		interval: cfg.MaxInterval,
	}
}

func (s *Maker) Name() string {
	return fmt.Sprintf("maker %s on %s", s.cfg.Pair, s.gw.Name())
}

func (s *Maker) Interval() time.Duration { return s.interval }

func (s *Maker) Tick(ctx context.Context) ([]domain.ActionEvent, error) {
	trades, err := s.gw.RecentTrades(ctx, s.cfg.Pair, tradesHistoryDepth)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch recent trades")
	}
	madness := pricing.Madness(trades, time.Now(), s.cfg.MinAvgVolume, s.cfg.MaxAvgVolume)
	s.interval = s.engine.Interval(madness, s.cfg.MinInterval, s.cfg.MaxInterval)
	wall := s.engine.WallVolume(madness)

	depth, err := s.gw.MarketDepth(ctx, s.cfg.Pair)
	if err != nil {
		if errors.Is(err, gateway.ErrThinBook) {
			s.logger.Warn("order book too thin, skipping tick", zap.Error(err))
			return nil, nil
		}
		return nil, err
	}
	if depth.Crossed() {
		s.logger.Warn("order book crossed, skipping tick")
		return nil, nil
	}

	var events []domain.ActionEvent

	ev, err := s.handleBuy(ctx, depth, wall)
	events = append(events, ev...)
	if err != nil {
		return events, err
	}

	ev, err = s.handleSell(ctx, depth)
	events = append(events, ev...)
	if err != nil {
		return events, err
	}

	ev, err = s.manager.SweepZombies(ctx, s.cfg.Pair, s.buy, s.sell)
	events = append(events, ev...)
	return events, err
}

// handleBuy keeps a buy order for the capital not yet locked by the sell
// side resting behind the volume wall.
func (s *Maker) handleBuy(ctx context.Context, depth domain.MarketDepth, wall decimal.Decimal) ([]domain.ActionEvent, error) {
	desired := s.engine.OperativeAmount.Sub(s.amountOf(s.sell))

	if s.buy != nil {
		price := s.engine.SuggestBuyPrice(depth, resting(s.buy), wall)
		h, events, err := s.manager.Reconcile(ctx, s.buy, price, desired)
		s.buy = h
		if err != nil {
			return events, err
		}
		if !s.buy.ExecutedPrice.IsZero() {
			s.executedBuyPrice = s.buy.ExecutedPrice
		}
		if s.buy.Status == domain.OrderClosed {
			s.buy = nil
		}
		return events, nil
	}

	if desired.LessThanOrEqual(amountEps) {
		return nil, nil
	}
	price := s.engine.SuggestBuyPrice(depth, nil, wall)
	h, events, err := s.manager.PlaceBuy(ctx, s.cfg.Pair, price, desired)
	if err != nil {
		return events, err
	}
	s.buy = h
	return events, nil
}

// handleSell offers back whatever the buy side has acquired, priced above
// the executed buy price.
func (s *Maker) handleSell(ctx context.Context, depth domain.MarketDepth) ([]domain.ActionEvent, error) {
	target := s.engine.OperativeAmount.Sub(s.amountOf(s.buy))
	if target.LessThanOrEqual(amountEps) {
		return nil, nil
	}

	price := s.engine.SuggestSellPrice(depth, resting(s.sell), s.executedBuyPrice)

	if s.sell != nil {
		h, events, err := s.manager.Reconcile(ctx, s.sell, price, target)
		s.sell = h
		if err != nil {
			return events, err
		}
		if s.sell.Status == domain.OrderClosed {
			// Cycle complete, capital is free for the next buy.
			s.sell = nil
		}
		return events, nil
	}

	h, events, err := s.manager.PlaceSell(ctx, s.cfg.Pair, price, target)
	if err != nil {
		return events, err
	}
	s.sell = h
	return events, nil
}

func (s *Maker) amountOf(h *lifecycle.Handle) decimal.Decimal {
	if h == nil {
		return decimal.Zero
	}
	return h.Amount
}

func resting(h *lifecycle.Handle) *pricing.Resting {
	if h == nil {
		return nil
	}
	return &pricing.Resting{Price: h.Price, Amount: h.Amount}
}
