// Package binance adapts the exchange through its official SDK client. The
// SDK already handles signing and retries at the HTTP layer; this adapter
// only maps responses and error codes to the shared model.
package binance

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/quoter/internal/domain"
	"github.com/vadiminshakov/quoter/internal/gateway"
)

const (
	codeInsufficientBalance = -2010
	codeUnknownOrder        = -2011
	codeOrderDoesNotExist   = -2013
)

type Config struct {
	AccessKey       string
	SecretKey       string
	DepthLimit      int
	MinDepthLevels  int
	PricePrecision  int32
	AmountPrecision int32
}

type Gateway struct {
	cfg    Config
	client *binance.Client
	logger *zap.Logger
}

var _ gateway.Gateway = (*Gateway)(nil)

func New(cfg Config, logger *zap.Logger) *Gateway {
	if cfg.DepthLimit <= 0 {
		cfg.DepthLimit = 15
	}
	if cfg.MinDepthLevels <= 0 {
		cfg.MinDepthLevels = 3
	}
	return &Gateway{
		cfg:    cfg,
		client: binance.NewClient(cfg.AccessKey, cfg.SecretKey),
		logger: logger,
	}
}

func (g *Gateway) Name() string { return "binance" }

func (g *Gateway) MarketDepth(ctx context.Context, pair domain.Pair) (domain.MarketDepth, error) {
	res, err := g.client.NewDepthService().Symbol(pair.Symbol()).Limit(g.cfg.DepthLimit).Do(ctx)
	if err != nil {
		return domain.MarketDepth{}, errors.Wrap(err, "failed to fetch depth")
	}

	depth := domain.MarketDepth{
		Bids: make([]domain.Level, 0, len(res.Bids)),
		Asks: make([]domain.Level, 0, len(res.Asks)),
	}
	for _, b := range res.Bids {
		lvl, err := level(b.Price, b.Quantity)
		if err != nil {
			return domain.MarketDepth{}, err
		}
		depth.Bids = append(depth.Bids, lvl)
	}
	for _, a := range res.Asks {
		lvl, err := level(a.Price, a.Quantity)
		if err != nil {
			return domain.MarketDepth{}, err
		}
		depth.Asks = append(depth.Asks, lvl)
	}

	if len(depth.Bids) < g.cfg.MinDepthLevels || len(depth.Asks) < g.cfg.MinDepthLevels {
		return domain.MarketDepth{}, errors.Wrapf(gateway.ErrThinBook, "%d bids, %d asks, need %d per side",
			len(depth.Bids), len(depth.Asks), g.cfg.MinDepthLevels)
	}
	return depth, nil
}

func level(priceStr, qtyStr string) (domain.Level, error) {
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.Level{}, errors.Wrapf(err, "bad level price %q", priceStr)
	}
	qty, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return domain.Level{}, errors.Wrapf(err, "bad level quantity %q", qtyStr)
	}
	return domain.Level{Price: price, Amount: qty}, nil
}

func (g *Gateway) Balances(ctx context.Context) (domain.Balances, error) {
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch account")
	}

	balances := make(domain.Balances, 0, len(account.Balances))
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, errors.Wrapf(err, "bad free balance %q", b.Free)
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return nil, errors.Wrapf(err, "bad locked balance %q", b.Locked)
		}
		balances = append(balances, domain.Balance{
			Asset:     b.Asset,
			Total:     free.Add(locked),
			Available: free,
		})
	}
	return balances, nil
}

func (g *Gateway) RecentTrades(ctx context.Context, pair domain.Pair, limit int) ([]domain.PublicTrade, error) {
	list, err := g.client.NewRecentTradesService().Symbol(pair.Symbol()).Limit(limit).Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch recent trades")
	}

	trades := make([]domain.PublicTrade, 0, len(list))
	for _, t := range list {
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return nil, errors.Wrapf(err, "bad trade price %q", t.Price)
		}
		qty, err := decimal.NewFromString(t.Quantity)
		if err != nil {
			return nil, errors.Wrapf(err, "bad trade quantity %q", t.Quantity)
		}
		trades = append(trades, domain.PublicTrade{
			Price:  price,
			Amount: qty,
			Time:   time.UnixMilli(t.Time),
		})
	}
	// Newest first, matching the other gateways.
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	return trades, nil
}

func (g *Gateway) OrderStatus(ctx context.Context, pair domain.Pair, orderID string) (domain.OrderState, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return domain.OrderState{}, errors.Wrapf(err, "bad order id %q", orderID)
	}

	order, err := g.client.NewGetOrderService().Symbol(pair.Symbol()).OrderID(id).Do(ctx)
	if err != nil {
		if apiErr, ok := err.(*common.APIError); ok && apiErr.Code == codeOrderDoesNotExist {
			return domain.OrderState{ID: orderID, Status: domain.OrderClosed}, nil
		}
		return domain.OrderState{}, errors.Wrap(err, "failed to query order")
	}
	return orderState(order)
}

func orderState(order *binance.Order) (domain.OrderState, error) {
	price, err := decimal.NewFromString(order.Price)
	if err != nil {
		return domain.OrderState{}, errors.Wrapf(err, "bad order price %q", order.Price)
	}
	orig, err := decimal.NewFromString(order.OrigQuantity)
	if err != nil {
		return domain.OrderState{}, errors.Wrapf(err, "bad original quantity %q", order.OrigQuantity)
	}
	executed, err := decimal.NewFromString(order.ExecutedQuantity)
	if err != nil {
		return domain.OrderState{}, errors.Wrapf(err, "bad executed quantity %q", order.ExecutedQuantity)
	}

	side := domain.Buy
	if order.Side == binance.SideTypeSell {
		side = domain.Sell
	}

	status := domain.OrderOpen
	switch order.Status {
	case binance.OrderStatusTypeFilled, binance.OrderStatusTypeCanceled,
		binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		status = domain.OrderClosed
	case binance.OrderStatusTypePartiallyFilled:
		status = domain.OrderPartiallyFilled
	}

	return domain.OrderState{
		ID:     strconv.FormatInt(order.OrderID, 10),
		Side:   side,
		Price:  price,
		Amount: orig.Sub(executed),
		Status: status,
	}, nil
}

func (g *Gateway) PlaceOrder(ctx context.Context, pair domain.Pair, side domain.Side, price, amount decimal.Decimal) (string, error) {
	sideType := binance.SideTypeBuy
	if side == domain.Sell {
		sideType = binance.SideTypeSell
	}

	res, err := g.client.NewCreateOrderService().
		Symbol(pair.Symbol()).
		Side(sideType).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Price(price.StringFixed(g.cfg.PricePrecision)).
		Quantity(amount.StringFixed(g.cfg.AmountPrecision)).
		Do(ctx)
	if err != nil {
		if apiErr, ok := err.(*common.APIError); ok {
			code := strconv.FormatInt(apiErr.Code, 10)
			if apiErr.Code == codeInsufficientBalance {
				code = gateway.RejectInsufficientBalance
			}
			return "", &gateway.OrderRejected{Code: code, Message: apiErr.Message}
		}
		return "", errors.Wrap(err, "failed to place order")
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

func (g *Gateway) CancelOrder(ctx context.Context, pair domain.Pair, orderID string) (bool, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return false, errors.Wrapf(err, "bad order id %q", orderID)
	}

	_, err = g.client.NewCancelOrderService().Symbol(pair.Symbol()).OrderID(id).Do(ctx)
	if err != nil {
		if apiErr, ok := err.(*common.APIError); ok &&
			(apiErr.Code == codeUnknownOrder || apiErr.Code == codeOrderDoesNotExist) {
			g.logger.Info("order could not be cancelled, probably already closed",
				zap.String("order_id", orderID))
			return false, nil
		}
		return false, errors.Wrap(err, "failed to cancel order")
	}
	return true, nil
}

func (g *Gateway) OpenOrders(ctx context.Context, pair domain.Pair) ([]domain.OrderState, error) {
	list, err := g.client.NewListOpenOrdersService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list open orders")
	}

	orders := make([]domain.OrderState, 0, len(list))
	for _, o := range list {
		state, err := orderState(o)
		if err != nil {
			return nil, err
		}
		orders = append(orders, state)
	}
	return orders, nil
}

// LastResponse: the SDK does not expose raw bodies; error messages carry the
// decoded venue payload instead.
func (g *Gateway) LastResponse() []byte { return nil }

func (g *Gateway) Close() error { return nil }
