// Package bybit adapts the exchange through the hirokisan V5 SDK client.
package bybit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/quoter/internal/domain"
	"github.com/vadiminshakov/quoter/internal/gateway"
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
	client *bybit.Client
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
	client := bybit.NewClient().WithAuth(cfg.AccessKey, cfg.SecretKey)
	return &Gateway{cfg: cfg, client: client, logger: logger}
}

func (g *Gateway) Name() string { return "bybit" }

func (g *Gateway) MarketDepth(ctx context.Context, pair domain.Pair) (domain.MarketDepth, error) {
	limit := g.cfg.DepthLimit
	res, err := g.client.V5().Market().GetOrderbook(bybit.V5GetOrderbookParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(pair.Symbol()),
		Limit:    &limit,
	})
	if err != nil {
		return domain.MarketDepth{}, errors.Wrap(err, "failed to fetch orderbook")
	}

	depth := domain.MarketDepth{
		Bids: make([]domain.Level, 0, len(res.Result.Bids)),
		Asks: make([]domain.Level, 0, len(res.Result.Asks)),
	}
	for _, b := range res.Result.Bids {
		lvl, err := level(b.Price, b.Quantity)
		if err != nil {
			return domain.MarketDepth{}, err
		}
		depth.Bids = append(depth.Bids, lvl)
	}
	for _, a := range res.Result.Asks {
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
	res, err := g.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5("UNIFIED"), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch wallet balance")
	}
	if len(res.Result.List) == 0 {
		return domain.Balances{}, nil
	}

	account := res.Result.List[0]
	balances := make(domain.Balances, 0, len(account.Coin))
	for _, coin := range account.Coin {
		total, err := decimal.NewFromString(coin.WalletBalance)
		if err != nil {
			return nil, errors.Wrapf(err, "bad wallet balance %q", coin.WalletBalance)
		}
		locked := decimal.Zero
		if coin.Locked != "" {
			locked, err = decimal.NewFromString(coin.Locked)
			if err != nil {
				return nil, errors.Wrapf(err, "bad locked balance %q", coin.Locked)
			}
		}
		balances = append(balances, domain.Balance{
			Asset:     string(coin.Coin),
			Total:     total,
			Available: total.Sub(locked),
		})
	}
	return balances, nil
}

func (g *Gateway) RecentTrades(ctx context.Context, pair domain.Pair, limit int) ([]domain.PublicTrade, error) {
	symbol := bybit.SymbolV5(pair.Symbol())
	res, err := g.client.V5().Market().GetPublicTradingHistory(bybit.V5GetPublicTradingHistoryParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   symbol,
		Limit:    &limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch trading history")
	}

	trades := make([]domain.PublicTrade, 0, len(res.Result.List))
	for _, t := range res.Result.List {
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return nil, errors.Wrapf(err, "bad trade price %q", t.Price)
		}
		size, err := decimal.NewFromString(t.Size)
		if err != nil {
			return nil, errors.Wrapf(err, "bad trade size %q", t.Size)
		}
		ms, err := strconv.ParseInt(t.Time, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "bad trade time %q", t.Time)
		}
		trades = append(trades, domain.PublicTrade{
			Price:  price,
			Amount: size,
			Time:   time.UnixMilli(ms),
		})
	}
	return trades, nil
}

func (g *Gateway) OrderStatus(ctx context.Context, pair domain.Pair, orderID string) (domain.OrderState, error) {
	symbol := bybit.SymbolV5(pair.Symbol())
	res, err := g.client.V5().Order().GetOpenOrders(bybit.V5GetOpenOrdersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &symbol,
		OrderID:  &orderID,
	})
	if err != nil {
		return domain.OrderState{}, errors.Wrap(err, "failed to query order")
	}
	// The realtime query stops returning an order once it leaves the book.
	if len(res.Result.List) == 0 {
		return domain.OrderState{ID: orderID, Status: domain.OrderClosed}, nil
	}
	return orderState(res.Result.List[0])
}

func orderState(order bybit.V5GetOrder) (domain.OrderState, error) {
	price, err := decimal.NewFromString(order.Price)
	if err != nil {
		return domain.OrderState{}, errors.Wrapf(err, "bad order price %q", order.Price)
	}
	leaves, err := decimal.NewFromString(order.LeavesQty)
	if err != nil {
		return domain.OrderState{}, errors.Wrapf(err, "bad leaves quantity %q", order.LeavesQty)
	}

	side := domain.Buy
	if order.Side == bybit.SideSell {
		side = domain.Sell
	}

	status := domain.OrderOpen
	switch order.OrderStatus {
	case bybit.OrderStatusFilled, bybit.OrderStatusCancelled,
		bybit.OrderStatusRejected, bybit.OrderStatusDeactivated:
		status = domain.OrderClosed
	case bybit.OrderStatusPartiallyFilled:
		status = domain.OrderPartiallyFilled
	}

	return domain.OrderState{
		ID:     order.OrderID,
		Side:   side,
		Price:  price,
		Amount: leaves,
		Status: status,
	}, nil
}

func (g *Gateway) PlaceOrder(ctx context.Context, pair domain.Pair, side domain.Side, price, amount decimal.Decimal) (string, error) {
	sideV5 := bybit.SideBuy
	if side == domain.Sell {
		sideV5 = bybit.SideSell
	}
	priceStr := price.StringFixed(g.cfg.PricePrecision)

	res, err := g.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:  bybit.CategoryV5Spot,
		Symbol:    bybit.SymbolV5(pair.Symbol()),
		Side:      sideV5,
		OrderType: bybit.OrderTypeLimit,
		Qty:       amount.StringFixed(g.cfg.AmountPrecision),
		Price:     &priceStr,
	})
	if err != nil {
		if insufficientBalance(err) {
			return "", &gateway.OrderRejected{Code: gateway.RejectInsufficientBalance, Message: err.Error()}
		}
		return "", errors.Wrap(err, "failed to place order")
	}
	return res.Result.OrderID, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, pair domain.Pair, orderID string) (bool, error) {
	_, err := g.client.V5().Order().CancelOrder(bybit.V5CancelOrderParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(pair.Symbol()),
		OrderID:  &orderID,
	})
	if err != nil {
		if orderGone(err) {
			g.logger.Info("order could not be cancelled, probably already closed",
				zap.String("order_id", orderID))
			return false, nil
		}
		return false, errors.Wrap(err, "failed to cancel order")
	}
	return true, nil
}

func (g *Gateway) OpenOrders(ctx context.Context, pair domain.Pair) ([]domain.OrderState, error) {
	symbol := bybit.SymbolV5(pair.Symbol())
	res, err := g.client.V5().Order().GetOpenOrders(bybit.V5GetOpenOrdersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &symbol,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list open orders")
	}

	orders := make([]domain.OrderState, 0, len(res.Result.List))
	for _, o := range res.Result.List {
		if o.OrderStatus != bybit.OrderStatusNew && o.OrderStatus != bybit.OrderStatusPartiallyFilled {
			continue
		}
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

// Venue error codes 110001 and 170213 both mean the order already left the
// book by the time the cancel arrived.
func orderGone(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "order not exist") ||
		strings.Contains(msg, "order does not exist") ||
		strings.Contains(msg, "too late to cancel") ||
		strings.Contains(msg, "110001") ||
		strings.Contains(msg, "170213")
}

func insufficientBalance(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "insufficient") ||
		strings.Contains(msg, "170131") ||
		strings.Contains(msg, "110007")
}
