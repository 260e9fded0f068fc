// Package bitfinex adapts a Bitfinex-style REST venue (signed POST bodies,
// HMAC-SHA384 headers) to the normalized gateway contract.
package bitfinex

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/quoter/internal/domain"
	"github.com/vadiminshakov/quoter/internal/gateway"
	"github.com/vadiminshakov/quoter/internal/transport/rest"
)

type Config struct {
	BaseURL         string
	AccessKey       string
	SecretKey       string
	NonceOffset     int64
	ProxyURL        string
	DepthLimit      int // levels requested per book side
	MinDepthLevels  int // below this the snapshot is unusable
	PricePrecision  int32
	AmountPrecision int32
}

type Gateway struct {
	cfg    Config
	client *rest.Client
	logger *zap.Logger
}

var _ gateway.Gateway = (*Gateway)(nil)

func New(cfg Config, logger *zap.Logger) (*Gateway, error) {
	if cfg.DepthLimit <= 0 {
		cfg.DepthLimit = 15
	}
	if cfg.MinDepthLevels <= 0 {
		cfg.MinDepthLevels = 3
	}

	signer, err := rest.NewSigner(cfg.SecretKey, rest.DigestSHA384)
	if err != nil {
		return nil, err
	}

	client, err := rest.NewClient(rest.Config{
		BaseURL:     cfg.BaseURL,
		KeyHeader:   "X-BFX-APIKEY",
		PayloadHdr:  "X-BFX-PAYLOAD",
		SigHeader:   "X-BFX-SIGNATURE",
		Attempts:    6,
		RetryDelay:  time.Second,
		RetryFactor: 1,
		ProxyURL:    cfg.ProxyURL,
	}, cfg.AccessKey, signer, rest.NewNonceSource(cfg.NonceOffset), isBusinessBody,
		logger.With(zap.String("venue", "bitfinex")))
	if err != nil {
		return nil, err
	}

	return &Gateway{cfg: cfg, client: client, logger: logger}, nil
}

// isBusinessBody: the venue reports business rejections as HTTP 400 with a
// {"message": ...} envelope.
func isBusinessBody(_ int, body []byte) bool {
	var env errorEnvelope
	return json.Unmarshal(body, &env) == nil && env.Message != ""
}

func (g *Gateway) Name() string { return "bitfinex" }

func (g *Gateway) symbol(pair domain.Pair) string {
	return strings.ToLower(pair.Base + pair.Quote)
}

func (g *Gateway) MarketDepth(ctx context.Context, pair domain.Pair) (domain.MarketDepth, error) {
	path := fmt.Sprintf("/v1/book/%s?limit_bids=%d&limit_asks=%d", g.symbol(pair), g.cfg.DepthLimit, g.cfg.DepthLimit)
	body, err := g.client.Get(ctx, path)
	if err != nil {
		return domain.MarketDepth{}, err
	}

	var book bookResponse
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.MarketDepth{}, errors.Wrapf(err, "failed to decode order book, payload=%s", body)
	}

	depth := domain.MarketDepth{
		Bids: make([]domain.Level, 0, len(book.Bids)),
		Asks: make([]domain.Level, 0, len(book.Asks)),
	}
	for _, b := range book.Bids {
		lvl, err := decodeLevel(b)
		if err != nil {
			return domain.MarketDepth{}, err
		}
		depth.Bids = append(depth.Bids, lvl)
	}
	for _, a := range book.Asks {
		lvl, err := decodeLevel(a)
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

func decodeLevel(e bookEntry) (domain.Level, error) {
	price, err := decimal.NewFromString(e.Price)
	if err != nil {
		return domain.Level{}, errors.Wrapf(err, "bad level price %q", e.Price)
	}
	amount, err := decimal.NewFromString(e.Amount)
	if err != nil {
		return domain.Level{}, errors.Wrapf(err, "bad level amount %q", e.Amount)
	}
	return domain.Level{Price: price, Amount: amount}, nil
}

func (g *Gateway) Balances(ctx context.Context) (domain.Balances, error) {
	body, err := g.client.Call(ctx, "/v1/balances", nil)
	if err != nil {
		return nil, err
	}
	if err := businessErr(body); err != nil {
		return nil, err
	}

	var entries []balanceEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, errors.Wrapf(err, "failed to decode balances, payload=%s", body)
	}

	balances := make(domain.Balances, 0, len(entries))
	for _, e := range entries {
		if e.Type != "exchange" {
			continue
		}
		total, err := decimal.NewFromString(e.Amount)
		if err != nil {
			return nil, errors.Wrapf(err, "bad balance amount %q", e.Amount)
		}
		available, err := decimal.NewFromString(e.Available)
		if err != nil {
			return nil, errors.Wrapf(err, "bad balance available %q", e.Available)
		}
		balances = append(balances, domain.Balance{
			Asset:     strings.ToUpper(e.Currency),
			Total:     total,
			Available: available,
		})
	}
	return balances, nil
}

func (g *Gateway) RecentTrades(ctx context.Context, pair domain.Pair, limit int) ([]domain.PublicTrade, error) {
	body, err := g.client.Get(ctx, fmt.Sprintf("/v1/trades/%s?limit_trades=%d", g.symbol(pair), limit))
	if err != nil {
		return nil, err
	}

	var entries []tradeEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, errors.Wrapf(err, "failed to decode trades, payload=%s", body)
	}

	trades := make([]domain.PublicTrade, 0, len(entries))
	for _, e := range entries {
		price, err := decimal.NewFromString(e.Price)
		if err != nil {
			return nil, errors.Wrapf(err, "bad trade price %q", e.Price)
		}
		amount, err := decimal.NewFromString(e.Amount)
		if err != nil {
			return nil, errors.Wrapf(err, "bad trade amount %q", e.Amount)
		}
		trades = append(trades, domain.PublicTrade{
			Price:  price,
			Amount: amount,
			Time:   time.Unix(e.Timestamp, 0),
		})
	}
	return trades, nil
}

func (g *Gateway) OrderStatus(ctx context.Context, _ domain.Pair, orderID string) (domain.OrderState, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return domain.OrderState{}, errors.Wrapf(err, "bad order id %q", orderID)
	}

	body, err := g.client.Call(ctx, "/v1/order/status", map[string]any{"order_id": id})
	if err != nil {
		return domain.OrderState{}, err
	}
	if err := businessErr(body); err != nil {
		return domain.OrderState{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderState{}, errors.Wrapf(err, "failed to decode order status, payload=%s", body)
	}
	return g.orderState(resp)
}

func (g *Gateway) orderState(resp orderResponse) (domain.OrderState, error) {
	remaining, err := decimal.NewFromString(resp.RemainingAmount)
	if err != nil {
		return domain.OrderState{}, errors.Wrapf(err, "bad remaining amount %q", resp.RemainingAmount)
	}
	original, err := decimal.NewFromString(resp.OriginalAmount)
	if err != nil {
		return domain.OrderState{}, errors.Wrapf(err, "bad original amount %q", resp.OriginalAmount)
	}

	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return domain.OrderState{}, errors.Wrapf(err, "bad order price %q", resp.Price)
	}
	// Filled orders report the realized price, better than the quoted one.
	if resp.AvgExecPrice != "" {
		if avg, err := decimal.NewFromString(resp.AvgExecPrice); err == nil && avg.IsPositive() {
			price = avg
		}
	}

	side := domain.Buy
	if strings.EqualFold(resp.Side, "sell") {
		side = domain.Sell
	}

	status := domain.OrderOpen
	switch {
	case resp.IsCancelled || !resp.IsLive:
		status = domain.OrderClosed
	case remaining.LessThan(original):
		status = domain.OrderPartiallyFilled
	}

	return domain.OrderState{
		ID:     strconv.FormatInt(resp.ID, 10),
		Side:   side,
		Price:  price,
		Amount: remaining,
		Status: status,
	}, nil
}

func (g *Gateway) PlaceOrder(ctx context.Context, pair domain.Pair, side domain.Side, price, amount decimal.Decimal) (string, error) {
	body, err := g.client.Call(ctx, "/v1/order/new", map[string]any{
		"symbol":   g.symbol(pair),
		"amount":   amount.StringFixed(g.cfg.AmountPrecision),
		"price":    price.StringFixed(g.cfg.PricePrecision),
		"exchange": "bitfinex",
		"side":     strings.ToLower(string(side)),
		"type":     "exchange limit",
	})
	if err != nil {
		return "", err
	}
	if err := businessErr(body); err != nil {
		return "", err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.Wrapf(err, "failed to decode placed order, payload=%s", body)
	}
	return strconv.FormatInt(resp.ID, 10), nil
}

func (g *Gateway) CancelOrder(ctx context.Context, _ domain.Pair, orderID string) (bool, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return false, errors.Wrapf(err, "bad order id %q", orderID)
	}

	body, err := g.client.Call(ctx, "/v1/order/cancel", map[string]any{"order_id": id})
	if err != nil {
		return false, err
	}

	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Message != "" {
		if strings.Contains(env.Message, "could not be cancelled") {
			// Benign: the order closed on its own before the cancel landed.
			g.logger.Info("order could not be cancelled, probably already closed",
				zap.String("order_id", orderID))
			return false, nil
		}
		return false, &gateway.OrderRejected{Code: "cancel_failed", Message: env.Message}
	}
	return true, nil
}

func (g *Gateway) OpenOrders(ctx context.Context, _ domain.Pair) ([]domain.OrderState, error) {
	body, err := g.client.Call(ctx, "/v1/orders", nil)
	if err != nil {
		return nil, err
	}
	if err := businessErr(body); err != nil {
		return nil, err
	}

	var entries []orderResponse
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, errors.Wrapf(err, "failed to decode open orders, payload=%s", body)
	}

	orders := make([]domain.OrderState, 0, len(entries))
	for _, e := range entries {
		state, err := g.orderState(e)
		if err != nil {
			return nil, err
		}
		orders = append(orders, state)
	}
	return orders, nil
}

func (g *Gateway) LastResponse() []byte { return g.client.LastResponse() }

func (g *Gateway) Close() error { return nil }

// businessErr converts an error envelope body to a typed rejection.
func businessErr(body []byte) error {
	var env errorEnvelope
	if json.Unmarshal(body, &env) != nil || env.Message == "" {
		return nil
	}
	code := "rejected"
	if strings.Contains(env.Message, "not enough") && strings.Contains(env.Message, "balance") {
		code = gateway.RejectInsufficientBalance
	}
	return &gateway.OrderRejected{Code: code, Message: env.Message}
}
