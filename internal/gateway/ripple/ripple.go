// Package ripple adapts a Ripple-style venue to the gateway contract. All
// account and trading traffic runs over one correlated socket channel; signed
// actions carry the account secret inside the command envelope.
package ripple

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/quoter/internal/domain"
	"github.com/vadiminshakov/quoter/internal/gateway"
	"github.com/vadiminshakov/quoter/internal/transport/socket"
)

const (
	submitAttempts   = 10
	submitRetryDelay = 2 * time.Second
	nativeAsset      = "XRP"
)

type Config struct {
	SocketURL      string
	WalletAddress  string // doubles as the access key
	SecretKey      string
	IssuerAddress  string // gateway the fiat asset is held against
	DepthLimit     int
	MinDepthLevels int
}

type Gateway struct {
	cfg     Config
	channel *socket.Channel
	logger  *zap.Logger
	reqID   atomic.Int64
}

var _ gateway.Gateway = (*Gateway)(nil)

// New dials the venue socket; it blocks until the handshake completes.
func New(cfg Config, logger *zap.Logger) (*Gateway, error) {
	if cfg.DepthLimit <= 0 {
		cfg.DepthLimit = 15
	}
	if cfg.MinDepthLevels <= 0 {
		cfg.MinDepthLevels = 3
	}

	channel, err := socket.Dial(socket.Config{URL: cfg.SocketURL}, logger.With(zap.String("venue", "ripple")))
	if err != nil {
		return nil, err
	}
	return &Gateway{cfg: cfg, channel: channel, logger: logger}, nil
}

func (g *Gateway) Name() string { return "ripple" }

// command sends one envelope and decodes the reply wrapper. Critical venue
// errors surface as *OrderRejected; non-critical ones as plain errors the
// caller may retry.
func (g *Gateway) command(ctx context.Context, name string, params map[string]any) (*envelope, error) {
	req := make(map[string]any, len(params)+2)
	for k, v := range params {
		req[k] = v
	}
	req["id"] = g.reqID.Add(1)
	req["command"] = name

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal command")
	}

	reply, err := g.channel.Send(ctx, payload)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(reply, &env); err != nil {
		return nil, errors.Wrapf(err, "failed to decode reply, payload=%s", reply)
	}
	if env.failed() {
		if env.critical() {
			return nil, &gateway.OrderRejected{Code: env.ErrorCode, Message: env.ErrorMessage}
		}
		return nil, errors.Errorf("venue reported non-critical error %s: %s", env.ErrorCode, env.ErrorMessage)
	}
	return &env, nil
}

func (g *Gateway) MarketDepth(ctx context.Context, pair domain.Pair) (domain.MarketDepth, error) {
	fiat := map[string]any{"currency": pair.Quote, "issuer": g.cfg.IssuerAddress}
	native := map[string]any{"currency": nativeAsset}

	// Bids: offers paying native asset, giving fiat.
	bids, err := g.bookSide(ctx, fiat, native, true)
	if err != nil {
		return domain.MarketDepth{}, err
	}
	// Asks: the mirror side.
	asks, err := g.bookSide(ctx, native, fiat, false)
	if err != nil {
		return domain.MarketDepth{}, err
	}

	if len(bids) < g.cfg.MinDepthLevels || len(asks) < g.cfg.MinDepthLevels {
		return domain.MarketDepth{}, errors.Wrapf(gateway.ErrThinBook, "%d bids, %d asks, need %d per side",
			len(bids), len(asks), g.cfg.MinDepthLevels)
	}
	return domain.MarketDepth{Bids: bids, Asks: asks}, nil
}

func (g *Gateway) bookSide(ctx context.Context, takerGets, takerPays map[string]any, bids bool) ([]domain.Level, error) {
	env, err := g.command(ctx, "book_offers", map[string]any{
		"taker_gets": takerGets,
		"taker_pays": takerPays,
		"limit":      g.cfg.DepthLimit,
	})
	if err != nil {
		return nil, err
	}

	var result bookResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, errors.Wrapf(err, "failed to decode book side, payload=%s", env.Result)
	}

	levels := make([]domain.Level, 0, len(result.Offers))
	for _, offer := range result.Offers {
		lvl, err := offerLevel(offer, bids)
		if err != nil {
			return nil, err
		}
		levels = append(levels, lvl)
	}
	if len(levels) > g.cfg.DepthLimit {
		levels = levels[:g.cfg.DepthLimit]
	}
	return levels, nil
}

// offerLevel normalizes one resting offer to {price in fiat, amount in native}.
func offerLevel(offer bookOffer, bid bool) (domain.Level, error) {
	fiat, native := offer.TakerGets, offer.TakerPays
	if !bid {
		fiat, native = offer.TakerPays, offer.TakerGets
	}
	if native.value.IsZero() {
		return domain.Level{}, errors.New("offer with zero native amount")
	}
	return domain.Level{
		Price:  fiat.value.Div(native.value),
		Amount: native.value,
	}, nil
}

func (g *Gateway) Balances(ctx context.Context) (domain.Balances, error) {
	env, err := g.command(ctx, "account_info", map[string]any{"account": g.cfg.WalletAddress})
	if err != nil {
		return nil, err
	}
	var info accountInfoResult
	if err := json.Unmarshal(env.Result, &info); err != nil {
		return nil, errors.Wrapf(err, "failed to decode account info, payload=%s", env.Result)
	}
	drops, err := decimal.NewFromString(info.AccountData.Balance)
	if err != nil {
		return nil, errors.Wrapf(err, "bad native balance %q", info.AccountData.Balance)
	}
	native := drops.Div(dropsPerXRP)

	balances := domain.Balances{
		{Asset: nativeAsset, Total: native, Available: native},
	}

	env, err = g.command(ctx, "account_lines", map[string]any{"account": g.cfg.WalletAddress})
	if err != nil {
		return nil, err
	}
	var lines accountLinesResult
	if err := json.Unmarshal(env.Result, &lines); err != nil {
		return nil, errors.Wrapf(err, "failed to decode account lines, payload=%s", env.Result)
	}
	for _, line := range lines.Lines {
		value, err := decimal.NewFromString(line.Balance)
		if err != nil {
			return nil, errors.Wrapf(err, "bad line balance %q", line.Balance)
		}
		balances = append(balances, domain.Balance{
			Asset:     line.Currency,
			Issuer:    line.Account,
			Total:     value,
			Available: value,
		})
	}
	return balances, nil
}

// RecentTrades: the venue exposes no trade feed on the account socket.
// Returns an empty list rather than an error; the activity coefficient
// degrades to 0 and strategies fall back to their calm-market defaults.
func (g *Gateway) RecentTrades(_ context.Context, _ domain.Pair, _ int) ([]domain.PublicTrade, error) {
	return nil, nil
}

func (g *Gateway) OrderStatus(ctx context.Context, _ domain.Pair, orderID string) (domain.OrderState, error) {
	seq, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return domain.OrderState{}, errors.Wrapf(err, "bad order id %q", orderID)
	}

	offers, err := g.accountOffers(ctx)
	if err != nil {
		return domain.OrderState{}, err
	}

	for _, offer := range offers {
		if offer.Seq != seq {
			continue
		}
		return offerState(offer), nil
	}

	// Missing from the open-offer listing: filled or cancelled, the venue does
	// not say which. Reported as closed, resolved upstream by balance delta.
	return domain.OrderState{ID: orderID, Status: domain.OrderClosed}, nil
}

func (g *Gateway) accountOffers(ctx context.Context) ([]accountOffer, error) {
	env, err := g.command(ctx, "account_offers", map[string]any{"account": g.cfg.WalletAddress})
	if err != nil {
		return nil, err
	}
	var result accountOffersResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, errors.Wrapf(err, "failed to decode account offers, payload=%s", env.Result)
	}
	return result.Offers, nil
}

func offerState(offer accountOffer) domain.OrderState {
	// A sell offer gives the native asset away; a buy offer acquires it.
	side := domain.Buy
	fiat, native := offer.TakerGets, offer.TakerPays
	if offer.TakerGets.native {
		side = domain.Sell
		fiat, native = offer.TakerPays, offer.TakerGets
	}

	price := decimal.Zero
	if !native.value.IsZero() {
		price = fiat.value.Div(native.value)
	}
	return domain.OrderState{
		ID:     strconv.FormatInt(offer.Seq, 10),
		Side:   side,
		Price:  price,
		Amount: native.value,
		Status: domain.OrderOpen,
	}
}

func (g *Gateway) PlaceOrder(ctx context.Context, pair domain.Pair, side domain.Side, price, amount decimal.Decimal) (string, error) {
	fiatValue := price.Mul(amount)
	drops := amount.Mul(dropsPerXRP).Round(0).String()
	fiatAmount := map[string]any{
		"currency": pair.Quote,
		"issuer":   g.cfg.IssuerAddress,
		"value":    fiatValue.StringFixed(5),
	}

	txJSON := map[string]any{
		"TransactionType": "OfferCreate",
		"Account":         g.cfg.WalletAddress,
	}
	if side == domain.Buy {
		txJSON["TakerGets"] = fiatAmount
		txJSON["TakerPays"] = drops
	} else {
		txJSON["TakerGets"] = drops
		txJSON["TakerPays"] = fiatAmount
	}

	return g.submit(ctx, txJSON)
}

// submit pushes a signed transaction, retrying non-critical venue errors with
// a doubling delay. The venue sometimes queues a transaction while reporting a
// soft failure, so attempts are generous and delays grow.
func (g *Gateway) submit(ctx context.Context, txJSON map[string]any) (string, error) {
	delay := submitRetryDelay
	var lastErr error

	for attempt := 1; attempt <= submitAttempts; attempt++ {
		env, err := g.command(ctx, "submit", map[string]any{
			"tx_json": txJSON,
			"secret":  g.cfg.SecretKey,
		})
		if err != nil {
			var rejected *gateway.OrderRejected
			if errors.As(err, &rejected) {
				return "", err
			}
			lastErr = err
		} else {
			var result submitResult
			if err := json.Unmarshal(env.Result, &result); err != nil {
				return "", errors.Wrapf(err, "failed to decode submit result, payload=%s", env.Result)
			}
			if result.ok() {
				return strconv.FormatInt(result.TxJSON.Sequence, 10), nil
			}
			if !result.retryable() {
				return "", &gateway.OrderRejected{
					Code:    rejectCode(result.EngineResult),
					Message: result.EngineResultMessage,
				}
			}
			lastErr = errors.Errorf("engine result %s: %s", result.EngineResult, result.EngineResultMessage)
		}

		g.logger.Warn("submit attempt failed",
			zap.Int("attempt", attempt), zap.Int("max_attempts", submitAttempts),
			zap.Duration("retry_in", delay), zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return "", errors.Wrapf(lastErr, "submit failed %d times in a row", submitAttempts)
}

func rejectCode(engineResult string) string {
	if strings.Contains(engineResult, "UNFUNDED") {
		return gateway.RejectInsufficientBalance
	}
	return engineResult
}

func (g *Gateway) CancelOrder(ctx context.Context, _ domain.Pair, orderID string) (bool, error) {
	seq, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return false, errors.Wrapf(err, "bad order id %q", orderID)
	}

	env, err := g.command(ctx, "submit", map[string]any{
		"tx_json": map[string]any{
			"TransactionType": "OfferCancel",
			"Account":         g.cfg.WalletAddress,
			"OfferSequence":   seq,
		},
		"secret": g.cfg.SecretKey,
	})
	if err != nil {
		var rejected *gateway.OrderRejected
		if errors.As(err, &rejected) {
			return false, err
		}
		// Socket trouble: report not-cancelled, the next tick reconciles.
		g.logger.Warn("cancel did not go through", zap.String("order_id", orderID), zap.Error(err))
		return false, nil
	}

	var result submitResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return false, errors.Wrapf(err, "failed to decode cancel result, payload=%s", env.Result)
	}
	if !result.ok() {
		// An OfferCancel of an already-consumed offer fails softly.
		g.logger.Info("cancel rejected by engine, order probably already closed",
			zap.String("order_id", orderID), zap.String("engine_result", result.EngineResult))
		return false, nil
	}
	return true, nil
}

func (g *Gateway) OpenOrders(ctx context.Context, _ domain.Pair) ([]domain.OrderState, error) {
	offers, err := g.accountOffers(ctx)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.OrderState, 0, len(offers))
	for _, offer := range offers {
		orders = append(orders, offerState(offer))
	}
	return orders, nil
}

func (g *Gateway) LastResponse() []byte { return g.channel.LastResponse() }

func (g *Gateway) Close() error { return g.channel.Close() }
