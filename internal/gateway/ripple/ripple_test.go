package ripple

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/quoter/internal/domain"
	"github.com/vadiminshakov/quoter/internal/gateway"
)

var testPair = domain.Pair{Base: "XRP", Quote: "USD"}

// scriptedVenue answers each command envelope through handle; the reply gets
// the request id stamped on so the channel correlation holds.
func scriptedVenue(t *testing.T, handle func(command string, req map[string]any) map[string]any) *Gateway {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req map[string]any
			if err := json.Unmarshal(msg, &req); err != nil {
				return
			}

			reply := handle(req["command"].(string), req)
			reply["id"] = req["id"]
			raw, err := json.Marshal(reply)
			if err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	gw, err := New(Config{
		SocketURL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		WalletAddress: "rWALLET",
		SecretKey:     "sSECRET",
		IssuerAddress: "rISSUER",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func issued(value string) map[string]any {
	return map[string]any{"currency": "USD", "issuer": "rISSUER", "value": value}
}

func TestMarketDepthNormalizesBothSides(t *testing.T) {
	gw := scriptedVenue(t, func(command string, req map[string]any) map[string]any {
		require.Equal(t, "book_offers", command)

		gets := req["taker_gets"].(map[string]any)
		if gets["currency"] == "USD" {
			// Bid side: offers giving fiat for native.
			return map[string]any{"status": "success", "result": map[string]any{
				"offers": []map[string]any{
					{"TakerGets": issued("10.00"), "TakerPays": "1000000"},
					{"TakerGets": issued("49.95"), "TakerPays": "5000000"},
					{"TakerGets": issued("1.98"), "TakerPays": "200000"},
				},
			}}
		}
		return map[string]any{"status": "success", "result": map[string]any{
			"offers": []map[string]any{
				{"TakerGets": "2000000", "TakerPays": issued("20.10")},
				{"TakerGets": "1000000", "TakerPays": issued("10.10")},
				{"TakerGets": "3000000", "TakerPays": issued("30.60")},
			},
		}}
	})

	depth, err := gw.MarketDepth(context.Background(), testPair)
	require.NoError(t, err)
	require.Len(t, depth.Bids, 3)
	require.Len(t, depth.Asks, 3)

	require.True(t, depth.Bids[0].Price.Equal(decimal.RequireFromString("10")))
	require.True(t, depth.Bids[0].Amount.Equal(decimal.NewFromInt(1)))
	require.True(t, depth.Bids[1].Price.Equal(decimal.RequireFromString("9.99")))
	require.True(t, depth.Asks[0].Price.Equal(decimal.RequireFromString("10.05")))
	require.True(t, depth.Asks[0].Amount.Equal(decimal.NewFromInt(2)))
}

func TestMarketDepthRejectsThinBook(t *testing.T) {
	gw := scriptedVenue(t, func(command string, req map[string]any) map[string]any {
		return map[string]any{"status": "success", "result": map[string]any{
			"offers": []map[string]any{{"TakerGets": issued("10.00"), "TakerPays": "1000000"}},
		}}
	})

	_, err := gw.MarketDepth(context.Background(), testPair)
	require.ErrorIs(t, err, gateway.ErrThinBook)
}

func TestBalancesCombineNativeAndIssued(t *testing.T) {
	gw := scriptedVenue(t, func(command string, req map[string]any) map[string]any {
		switch command {
		case "account_info":
			require.Equal(t, "rWALLET", req["account"])
			return map[string]any{"status": "success", "result": map[string]any{
				"account_data": map[string]any{"Balance": "25000000"},
			}}
		case "account_lines":
			return map[string]any{"status": "success", "result": map[string]any{
				"lines": []map[string]any{
					{"currency": "USD", "account": "rISSUER", "balance": "100.5"},
				},
			}}
		default:
			t.Fatalf("unexpected command %s", command)
			return nil
		}
	})

	balances, err := gw.Balances(context.Background())
	require.NoError(t, err)

	native := balances.Get("XRP")
	require.True(t, native.Total.Equal(decimal.NewFromInt(25)))

	fiat := balances.GetIssued("USD", "rISSUER")
	require.True(t, fiat.Total.Equal(decimal.RequireFromString("100.5")))
}

func TestOrderStatusMissingOfferIsClosed(t *testing.T) {
	gw := scriptedVenue(t, func(command string, req map[string]any) map[string]any {
		require.Equal(t, "account_offers", command)
		return map[string]any{"status": "success", "result": map[string]any{"offers": []any{}}}
	})

	state, err := gw.OrderStatus(context.Background(), testPair, "42")
	require.NoError(t, err)
	require.True(t, state.Closed())
}

func TestOrderStatusMapsOpenOffer(t *testing.T) {
	gw := scriptedVenue(t, func(command string, req map[string]any) map[string]any {
		return map[string]any{"status": "success", "result": map[string]any{
			"offers": []map[string]any{
				{"seq": 42, "taker_gets": issued("10.00"), "taker_pays": "1000000"},
			},
		}}
	})

	state, err := gw.OrderStatus(context.Background(), testPair, "42")
	require.NoError(t, err)
	require.Equal(t, domain.OrderOpen, state.Status)
	require.Equal(t, domain.Buy, state.Side)
	require.True(t, state.Price.Equal(decimal.NewFromInt(10)))
	require.True(t, state.Amount.Equal(decimal.NewFromInt(1)))
}

func TestPlaceOrderSubmitsOfferCreate(t *testing.T) {
	gw := scriptedVenue(t, func(command string, req map[string]any) map[string]any {
		require.Equal(t, "submit", command)
		require.Equal(t, "sSECRET", req["secret"])

		tx := req["tx_json"].(map[string]any)
		require.Equal(t, "OfferCreate", tx["TransactionType"])
		require.Equal(t, "rWALLET", tx["Account"])
		gets := tx["TakerGets"].(map[string]any)
		require.Equal(t, "9.99100", gets["value"])
		require.Equal(t, "1000000", tx["TakerPays"])

		return map[string]any{"status": "success", "result": map[string]any{
			"engine_result": "tesSUCCESS",
			"tx_json":       map[string]any{"Sequence": 42},
		}}
	})

	id, err := gw.PlaceOrder(context.Background(), testPair, domain.Buy,
		decimal.RequireFromString("9.991"), decimal.NewFromInt(1))
	require.NoError(t, err)
	require.Equal(t, "42", id)
}

func TestPlaceOrderUnfundedIsRejected(t *testing.T) {
	gw := scriptedVenue(t, func(command string, req map[string]any) map[string]any {
		return map[string]any{"status": "success", "result": map[string]any{
			"engine_result":         "tecUNFUNDED_OFFER",
			"engine_result_message": "Insufficient balance to fund created offer.",
		}}
	})

	_, err := gw.PlaceOrder(context.Background(), testPair, domain.Sell,
		decimal.RequireFromString("10.05"), decimal.NewFromInt(1))
	require.Error(t, err)

	var rejected *gateway.OrderRejected
	require.True(t, errors.As(err, &rejected))
	require.True(t, rejected.InsufficientBalance())
}

func TestCancelOrderSoftEngineFailureIsBenign(t *testing.T) {
	gw := scriptedVenue(t, func(command string, req map[string]any) map[string]any {
		tx := req["tx_json"].(map[string]any)
		require.Equal(t, "OfferCancel", tx["TransactionType"])
		require.EqualValues(t, 42, tx["OfferSequence"])

		return map[string]any{"status": "success", "result": map[string]any{
			"engine_result":         "temBAD_SEQUENCE",
			"engine_result_message": "Malformed: Sequence is not in the past.",
		}}
	})

	cancelled, err := gw.CancelOrder(context.Background(), testPair, "42")
	require.NoError(t, err)
	require.False(t, cancelled)
}

func TestCancelOrderSucceeds(t *testing.T) {
	gw := scriptedVenue(t, func(command string, req map[string]any) map[string]any {
		return map[string]any{"status": "success", "result": map[string]any{
			"engine_result": "tesSUCCESS",
			"tx_json":       map[string]any{"Sequence": 43},
		}}
	})

	cancelled, err := gw.CancelOrder(context.Background(), testPair, "42")
	require.NoError(t, err)
	require.True(t, cancelled)
}

func TestCriticalVenueErrorIsRejection(t *testing.T) {
	gw := scriptedVenue(t, func(command string, req map[string]any) map[string]any {
		return map[string]any{"status": "error", "error": "actNotFound", "error_message": "Account not found."}
	})

	_, err := gw.Balances(context.Background())
	require.Error(t, err)

	var rejected *gateway.OrderRejected
	require.True(t, errors.As(err, &rejected))
	require.Equal(t, "actNotFound", rejected.Code)
}

func TestNonCriticalVenueErrorIsPlain(t *testing.T) {
	gw := scriptedVenue(t, func(command string, req map[string]any) map[string]any {
		return map[string]any{"status": "error", "error": "tooBusy", "error_message": "The server is too busy to help you now."}
	})

	_, err := gw.Balances(context.Background())
	require.Error(t, err)

	var rejected *gateway.OrderRejected
	require.False(t, errors.As(err, &rejected))
}
