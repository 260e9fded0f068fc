package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMarketDepthCrossed(t *testing.T) {
	healthy := MarketDepth{
		Bids: []Level{{Price: decimal.RequireFromString("10.00")}},
		Asks: []Level{{Price: decimal.RequireFromString("10.05")}},
	}
	require.False(t, healthy.Crossed())
	require.Equal(t, "10", healthy.BestBid().String())
	require.Equal(t, "10.05", healthy.BestAsk().String())

	crossed := MarketDepth{
		Bids: []Level{{Price: decimal.RequireFromString("10.05")}},
		Asks: []Level{{Price: decimal.RequireFromString("10.00")}},
	}
	require.True(t, crossed.Crossed())

	require.True(t, MarketDepth{}.Crossed())
	require.True(t, MarketDepth{}.BestBid().IsZero())
}

func TestBalancesResolveToZeroSentinel(t *testing.T) {
	balances := Balances{
		{Asset: "XRP", Total: decimal.NewFromInt(25), Available: decimal.NewFromInt(20)},
		{Asset: "USD", Issuer: "rISSUER", Total: decimal.NewFromInt(100), Available: decimal.NewFromInt(100)},
	}

	require.Equal(t, "25", balances.Get("XRP").Total.String())
	require.Equal(t, "100", balances.GetIssued("USD", "rISSUER").Total.String())

	missing := balances.Get("BTC")
	require.Equal(t, "BTC", missing.Asset)
	require.True(t, missing.Total.IsZero())
	require.True(t, balances.GetIssued("USD", "rOTHER").Total.IsZero())
}

func TestPairFormatting(t *testing.T) {
	pair := Pair{Base: "XRP", Quote: "USD"}
	require.Equal(t, "XRP_USD", pair.String())
	require.Equal(t, "XRPUSD", pair.Symbol())
}

func TestOrderStateClosed(t *testing.T) {
	require.True(t, OrderState{Status: OrderClosed}.Closed())
	require.False(t, OrderState{Status: OrderOpen}.Closed())
	require.False(t, OrderState{Status: OrderPartiallyFilled}.Closed())
}
