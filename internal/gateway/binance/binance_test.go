package binance

import (
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/quoter/internal/domain"
)

func TestOrderStateMapsRemainingAmount(t *testing.T) {
	state, err := orderState(&binance.Order{
		OrderID:          12345,
		Side:             binance.SideTypeBuy,
		Status:           binance.OrderStatusTypePartiallyFilled,
		Price:            "9.991",
		OrigQuantity:     "1.00",
		ExecutedQuantity: "0.60",
	})
	require.NoError(t, err)
	require.Equal(t, "12345", state.ID)
	require.Equal(t, domain.Buy, state.Side)
	require.Equal(t, domain.OrderPartiallyFilled, state.Status)
	require.Equal(t, "0.4", state.Amount.String())
}

func TestOrderStateTerminalStatusesAreClosed(t *testing.T) {
	for _, status := range []binance.OrderStatusType{
		binance.OrderStatusTypeFilled,
		binance.OrderStatusTypeCanceled,
		binance.OrderStatusTypeRejected,
		binance.OrderStatusTypeExpired,
	} {
		state, err := orderState(&binance.Order{
			OrderID:          1,
			Side:             binance.SideTypeSell,
			Status:           status,
			Price:            "10.05",
			OrigQuantity:     "1.00",
			ExecutedQuantity: "1.00",
		})
		require.NoError(t, err)
		require.True(t, state.Closed(), "status %s must map to closed", status)
		require.Equal(t, domain.Sell, state.Side)
	}
}

func TestOrderStateNewStaysOpen(t *testing.T) {
	state, err := orderState(&binance.Order{
		OrderID:          1,
		Side:             binance.SideTypeBuy,
		Status:           binance.OrderStatusTypeNew,
		Price:            "9.991",
		OrigQuantity:     "1.00",
		ExecutedQuantity: "0.00",
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderOpen, state.Status)
	require.Equal(t, "1", state.Amount.String())
}

func TestOrderStateRejectsMalformedNumbers(t *testing.T) {
	_, err := orderState(&binance.Order{Price: "not-a-number", OrigQuantity: "1", ExecutedQuantity: "0"})
	require.Error(t, err)
}

func TestLevelParsesBookEntry(t *testing.T) {
	lvl, err := level("9.991", "5.0")
	require.NoError(t, err)
	require.Equal(t, "9.991", lvl.Price.String())
	require.Equal(t, "5", lvl.Amount.String())

	_, err = level("", "5.0")
	require.Error(t, err)
}
