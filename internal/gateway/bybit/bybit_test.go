package bybit

import (
	"testing"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/quoter/internal/domain"
)

func TestOrderStateMapsLeavesQuantity(t *testing.T) {
	state, err := orderState(bybit.V5GetOrder{
		OrderID:     "abc-123",
		Side:        bybit.SideBuy,
		OrderStatus: bybit.OrderStatusPartiallyFilled,
		Price:       "9.991",
		LeavesQty:   "0.40",
	})
	require.NoError(t, err)
	require.Equal(t, "abc-123", state.ID)
	require.Equal(t, domain.Buy, state.Side)
	require.Equal(t, domain.OrderPartiallyFilled, state.Status)
	require.Equal(t, "0.4", state.Amount.String())
}

func TestOrderStateTerminalStatusesAreClosed(t *testing.T) {
	for _, status := range []bybit.OrderStatus{
		bybit.OrderStatusFilled,
		bybit.OrderStatusCancelled,
		bybit.OrderStatusRejected,
		bybit.OrderStatusDeactivated,
	} {
		state, err := orderState(bybit.V5GetOrder{
			OrderID:     "1",
			Side:        bybit.SideSell,
			OrderStatus: status,
			Price:       "10.05",
			LeavesQty:   "0",
		})
		require.NoError(t, err)
		require.True(t, state.Closed(), "status %s must map to closed", status)
	}
}

func TestOrderStateNewStaysOpen(t *testing.T) {
	state, err := orderState(bybit.V5GetOrder{
		OrderID:     "1",
		Side:        bybit.SideBuy,
		OrderStatus: bybit.OrderStatusNew,
		Price:       "9.991",
		LeavesQty:   "1.00",
	})
	require.NoError(t, err)
	require.Equal(t, domain.OrderOpen, state.Status)
}

func TestOrderGoneClassification(t *testing.T) {
	require.True(t, orderGone(errors.New("bybit: 110001, order not exist or too late to cancel")))
	require.True(t, orderGone(errors.New("170213: Order does not exist.")))
	require.False(t, orderGone(errors.New("170131: Insufficient balance.")))
}

func TestInsufficientBalanceClassification(t *testing.T) {
	require.True(t, insufficientBalance(errors.New("170131: Insufficient balance.")))
	require.True(t, insufficientBalance(errors.New("bybit: 110007, ab not enough for new order")))
	require.False(t, insufficientBalance(errors.New("170213: Order does not exist.")))
}

func TestLevelParsesBookEntry(t *testing.T) {
	lvl, err := level("9.991", "5.0")
	require.NoError(t, err)
	require.Equal(t, "9.991", lvl.Price.String())
	require.Equal(t, "5", lvl.Amount.String())

	_, err = level("not-a-number", "5.0")
	require.Error(t, err)
}
