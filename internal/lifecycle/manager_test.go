package lifecycle

import (
	"context"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/quoter/internal/domain"
	"github.com/vadiminshakov/quoter/internal/gateway"
	"github.com/vadiminshakov/quoter/internal/registry"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

var testPair = domain.Pair{Base: "XRP", Quote: "USD"}

type fakeGateway struct {
	status    domain.OrderState
	balances  domain.Balances
	open      []domain.OrderState
	cancelOK  bool
	rejectN   int // reject this many placements with insufficient balance
	nextID    int
	placed    []domain.OrderState
	cancelled []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{cancelOK: true, nextID: 100}
}

func (f *fakeGateway) Name() string { return "fake" }

func (f *fakeGateway) MarketDepth(ctx context.Context, pair domain.Pair) (domain.MarketDepth, error) {
	return domain.MarketDepth{}, nil
}

func (f *fakeGateway) Balances(ctx context.Context) (domain.Balances, error) {
	return f.balances, nil
}

func (f *fakeGateway) RecentTrades(ctx context.Context, pair domain.Pair, limit int) ([]domain.PublicTrade, error) {
	return nil, nil
}

func (f *fakeGateway) OrderStatus(ctx context.Context, pair domain.Pair, orderID string) (domain.OrderState, error) {
	return f.status, nil
}

func (f *fakeGateway) PlaceOrder(ctx context.Context, pair domain.Pair, side domain.Side, price, amount decimal.Decimal) (string, error) {
	if f.rejectN > 0 {
		f.rejectN--
		return "", &gateway.OrderRejected{Code: gateway.RejectInsufficientBalance, Message: "not enough balance"}
	}
	f.nextID++
	id := strconv.Itoa(f.nextID)
	f.placed = append(f.placed, domain.OrderState{ID: id, Side: side, Price: price, Amount: amount, Status: domain.OrderOpen})
	return id, nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, pair domain.Pair, orderID string) (bool, error) {
	f.cancelled = append(f.cancelled, orderID)
	return f.cancelOK, nil
}

func (f *fakeGateway) OpenOrders(ctx context.Context, pair domain.Pair) ([]domain.OrderState, error) {
	return f.open, nil
}

func (f *fakeGateway) LastResponse() []byte { return nil }

func (f *fakeGateway) Close() error { return nil }

func newTestManager(t *testing.T, gw gateway.Gateway) (*Manager, *registry.Registry) {
	t.Helper()
	reg, err := registry.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })

	cfg := Config{
		MinOrderAmount:  dec("0.1"),
		PricePrecision:  3,
		AmountPrecision: 2,
		SweepEvery:      1,
	}
	return NewManager(gw, reg, cfg, zap.NewNop()), reg
}

func TestReconcileUntouched(t *testing.T) {
	gw := newFakeGateway()
	m, _ := newTestManager(t, gw)

	h := &Handle{ID: "1", Side: domain.Buy, Pair: testPair, Price: dec("10.000"), Amount: dec("2.0"), Status: domain.OrderOpen}
	gw.status = domain.OrderState{ID: "1", Side: domain.Buy, Price: dec("10.000"), Amount: dec("2.0"), Status: domain.OrderOpen}

	got, events, err := m.Reconcile(context.Background(), h, dec("10.000"), dec("2.0"))
	require.NoError(t, err)
	require.Same(t, h, got)
	require.Empty(t, events)
	require.Empty(t, gw.cancelled)
	require.Empty(t, gw.placed)
}

func TestReconcilePriceDrift(t *testing.T) {
	gw := newFakeGateway()
	m, reg := newTestManager(t, gw)

	h := &Handle{ID: "1", Side: domain.Buy, Pair: testPair, Price: dec("10.000"), Amount: dec("2.0"), Status: domain.OrderOpen}
	require.NoError(t, reg.Add("fake", testPair.String(), "1"))
	gw.status = domain.OrderState{ID: "1", Side: domain.Buy, Price: dec("10.000"), Amount: dec("2.0"), Status: domain.OrderOpen}

	got, events, err := m.Reconcile(context.Background(), h, dec("10.050"), dec("2.0"))
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, gw.cancelled)
	require.Len(t, gw.placed, 1)
	require.True(t, dec("10.050").Equal(got.Price))
	require.NotEqual(t, "1", got.ID)
	require.Len(t, events, 1)
	require.Equal(t, domain.ActionUpdated, events[0].Kind)

	require.False(t, reg.Owns("fake", testPair.String(), "1"))
	require.True(t, reg.Owns("fake", testPair.String(), got.ID))
}

func TestReconcileCancelRaceNeverDuplicates(t *testing.T) {
	gw := newFakeGateway()
	gw.cancelOK = false
	m, _ := newTestManager(t, gw)

	h := &Handle{ID: "1", Side: domain.Buy, Pair: testPair, Price: dec("10.000"), Amount: dec("2.0"), Status: domain.OrderOpen}
	gw.status = domain.OrderState{ID: "1", Side: domain.Buy, Price: dec("10.000"), Amount: dec("2.0"), Status: domain.OrderOpen}

	got, events, err := m.Reconcile(context.Background(), h, dec("10.050"), dec("2.0"))
	require.NoError(t, err)
	require.Same(t, h, got)
	require.Empty(t, gw.placed, "must not place while the old order state is unknown")
	require.Len(t, events, 1)
	require.Equal(t, domain.ActionSkipped, events[0].Kind)
}

func TestReconcilePartialFillRequotes(t *testing.T) {
	gw := newFakeGateway()
	m, _ := newTestManager(t, gw)

	h := &Handle{ID: "1", Side: domain.Buy, Pair: testPair, Price: dec("10.000"), Amount: dec("2.0"), Status: domain.OrderOpen}
	gw.status = domain.OrderState{ID: "1", Side: domain.Buy, Price: dec("10.000"), Amount: dec("1.2"), Status: domain.OrderPartiallyFilled}

	got, events, err := m.Reconcile(context.Background(), h, dec("10.010"), dec("2.0"))
	require.NoError(t, err)
	require.True(t, dec("10.000").Equal(got.ExecutedPrice))
	require.True(t, dec("1.2").Equal(got.Amount))
	require.True(t, dec("10.010").Equal(got.Price))
	require.Len(t, events, 1)
	require.Equal(t, domain.ActionRequoted, events[0].Kind)
}

func TestReconcileDustRemainderCancelled(t *testing.T) {
	gw := newFakeGateway()
	m, _ := newTestManager(t, gw)

	h := &Handle{ID: "1", Side: domain.Buy, Pair: testPair, Price: dec("10.000"), Amount: dec("2.0"), Status: domain.OrderOpen}
	gw.status = domain.OrderState{ID: "1", Side: domain.Buy, Price: dec("10.000"), Amount: dec("0.05"), Status: domain.OrderPartiallyFilled}

	got, events, err := m.Reconcile(context.Background(), h, dec("10.010"), dec("2.0"))
	require.NoError(t, err)
	require.Equal(t, domain.OrderClosed, got.Status)
	require.Equal(t, []string{"1"}, gw.cancelled)
	require.Empty(t, gw.placed)
	require.Len(t, events, 1)
	require.Equal(t, domain.ActionCancelled, events[0].Kind)
}

func TestReconcileClosed(t *testing.T) {
	gw := newFakeGateway()
	m, reg := newTestManager(t, gw)

	h := &Handle{ID: "1", Side: domain.Buy, Pair: testPair, Price: dec("10.000"), Amount: dec("2.0"), Status: domain.OrderOpen}
	require.NoError(t, reg.Add("fake", testPair.String(), "1"))
	gw.status = domain.OrderState{ID: "1", Status: domain.OrderClosed}

	got, events, err := m.Reconcile(context.Background(), h, dec("10.000"), dec("2.0"))
	require.NoError(t, err)
	require.Equal(t, domain.OrderClosed, got.Status)
	require.True(t, dec("10.000").Equal(got.ExecutedPrice))
	require.Len(t, events, 1)
	require.Equal(t, domain.ActionFilled, events[0].Kind)
	require.False(t, reg.Owns("fake", testPair.String(), "1"))
}

func TestResolveClosedReturnedFundsReplaces(t *testing.T) {
	gw := newFakeGateway()
	// The sold asset is all back in the available balance: nothing traded.
	gw.balances = domain.Balances{{Asset: "XRP", Total: dec("2.0"), Available: dec("2.0")}}
	m, _ := newTestManager(t, gw)

	h := &Handle{ID: "1", Side: domain.Sell, Pair: testPair, Price: dec("10.500"), Amount: dec("2.0"), Status: domain.OrderClosed}

	got, events, err := m.ResolveClosed(context.Background(), h, dec("0.0001"))
	require.NoError(t, err)
	require.Len(t, gw.placed, 1, "returned funds mean the close was a cancellation")
	require.Equal(t, domain.OrderOpen, got.Status)
	require.True(t, h.Price.Equal(got.Price))
	require.True(t, h.Amount.Equal(got.Amount))
	require.Len(t, events, 1)
	require.Equal(t, domain.ActionPlaced, events[0].Kind)
}

func TestResolveClosedSpentFundsIsFill(t *testing.T) {
	gw := newFakeGateway()
	gw.balances = domain.Balances{{Asset: "XRP", Total: dec("0"), Available: dec("0")}}
	m, _ := newTestManager(t, gw)

	h := &Handle{ID: "1", Side: domain.Sell, Pair: testPair, Price: dec("10.500"), Amount: dec("2.0"), Status: domain.OrderClosed}

	got, events, err := m.ResolveClosed(context.Background(), h, dec("0.0001"))
	require.NoError(t, err)
	require.Empty(t, gw.placed)
	require.Equal(t, domain.OrderClosed, got.Status)
	require.True(t, dec("10.500").Equal(got.ExecutedPrice))
	require.Len(t, events, 1)
	require.Equal(t, domain.ActionFilled, events[0].Kind)
}

func TestResolveClosedBuyChecksQuoteLock(t *testing.T) {
	gw := newFakeGateway()
	// A buy locks price*amount of the quote asset; its return means a cancel.
	gw.balances = domain.Balances{{Asset: "USD", Total: dec("20"), Available: dec("20")}}
	m, _ := newTestManager(t, gw)

	h := &Handle{ID: "1", Side: domain.Buy, Pair: testPair, Price: dec("10.000"), Amount: dec("2.0"), Status: domain.OrderClosed}

	got, events, err := m.ResolveClosed(context.Background(), h, dec("0.0001"))
	require.NoError(t, err)
	require.Len(t, gw.placed, 1)
	require.Equal(t, domain.OrderOpen, got.Status)
	require.Len(t, events, 1)
	require.Equal(t, domain.ActionPlaced, events[0].Kind)
}

func TestPlaceSellClampRetriesOnce(t *testing.T) {
	gw := newFakeGateway()
	gw.rejectN = 1
	gw.balances = domain.Balances{{Asset: "XRP", Total: dec("0.423"), Available: dec("0.423")}}
	m, _ := newTestManager(t, gw)

	h, _, err := m.PlaceSell(context.Background(), testPair, dec("10.500"), dec("2.0"))
	require.NoError(t, err)
	require.NotNil(t, h)
	require.Len(t, gw.placed, 1)
	require.True(t, dec("0.42").Equal(h.Amount), "retry must use the floored available balance, got %s", h.Amount)
}

func TestPlaceSellClampAbortsBelowMinimum(t *testing.T) {
	gw := newFakeGateway()
	gw.rejectN = 2
	gw.balances = domain.Balances{{Asset: "XRP", Total: dec("0.05"), Available: dec("0.05")}}
	m, _ := newTestManager(t, gw)

	h, events, err := m.PlaceSell(context.Background(), testPair, dec("10.500"), dec("2.0"))
	require.NoError(t, err)
	require.Nil(t, h)
	require.Empty(t, gw.placed)
	require.Len(t, events, 1)
	require.Equal(t, domain.ActionSkipped, events[0].Kind)
}

func TestSweepZombies(t *testing.T) {
	gw := newFakeGateway()
	m, reg := newTestManager(t, gw)

	tracked := &Handle{ID: "1", Side: domain.Buy, Pair: testPair, Price: dec("10.000"), Amount: dec("2.0"), Status: domain.OrderOpen}
	require.NoError(t, reg.Add("fake", testPair.String(), "1"))
	require.NoError(t, reg.Add("fake", testPair.String(), "2")) // abandoned by a previous run

	gw.open = []domain.OrderState{
		{ID: "1", Side: domain.Buy, Price: dec("10.000"), Amount: dec("2.0"), Status: domain.OrderOpen},
		{ID: "2", Side: domain.Sell, Price: dec("11.000"), Amount: dec("1.0"), Status: domain.OrderOpen},
		{ID: "3", Side: domain.Sell, Price: dec("12.000"), Amount: dec("1.0"), Status: domain.OrderOpen}, // manual
	}

	events, err := m.SweepZombies(context.Background(), testPair, tracked)
	require.NoError(t, err)
	require.Equal(t, []string{"2"}, gw.cancelled)
	require.Len(t, events, 1)
	require.Equal(t, "2", events[0].OrderID)
	require.False(t, reg.Owns("fake", testPair.String(), "2"))
	require.True(t, reg.Owns("fake", testPair.String(), "1"))
}

func TestSweepZombiesHonorsCadence(t *testing.T) {
	gw := newFakeGateway()
	m, reg := newTestManager(t, gw)
	m.cfg.SweepEvery = 3
	require.NoError(t, reg.Add("fake", testPair.String(), "9"))
	gw.open = []domain.OrderState{{ID: "9", Side: domain.Sell, Price: dec("12.000"), Amount: dec("1.0"), Status: domain.OrderOpen}}

	for i := 0; i < 2; i++ {
		events, err := m.SweepZombies(context.Background(), testPair)
		require.NoError(t, err)
		require.Empty(t, events)
	}
	events, err := m.SweepZombies(context.Background(), testPair)
	require.NoError(t, err)
	require.Len(t, events, 1)
}
