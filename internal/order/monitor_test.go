package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"autotrade/internal/gateway/exchange"
	"autotrade/internal/types"
)

type mockBroker struct{ mock.Mock }

func (m *mockBroker) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockBroker) CancelOrder(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockBroker) GetOrder(ctx context.Context, id string) (exchange.OrderUpdate, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(exchange.OrderUpdate), args.Error(1)
}

func buy(sym string, qty float64) exchange.OrderRequest {
	return exchange.OrderRequest{Symbol: sym, Side: types.SideBuy, Type: exchange.OrderTypeLimit, Quantity: qty, LimitPrice: 100}
}

func newMonitor(b Broker, cfg Config) (*Monitor, *time.Time) {
	now := time.Date(2024, 4, 2, 14, 0, 0, 0, time.UTC)
	m := NewMonitor(b, cfg)
	m.SetClock(func() time.Time { return now })
	return m, &now
}

func TestMonitor_PartialThenFilled(t *testing.T) {
	b := &mockBroker{}
	b.On("GetOrder", mock.Anything, "o-1").Return(exchange.OrderUpdate{Status: "accepted"}, nil).Once()
	b.On("GetOrder", mock.Anything, "o-1").Return(exchange.OrderUpdate{Status: "partially_filled", FilledQty: 40, FilledAvgPrice: 100}, nil).Once()
	b.On("GetOrder", mock.Anything, "o-1").Return(exchange.OrderUpdate{Status: "partially_filled", FilledQty: 40, FilledAvgPrice: 100}, nil).Once()
	b.On("GetOrder", mock.Anything, "o-1").Return(exchange.OrderUpdate{Status: "filled", FilledQty: 100, FilledAvgPrice: 100.6}, nil).Once()

	m, _ := newMonitor(b, Config{})
	var events []FillEvent
	var partials, fills int
	m.OnFillEvent(func(ev FillEvent) {
		events = append(events, ev)
	})
	m.OnPartialFill(func(TrackedOrder, FillEvent) { partials++ })
	m.OnFill(func(TrackedOrder) { fills++ })

	m.Track("o-1", buy("AAPL", 100))
	ctx := context.Background()

	m.Poll(ctx)
	o, _ := m.Get("o-1")
	assert.Equal(t, StatusAccepted, o.Status)

	m.Poll(ctx)
	o, _ = m.Get("o-1")
	assert.Equal(t, StatusPartiallyFilled, o.Status)
	assert.Equal(t, 40.0, o.FilledQty)
	assert.Equal(t, 60.0, o.Remaining())

	m.Poll(ctx)
	m.Poll(ctx)

	require.Len(t, events, 2)
	assert.True(t, events[0].Partial)
	assert.Equal(t, 40.0, events[0].Quantity)
	assert.Equal(t, 60.0, events[0].Remaining)
	assert.False(t, events[1].Partial)
	assert.Equal(t, 60.0, events[1].Quantity)
	assert.Equal(t, 101.0, events[1].Price)
	assert.Equal(t, 100.0, events[1].CumulativeFilled)
	assert.Equal(t, 1, partials)
	assert.Equal(t, 1, fills)

	assert.Empty(t, m.Active())
	hist := m.History(0)
	require.Len(t, hist, 1)
	assert.Equal(t, StatusFilled, hist[0].Status)
	assert.Len(t, hist[0].Fills, 2)
	b.AssertExpectations(t)
}

func TestMonitor_FilledQtyNeverDecreasesOrExceeds(t *testing.T) {
	b := &mockBroker{}
	b.On("GetOrder", mock.Anything, "o-2").Return(exchange.OrderUpdate{Status: "partially_filled", FilledQty: 5, FilledAvgPrice: 10}, nil).Once()
	b.On("GetOrder", mock.Anything, "o-2").Return(exchange.OrderUpdate{Status: "partially_filled", FilledQty: 3, FilledAvgPrice: 10}, nil).Once()
	b.On("GetOrder", mock.Anything, "o-2").Return(exchange.OrderUpdate{Status: "filled", FilledQty: 12, FilledAvgPrice: 10}, nil).Once()

	m, _ := newMonitor(b, Config{})
	m.Track("o-2", buy("MSFT", 10))
	var seen []float64
	m.OnUpdate(func(o TrackedOrder) { seen = append(seen, o.FilledQty) })
	for i := 0; i < 3; i++ {
		m.Poll(context.Background())
	}
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
	o, ok := m.Get("o-2")
	require.True(t, ok)
	assert.Equal(t, 10.0, o.FilledQty)
	assert.Equal(t, StatusFilled, o.Status)
}

func TestMonitor_TerminalCallbacks(t *testing.T) {
	b := &mockBroker{}
	b.On("GetOrder", mock.Anything, "c").Return(exchange.OrderUpdate{Status: "canceled"}, nil)
	b.On("GetOrder", mock.Anything, "r").Return(exchange.OrderUpdate{Status: "rejected"}, nil)
	b.On("GetOrder", mock.Anything, "e").Return(exchange.OrderUpdate{Status: "expired"}, nil)

	m, _ := newMonitor(b, Config{})
	var cancelled, rejected []string
	m.OnCancelled(func(o TrackedOrder) { cancelled = append(cancelled, o.ID) })
	m.OnRejected(func(o TrackedOrder) { rejected = append(rejected, o.ID) })
	m.Track("c", buy("A", 1))
	m.Track("r", buy("B", 1))
	m.Track("e", buy("C", 1))
	m.Poll(context.Background())

	assert.ElementsMatch(t, []string{"c", "e"}, cancelled)
	assert.Equal(t, []string{"r"}, rejected)
	assert.Empty(t, m.Active())
	assert.Len(t, m.History(0), 3)
}

func TestMonitor_PollErrorKeepsOrder(t *testing.T) {
	b := &mockBroker{}
	b.On("GetOrder", mock.Anything, "o-3").Return(exchange.OrderUpdate{}, errors.New("dial tcp: connection refused")).Once()
	b.On("GetOrder", mock.Anything, "o-3").Return(exchange.OrderUpdate{Status: "new"}, nil).Once()

	m, _ := newMonitor(b, Config{})
	m.Track("o-3", buy("NVDA", 2))
	m.Poll(context.Background())
	o, ok := m.Get("o-3")
	require.True(t, ok)
	assert.Equal(t, 1, o.PollErrors)
	assert.True(t, m.HasActive("NVDA"))

	m.Poll(context.Background())
	o, _ = m.Get("o-3")
	assert.Equal(t, 0, o.PollErrors)
	assert.Equal(t, StatusNew, o.Status)
}

func TestMonitor_IllegalTransitionIgnored(t *testing.T) {
	b := &mockBroker{}
	b.On("GetOrder", mock.Anything, "o-4").Return(exchange.OrderUpdate{Status: "partially_filled", FilledQty: 1, FilledAvgPrice: 5}, nil).Once()
	b.On("GetOrder", mock.Anything, "o-4").Return(exchange.OrderUpdate{Status: "new", FilledQty: 1, FilledAvgPrice: 5}, nil).Once()
	m, _ := newMonitor(b, Config{})
	m.Track("o-4", buy("AMD", 3))
	m.Poll(context.Background())
	m.Poll(context.Background())
	o, _ := m.Get("o-4")
	assert.Equal(t, StatusPartiallyFilled, o.Status)
}

func TestMonitor_Submit(t *testing.T) {
	b := &mockBroker{}
	b.On("SubmitOrder", mock.Anything, mock.Anything).Return("", errors.New("insufficient buying power")).Once()
	b.On("SubmitOrder", mock.Anything, mock.Anything).Return("o-9", nil).Once()
	m, _ := newMonitor(b, Config{})

	_, err := m.Submit(context.Background(), buy("AAPL", 1))
	assert.ErrorContains(t, err, "insufficient buying power")
	_, err = m.Submit(context.Background(), buy("AAPL", 0))
	assert.ErrorContains(t, err, "order too small")

	o, err := m.Submit(context.Background(), buy("AAPL", 1))
	require.NoError(t, err)
	assert.Equal(t, "o-9", o.ID)
	assert.Equal(t, StatusNew, o.Status)
}

func TestMapBrokerStatus(t *testing.T) {
	assert.Equal(t, StatusAccepted, MapBrokerStatus("accepted", StatusNew))
	assert.Equal(t, StatusPartiallyFilled, MapBrokerStatus("PARTIALLY_FILLED", StatusNew))
	assert.Equal(t, StatusCancelled, MapBrokerStatus("CANCELED", StatusNew))
	assert.Equal(t, StatusExpired, MapBrokerStatus("EXPIRED_IN_MATCH", StatusNew))
	assert.Equal(t, StatusAccepted, MapBrokerStatus("pending_cancel", StatusAccepted))
	assert.True(t, CanTransition(StatusPartiallyFilled, StatusPartiallyFilled))
	assert.False(t, CanTransition(StatusRejected, StatusFilled))
	assert.False(t, CanTransition(StatusPartiallyFilled, StatusRejected))
}
