package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"autotrade/internal/execlog"
	"autotrade/internal/gate"
	"autotrade/internal/order"
)

type mockWriter struct {
	mock.Mock
	mu       sync.Mutex
	attempts []execlog.ExecutionAttempt
	orders   []order.TrackedOrder
}

func (m *mockWriter) SaveAttempt(ctx context.Context, a execlog.ExecutionAttempt) error {
	m.mu.Lock()
	m.attempts = append(m.attempts, a)
	m.mu.Unlock()
	return m.Called(a.Symbol).Error(0)
}

func (m *mockWriter) UpsertOrder(ctx context.Context, o order.TrackedOrder) error {
	m.mu.Lock()
	m.orders = append(m.orders, o)
	m.mu.Unlock()
	return m.Called(o.ID).Error(0)
}

func (m *mockWriter) InsertDecision(ctx context.Context, r gate.Result) (int64, error) {
	args := m.Called(r.Symbol)
	return int64(args.Int(0)), args.Error(1)
}

func TestAsyncSink_DrainsOnShutdown(t *testing.T) {
	w := &mockWriter{}
	w.On("SaveAttempt", "AAPL").Return(nil)
	w.On("UpsertOrder", "o-1").Return(errors.New("disk full"))
	w.On("InsertDecision", "MSFT").Return(1, nil)

	s := NewAsyncSink(Writers{Attempts: w, Orders: w, Decisions: w}, 16)
	s.RecordAttempt(execlog.ExecutionAttempt{Symbol: "AAPL"})
	s.RecordOrder(order.TrackedOrder{ID: "o-1", Fills: []order.FillEvent{{OrderID: "o-1", Quantity: 1}}})
	s.RecordDecision(gate.Result{Symbol: "MSFT", Decision: gate.DecisionApprove})
	assert.Equal(t, 3, s.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, 0, s.Pending())
	w.AssertExpectations(t)
	assert.Equal(t, int64(0), s.Dropped())
}

func TestAsyncSink_DropsWhenFull(t *testing.T) {
	w := &mockWriter{}
	s := NewAsyncSink(Writers{Attempts: w}, 2)
	for i := 0; i < 5; i++ {
		s.RecordAttempt(execlog.ExecutionAttempt{ID: int64(i), Symbol: "AAPL"})
	}
	assert.Equal(t, 2, s.Pending())
	assert.Equal(t, int64(3), s.Dropped())
}

func TestAsyncSink_NilWritersIgnored(t *testing.T) {
	s := NewAsyncSink(Writers{}, 4)
	s.RecordAttempt(execlog.ExecutionAttempt{Symbol: "AAPL"})
	s.RecordOrder(order.TrackedOrder{ID: "o-1"})
	s.RecordDecision(gate.Result{Symbol: "AAPL"})
	assert.Equal(t, 0, s.Pending())
}

func TestAsyncSink_WritesWhileRunning(t *testing.T) {
	w := &mockWriter{}
	w.On("SaveAttempt", mock.Anything).Return(nil)
	s := NewAsyncSink(Writers{Attempts: w}, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	s.RecordAttempt(execlog.ExecutionAttempt{Symbol: "AAPL"})
	s.RecordAttempt(execlog.ExecutionAttempt{Symbol: "TSLA"})
	assert.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.attempts) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, "AAPL", w.attempts[0].Symbol)
}

func TestAsyncSink_CopiesFills(t *testing.T) {
	w := &mockWriter{}
	w.On("UpsertOrder", "o-1").Return(nil)
	s := NewAsyncSink(Writers{Orders: w}, 4)

	fills := []order.FillEvent{{OrderID: "o-1", Quantity: 1}}
	s.RecordOrder(order.TrackedOrder{ID: "o-1", Fills: fills})
	fills[0].Quantity = 99

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))
	require.Len(t, w.orders, 1)
	assert.Equal(t, 1.0, w.orders[0].Fills[0].Quantity)
}
