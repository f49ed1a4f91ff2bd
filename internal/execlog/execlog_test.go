package execlog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyText(t *testing.T) {
	cases := map[string]ErrorKind{
		"insufficient buying power":                      KindInsufficientFunds,
		"status=403: forbidden":                          KindAPIPermission,
		"status=403: insufficient buying power":          KindInsufficientFunds,
		"qty must be >= 1, order too small":              KindOrderTooSmall,
		"asset not found: FOO":                           KindInvalidSymbol,
		"status=429: too many requests":                  KindRateLimited,
		"market is closed":                               KindMarketClosed,
		"dial tcp 10.0.0.1:443: connection refused":      KindNetwork,
		"Get https://x: context deadline exceeded":       KindTimeout,
		"something odd happened":                         KindUnknown,
		"":                                               KindUnknown,
		"unauthorized: insufficient permission for rate": KindAPIPermission,
	}
	for text, want := range cases {
		assert.Equal(t, want, ClassifyText(text), text)
	}
}

func TestClassify_WrappedDeadline(t *testing.T) {
	err := fmt.Errorf("get order: %w", context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, Classify(err))
	assert.Equal(t, KindNone, Classify(nil))
}

func TestErrorKind_Recoverable(t *testing.T) {
	assert.False(t, KindAPIPermission.Recoverable())
	assert.True(t, KindRateLimited.Recoverable())
}

func TestLogger_RecordAndStats(t *testing.T) {
	l := New(2)
	var seen []ExecutionAttempt
	l.OnRecord(func(a ExecutionAttempt) { seen = append(seen, a) })

	l.Record(ExecutionAttempt{Symbol: "AAPL", Success: true, OrderID: "o-1"})
	l.Record(ExecutionAttempt{Symbol: "MSFT", Reason: "no signal"})
	failed := l.RecordFailure(ExecutionAttempt{Symbol: "TSLA"}, errors.New("insufficient buying power"))

	assert.Equal(t, OutcomeFailed, failed.Outcome)
	assert.Equal(t, KindInsufficientFunds, failed.ErrorKind)
	assert.Equal(t, int64(3), failed.ID)

	recent := l.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, "TSLA", recent[0].Symbol)
	assert.Equal(t, "MSFT", recent[1].Symbol)

	stats := l.Stats()
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.Submitted)
	assert.Equal(t, int64(1), stats.Skipped)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.ByKind[KindInsufficientFunds])
	assert.Len(t, seen, 3)
}
