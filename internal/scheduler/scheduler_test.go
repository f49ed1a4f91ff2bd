package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalScheduler_RunsUntilCancelled(t *testing.T) {
	ticks := make(chan time.Time)
	s := NewIntervalScheduler("test", time.Second)
	s.RunImmediately = true
	s.afterFn = func(time.Duration) <-chan time.Time { return ticks }

	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	done := make(chan struct{})
	go func() {
		s.Run(ctx, func(context.Context) {
			if runs.Add(1) == 2 {
				panic("boom")
			}
		})
		close(done)
	}()

	ticks <- time.Now()
	ticks <- time.Now()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(3), runs.Load())
}

func TestIntervalScheduler_InvalidInterval(t *testing.T) {
	called := false
	NewIntervalScheduler("bad", 0).Run(context.Background(), func(context.Context) { called = true })
	assert.False(t, called)
}

func TestParseIntervalDuration(t *testing.T) {
	d, ok := ParseIntervalDuration("15m")
	assert.True(t, ok)
	assert.Equal(t, 15*time.Minute, d)
	d, ok = ParseIntervalDuration("1d")
	assert.True(t, ok)
	assert.Equal(t, 24*time.Hour, d)
	d, ok = ParseIntervalDuration("15Min")
	assert.True(t, ok)
	assert.Equal(t, 15*time.Minute, d)
	d, ok = ParseIntervalDuration("1Week")
	assert.True(t, ok)
	assert.Equal(t, 7*24*time.Hour, d)
	for _, bad := range []string{"x", "", "0m", "-1h", "Min", "1y"} {
		_, ok = ParseIntervalDuration(bad)
		assert.False(t, ok, bad)
	}
}
