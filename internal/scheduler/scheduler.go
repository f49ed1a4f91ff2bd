package scheduler

import (
	"context"
	"time"

	"autotrade/internal/logger"
)

// IntervalScheduler 以固定间隔执行任务，任务执行期间不计时（上一轮结束后再等待 Interval）。
type IntervalScheduler struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	afterFn func(time.Duration) <-chan time.Time
}

func NewIntervalScheduler(name string, interval time.Duration) *IntervalScheduler {
	return &IntervalScheduler{
		Name:     name,
		Interval: interval,
	}
}

// Run 阻塞直到 ctx 结束；task 内的 panic 会被记录并继续下一轮。
func (s *IntervalScheduler) Run(ctx context.Context, task func(context.Context)) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("IntervalScheduler[%s]: task is nil, exit", s.Name)
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("IntervalScheduler[%s]: invalid interval=%s, exit", s.Name, s.Interval)
		return
	}
	after := s.afterFn
	if after == nil {
		after = time.After
	}
	logger.Infof("IntervalScheduler[%s]: started interval=%s run_immediately=%v", s.Name, s.Interval, s.RunImmediately)

	if s.RunImmediately {
		s.runOnce(ctx, task)
	}
	for {
		select {
		case <-ctx.Done():
			logger.Infof("IntervalScheduler[%s]: ctx done, exit", s.Name)
			return
		case <-after(s.Interval):
		}
		s.runOnce(ctx, task)
	}
}

func (s *IntervalScheduler) runOnce(ctx context.Context, task func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("IntervalScheduler[%s]: task panic: %v", s.Name, r)
		}
	}()
	task(ctx)
}
