package store

import (
	"context"
	"sync/atomic"
	"time"

	"autotrade/internal/execlog"
	"autotrade/internal/gate"
	"autotrade/internal/logger"
	"autotrade/internal/order"
)

var log = logger.Component("Store")

type AttemptWriter interface {
	SaveAttempt(ctx context.Context, a execlog.ExecutionAttempt) error
}

type OrderWriter interface {
	UpsertOrder(ctx context.Context, o order.TrackedOrder) error
}

type DecisionWriter interface {
	InsertDecision(ctx context.Context, r gate.Result) (int64, error)
}

// Writers 中任一字段为 nil 时对应记录直接丢弃。
type Writers struct {
	Attempts  AttemptWriter
	Orders    OrderWriter
	Decisions DecisionWriter
}

type record struct {
	attempt  *execlog.ExecutionAttempt
	order    *order.TrackedOrder
	decision *gate.Result
}

// AsyncSink 把交易线程产生的快照排队，由单个 goroutine 串行写库。
// 缓冲区满时丢弃并计数，不阻塞调用方。
type AsyncSink struct {
	w            Writers
	ch           chan record
	dropped      atomic.Int64
	writeTimeout time.Duration
}

func NewAsyncSink(w Writers, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 1024
	}
	return &AsyncSink{w: w, ch: make(chan record, buffer), writeTimeout: 5 * time.Second}
}

func (s *AsyncSink) RecordAttempt(a execlog.ExecutionAttempt) {
	if s.w.Attempts == nil {
		return
	}
	s.enqueue(record{attempt: &a})
}

func (s *AsyncSink) RecordOrder(o order.TrackedOrder) {
	if s.w.Orders == nil {
		return
	}
	if len(o.Fills) > 0 {
		o.Fills = append([]order.FillEvent(nil), o.Fills...)
	}
	s.enqueue(record{order: &o})
}

func (s *AsyncSink) RecordDecision(r gate.Result) {
	if s.w.Decisions == nil {
		return
	}
	s.enqueue(record{decision: &r})
}

func (s *AsyncSink) enqueue(rec record) {
	select {
	case s.ch <- rec:
	default:
		n := s.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			log.Warnf("写入队列已满，累计丢弃 %d 条记录", n)
		}
	}
}

// Dropped 返回因队列满而丢弃的记录数。
func (s *AsyncSink) Dropped() int64 { return s.dropped.Load() }

// Pending 返回尚未写入的记录数。
func (s *AsyncSink) Pending() int { return len(s.ch) }

// Run 持续写库直到 ctx 结束，退出前把队列剩余记录写完。
func (s *AsyncSink) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-s.ch:
			s.write(context.WithoutCancel(ctx), rec)
		case <-ctx.Done():
			s.drain()
			return nil
		}
	}
}

func (s *AsyncSink) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		select {
		case rec := <-s.ch:
			s.write(ctx, rec)
		default:
			return
		}
	}
}

func (s *AsyncSink) write(parent context.Context, rec record) {
	ctx, cancel := context.WithTimeout(parent, s.writeTimeout)
	defer cancel()
	var err error
	switch {
	case rec.attempt != nil:
		err = s.w.Attempts.SaveAttempt(ctx, *rec.attempt)
	case rec.order != nil:
		err = s.w.Orders.UpsertOrder(ctx, *rec.order)
	case rec.decision != nil:
		_, err = s.w.Decisions.InsertDecision(ctx, *rec.decision)
	}
	if err != nil {
		log.Errorf("持久化失败: %v", err)
	}
}
