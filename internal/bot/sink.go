package bot

import (
	"autotrade/internal/execlog"
	"autotrade/internal/gate"
	"autotrade/internal/order"
)

// Sink 接收需要持久化的快照。实现不得阻塞调用方。
type Sink interface {
	RecordAttempt(a execlog.ExecutionAttempt)
	RecordOrder(o order.TrackedOrder)
	RecordDecision(r gate.Result)
}

// Notifier 发送运维通知（熔断、ERROR、成交）。
type Notifier interface {
	SendText(text string) error
}

type nopSink struct{}

func (nopSink) RecordAttempt(execlog.ExecutionAttempt) {}
func (nopSink) RecordOrder(order.TrackedOrder)         {}
func (nopSink) RecordDecision(gate.Result)             {}
