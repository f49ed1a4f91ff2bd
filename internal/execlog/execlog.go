package execlog

import (
	"sync"
	"time"

	"autotrade/internal/logger"
	"autotrade/internal/pkg/ring"
	"autotrade/internal/types"
)

const DefaultCapacity = 500

var log = logger.Component("ExecutionLogger")

// Outcome 区分已提交、跳过与失败。
type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// ExecutionAttempt 是一次标的评估/下单尝试的只追加记录。
type ExecutionAttempt struct {
	ID          int64      `json:"id"`
	Timestamp   time.Time  `json:"ts"`
	Symbol      string     `json:"symbol"`
	Side        types.Side `json:"side,omitempty"`
	Quantity    float64    `json:"qty"`
	Price       float64    `json:"price"`
	OrderType   string     `json:"order_type,omitempty"`
	Success     bool       `json:"success"`
	Outcome     Outcome    `json:"outcome"`
	ErrorKind   ErrorKind  `json:"error_kind,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	OrderID     string     `json:"order_id,omitempty"`
	FilledQty   float64    `json:"filled_qty,omitempty"`
	FilledPrice float64    `json:"filled_price,omitempty"`
	TraceID     string     `json:"trace_id,omitempty"`
}

// Stats 汇总最近窗口外的累计计数。
type Stats struct {
	Total     int64               `json:"total"`
	Submitted int64               `json:"submitted"`
	Skipped   int64               `json:"skipped"`
	Failed    int64               `json:"failed"`
	ByKind    map[ErrorKind]int64 `json:"by_kind"`
}

// Logger 保存有界的执行尝试历史。
type Logger struct {
	buf   *ring.Buffer[ExecutionAttempt]
	nowFn func() time.Time

	mu     sync.Mutex
	nextID int64
	stats  Stats
	hooks  []func(ExecutionAttempt)
}

func New(capacity int) *Logger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Logger{
		buf:   ring.New[ExecutionAttempt](capacity),
		nowFn: time.Now,
		stats: Stats{ByKind: make(map[ErrorKind]int64)},
	}
}

// OnRecord 注册写入后回调（持久化等），回调在 Record 调用方 goroutine 中执行。
func (l *Logger) OnRecord(fn func(ExecutionAttempt)) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.hooks = append(l.hooks, fn)
	l.mu.Unlock()
}

// Record 追加一条记录并返回补全 ID/时间后的副本。
func (l *Logger) Record(a ExecutionAttempt) ExecutionAttempt {
	l.mu.Lock()
	l.nextID++
	a.ID = l.nextID
	if a.Timestamp.IsZero() {
		a.Timestamp = l.nowFn()
	}
	if a.Outcome == "" {
		switch {
		case a.Success:
			a.Outcome = OutcomeSubmitted
		case a.ErrorKind != KindNone:
			a.Outcome = OutcomeFailed
		default:
			a.Outcome = OutcomeSkipped
		}
	}
	l.stats.Total++
	switch a.Outcome {
	case OutcomeSubmitted:
		l.stats.Submitted++
	case OutcomeFailed:
		l.stats.Failed++
	default:
		l.stats.Skipped++
	}
	if a.ErrorKind != KindNone {
		l.stats.ByKind[a.ErrorKind]++
	}
	hooks := append([]func(ExecutionAttempt){}, l.hooks...)
	l.mu.Unlock()

	l.buf.Push(a)
	if a.Outcome == OutcomeFailed {
		log.Warnf("%s %s qty=%.4f failed kind=%s reason=%s", a.Symbol, a.Side, a.Quantity, a.ErrorKind, a.Reason)
	} else {
		log.Debugf("%s %s outcome=%s reason=%s", a.Symbol, a.Side, a.Outcome, a.Reason)
	}
	for _, fn := range hooks {
		fn(a)
	}
	return a
}

// RecordFailure 分类错误并记录失败尝试。
func (l *Logger) RecordFailure(a ExecutionAttempt, err error) ExecutionAttempt {
	a.Success = false
	a.Outcome = OutcomeFailed
	a.ErrorKind = Classify(err)
	if err != nil && a.Reason == "" {
		a.Reason = err.Error()
	}
	return l.Record(a)
}

// Recent 返回最近 n 条，最新在前。
func (l *Logger) Recent(n int) []ExecutionAttempt {
	return l.buf.Recent(n)
}

func (l *Logger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.stats
	out.ByKind = make(map[ErrorKind]int64, len(l.stats.ByKind))
	for k, v := range l.stats.ByKind {
		out.ByKind[k] = v
	}
	return out
}
