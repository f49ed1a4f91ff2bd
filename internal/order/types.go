package order

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"autotrade/internal/types"
)

// Status 是订单状态机的状态。
type Status string

const (
	StatusNew             Status = "NEW"
	StatusAccepted        Status = "ACCEPTED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCancelled       Status = "CANCELLED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusNew:             {StatusAccepted, StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusRejected, StatusExpired},
	StatusAccepted:        {StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusRejected, StatusExpired},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCancelled, StatusExpired},
}

// CanTransition 报告 from→to 是否合法；相同状态视为合法的空转移。
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MapBrokerStatus 把经纪商原始状态映射到本地状态；无法识别或过渡态（如 pending_cancel）返回 current。
func MapBrokerStatus(raw string, current Status) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "new", "pending_new":
		return StatusNew
	case "accepted", "accepted_for_bidding", "calculated", "stopped", "held", "done_for_day", "pending_replace", "suspended":
		return StatusAccepted
	case "partially_filled", "partial_fill", "partially-filled":
		return StatusPartiallyFilled
	case "filled", "fill":
		return StatusFilled
	case "canceled", "cancelled", "replaced":
		return StatusCancelled
	case "rejected":
		return StatusRejected
	case "expired", "expired_in_match":
		return StatusExpired
	default:
		return current
	}
}

// FillEvent 是一次成交增量，只追加。
type FillEvent struct {
	OrderID          string     `json:"order_id"`
	Symbol           string     `json:"symbol"`
	Side             types.Side `json:"side"`
	Quantity         float64    `json:"qty"`
	Price            float64    `json:"price"`
	Timestamp        time.Time  `json:"ts"`
	Partial          bool       `json:"partial"`
	CumulativeFilled float64    `json:"cumulative_filled"`
	Remaining        float64    `json:"remaining"`
}

// TrackedOrder 是监控中的订单。FilledQty 不会超过 Quantity，且单调不减。
type TrackedOrder struct {
	ID             string      `json:"id"`
	ClientOrderID  string      `json:"client_order_id,omitempty"`
	Symbol         string      `json:"symbol"`
	Side           types.Side  `json:"side"`
	Type           string      `json:"type"`
	Quantity       float64     `json:"qty"`
	LimitPrice     float64     `json:"limit_price,omitempty"`
	StopPrice      float64     `json:"stop_price,omitempty"`
	TakeProfit     float64     `json:"take_profit,omitempty"`
	StopLoss       float64     `json:"stop_loss,omitempty"`
	Status         Status      `json:"status"`
	BrokerStatus   string      `json:"broker_status,omitempty"`
	FilledQty      float64     `json:"filled_qty"`
	FilledAvgPrice float64     `json:"filled_avg_price"`
	Fills          []FillEvent `json:"fills,omitempty"`
	SubmittedAt    time.Time   `json:"submitted_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	TerminalAt     time.Time   `json:"terminal_at,omitempty"`
	PartialSince   time.Time   `json:"partial_since,omitempty"`
	ParentID       string      `json:"parent_id,omitempty"`
	ReplacedBy     string      `json:"replaced_by,omitempty"`
	Resolution     Action      `json:"resolution,omitempty"`
	PollErrors     int         `json:"poll_errors,omitempty"`
	LastError      string      `json:"last_error,omitempty"`
}

// Remaining = Quantity - FilledQty。
func (o TrackedOrder) Remaining() float64 {
	return decimal.NewFromFloat(o.Quantity).Sub(decimal.NewFromFloat(o.FilledQty)).InexactFloat64()
}

func (o TrackedOrder) clone() TrackedOrder {
	o.Fills = append([]FillEvent(nil), o.Fills...)
	return o
}
