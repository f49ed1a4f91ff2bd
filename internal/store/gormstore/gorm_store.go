package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"autotrade/internal/execlog"
	"autotrade/internal/order"
	"autotrade/internal/types"
)

// GormStore 用 Gorm + SQLite 持久化执行尝试与订单生命周期。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&attemptModel{}, &orderModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// WAL 下允许少量并发读（HTTP 查询），写入由 AsyncSink 串行化。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type attemptModel struct {
	ID          int64   `gorm:"column:id;primaryKey;autoIncrement"`
	AttemptID   int64   `gorm:"column:attempt_id;index"`
	TS          int64   `gorm:"column:ts;index"`
	Symbol      string  `gorm:"column:symbol;index"`
	Side        string  `gorm:"column:side"`
	Quantity    float64 `gorm:"column:qty"`
	Price       float64 `gorm:"column:price"`
	OrderType   string  `gorm:"column:order_type"`
	Success     bool    `gorm:"column:success"`
	Outcome     string  `gorm:"column:outcome;index"`
	ErrorKind   string  `gorm:"column:error_kind;index"`
	Reason      string  `gorm:"column:reason"`
	OrderID     string  `gorm:"column:order_id"`
	FilledQty   float64 `gorm:"column:filled_qty"`
	FilledPrice float64 `gorm:"column:filled_price"`
	TraceID     string  `gorm:"column:trace_id"`
}

func (attemptModel) TableName() string { return "execution_attempts" }

type orderModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	ClientOrderID  string         `gorm:"column:client_order_id"`
	Symbol         string         `gorm:"column:symbol;index"`
	Side           string         `gorm:"column:side"`
	Type           string         `gorm:"column:type"`
	Quantity       float64        `gorm:"column:qty"`
	LimitPrice     float64        `gorm:"column:limit_price"`
	StopPrice      float64        `gorm:"column:stop_price"`
	TakeProfit     float64        `gorm:"column:take_profit"`
	StopLoss       float64        `gorm:"column:stop_loss"`
	Status         string         `gorm:"column:status;index"`
	BrokerStatus   string         `gorm:"column:broker_status"`
	FilledQty      float64        `gorm:"column:filled_qty"`
	FilledAvgPrice float64        `gorm:"column:filled_avg_price"`
	FillsJSON      datatypes.JSON `gorm:"column:fills_json;type:TEXT"`
	ParentID       string         `gorm:"column:parent_id"`
	ReplacedBy     string         `gorm:"column:replaced_by"`
	Resolution     string         `gorm:"column:resolution"`
	LastError      string         `gorm:"column:last_error"`
	SubmittedAt    int64          `gorm:"column:submitted_at;index"`
	UpdatedAt      int64          `gorm:"column:updated_at"`
	TerminalAt     int64          `gorm:"column:terminal_at"`
}

func (orderModel) TableName() string { return "tracked_orders" }

func (s *GormStore) SaveAttempt(ctx context.Context, a execlog.ExecutionAttempt) error {
	m := attemptModel{
		AttemptID:   a.ID,
		TS:          a.Timestamp.UnixMilli(),
		Symbol:      a.Symbol,
		Side:        string(a.Side),
		Quantity:    a.Quantity,
		Price:       a.Price,
		OrderType:   a.OrderType,
		Success:     a.Success,
		Outcome:     string(a.Outcome),
		ErrorKind:   string(a.ErrorKind),
		Reason:      a.Reason,
		OrderID:     a.OrderID,
		FilledQty:   a.FilledQty,
		FilledPrice: a.FilledPrice,
		TraceID:     a.TraceID,
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// UpsertOrder 以订单 ID 覆盖写入最新状态。
func (s *GormStore) UpsertOrder(ctx context.Context, o order.TrackedOrder) error {
	fills, err := json.Marshal(o.Fills)
	if err != nil {
		return err
	}
	m := orderModel{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           o.Type,
		Quantity:       o.Quantity,
		LimitPrice:     o.LimitPrice,
		StopPrice:      o.StopPrice,
		TakeProfit:     o.TakeProfit,
		StopLoss:       o.StopLoss,
		Status:         string(o.Status),
		BrokerStatus:   o.BrokerStatus,
		FilledQty:      o.FilledQty,
		FilledAvgPrice: o.FilledAvgPrice,
		FillsJSON:      datatypes.JSON(fills),
		ParentID:       o.ParentID,
		ReplacedBy:     o.ReplacedBy,
		Resolution:     string(o.Resolution),
		LastError:      o.LastError,
		SubmittedAt:    unixMilli(o.SubmittedAt),
		UpdatedAt:      unixMilli(o.UpdatedAt),
		TerminalAt:     unixMilli(o.TerminalAt),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&m).Error
}

// AttemptQuery 为空字段表示不过滤。
type AttemptQuery struct {
	Symbol    string
	ErrorKind string
	Limit     int
}

func (s *GormStore) ListAttempts(ctx context.Context, q AttemptQuery) ([]execlog.ExecutionAttempt, error) {
	tx := s.db.WithContext(ctx).Model(&attemptModel{})
	if q.Symbol != "" {
		tx = tx.Where("symbol = ?", strings.ToUpper(q.Symbol))
	}
	if q.ErrorKind != "" {
		tx = tx.Where("error_kind = ?", q.ErrorKind)
	}
	var rows []attemptModel
	if err := tx.Order("ts DESC, id DESC").Limit(clampLimit(q.Limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]execlog.ExecutionAttempt, 0, len(rows))
	for _, m := range rows {
		out = append(out, execlog.ExecutionAttempt{
			ID:          m.AttemptID,
			Timestamp:   time.UnixMilli(m.TS).UTC(),
			Symbol:      m.Symbol,
			Side:        types.Side(m.Side),
			Quantity:    m.Quantity,
			Price:       m.Price,
			OrderType:   m.OrderType,
			Success:     m.Success,
			Outcome:     execlog.Outcome(m.Outcome),
			ErrorKind:   execlog.ErrorKind(m.ErrorKind),
			Reason:      m.Reason,
			OrderID:     m.OrderID,
			FilledQty:   m.FilledQty,
			FilledPrice: m.FilledPrice,
			TraceID:     m.TraceID,
		})
	}
	return out, nil
}

func (s *GormStore) GetOrder(ctx context.Context, id string) (order.TrackedOrder, bool, error) {
	var m orderModel
	res := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&m)
	if res.Error != nil {
		return order.TrackedOrder{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return order.TrackedOrder{}, false, nil
	}
	o, err := m.toTracked()
	return o, err == nil, err
}

// ListOrders 按提交时间倒序返回订单历史。
func (s *GormStore) ListOrders(ctx context.Context, symbol string, limit int) ([]order.TrackedOrder, error) {
	tx := s.db.WithContext(ctx).Model(&orderModel{})
	if symbol != "" {
		tx = tx.Where("symbol = ?", strings.ToUpper(symbol))
	}
	var rows []orderModel
	if err := tx.Order("submitted_at DESC").Limit(clampLimit(limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]order.TrackedOrder, 0, len(rows))
	for _, m := range rows {
		o, err := m.toTracked()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (m orderModel) toTracked() (order.TrackedOrder, error) {
	o := order.TrackedOrder{
		ID:             m.ID,
		ClientOrderID:  m.ClientOrderID,
		Symbol:         m.Symbol,
		Side:           types.Side(m.Side),
		Type:           m.Type,
		Quantity:       m.Quantity,
		LimitPrice:     m.LimitPrice,
		StopPrice:      m.StopPrice,
		TakeProfit:     m.TakeProfit,
		StopLoss:       m.StopLoss,
		Status:         order.Status(m.Status),
		BrokerStatus:   m.BrokerStatus,
		FilledQty:      m.FilledQty,
		FilledAvgPrice: m.FilledAvgPrice,
		ParentID:       m.ParentID,
		ReplacedBy:     m.ReplacedBy,
		Resolution:     order.Action(m.Resolution),
		LastError:      m.LastError,
		SubmittedAt:    fromMilli(m.SubmittedAt),
		UpdatedAt:      fromMilli(m.UpdatedAt),
		TerminalAt:     fromMilli(m.TerminalAt),
	}
	if len(m.FillsJSON) > 0 {
		if err := json.Unmarshal(m.FillsJSON, &o.Fills); err != nil {
			return order.TrackedOrder{}, fmt.Errorf("decode fills of %s: %w", m.ID, err)
		}
	}
	return o, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
