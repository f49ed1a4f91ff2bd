// Package journal 把 Trade Gate 的每次裁决写入 SQLite，供事后复盘。
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"autotrade/internal/gate"
	"autotrade/internal/types"

	_ "modernc.org/sqlite"
)

// Store 管理 gate_decisions 表。
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Query 用于筛选裁决记录。
type Query struct {
	Symbol   string
	Decision string
	Since    time.Time
	Limit    int
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("gate journal path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS gate_decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			proposal_id TEXT,
			symbol TEXT NOT NULL,
			side TEXT,
			decision TEXT NOT NULL,
			confidence REAL,
			signal_score REAL,
			reasons_json TEXT,
			concerns_json TEXT,
			suggested_stop REAL,
			suggested_target REAL,
			size_multiplier REAL,
			latency_ms INTEGER,
			evaluator TEXT,
			cached INTEGER,
			created_at INTEGER NOT NULL
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_gate_decisions_ts ON gate_decisions(ts);`,
		`CREATE INDEX IF NOT EXISTS idx_gate_decisions_symbol ON gate_decisions(symbol);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("gate journal 未初始化")
	}
	return s.db, nil
}

// InsertDecision 写入一条裁决，返回自增 ID。
func (s *Store) InsertDecision(ctx context.Context, r gate.Result) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}
	ts := r.EvaluatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO gate_decisions
			(ts, proposal_id, symbol, side, decision, confidence, signal_score, reasons_json, concerns_json,
			 suggested_stop, suggested_target, size_multiplier, latency_ms, evaluator, cached, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UnixMilli(),
		r.ProposalID,
		strings.ToUpper(r.Symbol),
		string(r.Side),
		string(r.Decision),
		r.Confidence,
		r.SignalScore,
		encode(r.Reasons),
		encode(r.Concerns),
		r.SuggestedStop,
		r.SuggestedTarget,
		r.SizeMultiplier,
		r.Latency.Milliseconds(),
		r.Evaluator,
		boolToInt(r.Cached),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// List 按时间倒序返回裁决记录。
func (s *Store) List(ctx context.Context, q Query) ([]gate.Result, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if sym := strings.TrimSpace(q.Symbol); sym != "" {
		where = append(where, "symbol = ?")
		args = append(args, strings.ToUpper(sym))
	}
	if d := strings.TrimSpace(q.Decision); d != "" {
		where = append(where, "decision = ?")
		args = append(args, strings.ToLower(d))
	}
	if !q.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ts, proposal_id, symbol, side, decision, confidence, signal_score, reasons_json, concerns_json,
		suggested_stop, suggested_target, size_multiplier, latency_ms, evaluator, cached
		FROM gate_decisions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []gate.Result
	for rows.Next() {
		var (
			r                 gate.Result
			ts, latency       int64
			side, decision    string
			proposalID, evalr sql.NullString
			reasons, concerns sql.NullString
			cached            int
		)
		if err := rows.Scan(&ts, &proposalID, &r.Symbol, &side, &decision, &r.Confidence, &r.SignalScore,
			&reasons, &concerns, &r.SuggestedStop, &r.SuggestedTarget, &r.SizeMultiplier, &latency, &evalr, &cached); err != nil {
			return nil, err
		}
		r.EvaluatedAt = time.UnixMilli(ts).UTC()
		r.ProposalID = proposalID.String
		r.Side = types.Side(side)
		r.Decision = gate.Decision(decision)
		r.Latency = time.Duration(latency) * time.Millisecond
		r.Evaluator = evalr.String
		r.Cached = cached != 0
		decode(reasons.String, &r.Reasons)
		decode(concerns.String, &r.Concerns)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Counts 统计每种裁决的次数。
func (s *Store) Counts(ctx context.Context, since time.Time) (map[gate.Decision]int, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT decision, COUNT(*) FROM gate_decisions WHERE ts >= ? GROUP BY decision`, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[gate.Decision]int)
	for rows.Next() {
		var (
			d string
			n int
		)
		if err := rows.Scan(&d, &n); err != nil {
			return nil, err
		}
		out[gate.Decision(d)] = n
	}
	return out, rows.Err()
}

func encode(v []string) string {
	if len(v) == 0 {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func decode(raw string, dst *[]string) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), dst)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
