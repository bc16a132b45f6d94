package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"aurum/internal/market"

	_ "modernc.org/sqlite"
)

// Store 持久化各 symbol@timeframe 的历史 K 线。
// 行以 (symbol, timeframe, timestamp) 唯一，写入后不再更新；
// 重复写入通过 INSERT OR IGNORE 吸收。
type Store struct {
	db   *sql.DB
	path string
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("market data 路径不能为空")
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
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS market_data (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol      TEXT NOT NULL,
			timeframe   TEXT NOT NULL,
			timestamp   INTEGER NOT NULL,
			open        REAL NOT NULL,
			high        REAL NOT NULL,
			low         REAL NOT NULL,
			close       REAL NOT NULL,
			volume      INTEGER NOT NULL DEFAULT 0,
			created_at  INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uix_symbol_timeframe_timestamp
			ON market_data (symbol, timeframe, timestamp);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func normalizeKey(symbol, timeframe string) (string, string) {
	return strings.ToUpper(strings.TrimSpace(symbol)), strings.ToLower(strings.TrimSpace(timeframe))
}

// InsertCandles 批量写入 K 线，冲突即跳过，返回实际新增行数。
func (s *Store) InsertCandles(ctx context.Context, symbol, timeframe string, candles []market.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	symbol, timeframe = normalizeKey(symbol, timeframe)
	if symbol == "" || timeframe == "" {
		return 0, fmt.Errorf("symbol/timeframe 不能为空")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO market_data (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	inserted := 0
	for _, c := range candles {
		res, err := stmt.ExecContext(ctx, symbol, timeframe, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// RangeCandles 按时间升序返回区间内的 K 线；start/end 为 0 表示该侧不限。
func (s *Store) RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	symbol, timeframe = normalizeKey(symbol, timeframe)
	if symbol == "" || timeframe == "" {
		return nil, fmt.Errorf("symbol/timeframe 不能为空")
	}
	if start > 0 && end > 0 && end < start {
		start, end = end, start
	}
	query := `SELECT timestamp, open, high, low, close, volume FROM market_data WHERE symbol = ? AND timeframe = ?`
	args := []any{symbol, timeframe}
	if start > 0 {
		query += ` AND timestamp >= ?`
		args = append(args, start)
	}
	if end > 0 {
		query += ` AND timestamp <= ?`
		args = append(args, end)
	}
	query += ` ORDER BY timestamp ASC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// Count 返回某 symbol@timeframe 已缓存的行数。
func (s *Store) Count(ctx context.Context, symbol, timeframe string) (int64, error) {
	symbol, timeframe = normalizeKey(symbol, timeframe)
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM market_data WHERE symbol = ? AND timeframe = ?`, symbol, timeframe)
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
