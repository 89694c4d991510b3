// Package recorder 把交易流水归档到SQLite，供外部报表工具查询
package recorder

import (
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/kokinoge/aiCrypto/internal/clock"
	"github.com/kokinoge/aiCrypto/internal/trading"
)

// Recorder 交易归档接口
type Recorder interface {
	RecordOpen(result *trading.Result) error
	RecordClose(event trading.ExitEvent) error
	RecordHalt(reason string, equity float64) error
	Close() error
}

// SQLiteRecorder 基于SQLite的归档实现
type SQLiteRecorder struct {
	logger *zap.Logger
	clock  clock.Clock
	db     *sql.DB
	mu     sync.Mutex
}

// NewSQLiteRecorder 打开或创建归档库并执行建表迁移
func NewSQLiteRecorder(dbPath string, clk clock.Clock, logger *zap.Logger) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开归档库失败: %w", err)
	}

	// WAL模式，写入时不阻塞外部报表读取
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("设置WAL模式失败: %w", err)
	}

	r := &SQLiteRecorder{
		logger: logger.With(zap.String("component", "recorder")),
		clock:  clk,
		db:     db,
	}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("归档库迁移失败: %w", err)
	}

	r.logger.Info("交易归档库已打开", zap.String("path", dbPath))
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trade_opens (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			coin      TEXT NOT NULL,
			side      TEXT NOT NULL,
			size      REAL,
			price     REAL,
			order_id  TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_opens_ts ON trade_opens(timestamp)`,

		`CREATE TABLE IF NOT EXISTS trade_closes (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			coin        TEXT NOT NULL,
			side        TEXT NOT NULL,
			size        REAL,
			entry_price REAL,
			exit_price  REAL,
			pnl         REAL,
			reason      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_closes_ts ON trade_closes(timestamp)`,

		`CREATE TABLE IF NOT EXISTS halt_events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			reason    TEXT,
			equity    REAL
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("执行建表语句失败: %w", err)
		}
	}
	return nil
}

// RecordOpen 归档一次开仓
func (r *SQLiteRecorder) RecordOpen(result *trading.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO trade_opens
		(timestamp, coin, side, size, price, order_id)
		VALUES (?,?,?,?,?,?)`,
		r.clock.Now().Unix(), result.Coin, result.Side,
		result.Size, result.Price, result.OrderID,
	)
	return err
}

// RecordClose 归档一次平仓
func (r *SQLiteRecorder) RecordClose(event trading.ExitEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO trade_closes
		(timestamp, coin, side, size, entry_price, exit_price, pnl, reason)
		VALUES (?,?,?,?,?,?,?,?)`,
		r.clock.Now().Unix(), event.Coin, event.Side, event.Size,
		event.EntryPrice, event.ExitPrice, event.PnL, event.Reason,
	)
	return err
}

// RecordHalt 归档一次熔断
func (r *SQLiteRecorder) RecordHalt(reason string, equity float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO halt_events (timestamp, reason, equity) VALUES (?,?,?)`,
		r.clock.Now().Unix(), reason, equity,
	)
	return err
}

// Close 关闭归档库
func (r *SQLiteRecorder) Close() error {
	r.logger.Info("关闭交易归档库")
	return r.db.Close()
}

// NoopRecorder 归档关闭时的空实现
type NoopRecorder struct{}

func (NoopRecorder) RecordOpen(*trading.Result) error          { return nil }
func (NoopRecorder) RecordClose(trading.ExitEvent) error       { return nil }
func (NoopRecorder) RecordHalt(string, float64) error          { return nil }
func (NoopRecorder) Close() error                              { return nil }
