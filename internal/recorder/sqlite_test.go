package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kokinoge/aiCrypto/internal/clock"
	"github.com/kokinoge/aiCrypto/internal/trading"
)

func TestSQLiteRecorder_写入归档(t *testing.T) {
	logger := zaptest.NewLogger(t)
	clk := clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "trades.db")

	r, err := NewSQLiteRecorder(path, clk, logger)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.RecordOpen(&trading.Result{
		Success: true, Coin: "BTC", Side: "long", Size: 6, Price: 100, OrderID: "paper",
	}))
	require.NoError(t, r.RecordClose(trading.ExitEvent{
		Coin: "BTC", Side: "long", Size: 6,
		EntryPrice: 100, ExitPrice: 110, PnL: 60, Reason: trading.ReasonTakeProfit,
	}))
	require.NoError(t, r.RecordHalt("回撤超限", 780))

	var opens, closes, halts int
	require.NoError(t, r.db.QueryRow("SELECT COUNT(*) FROM trade_opens").Scan(&opens))
	require.NoError(t, r.db.QueryRow("SELECT COUNT(*) FROM trade_closes").Scan(&closes))
	require.NoError(t, r.db.QueryRow("SELECT COUNT(*) FROM halt_events").Scan(&halts))
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, closes)
	assert.Equal(t, 1, halts)

	var pnl float64
	var reason string
	require.NoError(t, r.db.QueryRow("SELECT pnl, reason FROM trade_closes").Scan(&pnl, &reason))
	assert.Equal(t, 60.0, pnl)
	assert.Equal(t, trading.ReasonTakeProfit, reason)
}

func TestSQLiteRecorder_重复打开幂等迁移(t *testing.T) {
	logger := zaptest.NewLogger(t)
	clk := clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "trades.db")

	r1, err := NewSQLiteRecorder(path, clk, logger)
	require.NoError(t, err)
	require.NoError(t, r1.RecordHalt("测试", 1000))
	require.NoError(t, r1.Close())

	// 再次打开不破坏已有数据
	r2, err := NewSQLiteRecorder(path, clk, logger)
	require.NoError(t, err)
	defer r2.Close()

	var halts int
	require.NoError(t, r2.db.QueryRow("SELECT COUNT(*) FROM halt_events").Scan(&halts))
	assert.Equal(t, 1, halts)
}
