package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kokinoge/aiCrypto/internal/clock"
	"github.com/kokinoge/aiCrypto/internal/signal"
	"github.com/kokinoge/aiCrypto/internal/storage"
)

func newTestJournal(t *testing.T) (*Journal, *clock.Fake) {
	t.Helper()
	store := storage.NewSnapshotStore(filepath.Join(t.TempDir(), "trade_journal.json"), zaptest.NewLogger(t))
	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewJournal(store, fake, zaptest.NewLogger(t)), fake
}

func recordTrades(t *testing.T, j *Journal, pnls ...float64) {
	t.Helper()
	for _, pnl := range pnls {
		require.NoError(t, j.RecordTradeResult("BTC", signal.SideLong, 100, 100+pnl, pnl, "STOP_LOSS"))
	}
}

func TestWinRate(t *testing.T) {
	j, _ := newTestJournal(t)

	assert.Equal(t, WinRateStats{}, j.WinRate())

	recordTrades(t, j, 10, -5, 20, -5)
	stats := j.WinRate()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Wins)
	assert.Equal(t, 2, stats.Losses)
	assert.InDelta(t, 0.5, stats.WinRate, 0.001)
	assert.InDelta(t, 15.0, stats.AvgWin, 0.001)
	assert.InDelta(t, -5.0, stats.AvgLoss, 0.001)
}

func TestZeroPnLCountsAsLoss(t *testing.T) {
	j, _ := newTestJournal(t)
	recordTrades(t, j, 0)

	stats := j.WinRate()
	assert.Equal(t, 1, stats.Losses)
	assert.Equal(t, 0, stats.Wins)
}

func TestStreak(t *testing.T) {
	j, _ := newTestJournal(t)

	streakType, count := j.Streak()
	assert.Equal(t, "none", streakType)
	assert.Equal(t, 0, count)

	recordTrades(t, j, 1, 1, 1, -5, -5, -5)
	streakType, count = j.Streak()
	assert.Equal(t, "loss", streakType)
	assert.Equal(t, 3, count)

	recordTrades(t, j, 2)
	streakType, count = j.Streak()
	assert.Equal(t, "win", streakType)
	assert.Equal(t, 1, count)
}

func TestPastTradesFilterAndLimit(t *testing.T) {
	j, _ := newTestJournal(t)
	require.NoError(t, j.RecordTradeResult("BTC", signal.SideLong, 100, 110, 10, "TAKE_PROFIT"))
	require.NoError(t, j.RecordTradeResult("ETH", signal.SideShort, 50, 48, 4, "TAKE_PROFIT"))
	require.NoError(t, j.RecordTradeResult("BTC", signal.SideLong, 100, 95, -5, "STOP_LOSS"))

	btcTrades := j.PastTrades("BTC", 20)
	require.Len(t, btcTrades, 2)
	assert.Equal(t, -5.0, btcTrades[1].PnL)

	all := j.PastTrades("", 2)
	require.Len(t, all, 2)
	assert.Equal(t, "ETH", all[0].Coin)
}

func TestRotationCap(t *testing.T) {
	j, _ := newTestJournal(t)
	for i := 0; i < 120; i++ {
		require.NoError(t, j.RecordTradeResult("BTC", signal.SideLong, 100, 101, 1, "TAKE_PROFIT"))
	}
	assert.Len(t, j.PastTrades("", 0), 100)
}

func TestCoinStats(t *testing.T) {
	j, _ := newTestJournal(t)
	require.NoError(t, j.RecordTradeResult("SOL", signal.SideLong, 10, 11, 1, "TAKE_PROFIT"))
	require.NoError(t, j.RecordTradeResult("SOL", signal.SideLong, 10, 9, -1, "STOP_LOSS"))
	require.NoError(t, j.RecordTradeResult("SOL", signal.SideLong, 10, 9, -1, "STOP_LOSS"))
	require.NoError(t, j.RecordTradeResult("ETH", signal.SideLong, 10, 11, 1, "TAKE_PROFIT"))

	stats := j.CoinStats(3)
	require.Contains(t, stats, "SOL")
	// 样本不足的币种不参与统计
	assert.NotContains(t, stats, "ETH")

	sol := stats["SOL"]
	assert.Equal(t, 3, sol.Total)
	assert.InDelta(t, 0.33, sol.WinRate, 0.001)
	assert.InDelta(t, -1.0, sol.TotalPnL, 0.001)
}

func TestHourlyStats(t *testing.T) {
	j, fake := newTestJournal(t)

	recordTrades(t, j, 5)
	fake.Advance(2 * time.Hour)
	recordTrades(t, j, -3, -4)

	stats := j.HourlyStats()
	require.Contains(t, stats, 12)
	require.Contains(t, stats, 14)
	assert.Equal(t, 1, stats[12].Wins)
	assert.Equal(t, 2, stats[14].Losses)
}

func TestAdvisorAccuracy(t *testing.T) {
	j, _ := newTestJournal(t)

	sig := &signal.Signal{Coin: "BTC", Side: signal.SideLong, Confidence: 0.8, Source: "nansen"}
	advisors := map[string]AdvisorOpinion{
		"researcher": {Recommendation: "buy"},
		"skeptic":    {Recommendation: "skip"},
	}
	require.NoError(t, j.RecordAnalysis(sig, advisors, DecisionSummary{ShouldExecute: true}))
	require.NoError(t, j.RecordTradeResult("BTC", signal.SideLong, 100, 110, 10, "TAKE_PROFIT"))

	accuracy := j.AdvisorAccuracy()
	require.Contains(t, accuracy, "researcher")
	require.Contains(t, accuracy, "skeptic")
	assert.Equal(t, 1, accuracy["researcher"].Correct)
	assert.Equal(t, 0, accuracy["skeptic"].Correct)
	assert.InDelta(t, 1.0, accuracy["researcher"].Accuracy, 0.001)
}

func TestReviewExtractsLesson(t *testing.T) {
	j, _ := newTestJournal(t)

	require.NoError(t, j.RecordReview("BTC", ReviewData{
		Summary: "stop too tight",
		Lesson:  "avoid opening right before funding settlement",
	}))
	require.NoError(t, j.RecordReview("ETH", ReviewData{Summary: "no lesson here"}))

	lessons := j.Lessons(10)
	require.Len(t, lessons, 1)
	assert.Equal(t, "BTC", lessons[0].Coin)

	text := j.RecentLessonsText(5)
	assert.Contains(t, text, "1. [BTC]")
}

func TestPerformanceSummary(t *testing.T) {
	j, _ := newTestJournal(t)

	assert.Contains(t, j.PerformanceSummary(30), "No trade history")

	recordTrades(t, j, 10, -5)
	summary := j.PerformanceSummary(30)
	assert.Contains(t, summary, "Win rate: 50%")
	assert.Contains(t, summary, "Best trade")
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewSnapshotStore(filepath.Join(dir, "trade_journal.json"), zaptest.NewLogger(t))
	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	j := NewJournal(store, fake, zaptest.NewLogger(t))
	require.NoError(t, j.RecordTradeResult("BTC", signal.SideLong, 100, 110, 10, "TAKE_PROFIT"))

	// 重新加载后数据一致
	reloaded := NewJournal(storage.NewSnapshotStore(store.Path(), zaptest.NewLogger(t)), fake, zaptest.NewLogger(t))
	trades := reloaded.PastTrades("", 0)
	require.Len(t, trades, 1)
	assert.Equal(t, 10.0, trades[0].PnL)
}
