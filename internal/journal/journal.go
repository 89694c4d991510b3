package journal

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kokinoge/aiCrypto/internal/clock"
	"github.com/kokinoge/aiCrypto/internal/signal"
	"github.com/kokinoge/aiCrypto/internal/storage"
)

// 各类记录列表的容量上限，FIFO淘汰最旧记录
const maxEntries = 100

// AdvisorOpinion 单个顾问对信号的意见
type AdvisorOpinion struct {
	Recommendation string `json:"recommendation"` // buy 或 skip
	Comment        string `json:"comment,omitempty"`
}

// DecisionSummary 最终决策摘要
type DecisionSummary struct {
	ShouldExecute      bool    `json:"should_execute"`
	AdjustedConfidence float64 `json:"adjusted_confidence"`
	SizeModifier       float64 `json:"size_modifier"`
	Reasoning          string  `json:"reasoning,omitempty"`
}

// AnalysisRecord 一次信号分析的完整记录
type AnalysisRecord struct {
	Timestamp  time.Time                 `json:"timestamp"`
	Coin       string                    `json:"coin"`
	Side       string                    `json:"side"`
	Confidence float64                   `json:"confidence"`
	Source     string                    `json:"source"`
	Advisors   map[string]AdvisorOpinion `json:"advisors,omitempty"`
	Decision   DecisionSummary           `json:"decision"`
}

// TradeResult 一笔已平仓交易的结果
type TradeResult struct {
	Timestamp  time.Time `json:"timestamp"`
	Coin       string    `json:"coin"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
	Reason     string    `json:"reason"`
}

// ReviewData 交易复盘内容
type ReviewData struct {
	Summary            string `json:"summary,omitempty"`
	Lesson             string `json:"lesson,omitempty"`
	StrategyAdjustment string `json:"strategy_adjustment,omitempty"`
}

// ReviewRecord 一次交易复盘记录
type ReviewRecord struct {
	Timestamp time.Time  `json:"timestamp"`
	Coin      string     `json:"coin"`
	Review    ReviewData `json:"review"`
}

// Lesson 从复盘中提炼的教训
type Lesson struct {
	Timestamp time.Time `json:"timestamp"`
	Coin      string    `json:"coin"`
	Lesson    string    `json:"lesson"`
}

// journalData 日志文件的持久化结构
type journalData struct {
	Analyses []AnalysisRecord `json:"analyses"`
	Trades   []TradeResult    `json:"trades"`
	Reviews  []ReviewRecord   `json:"reviews"`
	Lessons  []Lesson         `json:"lessons"`
}

// Journal 持久化的交易学习日志
// 进程内单实例，每次写操作立即落盘
type Journal struct {
	logger *zap.Logger
	store  *storage.SnapshotStore
	clock  clock.Clock

	mu   sync.Mutex
	data journalData
}

// NewJournal 创建并加载交易日志，文件缺失或损坏时从空白开始
func NewJournal(store *storage.SnapshotStore, clk clock.Clock, logger *zap.Logger) *Journal {
	j := &Journal{
		logger: logger.With(zap.String("component", "trade_journal")),
		store:  store,
		clock:  clk,
	}
	if !store.Load(&j.data) {
		j.data = journalData{}
	}
	return j
}

// RecordAnalysis 记录一次信号分析
func (j *Journal) RecordAnalysis(sig *signal.Signal, advisors map[string]AdvisorOpinion, decision DecisionSummary) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	record := AnalysisRecord{
		Timestamp:  j.clock.Now(),
		Coin:       sig.Coin,
		Side:       sig.Side,
		Confidence: sig.Confidence,
		Source:     sig.Source,
		Advisors:   advisors,
		Decision:   decision,
	}
	j.data.Analyses = append(j.data.Analyses, record)
	j.data.Analyses = rotateAnalyses(j.data.Analyses)

	if err := j.save(); err != nil {
		return err
	}
	j.logger.Info("记录信号分析",
		zap.String("coin", record.Coin),
		zap.String("side", record.Side),
		zap.Float64("confidence", record.Confidence))
	return nil
}

// RecordTradeResult 记录一笔已平仓交易
func (j *Journal) RecordTradeResult(coin, side string, entryPrice, exitPrice, pnl float64, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	record := TradeResult{
		Timestamp:  j.clock.Now(),
		Coin:       coin,
		Side:       side,
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
		PnL:        pnl,
		Reason:     reason,
	}
	j.data.Trades = append(j.data.Trades, record)
	j.data.Trades = rotateTrades(j.data.Trades)

	if err := j.save(); err != nil {
		return err
	}
	j.logger.Info("记录交易结果",
		zap.String("coin", coin),
		zap.String("side", side),
		zap.Float64("pnl", pnl),
		zap.String("reason", reason))
	return nil
}

// RecordReview 记录一次交易复盘，并提炼教训
func (j *Journal) RecordReview(coin string, review ReviewData) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.clock.Now()
	j.data.Reviews = append(j.data.Reviews, ReviewRecord{
		Timestamp: now,
		Coin:      coin,
		Review:    review,
	})
	j.data.Reviews = rotateReviews(j.data.Reviews)

	if review.Lesson != "" {
		j.data.Lessons = append(j.data.Lessons, Lesson{
			Timestamp: now,
			Coin:      coin,
			Lesson:    review.Lesson,
		})
		j.data.Lessons = rotateLessons(j.data.Lessons)
	}

	if err := j.save(); err != nil {
		return err
	}
	j.logger.Info("记录交易复盘", zap.String("coin", coin))
	return nil
}

func (j *Journal) save() error {
	if err := j.store.Save(&j.data); err != nil {
		j.logger.Error("保存交易日志失败", zap.Error(err))
		return err
	}
	return nil
}

func rotateAnalyses(entries []AnalysisRecord) []AnalysisRecord {
	if len(entries) > maxEntries {
		return entries[len(entries)-maxEntries:]
	}
	return entries
}

func rotateTrades(entries []TradeResult) []TradeResult {
	if len(entries) > maxEntries {
		return entries[len(entries)-maxEntries:]
	}
	return entries
}

func rotateReviews(entries []ReviewRecord) []ReviewRecord {
	if len(entries) > maxEntries {
		return entries[len(entries)-maxEntries:]
	}
	return entries
}

func rotateLessons(entries []Lesson) []Lesson {
	if len(entries) > maxEntries {
		return entries[len(entries)-maxEntries:]
	}
	return entries
}
