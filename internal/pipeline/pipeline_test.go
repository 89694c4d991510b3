package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kokinoge/aiCrypto/internal/adaptive"
	"github.com/kokinoge/aiCrypto/internal/clock"
	"github.com/kokinoge/aiCrypto/internal/coinlist"
	"github.com/kokinoge/aiCrypto/internal/config"
	"github.com/kokinoge/aiCrypto/internal/exchange"
	"github.com/kokinoge/aiCrypto/internal/journal"
	"github.com/kokinoge/aiCrypto/internal/mocks"
	"github.com/kokinoge/aiCrypto/internal/notify"
	"github.com/kokinoge/aiCrypto/internal/oracle"
	"github.com/kokinoge/aiCrypto/internal/recorder"
	"github.com/kokinoge/aiCrypto/internal/risk"
	"github.com/kokinoge/aiCrypto/internal/rulebook"
	"github.com/kokinoge/aiCrypto/internal/signal"
	"github.com/kokinoge/aiCrypto/internal/storage"
	"github.com/kokinoge/aiCrypto/internal/trading"
)

type fixture struct {
	pipeline *Pipeline
	deps     Deps
	exch     *mocks.MockExchange
	ledger   *trading.PaperLedger
	journal  *journal.Journal
	rulebook *rulebook.Rulebook
	coinlist *coinlist.Manager
	tuner    *adaptive.Tuner
	engine   *risk.Engine
	clk      *clock.Fake
}

func newFixture(t *testing.T, orc oracle.Oracle) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()
	cfg := config.GetDefaultConfig()
	cfg.Trading.AllowedCoins = []string{"BTC", "ETH", "SOL"}

	clk := clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	exch := new(mocks.MockExchange)
	engine := risk.NewEngine(cfg.Risk, logger)

	j := journal.NewJournal(storage.NewSnapshotStore(filepath.Join(dir, "journal.json"), logger), clk, logger)
	tuner := adaptive.NewTuner(j, cfg.Risk, cfg.Signals, cfg.Adaptive.StalenessMinutes,
		storage.NewSnapshotStore(filepath.Join(dir, "adaptive.json"), logger), clk, logger)
	rb := rulebook.NewRulebook(storage.NewSnapshotStore(filepath.Join(dir, "rules.json"), logger), j, clk, logger)
	cl := coinlist.NewManager(storage.NewSnapshotStore(filepath.Join(dir, "coins.json"), logger), clk, logger)
	ledger := trading.NewPaperLedger(cfg, exch, engine, tuner,
		storage.NewSnapshotStore(filepath.Join(dir, "paper.json"), logger), clk, logger)

	deps := Deps{
		Config:       cfg,
		Exchange:     exch,
		Ledger:       ledger,
		RiskEngine:   engine,
		Tuner:        tuner,
		Rulebook:     rb,
		Journal:      j,
		Coinlist:     cl,
		Oracle:       orc,
		Recorder:     recorder.NoopRecorder{},
		Broadcaster:  notify.NewLogBroadcaster(logger),
		PendingStore: storage.NewSnapshotStore(filepath.Join(dir, "pending.json"), logger),
	}
	p := NewPipeline(deps, logger)

	return &fixture{
		pipeline: p, deps: deps, exch: exch, ledger: ledger, journal: j,
		rulebook: rb, coinlist: cl, tuner: tuner, engine: engine, clk: clk,
	}
}

func (f *fixture) mockMarket(coin string, price float64) {
	f.exch.On("GetMarketData", mock.Anything, coin).Return(&exchange.MarketData{
		Coin: coin, MarkPrice: price, FundingRate: 0.0001,
	}, nil)
	f.exch.On("GetPrice", mock.Anything, coin).Return(price, nil)
}

func (f *fixture) openPositions(t *testing.T) int {
	t.Helper()
	summary, err := f.ledger.Summary(context.Background())
	require.NoError(t, err)
	return summary.OpenPositions
}

func btcSignal(confidence float64) *signal.Signal {
	return &signal.Signal{
		Coin: "BTC", Side: signal.SideLong, Confidence: confidence,
		Source: "nansen", RawText: "whale buying BTC",
	}
}

func TestHandleSignal_端到端开仓(t *testing.T) {
	f := newFixture(t, nil)
	f.mockMarket("BTC", 100)

	f.pipeline.HandleSignal(context.Background(), btcSignal(0.8))
	assert.Equal(t, 1, f.openPositions(t))

	// 信心度不足的信号不开仓
	f.pipeline.HandleSignal(context.Background(), btcSignal(0.3))
	assert.Equal(t, 1, f.openPositions(t))
}

func TestHandleSignal_黑名单拦截(t *testing.T) {
	f := newFixture(t, nil)
	f.coinlist.Add("BTC", "测试拉黑")

	f.pipeline.HandleSignal(context.Background(), btcSignal(0.8))
	assert.Equal(t, 0, f.openPositions(t))
}

func TestHandleSignal_规则跳过短路(t *testing.T) {
	f := newFixture(t, nil)
	f.mockMarket("BTC", 100)
	f.rulebook.AddRule(&rulebook.StrategyRule{
		ID:            "rule_test0001",
		Description:   "规避BTC",
		ConditionType: rulebook.ConditionCoin,
		Condition:     rulebook.Condition{Coin: &rulebook.CoinCondition{Coin: "BTC"}},
		Action:        rulebook.ActionSkip,
		Active:        true,
	})

	f.pipeline.HandleSignal(context.Background(), btcSignal(0.9))
	assert.Equal(t, 0, f.openPositions(t))
}

func TestHandleSignal_规则降信心度后低于阈值(t *testing.T) {
	f := newFixture(t, nil)
	f.mockMarket("BTC", 100)
	f.rulebook.AddRule(&rulebook.StrategyRule{
		ID:            "rule_test0002",
		Description:   "BTC降权",
		ConditionType: rulebook.ConditionCoin,
		Condition:     rulebook.Condition{Coin: &rulebook.CoinCondition{Coin: "BTC"}},
		Action:        rulebook.ActionReduceConfidence,
		ActionValue:   0.3,
		Active:        true,
	})

	// 0.8 - 0.3 = 0.5 低于阈值0.6
	f.pipeline.HandleSignal(context.Background(), btcSignal(0.8))
	assert.Equal(t, 0, f.openPositions(t))
}

func TestHandleSignal_缩仓规则作用于仓位(t *testing.T) {
	f := newFixture(t, nil)
	f.mockMarket("BTC", 100)
	f.rulebook.AddRule(&rulebook.StrategyRule{
		ID:            "rule_test0003",
		Description:   "BTC减半仓",
		ConditionType: rulebook.ConditionCoin,
		Condition:     rulebook.Condition{Coin: &rulebook.CoinCondition{Coin: "BTC"}},
		Action:        rulebook.ActionReduceSize,
		ActionValue:   0.5,
		Active:        true,
	})

	f.pipeline.HandleSignal(context.Background(), btcSignal(0.8))
	state, err := f.ledger.AccountState(context.Background())
	require.NoError(t, err)
	require.Len(t, state.Positions, 1)
	// 基础仓位6，无历史交易时自适应0.8倍，规则再乘0.5: 6×0.8×0.5 = 2.4
	assert.InDelta(t, 2.4, state.Positions[0].Size, 1e-9)
}

func TestHandleSignal_外部裁决否决(t *testing.T) {
	orc := new(mocks.MockOracle)
	f := newFixture(t, orc)
	f.mockMarket("BTC", 100)

	orc.On("Deliberate", mock.Anything, mock.Anything).Return(&oracle.Decision{
		ShouldExecute: false, Reasoning: "资金面背离",
	}, nil)

	f.pipeline.HandleSignal(context.Background(), btcSignal(0.8))
	assert.Equal(t, 0, f.openPositions(t))
}

func TestHandleSignal_裁决服务失败按信心度回退(t *testing.T) {
	orc := new(mocks.MockOracle)
	f := newFixture(t, orc)
	f.mockMarket("BTC", 100)

	orc.On("Deliberate", mock.Anything, mock.Anything).Return(nil, errors.New("超时"))

	f.pipeline.HandleSignal(context.Background(), btcSignal(0.8))
	assert.Equal(t, 1, f.openPositions(t))
}

func TestRunExitCheck_平仓闭环(t *testing.T) {
	orc := new(mocks.MockOracle)
	f := newFixture(t, orc)
	f.mockMarket("BTC", 100)
	orc.On("Deliberate", mock.Anything, mock.Anything).Return(&oracle.Decision{
		ShouldExecute: true, AdjustedConfidence: 0.8, PositionSizeModifier: 1.0,
	}, nil)
	orc.On("ReviewTrade", mock.Anything, mock.Anything).Return(&oracle.Review{
		Summary:            "止盈离场",
		Lesson:             "趋势行情应持有更久",
		StrategyAdjustment: "avoid DOGE signals for now",
	}, nil)

	ctx := context.Background()
	f.pipeline.HandleSignal(ctx, btcSignal(0.8))
	require.Equal(t, 1, f.openPositions(t))

	// 价格到达止盈
	f.exch.ExpectedCalls = nil
	f.mockMarket("BTC", 120)
	f.pipeline.RunExitCheck(ctx)

	assert.Equal(t, 0, f.openPositions(t))

	// 交易结果入日记
	trades := f.journal.PastTrades("BTC", 10)
	require.Len(t, trades, 1)
	assert.Equal(t, trading.ReasonTakeProfit, trades[0].Reason)
	assert.Positive(t, trades[0].PnL)

	// 复盘教训入日记，策略调整派生出规则
	lessons := f.journal.Lessons(5)
	require.Len(t, lessons, 1)
	assert.Equal(t, "趋势行情应持有更久", lessons[0].Lesson)

	rules := f.rulebook.ActiveRules()
	require.Len(t, rules, 1)
	assert.Equal(t, rulebook.ConditionCoin, rules[0].ConditionType)
	assert.Equal(t, "DOGE", rules[0].Condition.Coin.Coin)
}

func TestHandleSignal_顾问意见入日记核算准确率(t *testing.T) {
	orc := new(mocks.MockOracle)
	f := newFixture(t, orc)
	f.mockMarket("BTC", 100)
	orc.On("Deliberate", mock.Anything, mock.Anything).Return(&oracle.Decision{
		ShouldExecute: true, AdjustedConfidence: 0.8, PositionSizeModifier: 1.0,
		Advisors: map[string]journal.AdvisorOpinion{
			"onchain_analyst": {Recommendation: "buy", Comment: "链上流入持续"},
			"momentum_trader": {Recommendation: "skip", Comment: "动能不足"},
		},
	}, nil)
	orc.On("ReviewTrade", mock.Anything, mock.Anything).Return(&oracle.Review{}, nil)

	ctx := context.Background()
	f.pipeline.HandleSignal(ctx, btcSignal(0.8))
	require.Equal(t, 1, f.openPositions(t))

	// 止盈落地后，buy推荐判对、skip推荐判错
	f.exch.ExpectedCalls = nil
	f.mockMarket("BTC", 120)
	f.pipeline.RunExitCheck(ctx)

	accuracy := f.journal.AdvisorAccuracy()
	require.Contains(t, accuracy, "onchain_analyst")
	require.Contains(t, accuracy, "momentum_trader")
	assert.Equal(t, 1, accuracy["onchain_analyst"].Total)
	assert.Equal(t, 1, accuracy["onchain_analyst"].Correct)
	assert.Equal(t, 1, accuracy["momentum_trader"].Total)
	assert.Equal(t, 0, accuracy["momentum_trader"].Correct)
}

func TestRunWeeklyReview_采纳建议规则(t *testing.T) {
	orc := new(mocks.MockOracle)
	f := newFixture(t, orc)

	proposals := []oracle.ProposedRule{
		{
			Description:   "规避近期连亏的DOGE",
			ConditionType: rulebook.ConditionCoin,
			Condition:     rulebook.Condition{Coin: &rulebook.CoinCondition{Coin: "DOGE"}},
			Action:        rulebook.ActionSkip,
		},
		{Description: "周末信号整体降权"},
		{Description: ""}, // 空描述应被丢弃
		{Description: "大金额信号更可靠"},
		{Description: "高资金费率做多谨慎"},
		{Description: "连亏后减仓"},
		{Description: "第六条有效建议不应入库"},
	}
	orc.On("WeeklyReview", mock.Anything, mock.Anything).Return(&oracle.WeeklyReport{
		Summary:       "本周整体持平",
		ProposedRules: proposals,
	}, nil)

	f.pipeline.RunWeeklyReview(context.Background())

	// 每轮最多采纳5条，来源统一标记为weekly_review
	rules := f.rulebook.ActiveRules()
	require.Len(t, rules, 5)
	for _, rule := range rules {
		assert.Equal(t, "weekly_review", rule.Source)
	}
	assert.Equal(t, rulebook.ConditionCoin, rules[0].ConditionType)
	assert.Equal(t, rulebook.ActionSkip, rules[0].Action)

	// 缺省条件与动作补为自定义条件加小幅降信心
	assert.Equal(t, rulebook.ConditionCustom, rules[1].ConditionType)
	assert.Equal(t, rulebook.ActionReduceConfidence, rules[1].Action)
	assert.InDelta(t, 0.1, rules[1].ActionValue, 1e-9)
}

func TestRunWeeklyReview_服务缺席仍广播战绩(t *testing.T) {
	f := newFixture(t, nil)

	f.pipeline.RunWeeklyReview(context.Background())
	assert.Empty(t, f.rulebook.ActiveRules())
}

func TestRunExitCheck_重启后规则结果仍回填(t *testing.T) {
	f := newFixture(t, nil)
	f.mockMarket("BTC", 100)
	f.rulebook.AddRule(&rulebook.StrategyRule{
		ID:            "rule_test0004",
		Description:   "BTC减仓警示",
		ConditionType: rulebook.ConditionCoin,
		Condition:     rulebook.Condition{Coin: &rulebook.CoinCondition{Coin: "BTC"}},
		Action:        rulebook.ActionReduceSize,
		ActionValue:   0.5,
		Active:        true,
	})

	ctx := context.Background()
	f.pipeline.HandleSignal(ctx, btcSignal(0.8))
	require.Equal(t, 1, f.openPositions(t))

	// 重建管线模拟进程重启，待回填规则从快照恢复
	restarted := NewPipeline(f.deps, zaptest.NewLogger(t))

	// 止损离场，警示规则判对
	f.exch.ExpectedCalls = nil
	f.mockMarket("BTC", 90)
	restarted.RunExitCheck(ctx)
	require.Equal(t, 0, f.openPositions(t))

	rules := f.rulebook.ActiveRules()
	require.Len(t, rules, 1)
	assert.Equal(t, 1, rules[0].TimesCorrect)
}

func TestRunStatusCheck_回撤触发熔断闭环(t *testing.T) {
	f := newFixture(t, nil)
	f.mockMarket("BTC", 100)
	ctx := context.Background()

	f.pipeline.HandleSignal(ctx, btcSignal(0.8))
	require.Equal(t, 1, f.openPositions(t))

	// 价格暴跌但在止损前巡检，回撤超限触发熔断与强平
	f.exch.ExpectedCalls = nil
	f.mockMarket("BTC", 30)
	f.pipeline.RunStatusCheck(ctx)

	assert.True(t, f.engine.Halted())
	assert.Equal(t, 0, f.openPositions(t))

	// 熔断后新信号一律被拒
	f.exch.ExpectedCalls = nil
	f.mockMarket("ETH", 50)
	f.pipeline.HandleSignal(ctx, &signal.Signal{Coin: "ETH", Side: signal.SideLong, Confidence: 0.9, Source: "nansen"})
	assert.Equal(t, 0, f.openPositions(t))
}
