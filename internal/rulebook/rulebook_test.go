package rulebook

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kokinoge/aiCrypto/internal/clock"
	"github.com/kokinoge/aiCrypto/internal/exchange"
	"github.com/kokinoge/aiCrypto/internal/journal"
	"github.com/kokinoge/aiCrypto/internal/signal"
	"github.com/kokinoge/aiCrypto/internal/storage"
)

func newTestRulebook(t *testing.T) (*Rulebook, *journal.Journal, *clock.Fake) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()
	clk := clock.NewFake(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))

	j := journal.NewJournal(storage.NewSnapshotStore(filepath.Join(dir, "journal.json"), logger), clk, logger)
	rb := NewRulebook(storage.NewSnapshotStore(filepath.Join(dir, "rules.json"), logger), j, clk, logger)
	return rb, j, clk
}

func coinRule(coin string, action Action, value float64) *StrategyRule {
	return &StrategyRule{
		ID:            generateRuleID(),
		Description:   "测试规则",
		ConditionType: ConditionCoin,
		Condition:     Condition{Coin: &CoinCondition{Coin: coin}},
		Action:        action,
		ActionValue:   value,
		Source:        "manual",
		Active:        true,
	}
}

func TestCheckSignal_Coin规则(t *testing.T) {
	rb, _, _ := newTestRulebook(t)
	rule := coinRule("DOGE", ActionSkip, 0)
	rb.AddRule(rule)

	matches := rb.CheckSignal(&signal.Signal{Coin: "DOGE", Side: signal.SideLong, Confidence: 0.7}, nil)
	require.Len(t, matches, 1)
	assert.Equal(t, rule.ID, matches[0].RuleID)
	assert.Equal(t, ActionSkip, matches[0].Action)

	// 不同币种不命中
	matches = rb.CheckSignal(&signal.Signal{Coin: "BTC", Side: signal.SideLong, Confidence: 0.7}, nil)
	assert.Empty(t, matches)

	active := rb.ActiveRules()
	require.Len(t, active, 1)
	assert.Equal(t, 1, active[0].TimesTriggered)
}

func TestCheckSignal_资金费率规则(t *testing.T) {
	rb, _, _ := newTestRulebook(t)
	rb.AddRule(&StrategyRule{
		ID:            generateRuleID(),
		Description:   "高资金费率做多降权",
		ConditionType: ConditionFundingRate,
		Condition: Condition{FundingRate: &FundingRateCondition{
			Direction:       "long",
			FundingAbovePct: 0.05,
		}},
		Action:      ActionReduceConfidence,
		ActionValue: 0.2,
		Active:      true,
	})

	sig := &signal.Signal{Coin: "BTC", Side: signal.SideLong, Confidence: 0.8}

	tests := []struct {
		name        string
		market      *exchange.MarketData
		side        string
		expectMatch bool
	}{
		{"费率超阈值且方向一致", &exchange.MarketData{FundingRate: 0.001}, signal.SideLong, true},
		{"负费率按绝对值判断", &exchange.MarketData{FundingRate: -0.001}, signal.SideLong, true},
		{"费率未超阈值", &exchange.MarketData{FundingRate: 0.0003}, signal.SideLong, false},
		{"方向不一致", &exchange.MarketData{FundingRate: 0.001}, signal.SideShort, false},
		{"缺少行情数据", nil, signal.SideLong, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := *sig
			s.Side = tt.side
			matches := rb.CheckSignal(&s, tt.market)
			if tt.expectMatch {
				assert.Len(t, matches, 1)
			} else {
				assert.Empty(t, matches)
			}
		})
	}
}

func TestCheckSignal_信号金额规则(t *testing.T) {
	rb, _, _ := newTestRulebook(t)
	rb.AddRule(&StrategyRule{
		ID:            generateRuleID(),
		Description:   "小额信号降权",
		ConditionType: ConditionSignalAmount,
		Condition:     Condition{SignalAmount: &SignalAmountCondition{BelowUSD: 10000}},
		Action:        ActionReduceSize,
		ActionValue:   0.3,
		Active:        true,
	})

	matches := rb.CheckSignal(&signal.Signal{
		Coin: "BTC", Side: signal.SideLong, Confidence: 0.7,
		RawText: "whale moved $5,000 to exchange",
	}, nil)
	assert.Len(t, matches, 1)

	// 金额高于阈值不命中
	matches = rb.CheckSignal(&signal.Signal{
		Coin: "BTC", Side: signal.SideLong, Confidence: 0.7,
		RawText: "whale moved $50,000 to exchange",
	}, nil)
	assert.Empty(t, matches)

	// 文本中没有金额不命中
	matches = rb.CheckSignal(&signal.Signal{
		Coin: "BTC", Side: signal.SideLong, Confidence: 0.7,
		RawText: "whale accumulating",
	}, nil)
	assert.Empty(t, matches)
}

func TestCheckSignal_时段规则(t *testing.T) {
	rb, _, clk := newTestRulebook(t)
	rb.AddRule(&StrategyRule{
		ID:            generateRuleID(),
		Description:   "凌晨时段规避",
		ConditionType: ConditionTimeWindow,
		Condition:     Condition{TimeWindow: &TimeWindowCondition{HoursUTC: []int{2, 3, 4}}},
		Action:        ActionSkip,
		Active:        true,
	})

	sig := &signal.Signal{Coin: "BTC", Side: signal.SideLong, Confidence: 0.7}

	// 当前14点，不在时段内
	assert.Empty(t, rb.CheckSignal(sig, nil))

	clk.Set(time.Date(2026, 3, 11, 3, 30, 0, 0, time.UTC))
	assert.Len(t, rb.CheckSignal(sig, nil), 1)
}

func TestCheckSignal_连亏规则(t *testing.T) {
	rb, j, _ := newTestRulebook(t)
	rb.AddRule(&StrategyRule{
		ID:            generateRuleID(),
		Description:   "连续亏损降仓",
		ConditionType: ConditionStreak,
		Condition:     Condition{Streak: &StreakCondition{ConsecutiveLosses: 3}},
		Action:        ActionReduceSize,
		ActionValue:   0.5,
		Active:        true,
	})

	sig := &signal.Signal{Coin: "BTC", Side: signal.SideLong, Confidence: 0.7}

	// 交易不足不命中
	j.RecordTradeResult("BTC", "long", 100, 95, -5, "STOP_LOSS")
	assert.Empty(t, rb.CheckSignal(sig, nil))

	j.RecordTradeResult("ETH", "long", 100, 95, -5, "STOP_LOSS")
	j.RecordTradeResult("SOL", "short", 100, 105, -5, "STOP_LOSS")
	assert.Len(t, rb.CheckSignal(sig, nil), 1)

	// 盈利打断连亏
	j.RecordTradeResult("BTC", "long", 100, 110, 10, "TAKE_PROFIT")
	assert.Empty(t, rb.CheckSignal(sig, nil))
}

func TestCheckSignal_自定义规则始终命中(t *testing.T) {
	rb, _, _ := newTestRulebook(t)
	rb.AddRule(&StrategyRule{
		ID:            generateRuleID(),
		Description:   "整体谨慎",
		ConditionType: ConditionCustom,
		Condition:     Condition{Custom: &CustomCondition{Pattern: "be more careful"}},
		Action:        ActionReduceConfidence,
		ActionValue:   0.1,
		Active:        true,
	})

	matches := rb.CheckSignal(&signal.Signal{Coin: "BTC", Side: signal.SideLong, Confidence: 0.7}, nil)
	require.Len(t, matches, 1)
	assert.Equal(t, 0.1, matches[0].Value)
}

func TestCheckSignal_多规则同时命中(t *testing.T) {
	rb, _, _ := newTestRulebook(t)
	rb.AddRule(coinRule("DOGE", ActionReduceConfidence, 0.2))
	rb.AddRule(coinRule("DOGE", ActionReduceSize, 0.3))

	matches := rb.CheckSignal(&signal.Signal{Coin: "DOGE", Side: signal.SideLong, Confidence: 0.7}, nil)
	assert.Len(t, matches, 2)
}

func TestUpdateOutcome_自动停用(t *testing.T) {
	rb, _, _ := newTestRulebook(t)

	// 触发10次、正确2次，准确率0.2低于0.3，下一次回填后停用
	bad := coinRule("DOGE", ActionSkip, 0)
	bad.TimesTriggered = 10
	bad.TimesCorrect = 2
	rb.AddRule(bad)

	// 触发9次的规则即使准确率低也不停用
	young := coinRule("SHIB", ActionSkip, 0)
	young.TimesTriggered = 9
	young.TimesCorrect = 0
	rb.AddRule(young)

	rb.UpdateOutcome(bad.ID, false)
	rb.UpdateOutcome(young.ID, false)

	active := rb.ActiveRules()
	require.Len(t, active, 1)
	assert.Equal(t, young.ID, active[0].ID)

	stats := rb.Stats()
	assert.Equal(t, 2, stats.TotalRules)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 1, stats.Inactive)
}

func TestUpdateOutcome_正确回填保持激活(t *testing.T) {
	rb, _, _ := newTestRulebook(t)
	rule := coinRule("BTC", ActionSkip, 0)
	rule.TimesTriggered = 10
	rule.TimesCorrect = 3
	rb.AddRule(rule)

	// 准确率0.4高于阈值，保持激活
	rb.UpdateOutcome(rule.ID, true)
	assert.Len(t, rb.ActiveRules(), 1)
}

func TestDeactivateRule(t *testing.T) {
	rb, _, _ := newTestRulebook(t)
	rule := coinRule("DOGE", ActionSkip, 0)
	rb.AddRule(rule)

	rb.DeactivateRule(rule.ID)
	assert.Empty(t, rb.ActiveRules())

	// 停用的规则不再参与检查
	matches := rb.CheckSignal(&signal.Signal{Coin: "DOGE", Side: signal.SideLong, Confidence: 0.7}, nil)
	assert.Empty(t, matches)
}

func TestDeriveRuleFromReview(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		expectType ConditionType
		expectCoin string
		action     Action
		value      float64
	}{
		{"规避币种在前", "DOGE keeps dumping, avoid it for now", ConditionCoin, "DOGE", ActionSkip, 0},
		{"规避币种在后", "We should skip SHIB signals", ConditionCoin, "SHIB", ActionSkip, 0},
		{"谨慎币种降权", "PEPE needs more caution", ConditionCoin, "PEPE", ActionReduceConfidence, 0.3},
		{"资金费率规则", "When funding exceeds 0.1% shorts get squeezed, reduce shorts", ConditionFundingRate, "", ActionReduceConfidence, 0.2},
		{"自定义兜底", "Wait for confirmation before entering", ConditionCustom, "", ActionReduceConfidence, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb, _, _ := newTestRulebook(t)
			rule := rb.DeriveRuleFromReview(tt.text, "ai_review")
			require.NotNil(t, rule)
			assert.Equal(t, tt.expectType, rule.ConditionType)
			assert.Equal(t, tt.action, rule.Action)
			assert.Equal(t, tt.value, rule.ActionValue)
			assert.True(t, rule.Active)
			assert.False(t, rule.CreatedAt.IsZero())

			if tt.expectCoin != "" {
				require.NotNil(t, rule.Condition.Coin)
				assert.Equal(t, tt.expectCoin, rule.Condition.Coin.Coin)
			}
			if tt.expectType == ConditionFundingRate {
				require.NotNil(t, rule.Condition.FundingRate)
				assert.Equal(t, "short", rule.Condition.FundingRate.Direction)
				assert.Equal(t, 0.1, rule.Condition.FundingRate.FundingAbovePct)
			}
		})
	}
}

func TestDeriveRuleFromReview_干扰词与空文本(t *testing.T) {
	rb, _, _ := newTestRulebook(t)

	assert.Nil(t, rb.DeriveRuleFromReview("", "ai_review"))
	assert.Nil(t, rb.DeriveRuleFromReview("   ", "ai_review"))

	// 大写干扰词不派生币种规则，落到自定义兜底
	rule := rb.DeriveRuleFromReview("THE market looks weak, avoid overtrading", "ai_review")
	require.NotNil(t, rule)
	assert.Equal(t, ConditionCustom, rule.ConditionType)
}

func TestExtractUSDAmount(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   float64
		wantOK bool
	}{
		{"带逗号金额", "moved $1,250,000 to binance", 1250000, true},
		{"多个金额取最大", "sold $500 then bought $9,800", 9800, true},
		{"无金额", "whale accumulating quietly", 0, false},
		{"零视为无效", "price moved 0 percent", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractUSDAmount(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRulebook_持久化与损坏恢复(t *testing.T) {
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()
	clk := clock.NewFake(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))
	j := journal.NewJournal(storage.NewSnapshotStore(filepath.Join(dir, "journal.json"), logger), clk, logger)

	path := filepath.Join(dir, "rules.json")
	rb := NewRulebook(storage.NewSnapshotStore(path, logger), j, clk, logger)
	rule := coinRule("DOGE", ActionSkip, 0)
	rb.AddRule(rule)
	rb.CheckSignal(&signal.Signal{Coin: "DOGE", Side: signal.SideLong, Confidence: 0.7}, nil)

	// 重新加载，规则与触发计数保留
	reloaded := NewRulebook(storage.NewSnapshotStore(path, logger), j, clk, logger)
	active := reloaded.ActiveRules()
	require.Len(t, active, 1)
	assert.Equal(t, rule.ID, active[0].ID)
	assert.Equal(t, 1, active[0].TimesTriggered)
}
