// Package oracle 对接外部决策服务
// 服务缺席或失败时核心按信号自身信心度回退执行，绝不因此阻断
package oracle

import (
	"context"

	"github.com/kokinoge/aiCrypto/internal/exchange"
	"github.com/kokinoge/aiCrypto/internal/journal"
	"github.com/kokinoge/aiCrypto/internal/rulebook"
	"github.com/kokinoge/aiCrypto/internal/signal"
	"github.com/kokinoge/aiCrypto/internal/trading"
)

// Decision 决策服务对一个信号的裁决
// Advisors为裁决服务内部各顾问的分项意见，用于事后核算顾问准确率
type Decision struct {
	ShouldExecute        bool                              `json:"should_execute"`
	AdjustedConfidence   float64                           `json:"adjusted_confidence"`
	PositionSizeModifier float64                           `json:"position_size_modifier"`
	Reasoning            string                            `json:"reasoning"`
	Advisors             map[string]journal.AdvisorOpinion `json:"advisors,omitempty"`
}

// Review 决策服务对一笔已平仓交易的复盘
type Review struct {
	Summary            string `json:"summary"`
	Lesson             string `json:"lesson"`
	StrategyAdjustment string `json:"strategy_adjustment"`
}

// DeliberationRequest 提交给决策服务的上下文
type DeliberationRequest struct {
	Signal       *signal.Signal        `json:"signal"`
	Market       *exchange.MarketData  `json:"market,omitempty"`
	Portfolio    *trading.Summary      `json:"portfolio,omitempty"`
	RecentTrades []journal.TradeResult `json:"recent_trades,omitempty"`
	Lessons      []journal.Lesson      `json:"lessons,omitempty"`
}

// ReviewRequest 提交复盘的上下文
type ReviewRequest struct {
	Trade       *journal.TradeResult `json:"trade"`
	Performance string               `json:"performance"`
}

// WeeklyReviewRequest 提交周度复盘的上下文，覆盖近期全部维度的统计
type WeeklyReviewRequest struct {
	Performance     string                          `json:"performance"`
	RecentTrades    []journal.TradeResult           `json:"recent_trades,omitempty"`
	WinRate         journal.WinRateStats            `json:"win_rate"`
	CoinStats       map[string]journal.GroupStats   `json:"coin_stats,omitempty"`
	HourlyStats     map[int]journal.GroupStats      `json:"hourly_stats,omitempty"`
	AdvisorAccuracy map[string]journal.AdvisorStats `json:"advisor_accuracy,omitempty"`
	ActiveRules     []rulebook.StrategyRule         `json:"active_rules,omitempty"`
	Lessons         []journal.Lesson                `json:"lessons,omitempty"`
}

// ProposedRule 周度复盘建议新增的规则
// 条件与动作缺省时由采纳方补默认值
type ProposedRule struct {
	Description   string                 `json:"description"`
	ConditionType rulebook.ConditionType `json:"condition_type,omitempty"`
	Condition     rulebook.Condition     `json:"condition,omitempty"`
	Action        rulebook.Action        `json:"action,omitempty"`
	ActionValue   float64                `json:"action_value,omitempty"`
}

// WeeklyReport 周度复盘结论
type WeeklyReport struct {
	Summary       string         `json:"summary"`
	ProposedRules []ProposedRule `json:"proposed_rules,omitempty"`
}

// Oracle 外部决策服务接口
type Oracle interface {
	// Deliberate 对信号做裁决
	Deliberate(ctx context.Context, req *DeliberationRequest) (*Decision, error)

	// ReviewTrade 对已平仓交易做复盘
	ReviewTrade(ctx context.Context, req *ReviewRequest) (*Review, error)

	// WeeklyReview 对近一周整体表现做复盘，可附带建议新增的规则
	WeeklyReview(ctx context.Context, req *WeeklyReviewRequest) (*WeeklyReport, error)
}

// DefaultDecision 决策服务缺席或失败时的回退裁决
func DefaultDecision(confidence float64) *Decision {
	return &Decision{
		ShouldExecute:        true,
		AdjustedConfidence:   confidence,
		PositionSizeModifier: 1.0,
		Reasoning:            "决策服务不可用，按信号自身信心度执行",
	}
}
