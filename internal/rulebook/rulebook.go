package rulebook

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kokinoge/aiCrypto/internal/clock"
	"github.com/kokinoge/aiCrypto/internal/exchange"
	"github.com/kokinoge/aiCrypto/internal/journal"
	"github.com/kokinoge/aiCrypto/internal/signal"
	"github.com/kokinoge/aiCrypto/internal/storage"
)

// 自动停用阈值：触发次数达到下限且正确率低于阈值的规则被停用
const (
	autoDeactivateMinTriggers = 10
	autoDeactivateThreshold   = 0.3
)

// ConditionType 规则条件类型，封闭枚举
type ConditionType string

const (
	ConditionCoin         ConditionType = "coin"
	ConditionFundingRate  ConditionType = "funding_rate"
	ConditionSignalAmount ConditionType = "signal_amount"
	ConditionTimeWindow   ConditionType = "time"
	ConditionStreak       ConditionType = "streak"
	ConditionCustom       ConditionType = "custom"
)

// Action 规则命中后的动作
type Action string

const (
	ActionSkip             Action = "skip"
	ActionReduceConfidence Action = "reduce_confidence"
	ActionReduceSize       Action = "reduce_size"
)

// CoinCondition 针对特定币种的条件
type CoinCondition struct {
	Coin string `json:"coin"`
}

// FundingRateCondition 资金费率超阈值条件
type FundingRateCondition struct {
	Direction       string  `json:"direction"`
	FundingAbovePct float64 `json:"funding_above"` // 百分比口径
}

// SignalAmountCondition 信号金额低于阈值条件
type SignalAmountCondition struct {
	BelowUSD float64 `json:"below_usd"`
}

// TimeWindowCondition UTC时段条件
type TimeWindowCondition struct {
	HoursUTC []int `json:"hours_utc"`
}

// StreakCondition 连续亏损条件
type StreakCondition struct {
	ConsecutiveLosses int `json:"consecutive_losses"`
}

// CustomCondition 自由文本条件，始终命中
type CustomCondition struct {
	Pattern string `json:"pattern"`
}

// Condition 规则条件载荷，只有与ConditionType对应的字段非nil
type Condition struct {
	Coin         *CoinCondition         `json:"coin,omitempty"`
	FundingRate  *FundingRateCondition  `json:"funding_rate,omitempty"`
	SignalAmount *SignalAmountCondition `json:"signal_amount,omitempty"`
	TimeWindow   *TimeWindowCondition   `json:"time,omitempty"`
	Streak       *StreakCondition       `json:"streak,omitempty"`
	Custom       *CustomCondition       `json:"custom,omitempty"`
}

// StrategyRule 从历史交易中学到的策略规则
type StrategyRule struct {
	ID             string        `json:"id"`
	Description    string        `json:"description"`
	ConditionType  ConditionType `json:"condition_type"`
	Condition      Condition     `json:"condition"`
	Action         Action        `json:"action"`
	ActionValue    float64       `json:"action_value"`
	CreatedAt      time.Time     `json:"created_at"`
	Source         string        `json:"source"` // ai_review、weekly_review 或 manual
	TimesTriggered int           `json:"times_triggered"`
	TimesCorrect   int           `json:"times_correct"`
	Active         bool          `json:"active"`
}

// RuleMatch 一次规则命中
type RuleMatch struct {
	RuleID string
	Action Action
	Value  float64
	Reason string
}

// RuleStats 规则库统计
type RuleStats struct {
	TotalRules     int                   `json:"total_rules"`
	Active         int                   `json:"active"`
	Inactive       int                   `json:"inactive"`
	TotalTriggered int                   `json:"total_triggered"`
	TotalCorrect   int                   `json:"total_correct"`
	Accuracy       float64               `json:"accuracy"`
	RulesByType    map[ConditionType]int `json:"rules_by_type"`
}

// rulesFile 规则文件的持久化结构
type rulesFile struct {
	Rules []*StrategyRule `json:"rules"`
}

// Rulebook 策略规则库
// 对每个新信号自动检查全部激活规则，并按历史准确率自我修剪
type Rulebook struct {
	logger  *zap.Logger
	store   *storage.SnapshotStore
	clock   clock.Clock
	journal *journal.Journal

	mu    sync.Mutex
	rules []*StrategyRule
}

// NewRulebook 创建规则库并加载持久化规则，文件损坏时从空白开始
func NewRulebook(store *storage.SnapshotStore, j *journal.Journal, clk clock.Clock, logger *zap.Logger) *Rulebook {
	rb := &Rulebook{
		logger:  logger.With(zap.String("component", "rulebook")),
		store:   store,
		clock:   clk,
		journal: j,
	}

	var file rulesFile
	if store.Load(&file) {
		rb.rules = file.Rules
	}
	return rb
}

// CheckSignal 用全部激活规则检查信号，返回所有命中
func (rb *Rulebook) CheckSignal(sig *signal.Signal, market *exchange.MarketData) []RuleMatch {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var matches []RuleMatch
	triggered := false
	for _, rule := range rb.rules {
		if !rule.Active {
			continue
		}
		match := rb.evaluateRule(rule, sig, market)
		if match != nil {
			rule.TimesTriggered++
			triggered = true
			matches = append(matches, *match)
			rb.logger.Info("规则命中",
				zap.String("rule_id", rule.ID),
				zap.String("action", string(match.Action)),
				zap.String("reason", match.Reason))
		}
	}

	if triggered {
		rb.save()
	}
	return matches
}

// AddRule 添加规则并立即落盘
func (rb *Rulebook) AddRule(rule *StrategyRule) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = rb.clock.Now()
	}
	rb.rules = append(rb.rules, rule)
	rb.save()
	rb.logger.Info("规则库新增规则",
		zap.String("rule_id", rule.ID),
		zap.String("type", string(rule.ConditionType)),
		zap.String("description", rule.Description))
}

// DeactivateRule 手动停用规则
func (rb *Rulebook) DeactivateRule(ruleID string) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, rule := range rb.rules {
		if rule.ID == ruleID {
			rule.Active = false
			rb.save()
			rb.logger.Info("规则已停用", zap.String("rule_id", ruleID))
			return
		}
	}
	rb.logger.Warn("规则不存在", zap.String("rule_id", ruleID))
}

// ActiveRules 返回激活规则的副本
func (rb *Rulebook) ActiveRules() []StrategyRule {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	active := make([]StrategyRule, 0, len(rb.rules))
	for _, rule := range rb.rules {
		if rule.Active {
			active = append(active, *rule)
		}
	}
	return active
}

// Stats 规则库整体统计
func (rb *Rulebook) Stats() RuleStats {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	stats := RuleStats{
		TotalRules:  len(rb.rules),
		RulesByType: make(map[ConditionType]int),
	}
	for _, rule := range rb.rules {
		if rule.Active {
			stats.Active++
		} else {
			stats.Inactive++
		}
		stats.TotalTriggered += rule.TimesTriggered
		stats.TotalCorrect += rule.TimesCorrect
		stats.RulesByType[rule.ConditionType]++
	}
	if stats.TotalTriggered > 0 {
		stats.Accuracy = math.Round(float64(stats.TotalCorrect)/float64(stats.TotalTriggered)*100) / 100
	}
	return stats
}

// UpdateOutcome 回填规则判断结果，并触发低准确率自动停用检查
func (rb *Rulebook) UpdateOutcome(ruleID string, wasCorrect bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, rule := range rb.rules {
		if rule.ID == ruleID {
			if wasCorrect {
				rule.TimesCorrect++
			}
			rb.autoCleanup(rule)
			rb.save()
			return
		}
	}
}

// evaluateRule 按条件类型分派检查，封闭枚举逐一匹配
func (rb *Rulebook) evaluateRule(rule *StrategyRule, sig *signal.Signal, market *exchange.MarketData) *RuleMatch {
	switch rule.ConditionType {
	case ConditionCoin:
		return rb.checkCoin(rule, sig)
	case ConditionFundingRate:
		return rb.checkFundingRate(rule, sig, market)
	case ConditionSignalAmount:
		return rb.checkSignalAmount(rule, sig)
	case ConditionTimeWindow:
		return rb.checkTimeWindow(rule)
	case ConditionStreak:
		return rb.checkStreak(rule)
	case ConditionCustom:
		return rb.checkCustom(rule)
	default:
		return nil
	}
}

func (rb *Rulebook) checkCoin(rule *StrategyRule, sig *signal.Signal) *RuleMatch {
	cond := rule.Condition.Coin
	if cond == nil || sig.Coin != cond.Coin {
		return nil
	}
	return &RuleMatch{
		RuleID: rule.ID,
		Action: rule.Action,
		Value:  rule.ActionValue,
		Reason: fmt.Sprintf("命中%s币种规则: %s", cond.Coin, rule.Description),
	}
}

func (rb *Rulebook) checkFundingRate(rule *StrategyRule, sig *signal.Signal, market *exchange.MarketData) *RuleMatch {
	cond := rule.Condition.FundingRate
	if cond == nil || market == nil {
		return nil
	}
	if sig.Side != cond.Direction {
		return nil
	}
	if math.Abs(market.FundingRate*100) <= cond.FundingAbovePct {
		return nil
	}
	return &RuleMatch{
		RuleID: rule.ID,
		Action: rule.Action,
		Value:  rule.ActionValue,
		Reason: fmt.Sprintf("资金费率(%.4f%%)超过阈值%.2f%%: %s",
			market.FundingRate*100, cond.FundingAbovePct, rule.Description),
	}
}

func (rb *Rulebook) checkSignalAmount(rule *StrategyRule, sig *signal.Signal) *RuleMatch {
	cond := rule.Condition.SignalAmount
	if cond == nil {
		return nil
	}
	amount, ok := extractUSDAmount(sig.RawText)
	if !ok || amount >= cond.BelowUSD {
		return nil
	}
	return &RuleMatch{
		RuleID: rule.ID,
		Action: rule.Action,
		Value:  rule.ActionValue,
		Reason: fmt.Sprintf("信号金额($%.0f)低于阈值$%.0f: %s", amount, cond.BelowUSD, rule.Description),
	}
}

func (rb *Rulebook) checkTimeWindow(rule *StrategyRule) *RuleMatch {
	cond := rule.Condition.TimeWindow
	if cond == nil {
		return nil
	}
	currentHour := rb.clock.Now().UTC().Hour()
	for _, h := range cond.HoursUTC {
		if h == currentHour {
			return &RuleMatch{
				RuleID: rule.ID,
				Action: rule.Action,
				Value:  rule.ActionValue,
				Reason: fmt.Sprintf("当前UTC时刻(%d点)在规则时段内: %s", currentHour, rule.Description),
			}
		}
	}
	return nil
}

func (rb *Rulebook) checkStreak(rule *StrategyRule) *RuleMatch {
	cond := rule.Condition.Streak
	if cond == nil || cond.ConsecutiveLosses <= 0 {
		return nil
	}

	recent := rb.journal.PastTrades("", cond.ConsecutiveLosses)
	if len(recent) < cond.ConsecutiveLosses {
		return nil
	}
	for _, t := range recent {
		if t.PnL > 0 {
			return nil
		}
	}
	return &RuleMatch{
		RuleID: rule.ID,
		Action: rule.Action,
		Value:  rule.ActionValue,
		Reason: fmt.Sprintf("最近%d笔交易连续亏损: %s", cond.ConsecutiveLosses, rule.Description),
	}
}

func (rb *Rulebook) checkCustom(rule *StrategyRule) *RuleMatch {
	if rule.Condition.Custom == nil {
		return nil
	}
	return &RuleMatch{
		RuleID: rule.ID,
		Action: rule.Action,
		Value:  rule.ActionValue,
		Reason: "命中自定义规则: " + rule.Description,
	}
}

// autoCleanup 触发次数足够且准确率过低的规则自动停用
func (rb *Rulebook) autoCleanup(rule *StrategyRule) {
	if rule.TimesTriggered < autoDeactivateMinTriggers {
		return
	}
	accuracy := float64(rule.TimesCorrect) / float64(rule.TimesTriggered)
	if accuracy < autoDeactivateThreshold {
		rule.Active = false
		rb.logger.Info("规则准确率过低，自动停用",
			zap.String("rule_id", rule.ID),
			zap.Float64("accuracy", accuracy))
	}
}

// 调用方必须持有rb.mu
func (rb *Rulebook) save() {
	if err := rb.store.Save(&rulesFile{Rules: rb.rules}); err != nil {
		rb.logger.Error("保存规则库失败", zap.Error(err))
	}
}

// NewRuleID 给外部规则来源生成规则ID
func NewRuleID() string {
	return generateRuleID()
}

// generateRuleID 生成规则ID，rule_前缀加8位十六进制
func generateRuleID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("rule_%08x", time.Now().UnixNano()&0xffffffff)
	}
	return "rule_" + hex.EncodeToString(b)
}
