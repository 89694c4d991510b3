// Package pipeline 串起信号解析之后的完整决策链路
// 信号逐个端到端处理，核心状态的变更全部在单一互斥锁下串行执行
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kokinoge/aiCrypto/internal/adaptive"
	"github.com/kokinoge/aiCrypto/internal/coinlist"
	"github.com/kokinoge/aiCrypto/internal/config"
	"github.com/kokinoge/aiCrypto/internal/exchange"
	"github.com/kokinoge/aiCrypto/internal/journal"
	"github.com/kokinoge/aiCrypto/internal/notify"
	"github.com/kokinoge/aiCrypto/internal/oracle"
	"github.com/kokinoge/aiCrypto/internal/recorder"
	"github.com/kokinoge/aiCrypto/internal/risk"
	"github.com/kokinoge/aiCrypto/internal/rulebook"
	"github.com/kokinoge/aiCrypto/internal/signal"
	"github.com/kokinoge/aiCrypto/internal/storage"
	"github.com/kokinoge/aiCrypto/internal/trading"
)

// Pipeline 决策管线
type Pipeline struct {
	logger       *zap.Logger
	cfg          *config.Config
	exch         exchange.Exchange
	ledger       trading.Ledger
	riskEngine   *risk.Engine
	tuner        *adaptive.Tuner
	rulebook     *rulebook.Rulebook
	journal      *journal.Journal
	coinlist     *coinlist.Manager
	oracle       oracle.Oracle // 可为nil，缺席时按信号自身信心度回退
	recorder     recorder.Recorder
	broadcaster  notify.Broadcaster
	cache        *storage.MarketCache   // 可为nil
	pendingStore *storage.SnapshotStore // 可为nil

	mu          sync.Mutex
	pendingRule map[string][]string // 开仓时命中的规则ID，按币种暂存待回填，跨重启持久化
	haltHandled bool
}

// Deps 管线依赖
type Deps struct {
	Config       *config.Config
	Exchange     exchange.Exchange
	Ledger       trading.Ledger
	RiskEngine   *risk.Engine
	Tuner        *adaptive.Tuner
	Rulebook     *rulebook.Rulebook
	Journal      *journal.Journal
	Coinlist     *coinlist.Manager
	Oracle       oracle.Oracle
	Recorder     recorder.Recorder
	Broadcaster  notify.Broadcaster
	Cache        *storage.MarketCache
	PendingStore *storage.SnapshotStore
}

// pendingFile 待回填规则的持久化结构
type pendingFile struct {
	Rules map[string][]string `json:"rules"`
}

// NewPipeline 创建决策管线
func NewPipeline(deps Deps, logger *zap.Logger) *Pipeline {
	p := &Pipeline{
		logger:       logger.With(zap.String("component", "pipeline")),
		cfg:          deps.Config,
		exch:         deps.Exchange,
		ledger:       deps.Ledger,
		riskEngine:   deps.RiskEngine,
		tuner:        deps.Tuner,
		rulebook:     deps.Rulebook,
		journal:      deps.Journal,
		coinlist:     deps.Coinlist,
		oracle:       deps.Oracle,
		recorder:     deps.Recorder,
		broadcaster:  deps.Broadcaster,
		cache:        deps.Cache,
		pendingStore: deps.PendingStore,
		pendingRule:  make(map[string][]string),
	}

	if p.pendingStore != nil {
		var file pendingFile
		if p.pendingStore.Load(&file) && file.Rules != nil {
			p.pendingRule = file.Rules
		}
	}
	return p
}

// HandleSignal 处理一个已解析的信号
// 流程: 黑名单→时段规避→信心度调整→规则检查→阈值门控→外部裁决→开仓
func (p *Pipeline) HandleSignal(ctx context.Context, sig *signal.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logger.Info("开始处理信号",
		zap.String("coin", sig.Coin),
		zap.String("side", sig.Side),
		zap.Float64("confidence", sig.Confidence))

	if p.coinlist != nil && p.coinlist.IsBlacklisted(sig.Coin) {
		p.logger.Info("信号被黑名单拦截", zap.String("coin", sig.Coin))
		return
	}

	if skip, reason := p.tuner.ShouldSkipNow(); skip {
		p.logger.Info("自适应时段规避", zap.String("reason", reason))
		return
	}

	adjusted := p.tuner.AdjustedConfidence(sig.Coin, sig.Confidence)
	if adjusted != sig.Confidence {
		p.logger.Info("自适应信心度调整",
			zap.String("coin", sig.Coin),
			zap.Float64("from", sig.Confidence),
			zap.Float64("to", adjusted))
		sig = sig.WithConfidence(adjusted)
	}

	market := p.fetchMarket(ctx, sig.Coin)

	sizeModifier := 1.0
	var matchedRules []string
	for _, match := range p.rulebook.CheckSignal(sig, market) {
		switch match.Action {
		case rulebook.ActionSkip:
			p.logger.Info("规则触发跳过信号",
				zap.String("rule_id", match.RuleID),
				zap.String("reason", match.Reason))
			return
		case rulebook.ActionReduceConfidence:
			reduced := sig.Confidence - match.Value
			if reduced < 0 {
				reduced = 0
			}
			p.logger.Info("规则降低信心度",
				zap.String("rule_id", match.RuleID),
				zap.Float64("from", sig.Confidence),
				zap.Float64("to", reduced))
			sig = sig.WithConfidence(reduced)
			matchedRules = append(matchedRules, match.RuleID)
		case rulebook.ActionReduceSize:
			sizeModifier *= 1 - match.Value
			matchedRules = append(matchedRules, match.RuleID)
		}
	}

	if sig.Confidence < p.tuner.EffectiveMinConfidence() {
		p.logger.Info("调整后信心度低于阈值，放弃信号",
			zap.Float64("confidence", sig.Confidence),
			zap.Float64("threshold", p.tuner.EffectiveMinConfidence()))
		return
	}

	decision := p.deliberate(ctx, sig, market)
	if !decision.ShouldExecute {
		p.logger.Info("外部裁决否决信号",
			zap.String("coin", sig.Coin),
			zap.String("reasoning", decision.Reasoning))
		p.recordAnalysis(sig, decision, sizeModifier)
		return
	}

	confidence := decision.AdjustedConfidence
	if decision.PositionSizeModifier > 0 {
		sizeModifier *= decision.PositionSizeModifier
	}
	totalModifier := p.tuner.SizeModifier() * sizeModifier

	result := p.ledger.OpenFromSignal(ctx, sig.Coin, sig.Side, confidence, totalModifier)
	p.recordAnalysis(sig, decision, totalModifier)

	if result.Success {
		if len(matchedRules) > 0 {
			p.pendingRule[sig.Coin] = matchedRules
			p.savePendingLocked()
		}
		if err := p.recorder.RecordOpen(result); err != nil {
			p.logger.Warn("归档开仓记录失败", zap.Error(err))
		}
		p.broadcaster.Publish(ctx, &notify.Event{
			Kind:    notify.EventTradeOpened,
			Title:   "开仓",
			Message: fmt.Sprintf("%s %s size=%.6f @ $%.2f", result.Side, result.Coin, result.Size, result.Price),
			Fields:  map[string]string{"order_id": result.OrderID},
		})
	} else {
		p.logger.Info("开仓未执行",
			zap.String("coin", sig.Coin),
			zap.String("reason", result.Reason))
	}

	if p.riskEngine.Halted() {
		p.handleHaltLocked(ctx)
	}
}

// RunExitCheck 出场巡检周期任务
// 平仓后依次记录日记、归档、复盘、回填规则表现并触发参数重算
func (p *Pipeline) RunExitCheck(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	events := p.ledger.CheckExits(ctx)
	for _, event := range events {
		if err := p.journal.RecordTradeResult(
			event.Coin, event.Side, event.EntryPrice, event.ExitPrice, event.PnL, event.Reason,
		); err != nil {
			p.logger.Warn("记录交易结果失败", zap.Error(err))
		}
		if err := p.recorder.RecordClose(event); err != nil {
			p.logger.Warn("归档平仓记录失败", zap.Error(err))
		}
		p.broadcaster.Publish(ctx, &notify.Event{
			Kind:    notify.EventTradeClosed,
			Title:   "平仓: " + event.Reason,
			Message: fmt.Sprintf("%s %s entry=$%.2f exit=$%.2f pnl=$%.2f", event.Side, event.Coin, event.EntryPrice, event.ExitPrice, event.PnL),
		})

		p.reviewTrade(ctx, event)
		p.settleRuleOutcomes(event)
	}

	if len(events) > 0 {
		p.tuner.Recalculate()
	}

	if p.riskEngine.Halted() {
		p.handleHaltLocked(ctx)
	}
}

// RunStatusCheck 周期状态巡检，实盘模式下重新核对回撤
func (p *Pipeline) RunStatusCheck(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	summary, err := p.ledger.Summary(ctx)
	if err != nil {
		p.logger.Warn("获取组合概览失败", zap.Error(err))
		return
	}

	p.logger.Info("组合状态",
		zap.Float64("equity", summary.Equity),
		zap.Float64("total_pnl", summary.TotalPnL),
		zap.Float64("return_pct", summary.ReturnPct),
		zap.Int("open_positions", summary.OpenPositions))

	p.broadcaster.Publish(ctx, &notify.Event{
		Kind:    notify.EventStatus,
		Title:   "组合状态",
		Message: fmt.Sprintf("equity=$%.2f pnl=$%.2f return=%.1f%% positions=%d", summary.Equity, summary.TotalPnL, summary.ReturnPct, summary.OpenPositions),
	})

	if p.riskEngine.CheckDrawdown(summary.Equity) {
		p.handleHaltLocked(ctx)
		return
	}

	p.refreshMarketCache(ctx)
}

// 单次周度复盘最多采纳的建议规则数
const maxWeeklyRules = 5

// RunWeeklyReview 周度复盘任务
// 重算自适应参数，请外部服务评审近一周表现并采纳其建议规则，最后广播战绩
func (p *Pipeline) RunWeeklyReview(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tuner.Recalculate()

	applied := 0
	if p.oracle != nil {
		report, err := p.oracle.WeeklyReview(ctx, &oracle.WeeklyReviewRequest{
			Performance:     p.journal.PerformanceSummary(7),
			RecentTrades:    p.journal.PastTrades("", 20),
			WinRate:         p.journal.WinRate(),
			CoinStats:       p.journal.CoinStats(2),
			HourlyStats:     p.journal.HourlyStats(),
			AdvisorAccuracy: p.journal.AdvisorAccuracy(),
			ActiveRules:     p.rulebook.ActiveRules(),
			Lessons:         p.journal.Lessons(10),
		})
		if err != nil {
			p.logger.Warn("周度复盘服务不可用", zap.Error(err))
		} else {
			applied = p.applyProposedRules(report.ProposedRules)
		}
	}

	stats := p.rulebook.Stats()
	p.broadcaster.Publish(ctx, &notify.Event{
		Kind:    notify.EventStatus,
		Title:   "周度战绩",
		Message: p.journal.PerformanceSummary(7),
		Fields: map[string]string{
			"active_rules":  strconv.Itoa(stats.Active),
			"rule_accuracy": fmt.Sprintf("%.0f%%", stats.Accuracy*100),
			"new_rules":     strconv.Itoa(applied),
		},
	})
}

// applyProposedRules 采纳周度复盘建议的规则并入库
// 条件和动作缺省时补自定义条件与小幅降信心，调用方必须持有p.mu
func (p *Pipeline) applyProposedRules(proposals []oracle.ProposedRule) int {
	applied := 0
	for _, proposal := range proposals {
		if applied >= maxWeeklyRules {
			break
		}
		if strings.TrimSpace(proposal.Description) == "" {
			continue
		}

		rule := &rulebook.StrategyRule{
			ID:            rulebook.NewRuleID(),
			Description:   proposal.Description,
			ConditionType: proposal.ConditionType,
			Condition:     proposal.Condition,
			Action:        proposal.Action,
			ActionValue:   proposal.ActionValue,
			Source:        "weekly_review",
			Active:        true,
		}
		if rule.ConditionType == "" {
			rule.ConditionType = rulebook.ConditionCustom
			rule.Condition = rulebook.Condition{Custom: &rulebook.CustomCondition{Pattern: proposal.Description}}
		}
		if rule.Action == "" {
			rule.Action = rulebook.ActionReduceConfidence
			rule.ActionValue = 0.1
		}

		p.rulebook.AddRule(rule)
		p.logger.Info("采纳周度复盘建议规则",
			zap.String("rule_id", rule.ID),
			zap.String("description", rule.Description))
		applied++
	}
	return applied
}

// refreshMarketCache 批量拉取全市场快照写入缓存，供行情回源失败时兜底
func (p *Pipeline) refreshMarketCache(ctx context.Context) {
	if p.cache == nil {
		return
	}
	snapshots, err := p.exch.GetAllMarketData(ctx)
	if err != nil {
		p.logger.Warn("批量获取行情失败，跳过缓存刷新", zap.Error(err))
		return
	}
	for _, snapshot := range snapshots {
		if err := p.cache.StoreSnapshot(ctx, snapshot); err != nil {
			p.logger.Warn("写入行情缓存失败",
				zap.String("coin", snapshot.Coin), zap.Error(err))
			return
		}
	}
	p.logger.Debug("行情缓存已刷新", zap.Int("coins", len(snapshots)))
}

// fetchMarket 获取行情快照，回源失败时退回缓存，仍失败返回nil留给下游降级处理
func (p *Pipeline) fetchMarket(ctx context.Context, coin string) *exchange.MarketData {
	market, err := p.exch.GetMarketData(ctx, coin)
	if err != nil {
		p.logger.Warn("获取行情失败，尝试读取缓存",
			zap.String("coin", coin), zap.Error(err))
		if p.cache != nil {
			if cached, cacheErr := p.cache.GetSnapshot(ctx, coin); cacheErr == nil && cached != nil {
				return cached
			}
		}
		return nil
	}
	if p.cache != nil {
		if err := p.cache.StoreSnapshot(ctx, market); err != nil {
			p.logger.Warn("写入行情缓存失败", zap.Error(err))
		}
	}
	return market
}

// deliberate 征询外部决策服务，缺席或失败时按信号自身信心度回退
func (p *Pipeline) deliberate(ctx context.Context, sig *signal.Signal, market *exchange.MarketData) *oracle.Decision {
	if p.oracle == nil {
		return oracle.DefaultDecision(sig.Confidence)
	}

	portfolio, err := p.ledger.Summary(ctx)
	if err != nil {
		portfolio = nil
	}

	decision, err := p.oracle.Deliberate(ctx, &oracle.DeliberationRequest{
		Signal:       sig,
		Market:       market,
		Portfolio:    portfolio,
		RecentTrades: p.journal.PastTrades("", 10),
		Lessons:      p.journal.Lessons(5),
	})
	if err != nil {
		p.logger.Warn("决策服务不可用，按信心度回退", zap.Error(err))
		return oracle.DefaultDecision(sig.Confidence)
	}
	return decision
}

// reviewTrade 请外部服务复盘一笔平仓交易，提炼教训并尝试派生规则
func (p *Pipeline) reviewTrade(ctx context.Context, event trading.ExitEvent) {
	if p.oracle == nil {
		return
	}

	review, err := p.oracle.ReviewTrade(ctx, &oracle.ReviewRequest{
		Trade: &journal.TradeResult{
			Coin:       event.Coin,
			Side:       event.Side,
			EntryPrice: event.EntryPrice,
			ExitPrice:  event.ExitPrice,
			PnL:        event.PnL,
			Reason:     event.Reason,
		},
		Performance: p.journal.PerformanceSummary(7),
	})
	if err != nil {
		p.logger.Warn("交易复盘失败", zap.Error(err))
		return
	}

	if err := p.journal.RecordReview(event.Coin, journal.ReviewData{
		Summary:            review.Summary,
		Lesson:             review.Lesson,
		StrategyAdjustment: review.StrategyAdjustment,
	}); err != nil {
		p.logger.Warn("记录复盘失败", zap.Error(err))
	}

	if review.StrategyAdjustment != "" {
		if rule := p.rulebook.DeriveRuleFromReview(review.StrategyAdjustment, "ai_review"); rule != nil {
			p.logger.Info("复盘派生新规则",
				zap.String("rule_id", rule.ID),
				zap.String("description", rule.Description))
		}
	}
}

// settleRuleOutcomes 回填开仓时命中规则的判断结果
// 约定: 规则降权警示的交易最终亏损视为规则判断正确
func (p *Pipeline) settleRuleOutcomes(event trading.ExitEvent) {
	ruleIDs, ok := p.pendingRule[event.Coin]
	if !ok {
		return
	}
	wasCorrect := event.PnL <= 0
	for _, id := range ruleIDs {
		p.rulebook.UpdateOutcome(id, wasCorrect)
	}
	delete(p.pendingRule, event.Coin)
	p.savePendingLocked()
}

// savePendingLocked 持久化待回填规则，调用方必须持有p.mu
func (p *Pipeline) savePendingLocked() {
	if p.pendingStore == nil {
		return
	}
	if err := p.pendingStore.Save(&pendingFile{Rules: p.pendingRule}); err != nil {
		p.logger.Warn("保存待回填规则失败", zap.Error(err))
	}
}

// handleHaltLocked 熔断处置: 归档、广播并强平全部持仓，只执行一次
// 调用方必须持有p.mu
func (p *Pipeline) handleHaltLocked(ctx context.Context) {
	if p.haltHandled {
		return
	}
	p.haltHandled = true

	reason := p.riskEngine.HaltReason()
	p.logger.Error("风险引擎已熔断，强平全部持仓", zap.String("reason", reason))

	equity := 0.0
	if state, err := p.ledger.AccountState(ctx); err == nil {
		equity = state.Equity
	}
	if err := p.recorder.RecordHalt(reason, equity); err != nil {
		p.logger.Warn("归档熔断事件失败", zap.Error(err))
	}

	results := p.ledger.CloseAll(ctx)
	p.broadcaster.Publish(ctx, &notify.Event{
		Kind:    notify.EventHalt,
		Title:   "熔断",
		Message: fmt.Sprintf("%s，已强平%d个持仓", reason, len(results)),
	})
}

// recordAnalysis 把一次信号分析连同各顾问意见写入交易日记
func (p *Pipeline) recordAnalysis(sig *signal.Signal, decision *oracle.Decision, sizeModifier float64) {
	if err := p.journal.RecordAnalysis(sig, decision.Advisors, journal.DecisionSummary{
		ShouldExecute:      decision.ShouldExecute,
		AdjustedConfidence: decision.AdjustedConfidence,
		SizeModifier:       sizeModifier,
		Reasoning:          decision.Reasoning,
	}); err != nil {
		p.logger.Warn("记录信号分析失败", zap.Error(err))
	}
}
