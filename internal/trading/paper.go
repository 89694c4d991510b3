package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kokinoge/aiCrypto/internal/clock"
	"github.com/kokinoge/aiCrypto/internal/config"
	"github.com/kokinoge/aiCrypto/internal/exchange"
	"github.com/kokinoge/aiCrypto/internal/risk"
	"github.com/kokinoge/aiCrypto/internal/signal"
	"github.com/kokinoge/aiCrypto/internal/storage"
)

// paperState 模拟盘组合的持久化结构
type paperState struct {
	InitialBalance float64         `json:"initial_balance"`
	Cash           float64         `json:"cash"`
	Positions      []PaperPosition `json:"positions"`
	ClosedTrades   []ClosedTrade   `json:"closed_trades"`
	TotalPnL       float64         `json:"total_pnl"`
}

// PaperLedger 用真实行情模拟交易的组合账本
// 现金科目用decimal做精确结算，保证开平仓往返分毫不差
type PaperLedger struct {
	logger *zap.Logger
	cfg    *config.Config
	exch   exchange.Exchange
	risk   *risk.Engine
	params ParamSource
	store  *storage.SnapshotStore
	clock  clock.Clock

	mu        sync.Mutex
	state     paperState
	cooldowns map[string]time.Time
}

// NewPaperLedger 创建模拟盘账本，加载历史组合或按配置初始资金新建
func NewPaperLedger(
	cfg *config.Config,
	exch exchange.Exchange,
	riskEngine *risk.Engine,
	params ParamSource,
	store *storage.SnapshotStore,
	clk clock.Clock,
	logger *zap.Logger,
) *PaperLedger {
	pl := &PaperLedger{
		logger:    logger.With(zap.String("component", "paper_ledger")),
		cfg:       cfg,
		exch:      exch,
		risk:      riskEngine,
		params:    params,
		store:     store,
		clock:     clk,
		cooldowns: make(map[string]time.Time),
	}

	if !store.Load(&pl.state) || pl.state.InitialBalance <= 0 {
		balance := cfg.Trading.PaperStartingBalance
		pl.state = paperState{InitialBalance: balance, Cash: balance}
		pl.logger.Info("创建新的模拟盘组合", zap.Float64("balance", balance))
	}
	riskEngine.Initialize(pl.state.InitialBalance)
	return pl
}

// OpenFromSignal 按信号尝试开仓
// 检查顺序: 信心阈值→允许列表→冷却→熔断→持仓上限→重复币种→回撤→行情→仓位→保证金
func (pl *PaperLedger) OpenFromSignal(ctx context.Context, coin, side string, confidence, sizeModifier float64) *Result {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	reject := func(reason string) *Result {
		pl.logger.Info("模拟盘开仓被拒",
			zap.String("coin", coin),
			zap.String("side", side),
			zap.String("reason", reason))
		return &Result{Coin: coin, Side: side, Reason: reason}
	}

	minConfidence := pl.minConfidence()
	if confidence < minConfidence {
		return reject(fmt.Sprintf("信心度%.2f低于阈值%.2f", confidence, minConfidence))
	}
	if !pl.coinAllowed(coin) {
		return reject(coin + "不在允许交易列表")
	}
	if last, ok := pl.cooldowns[coin]; ok {
		elapsed := pl.clock.Now().Sub(last)
		cooldown := time.Duration(pl.cfg.Signals.CooldownMinutes) * time.Minute
		if elapsed < cooldown {
			return reject(fmt.Sprintf("%s冷却中，还需%.0f分钟", coin, (cooldown - elapsed).Minutes()))
		}
	}
	if pl.risk.Halted() {
		return reject("已熔断: " + pl.risk.HaltReason())
	}
	if len(pl.state.Positions) >= pl.cfg.Risk.MaxPositions {
		return reject(fmt.Sprintf("持仓数已达上限%d", pl.cfg.Risk.MaxPositions))
	}
	for _, p := range pl.state.Positions {
		if p.Coin == coin {
			return reject(coin + "已有持仓")
		}
	}

	state := pl.accountStateLocked(ctx)
	if pl.risk.CheckDrawdown(state.Equity) {
		return reject("已熔断: " + pl.risk.HaltReason())
	}

	price, err := pl.exch.GetPrice(ctx, coin)
	if err != nil {
		return reject("获取价格失败: " + err.Error())
	}

	params, err := pl.risk.SizeTrade(coin, side, price, state.Equity, pl.riskPct())
	if err != nil {
		return reject("计算仓位失败: " + err.Error())
	}
	if sizeModifier > 0 {
		params.Size *= sizeModifier
	}

	margin := params.Margin()
	if margin > pl.state.Cash {
		return reject(fmt.Sprintf("保证金$%.2f超过可用现金$%.2f", margin, pl.state.Cash))
	}

	pl.state.Positions = append(pl.state.Positions, PaperPosition{
		Coin:       coin,
		Side:       side,
		Size:       params.Size,
		EntryPrice: price,
		StopLoss:   params.StopLoss,
		TakeProfit: params.TakeProfit,
		Leverage:   params.Leverage,
		OpenedAt:   pl.clock.Now(),
	})
	pl.state.Cash = decimal.NewFromFloat(pl.state.Cash).
		Sub(decimal.NewFromFloat(margin)).InexactFloat64()
	pl.cooldowns[coin] = pl.clock.Now()
	pl.save()

	pl.logger.Info("模拟盘开仓成功",
		zap.String("coin", coin),
		zap.String("side", side),
		zap.Float64("size", params.Size),
		zap.Float64("entry_price", price),
		zap.Float64("stop_loss", params.StopLoss),
		zap.Float64("take_profit", params.TakeProfit))

	return &Result{
		Success: true,
		Coin:    coin,
		Side:    side,
		Size:    params.Size,
		Price:   price,
		OrderID: "paper",
	}
}

// CheckExits 逐仓检查止损止盈
// 行情获取失败的持仓保持开放，等待下一轮重试
func (pl *PaperLedger) CheckExits(ctx context.Context) []ExitEvent {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	var events []ExitEvent
	remaining := pl.state.Positions[:0]

	for _, pos := range pl.state.Positions {
		price, err := pl.exch.GetPrice(ctx, pos.Coin)
		if err != nil {
			pl.logger.Warn("获取价格失败，持仓保留至下一轮",
				zap.String("coin", pos.Coin), zap.Error(err))
			remaining = append(remaining, pos)
			continue
		}

		reason := exitReason(pos, price)
		if reason == "" {
			remaining = append(remaining, pos)
			continue
		}

		events = append(events, pl.closeLocked(pos, price, reason))
	}

	if len(events) > 0 {
		pl.state.Positions = remaining
		pl.save()
	} else {
		pl.state.Positions = remaining
	}
	return events
}

// CloseAll 强平全部持仓，行情不可得时按入场价结算
func (pl *PaperLedger) CloseAll(ctx context.Context) []*Result {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	var results []*Result
	for _, pos := range pl.state.Positions {
		price, err := pl.exch.GetPrice(ctx, pos.Coin)
		if err != nil {
			price = pos.EntryPrice
		}
		event := pl.closeLocked(pos, price, ReasonEmergencyClose)
		results = append(results, &Result{
			Success: true,
			Coin:    pos.Coin,
			Side:    "close_" + pos.Side,
			Size:    pos.Size,
			Price:   price,
		})
		pl.logger.Warn("模拟盘强制平仓",
			zap.String("coin", pos.Coin),
			zap.Float64("pnl", event.PnL))
	}

	pl.state.Positions = nil
	pl.save()
	return results
}

// AccountState 以当前行情计算账户状态，行情缺失时按入场价估值
func (pl *PaperLedger) AccountState(ctx context.Context) (*exchange.AccountState, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.accountStateLocked(ctx), nil
}

// Summary 组合概览
func (pl *PaperLedger) Summary(ctx context.Context) (*Summary, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	state := pl.accountStateLocked(ctx)
	return &Summary{
		Equity:         state.Equity,
		Cash:           round2(pl.state.Cash),
		InitialBalance: pl.state.InitialBalance,
		TotalPnL:       round2(pl.state.TotalPnL),
		ReturnPct:      round2((state.Equity - pl.state.InitialBalance) / pl.state.InitialBalance * 100),
		OpenPositions:  len(state.Positions),
		TotalTrades:    len(pl.state.ClosedTrades),
		Positions:      state.Positions,
	}, nil
}

// closeLocked 单仓平仓结算，调用方必须持有pl.mu且自行从持仓切片中移除该仓
func (pl *PaperLedger) closeLocked(pos PaperPosition, price float64, reason string) ExitEvent {
	pnl := directionalPnL(pos.Side, pos.EntryPrice, price, pos.Size)
	margin := positionMargin(pos)

	// 释放保证金并结算盈亏
	pl.state.Cash = decimal.NewFromFloat(pl.state.Cash).
		Add(decimal.NewFromFloat(margin)).
		Add(decimal.NewFromFloat(pnl)).InexactFloat64()
	pl.state.TotalPnL = decimal.NewFromFloat(pl.state.TotalPnL).
		Add(decimal.NewFromFloat(pnl)).InexactFloat64()

	pl.state.ClosedTrades = append(pl.state.ClosedTrades, ClosedTrade{
		Coin:       pos.Coin,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		Size:       pos.Size,
		PnL:        round2(pnl),
		Reason:     reason,
		ClosedAt:   pl.clock.Now(),
	})

	pl.logger.Info("模拟盘平仓",
		zap.String("coin", pos.Coin),
		zap.String("side", pos.Side),
		zap.String("reason", reason),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("exit", price),
		zap.Float64("pnl", round2(pnl)))

	return ExitEvent{
		Coin:       pos.Coin,
		Side:       pos.Side,
		Size:       pos.Size,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		PnL:        round2(pnl),
		Reason:     reason,
	}
}

// accountStateLocked 计算账户状态，调用方必须持有pl.mu
func (pl *PaperLedger) accountStateLocked(ctx context.Context) *exchange.AccountState {
	var totalUnrealized, totalMargin float64
	positions := make([]exchange.Position, 0, len(pl.state.Positions))

	for _, pos := range pl.state.Positions {
		price, err := pl.exch.GetPrice(ctx, pos.Coin)
		if err != nil {
			price = pos.EntryPrice
		}

		pnl := directionalPnL(pos.Side, pos.EntryPrice, price, pos.Size)
		margin := positionMargin(pos)
		totalUnrealized += pnl
		totalMargin += margin

		positions = append(positions, exchange.Position{
			Coin:          pos.Coin,
			Side:          pos.Side,
			Size:          pos.Size,
			EntryPrice:    pos.EntryPrice,
			UnrealizedPnL: round2(pnl),
			Leverage:      pos.Leverage,
		})
	}

	return &exchange.AccountState{
		Equity:           round2(pl.state.Cash + totalMargin + totalUnrealized),
		MarginUsed:       round2(totalMargin),
		AvailableBalance: round2(pl.state.Cash),
		Positions:        positions,
	}
}

func (pl *PaperLedger) minConfidence() float64 {
	if pl.params != nil {
		return pl.params.EffectiveMinConfidence()
	}
	return pl.cfg.Signals.MinConfidence
}

func (pl *PaperLedger) riskPct() float64 {
	if pl.params != nil {
		return pl.params.EffectiveRiskPct()
	}
	return pl.cfg.Risk.MaxRiskPerTradePct
}

func (pl *PaperLedger) coinAllowed(coin string) bool {
	allowed := pl.cfg.Trading.AllowedCoins
	if len(allowed) == 0 {
		return true
	}
	for _, c := range allowed {
		if c == coin {
			return true
		}
	}
	return false
}

// 调用方必须持有pl.mu
func (pl *PaperLedger) save() {
	if err := pl.store.Save(&pl.state); err != nil {
		pl.logger.Error("保存模拟盘组合失败", zap.Error(err))
	}
}

// exitReason 判断持仓是否触发止损或止盈
func exitReason(pos PaperPosition, price float64) string {
	if pos.Side == signal.SideLong {
		if price <= pos.StopLoss {
			return ReasonStopLoss
		}
		if price >= pos.TakeProfit {
			return ReasonTakeProfit
		}
		return ""
	}
	if price >= pos.StopLoss {
		return ReasonStopLoss
	}
	if price <= pos.TakeProfit {
		return ReasonTakeProfit
	}
	return ""
}

func directionalPnL(side string, entry, exit, size float64) float64 {
	if side == signal.SideLong {
		return (exit - entry) * size
	}
	return (entry - exit) * size
}

func positionMargin(pos PaperPosition) float64 {
	if pos.Leverage <= 0 {
		return pos.Size * pos.EntryPrice
	}
	return pos.Size * pos.EntryPrice / float64(pos.Leverage)
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
