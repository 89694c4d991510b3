package risk

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kokinoge/aiCrypto/internal/config"
	"github.com/kokinoge/aiCrypto/internal/signal"
)

// TradeParams 开仓参数，由风险引擎根据权益和入场价计算
type TradeParams struct {
	Coin       string  `json:"coin"`
	Side       string  `json:"side"`
	Size       float64 `json:"size"` // 币本位数量
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Leverage   int     `json:"leverage"`
}

// Margin 该仓位占用的保证金
func (p *TradeParams) Margin() float64 {
	if p.Leverage <= 0 {
		return p.Size * p.EntryPrice
	}
	return p.Size * p.EntryPrice / float64(p.Leverage)
}

// Engine 风险控制引擎
// 持有单向熔断开关：回撤超限后永久停机，进程生命周期内不自动恢复
type Engine struct {
	logger *zap.Logger
	cfg    config.RiskConfig

	mu            sync.Mutex
	initialEquity float64
	initialized   bool
	halted        bool
	haltReason    string
}

// NewEngine 创建风险引擎
func NewEngine(cfg config.RiskConfig, logger *zap.Logger) *Engine {
	return &Engine{
		logger: logger.With(zap.String("component", "risk_engine")),
		cfg:    cfg,
	}
}

// Initialize 记录初始权益快照，只取一次，后续调用忽略
func (e *Engine) Initialize(equity float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return
	}
	e.initialEquity = equity
	e.initialized = true
	e.logger.Info("风险引擎初始化完成",
		zap.Float64("initial_equity", equity),
		zap.Float64("max_drawdown_pct", e.cfg.MaxDrawdownPct))
}

// InitialEquity 返回初始化时的权益快照
func (e *Engine) InitialEquity() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialEquity
}

// Halted 返回是否已熔断
func (e *Engine) Halted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// HaltReason 返回熔断原因，未熔断时为空
func (e *Engine) HaltReason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.haltReason
}

// CheckDrawdown 检查当前权益相对初始权益的回撤
// 超过阈值时置位熔断开关并返回true，重复调用幂等
func (e *Engine) CheckDrawdown(currentEquity float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted {
		return true
	}
	if !e.initialized || e.initialEquity <= 0 {
		return false
	}

	drawdownPct := (e.initialEquity - currentEquity) / e.initialEquity * 100
	if drawdownPct >= e.cfg.MaxDrawdownPct {
		e.halted = true
		e.haltReason = fmt.Sprintf("回撤%.2f%%超过上限%.2f%%", drawdownPct, e.cfg.MaxDrawdownPct)
		e.logger.Error("触发最大回撤熔断，停止一切新开仓",
			zap.Float64("drawdown_pct", drawdownPct),
			zap.Float64("max_drawdown_pct", e.cfg.MaxDrawdownPct),
			zap.Float64("initial_equity", e.initialEquity),
			zap.Float64("current_equity", currentEquity))
		return true
	}
	return false
}

// CanOpen 判断当前是否允许新开仓
func (e *Engine) CanOpen(openPositions int, currentEquity float64) (bool, string) {
	if e.Halted() {
		return false, "已熔断: " + e.HaltReason()
	}
	if openPositions >= e.cfg.MaxPositions {
		return false, fmt.Sprintf("持仓数已达上限%d", e.cfg.MaxPositions)
	}
	if e.CheckDrawdown(currentEquity) {
		return false, "已熔断: " + e.HaltReason()
	}
	return true, ""
}

// SizeTrade 根据权益和风险比例计算仓位参数
// riskPct为本次生效的单笔风险比例（自适应调整后的值）
func (e *Engine) SizeTrade(coin, side string, entryPrice, equity, riskPct float64) (*TradeParams, error) {
	if entryPrice <= 0 {
		return nil, fmt.Errorf("无效的入场价: %f", entryPrice)
	}
	if equity <= 0 {
		return nil, fmt.Errorf("无效的权益: %f", equity)
	}
	if riskPct <= 0 {
		riskPct = e.cfg.MaxRiskPerTradePct
	}

	riskAmount := equity * riskPct / 100
	stopDistance := entryPrice * e.cfg.StopLossPct / 100
	size := riskAmount / stopDistance

	var stopLoss, takeProfit float64
	switch side {
	case signal.SideLong:
		stopLoss = entryPrice * (1 - e.cfg.StopLossPct/100)
		takeProfit = entryPrice * (1 + e.cfg.TakeProfitPct/100)
	case signal.SideShort:
		stopLoss = entryPrice * (1 + e.cfg.StopLossPct/100)
		takeProfit = entryPrice * (1 - e.cfg.TakeProfitPct/100)
	default:
		return nil, fmt.Errorf("无效的方向: %s", side)
	}

	params := &TradeParams{
		Coin:       coin,
		Side:       side,
		Size:       size,
		EntryPrice: entryPrice,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Leverage:   e.cfg.MaxLeverage,
	}

	e.logger.Debug("计算仓位参数",
		zap.String("coin", coin),
		zap.String("side", side),
		zap.Float64("size", size),
		zap.Float64("entry_price", entryPrice),
		zap.Float64("stop_loss", stopLoss),
		zap.Float64("take_profit", takeProfit),
		zap.Int("leverage", params.Leverage))

	return params, nil
}
