package trading

import (
	"context"
	"time"

	"github.com/kokinoge/aiCrypto/internal/exchange"
)

// 平仓原因
const (
	ReasonStopLoss       = "STOP_LOSS"
	ReasonTakeProfit     = "TAKE_PROFIT"
	ReasonEmergencyClose = "EMERGENCY_CLOSE"
)

// PaperPosition 模拟盘持仓
type PaperPosition struct {
	Coin       string    `json:"coin"`
	Side       string    `json:"side"`
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Leverage   int       `json:"leverage"`
	OpenedAt   time.Time `json:"opened_at"`
}

// ClosedTrade 已平仓记录
type ClosedTrade struct {
	Coin       string    `json:"coin"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry"`
	ExitPrice  float64   `json:"exit"`
	Size       float64   `json:"size"`
	PnL        float64   `json:"pnl"`
	Reason     string    `json:"reason"`
	ClosedAt   time.Time `json:"closed_at"`
}

// Result 开仓或平仓的业务结果
// 业务性拒绝（冷却中、持仓已满等）通过Success=false与Reason表达，不是错误
type Result struct {
	Success bool    `json:"success"`
	Coin    string  `json:"coin"`
	Side    string  `json:"side"`
	Size    float64 `json:"size"`
	Price   float64 `json:"price"`
	OrderID string  `json:"order_id,omitempty"`
	Reason  string  `json:"reason,omitempty"`
}

// ExitEvent 一次出场事件，供外层记录日志与交易日记
type ExitEvent struct {
	Coin       string  `json:"coin"`
	Side       string  `json:"side"`
	Size       float64 `json:"size"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	PnL        float64 `json:"pnl"`
	Reason     string  `json:"reason"`
}

// Summary 组合概览，全部由当前状态现算
type Summary struct {
	Equity         float64             `json:"equity"`
	Cash           float64             `json:"cash"`
	InitialBalance float64             `json:"initial_balance"`
	TotalPnL       float64             `json:"total_pnl"`
	ReturnPct      float64             `json:"return_pct"`
	OpenPositions  int                 `json:"open_positions"`
	TotalTrades    int                 `json:"total_trades"`
	Positions      []exchange.Position `json:"positions"`
}

// ParamSource 提供自适应调整后的开仓参数
type ParamSource interface {
	EffectiveRiskPct() float64
	EffectiveMinConfidence() float64
}

// Ledger 组合账本接口，模拟盘与实盘共用同一契约
type Ledger interface {
	// OpenFromSignal 按信号尝试开仓，按序执行各项准入检查
	// sizeModifier为外层累计的仓位调节系数
	OpenFromSignal(ctx context.Context, coin, side string, confidence, sizeModifier float64) *Result

	// CheckExits 检查全部持仓的止损止盈，返回本轮出场事件
	CheckExits(ctx context.Context) []ExitEvent

	// CloseAll 强制平掉全部持仓，仅在熔断时使用
	CloseAll(ctx context.Context) []*Result

	// AccountState 当前账户状态
	AccountState(ctx context.Context) (*exchange.AccountState, error)

	// Summary 组合概览
	Summary(ctx context.Context) (*Summary, error)
}
