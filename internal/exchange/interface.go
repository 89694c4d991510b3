package exchange

import (
	"context"
	"time"
)

// MarketData 单个币种的行情快照
type MarketData struct {
	Coin         string    `json:"coin"`
	MarkPrice    float64   `json:"mark_price"`
	FundingRate  float64   `json:"funding_rate"`
	OpenInterest float64   `json:"open_interest"`
	Timestamp    time.Time `json:"timestamp"`
}

// Position 交易所侧持仓信息
type Position struct {
	Coin          string  `json:"coin"`
	Side          string  `json:"side"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entry_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Leverage      int     `json:"leverage"`
}

// AccountState 账户状态快照
type AccountState struct {
	Equity           float64    `json:"equity"`
	MarginUsed       float64    `json:"margin_used"`
	AvailableBalance float64    `json:"available_balance"`
	Positions        []Position `json:"positions"`
}

// 订单方向
const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

// Exchange 交易所接口
type Exchange interface {
	// GetExchangeName 获取交易所名称
	GetExchangeName() string

	// GetMarketData 获取指定币种的行情快照
	GetMarketData(ctx context.Context, coin string) (*MarketData, error)

	// GetAllMarketData 批量获取全部合约币种的行情快照
	GetAllMarketData(ctx context.Context) ([]*MarketData, error)

	// GetPrice 获取指定币种的最新价格
	GetPrice(ctx context.Context, coin string) (float64, error)

	// GetTradeableCoins 获取可交易的币种列表
	GetTradeableCoins(ctx context.Context) ([]string, error)

	// GetAccountState 获取账户状态
	GetAccountState(ctx context.Context) (*AccountState, error)

	// SetLeverage 设置指定币种的杠杆倍数
	SetLeverage(ctx context.Context, coin string, leverage int) error

	// CreateOrder 创建合约订单，price为0时按市价执行
	// reduceOnly为true时只允许减仓，用于平仓
	CreateOrder(ctx context.Context, coin, side string, amount, price float64, reduceOnly bool) (string, error)
}
