package trading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kokinoge/aiCrypto/internal/clock"
	"github.com/kokinoge/aiCrypto/internal/config"
	"github.com/kokinoge/aiCrypto/internal/exchange"
	"github.com/kokinoge/aiCrypto/internal/mocks"
	"github.com/kokinoge/aiCrypto/internal/risk"
)

func newLiveFixture(t *testing.T) (*LiveLedger, *mocks.MockExchange, *risk.Engine) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := config.GetDefaultConfig()
	cfg.Trading.AllowedCoins = []string{"BTC", "ETH"}

	exch := new(mocks.MockExchange)
	engine := risk.NewEngine(cfg.Risk, logger)
	engine.Initialize(1000)
	clk := clock.NewFake(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	return NewLiveLedger(cfg, exch, engine, nil, clk, logger), exch, engine
}

func TestLiveOpenFromSignal_下单成功(t *testing.T) {
	ll, exch, _ := newLiveFixture(t)
	ctx := context.Background()

	exch.On("GetAccountState", mock.Anything).Return(&exchange.AccountState{
		Equity: 1000, AvailableBalance: 1000,
	}, nil)
	exch.On("GetMarketData", mock.Anything, "BTC").Return(&exchange.MarketData{
		Coin: "BTC", MarkPrice: 100,
	}, nil)
	exch.On("SetLeverage", mock.Anything, "BTC", 3).Return(nil)
	exch.On("CreateOrder", mock.Anything, "BTC", exchange.OrderSideBuy, 6.0, 0.0, false).
		Return("order-1", nil)

	result := ll.OpenFromSignal(ctx, "BTC", "long", 0.8, 1.0)
	require.True(t, result.Success, result.Reason)
	assert.Equal(t, "order-1", result.OrderID)
	assert.Equal(t, 6.0, result.Size)
	exch.AssertExpectations(t)
}

func TestLiveOpenFromSignal_账户不可得按瞬时故障处理(t *testing.T) {
	ll, exch, _ := newLiveFixture(t)
	exch.On("GetAccountState", mock.Anything).Return(nil, errors.New("网络超时"))

	result := ll.OpenFromSignal(context.Background(), "BTC", "long", 0.8, 1.0)
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "账户状态")
}

func TestLiveOpenFromSignal_下单失败不记冷却(t *testing.T) {
	ll, exch, _ := newLiveFixture(t)
	ctx := context.Background()

	exch.On("GetAccountState", mock.Anything).Return(&exchange.AccountState{
		Equity: 1000, AvailableBalance: 1000,
	}, nil)
	exch.On("GetMarketData", mock.Anything, "BTC").Return(&exchange.MarketData{
		Coin: "BTC", MarkPrice: 100,
	}, nil)
	exch.On("SetLeverage", mock.Anything, "BTC", 3).Return(nil)
	exch.On("CreateOrder", mock.Anything, "BTC", exchange.OrderSideBuy, 6.0, 0.0, false).
		Return("", errors.New("余额校验失败")).Once()
	exch.On("CreateOrder", mock.Anything, "BTC", exchange.OrderSideBuy, 6.0, 0.0, false).
		Return("order-2", nil).Once()

	result := ll.OpenFromSignal(ctx, "BTC", "long", 0.8, 1.0)
	assert.False(t, result.Success)

	// 失败不进入冷却，立即重试可以成功
	result = ll.OpenFromSignal(ctx, "BTC", "long", 0.8, 1.0)
	assert.True(t, result.Success, result.Reason)
}

func TestLiveCheckExits_触发止损(t *testing.T) {
	ll, exch, _ := newLiveFixture(t)
	ctx := context.Background()

	exch.On("GetAccountState", mock.Anything).Return(&exchange.AccountState{
		Equity: 1000, AvailableBalance: 1000,
	}, nil).Once()
	exch.On("GetMarketData", mock.Anything, "BTC").Return(&exchange.MarketData{
		Coin: "BTC", MarkPrice: 100,
	}, nil)
	exch.On("SetLeverage", mock.Anything, "BTC", 3).Return(nil)
	exch.On("CreateOrder", mock.Anything, "BTC", exchange.OrderSideBuy, 6.0, 0.0, false).
		Return("order-1", nil).Once()
	require.True(t, ll.OpenFromSignal(ctx, "BTC", "long", 0.8, 1.0).Success)

	// 持仓在场，价格跌破止损95
	exch.On("GetAccountState", mock.Anything).Return(&exchange.AccountState{
		Equity: 970, AvailableBalance: 800,
		Positions: []exchange.Position{{Coin: "BTC", Side: "long", Size: 6, EntryPrice: 100, Leverage: 3}},
	}, nil)
	exch.On("GetPrice", mock.Anything, "BTC").Return(94.0, nil)
	exch.On("CreateOrder", mock.Anything, "BTC", exchange.OrderSideSell, 6.0, 0.0, true).
		Return("close-1", nil).Once()

	events := ll.CheckExits(ctx)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonStopLoss, events[0].Reason)
	assert.Equal(t, -36.0, events[0].PnL)

	// 已平仓的币种不再被监控
	events = ll.CheckExits(ctx)
	assert.Empty(t, events)
}

func TestLiveCloseAll_只减仓强平(t *testing.T) {
	ll, exch, _ := newLiveFixture(t)
	ctx := context.Background()

	exch.On("GetAccountState", mock.Anything).Return(&exchange.AccountState{
		Equity: 900, AvailableBalance: 700,
		Positions: []exchange.Position{
			{Coin: "BTC", Side: "long", Size: 6, EntryPrice: 100, Leverage: 3},
			{Coin: "ETH", Side: "short", Size: 12, EntryPrice: 50, Leverage: 3},
		},
	}, nil)
	exch.On("GetPrice", mock.Anything, "BTC").Return(98.0, nil)
	exch.On("GetPrice", mock.Anything, "ETH").Return(51.0, nil)
	exch.On("CreateOrder", mock.Anything, "BTC", exchange.OrderSideSell, 6.0, 0.0, true).
		Return("c1", nil)
	exch.On("CreateOrder", mock.Anything, "ETH", exchange.OrderSideBuy, 12.0, 0.0, true).
		Return("c2", nil)

	results := ll.CloseAll(ctx)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Success, r.Reason)
	}
	exch.AssertExpectations(t)
}
