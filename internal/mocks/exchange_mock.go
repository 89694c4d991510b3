package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kokinoge/aiCrypto/internal/exchange"
)

// MockExchange 交易所接口的模拟实现
type MockExchange struct {
	mock.Mock
}

// GetExchangeName 获取交易所名称的模拟实现
func (m *MockExchange) GetExchangeName() string {
	args := m.Called()
	return args.String(0)
}

// GetMarketData 获取行情快照的模拟实现
func (m *MockExchange) GetMarketData(ctx context.Context, coin string) (*exchange.MarketData, error) {
	args := m.Called(ctx, coin)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exchange.MarketData), args.Error(1)
}

// GetAllMarketData 批量获取行情快照的模拟实现
func (m *MockExchange) GetAllMarketData(ctx context.Context) ([]*exchange.MarketData, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*exchange.MarketData), args.Error(1)
}

// GetPrice 获取价格的模拟实现
func (m *MockExchange) GetPrice(ctx context.Context, coin string) (float64, error) {
	args := m.Called(ctx, coin)
	return args.Get(0).(float64), args.Error(1)
}

// GetTradeableCoins 获取可交易币种的模拟实现
func (m *MockExchange) GetTradeableCoins(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// GetAccountState 获取账户状态的模拟实现
func (m *MockExchange) GetAccountState(ctx context.Context) (*exchange.AccountState, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exchange.AccountState), args.Error(1)
}

// SetLeverage 设置杠杆的模拟实现
func (m *MockExchange) SetLeverage(ctx context.Context, coin string, leverage int) error {
	args := m.Called(ctx, coin, leverage)
	return args.Error(0)
}

// CreateOrder 创建订单的模拟实现
func (m *MockExchange) CreateOrder(ctx context.Context, coin, side string, amount, price float64, reduceOnly bool) (string, error) {
	args := m.Called(ctx, coin, side, amount, price, reduceOnly)
	return args.String(0), args.Error(1)
}
