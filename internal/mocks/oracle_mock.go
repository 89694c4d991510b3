package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kokinoge/aiCrypto/internal/oracle"
)

// MockOracle 决策服务接口的模拟实现
type MockOracle struct {
	mock.Mock
}

// Deliberate 裁决的模拟实现
func (m *MockOracle) Deliberate(ctx context.Context, req *oracle.DeliberationRequest) (*oracle.Decision, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oracle.Decision), args.Error(1)
}

// ReviewTrade 复盘的模拟实现
func (m *MockOracle) ReviewTrade(ctx context.Context, req *oracle.ReviewRequest) (*oracle.Review, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oracle.Review), args.Error(1)
}

// WeeklyReview 周度复盘的模拟实现
func (m *MockOracle) WeeklyReview(ctx context.Context, req *oracle.WeeklyReviewRequest) (*oracle.WeeklyReport, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oracle.WeeklyReport), args.Error(1)
}
