package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
)

// BinanceClient 币安交易所客户端
type BinanceClient struct {
	exchange *ccxt.Binance
	logger   *zap.Logger
}

// NewBinanceClient 创建新的币安客户端
func NewBinanceClient(apiKey, apiSecret string, logger *zap.Logger) *BinanceClient {
	// 创建CCXT的Binance实例
	binanceInstance := ccxt.NewBinance(map[string]interface{}{
		"apiKey":          apiKey,
		"secret":          apiSecret,
		"enableRateLimit": true,
	})

	// 加载市场信息
	go func() {
		<-binanceInstance.LoadMarkets()
		logger.Info("Binance市场数据加载完成")
	}()

	return &BinanceClient{
		exchange: binanceInstance,
		logger:   logger,
	}
}

// GetExchangeName 获取交易所名称
func (b *BinanceClient) GetExchangeName() string {
	return "Binance"
}

// GetMarketData 获取指定币种的行情快照
func (b *BinanceClient) GetMarketData(ctx context.Context, coin string) (*MarketData, error) {
	symbol := formatContractSymbol(coin)

	// 资金费率接口同时携带标记价格
	fundingRateData, err := b.exchange.FetchFundingRate(symbol)
	if err != nil {
		b.logger.Error("获取币安行情失败",
			zap.Error(err),
			zap.String("coin", coin))
		return nil, fmt.Errorf("获取币安行情失败: %w", err)
	}

	fundingRate, err := strconv.ParseFloat(fmt.Sprintf("%v", (*fundingRateData)["fundingRate"]), 64)
	if err != nil {
		return nil, fmt.Errorf("解析资金费率失败: %w", err)
	}

	markPrice, err := strconv.ParseFloat(fmt.Sprintf("%v", (*fundingRateData)["markPrice"]), 64)
	if err != nil || markPrice <= 0 {
		// 标记价格缺失时回退最新成交价
		markPrice, err = b.GetPrice(ctx, coin)
		if err != nil {
			return nil, err
		}
	}

	// 持仓量并非所有接口都返回，缺失时置0
	openInterest := 0.0
	if info, ok := (*fundingRateData)["info"].(map[string]interface{}); ok {
		if v, exists := info["openInterest"]; exists {
			openInterest, _ = strconv.ParseFloat(fmt.Sprintf("%v", v), 64)
		}
	}

	return &MarketData{
		Coin:         strings.ToUpper(coin),
		MarkPrice:    markPrice,
		FundingRate:  fundingRate,
		OpenInterest: openInterest,
		Timestamp:    time.Now(),
	}, nil
}

// GetPrice 获取最新价格
func (b *BinanceClient) GetPrice(ctx context.Context, coin string) (float64, error) {
	symbol := formatContractSymbol(coin)

	ticker, err := b.exchange.FetchTicker(symbol)
	if err != nil {
		b.logger.Error("获取币安价格失败",
			zap.Error(err),
			zap.String("coin", coin))
		return 0, fmt.Errorf("获取币安价格失败: %w", err)
	}

	lastPrice, ok := (*ticker)["last"].(float64)
	if !ok {
		return 0, fmt.Errorf("价格数据格式错误")
	}

	return lastPrice, nil
}

// GetAllMarketData 批量获取全部合约币种的行情快照
func (b *BinanceClient) GetAllMarketData(ctx context.Context) ([]*MarketData, error) {
	fundingRates, err := b.exchange.FetchFundingRates(nil)
	if err != nil {
		b.logger.Error("批量获取币安行情失败", zap.Error(err))
		return nil, fmt.Errorf("批量获取币安行情失败: %w", err)
	}

	now := time.Now()
	result := make([]*MarketData, 0, len(*fundingRates))
	for symbol, rateData := range *fundingRates {
		coin := formatStandardCoin(symbol)
		if coin == "" {
			continue
		}

		rateObj, ok := rateData.(map[string]interface{})
		if !ok {
			b.logger.Warn("行情数据格式错误", zap.String("symbol", symbol))
			continue
		}

		fundingRate, _ := strconv.ParseFloat(fmt.Sprintf("%v", rateObj["fundingRate"]), 64)
		markPrice, _ := strconv.ParseFloat(fmt.Sprintf("%v", rateObj["markPrice"]), 64)
		if markPrice <= 0 {
			continue
		}

		result = append(result, &MarketData{
			Coin:        coin,
			MarkPrice:   markPrice,
			FundingRate: fundingRate,
			Timestamp:   now,
		})
	}

	return result, nil
}

// GetTradeableCoins 获取可交易的币种列表（USDT本位合约）
func (b *BinanceClient) GetTradeableCoins(ctx context.Context) ([]string, error) {
	fundingRates, err := b.exchange.FetchFundingRates(nil)
	if err != nil {
		b.logger.Error("获取币安交易对列表失败", zap.Error(err))
		return nil, fmt.Errorf("获取币安交易对列表失败: %w", err)
	}

	coins := make([]string, 0, len(*fundingRates))
	for symbol := range *fundingRates {
		coin := formatStandardCoin(symbol)
		if coin != "" {
			coins = append(coins, coin)
		}
	}

	return coins, nil
}

// GetAccountState 获取账户状态
func (b *BinanceClient) GetAccountState(ctx context.Context) (*AccountState, error) {
	balanceData, err := b.exchange.FetchBalance(nil)
	if err != nil {
		b.logger.Error("获取币安账户余额失败", zap.Error(err))
		return nil, fmt.Errorf("获取币安账户余额失败: %w", err)
	}

	state := &AccountState{}

	if total, ok := (*balanceData)["total"].(map[string]interface{}); ok {
		if v, exists := total["USDT"]; exists {
			state.Equity, _ = strconv.ParseFloat(fmt.Sprintf("%v", v), 64)
		}
	}
	if free, ok := (*balanceData)["free"].(map[string]interface{}); ok {
		if v, exists := free["USDT"]; exists {
			state.AvailableBalance, _ = strconv.ParseFloat(fmt.Sprintf("%v", v), 64)
		}
	}
	if used, ok := (*balanceData)["used"].(map[string]interface{}); ok {
		if v, exists := used["USDT"]; exists {
			state.MarginUsed, _ = strconv.ParseFloat(fmt.Sprintf("%v", v), 64)
		}
	}

	return state, nil
}

// SetLeverage 设置杠杆倍数
func (b *BinanceClient) SetLeverage(ctx context.Context, coin string, leverage int) error {
	symbol := formatContractSymbol(coin)

	// 设置杠杆
	params := map[string]interface{}{
		"leverage": leverage,
	}

	_, err := b.exchange.SetLeverage(leverage, symbol, params)
	if err != nil {
		b.logger.Error("设置币安杠杆失败",
			zap.Error(err),
			zap.String("coin", coin),
			zap.Int("leverage", leverage))
		return fmt.Errorf("设置币安杠杆失败: %w", err)
	}

	b.logger.Info("币安杠杆设置成功",
		zap.String("coin", coin),
		zap.Int("leverage", leverage))
	return nil
}

// CreateOrder 创建合约订单，price为0时按市价执行
func (b *BinanceClient) CreateOrder(ctx context.Context, coin, side string, amount, price float64, reduceOnly bool) (string, error) {
	symbol := formatContractSymbol(coin)

	orderType := "limit"
	if price <= 0 {
		orderType = "market"
	}

	params := map[string]interface{}{}
	if reduceOnly {
		params["reduceOnly"] = true
	}

	options := []ccxt.CreateOrderOptions{
		ccxt.WithCreateOrderSymbol(symbol),
		ccxt.WithCreateOrderType(orderType),
		ccxt.WithCreateOrderSide(side),
		ccxt.WithCreateOrderAmount(amount),
		ccxt.WithCreateOrderParams(params),
	}
	if price > 0 {
		options = append(options, ccxt.WithCreateOrderPrice(price))
	}

	order, err := b.exchange.CreateOrder(options...)
	if err != nil {
		b.logger.Error("创建币安订单失败",
			zap.Error(err),
			zap.String("coin", coin),
			zap.String("side", side),
			zap.Float64("amount", amount),
			zap.Float64("price", price))
		return "", fmt.Errorf("创建币安订单失败: %w", err)
	}

	orderID, ok := (*order)["id"].(string)
	if !ok {
		return "", fmt.Errorf("订单ID格式错误")
	}

	b.logger.Info("币安订单创建成功",
		zap.String("order_id", orderID),
		zap.String("coin", coin),
		zap.String("side", side),
		zap.String("type", orderType),
		zap.Float64("amount", amount),
		zap.Bool("reduce_only", reduceOnly))

	return orderID, nil
}

// formatContractSymbol 将币种代码转换为币安合约交易对格式，如BTC -> BTCUSDT
func formatContractSymbol(coin string) string {
	coin = strings.ToUpper(strings.TrimSpace(coin))
	if strings.HasSuffix(coin, "USDT") {
		return coin
	}
	return coin + "USDT"
}

// formatStandardCoin 从交易对符号中提取币种代码，如BTC/USDT:USDT -> BTC
func formatStandardCoin(symbol string) string {
	if idx := strings.Index(symbol, "/"); idx > 0 {
		return symbol[:idx]
	}
	if strings.HasSuffix(symbol, "USDT") && len(symbol) > 4 {
		return strings.TrimSuffix(symbol, "USDT")
	}
	return ""
}
