package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kokinoge/aiCrypto/internal/clock"
	"github.com/kokinoge/aiCrypto/internal/config"
	"github.com/kokinoge/aiCrypto/internal/exchange"
	"github.com/kokinoge/aiCrypto/internal/risk"
	"github.com/kokinoge/aiCrypto/internal/signal"
)

// watchedLevels 本地跟踪的止损止盈价位，按币种索引
type watchedLevels struct {
	Side       string
	StopLoss   float64
	TakeProfit float64
}

// LiveLedger 实盘组合账本，下单经由交易所接口执行
// 止损止盈由出场巡检在本地监控，触发时以只减仓市价单平仓
type LiveLedger struct {
	logger *zap.Logger
	cfg    *config.Config
	exch   exchange.Exchange
	risk   *risk.Engine
	params ParamSource
	clock  clock.Clock

	mu        sync.Mutex
	cooldowns map[string]time.Time
	watched   map[string]watchedLevels
	realized  float64
	closed    int
}

// NewLiveLedger 创建实盘账本
func NewLiveLedger(
	cfg *config.Config,
	exch exchange.Exchange,
	riskEngine *risk.Engine,
	params ParamSource,
	clk clock.Clock,
	logger *zap.Logger,
) *LiveLedger {
	return &LiveLedger{
		logger:    logger.With(zap.String("component", "live_ledger")),
		cfg:       cfg,
		exch:      exch,
		risk:      riskEngine,
		params:    params,
		clock:     clk,
		cooldowns: make(map[string]time.Time),
		watched:   make(map[string]watchedLevels),
	}
}

// OpenFromSignal 按信号尝试实盘开仓
func (ll *LiveLedger) OpenFromSignal(ctx context.Context, coin, side string, confidence, sizeModifier float64) *Result {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	reject := func(reason string) *Result {
		ll.logger.Info("实盘开仓被拒",
			zap.String("coin", coin),
			zap.String("side", side),
			zap.String("reason", reason))
		return &Result{Coin: coin, Side: side, Reason: reason}
	}

	minConfidence := ll.minConfidence()
	if confidence < minConfidence {
		return reject(fmt.Sprintf("信心度%.2f低于阈值%.2f", confidence, minConfidence))
	}
	if !ll.coinAllowed(coin) {
		return reject(coin + "不在允许交易列表")
	}
	if last, ok := ll.cooldowns[coin]; ok {
		cooldown := time.Duration(ll.cfg.Signals.CooldownMinutes) * time.Minute
		if ll.clock.Now().Sub(last) < cooldown {
			return reject(coin + "冷却中")
		}
	}

	state, err := ll.exch.GetAccountState(ctx)
	if err != nil {
		return reject("获取账户状态失败: " + err.Error())
	}

	if ok, reason := ll.risk.CanOpen(len(state.Positions), state.Equity); !ok {
		return reject(reason)
	}
	for _, p := range state.Positions {
		if p.Coin == coin {
			return reject(coin + "已有持仓")
		}
	}

	market, err := ll.exch.GetMarketData(ctx, coin)
	if err != nil {
		return reject("获取行情失败: " + err.Error())
	}

	params, err := ll.risk.SizeTrade(coin, side, market.MarkPrice, state.Equity, ll.riskPct())
	if err != nil {
		return reject("计算仓位失败: " + err.Error())
	}
	if sizeModifier > 0 {
		params.Size *= sizeModifier
	}

	if params.Margin() > state.AvailableBalance {
		return reject(fmt.Sprintf("保证金$%.2f超过可用余额$%.2f", params.Margin(), state.AvailableBalance))
	}

	if err := ll.exch.SetLeverage(ctx, coin, params.Leverage); err != nil {
		ll.logger.Warn("设置杠杆失败，沿用交易所当前杠杆",
			zap.String("coin", coin), zap.Error(err))
	}

	orderID, err := ll.exch.CreateOrder(ctx, coin, orderSide(side), params.Size, 0, false)
	if err != nil {
		return reject("下单失败: " + err.Error())
	}

	ll.watched[coin] = watchedLevels{
		Side:       side,
		StopLoss:   params.StopLoss,
		TakeProfit: params.TakeProfit,
	}
	ll.cooldowns[coin] = ll.clock.Now()

	ll.logger.Info("实盘开仓成功",
		zap.String("coin", coin),
		zap.String("side", side),
		zap.Float64("size", params.Size),
		zap.Float64("entry_price", market.MarkPrice),
		zap.String("order_id", orderID))

	return &Result{
		Success: true,
		Coin:    coin,
		Side:    side,
		Size:    params.Size,
		Price:   market.MarkPrice,
		OrderID: orderID,
	}
}

// CheckExits 巡检交易所持仓的止损止盈价位
// 行情或账户获取失败时本轮跳过，下一轮重试
func (ll *LiveLedger) CheckExits(ctx context.Context) []ExitEvent {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	state, err := ll.exch.GetAccountState(ctx)
	if err != nil {
		ll.logger.Warn("获取账户状态失败，跳过本轮出场检查", zap.Error(err))
		return nil
	}

	var events []ExitEvent
	for _, pos := range state.Positions {
		levels, ok := ll.watched[pos.Coin]
		if !ok {
			continue
		}

		price, err := ll.exch.GetPrice(ctx, pos.Coin)
		if err != nil {
			ll.logger.Warn("获取价格失败，持仓保留至下一轮",
				zap.String("coin", pos.Coin), zap.Error(err))
			continue
		}

		reason := levelHit(levels, price)
		if reason == "" {
			continue
		}

		event, err := ll.closePositionLocked(ctx, pos, levels.Side, price, reason)
		if err != nil {
			ll.logger.Error("平仓下单失败，留待下一轮",
				zap.String("coin", pos.Coin), zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events
}

// CloseAll 以只减仓市价单强平交易所全部持仓
func (ll *LiveLedger) CloseAll(ctx context.Context) []*Result {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	state, err := ll.exch.GetAccountState(ctx)
	if err != nil {
		ll.logger.Error("获取账户状态失败，无法强平", zap.Error(err))
		return nil
	}

	var results []*Result
	for _, pos := range state.Positions {
		side := pos.Side
		if levels, ok := ll.watched[pos.Coin]; ok {
			side = levels.Side
		}

		price, err := ll.exch.GetPrice(ctx, pos.Coin)
		if err != nil {
			price = pos.EntryPrice
		}

		if _, err := ll.exch.CreateOrder(ctx, pos.Coin, closeSide(side), pos.Size, 0, true); err != nil {
			ll.logger.Error("强平下单失败",
				zap.String("coin", pos.Coin), zap.Error(err))
			results = append(results, &Result{
				Coin: pos.Coin, Side: "close_" + side, Size: pos.Size,
				Reason: "强平下单失败: " + err.Error(),
			})
			continue
		}

		pnl := directionalPnL(side, pos.EntryPrice, price, pos.Size)
		ll.realized += pnl
		ll.closed++
		delete(ll.watched, pos.Coin)

		ll.logger.Warn("实盘强制平仓",
			zap.String("coin", pos.Coin),
			zap.Float64("pnl", round2(pnl)))

		results = append(results, &Result{
			Success: true,
			Coin:    pos.Coin,
			Side:    "close_" + side,
			Size:    pos.Size,
			Price:   price,
		})
	}
	return results
}

// AccountState 直接读取交易所账户状态
func (ll *LiveLedger) AccountState(ctx context.Context) (*exchange.AccountState, error) {
	return ll.exch.GetAccountState(ctx)
}

// Summary 实盘组合概览，基线为风险引擎初始化时的权益
func (ll *LiveLedger) Summary(ctx context.Context) (*Summary, error) {
	state, err := ll.exch.GetAccountState(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取账户状态失败: %w", err)
	}

	ll.mu.Lock()
	defer ll.mu.Unlock()

	initial := ll.risk.InitialEquity()
	returnPct := 0.0
	if initial > 0 {
		returnPct = round2((state.Equity - initial) / initial * 100)
	}

	return &Summary{
		Equity:         state.Equity,
		Cash:           state.AvailableBalance,
		InitialBalance: initial,
		TotalPnL:       round2(ll.realized),
		ReturnPct:      returnPct,
		OpenPositions:  len(state.Positions),
		TotalTrades:    ll.closed,
		Positions:      state.Positions,
	}, nil
}

// closePositionLocked 下只减仓市价单并结算出场事件，调用方必须持有ll.mu
func (ll *LiveLedger) closePositionLocked(ctx context.Context, pos exchange.Position, side string, price float64, reason string) (ExitEvent, error) {
	if _, err := ll.exch.CreateOrder(ctx, pos.Coin, closeSide(side), pos.Size, 0, true); err != nil {
		return ExitEvent{}, err
	}

	pnl := directionalPnL(side, pos.EntryPrice, price, pos.Size)
	ll.realized += pnl
	ll.closed++
	delete(ll.watched, pos.Coin)

	ll.logger.Info("实盘平仓",
		zap.String("coin", pos.Coin),
		zap.String("side", side),
		zap.String("reason", reason),
		zap.Float64("exit", price),
		zap.Float64("pnl", round2(pnl)))

	return ExitEvent{
		Coin:       pos.Coin,
		Side:       side,
		Size:       pos.Size,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		PnL:        round2(pnl),
		Reason:     reason,
	}, nil
}

func (ll *LiveLedger) minConfidence() float64 {
	if ll.params != nil {
		return ll.params.EffectiveMinConfidence()
	}
	return ll.cfg.Signals.MinConfidence
}

func (ll *LiveLedger) riskPct() float64 {
	if ll.params != nil {
		return ll.params.EffectiveRiskPct()
	}
	return ll.cfg.Risk.MaxRiskPerTradePct
}

func (ll *LiveLedger) coinAllowed(coin string) bool {
	allowed := ll.cfg.Trading.AllowedCoins
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

// levelHit 判断价格是否触发止损止盈价位
func levelHit(levels watchedLevels, price float64) string {
	if levels.Side == signal.SideLong {
		if price <= levels.StopLoss {
			return ReasonStopLoss
		}
		if price >= levels.TakeProfit {
			return ReasonTakeProfit
		}
		return ""
	}
	if price >= levels.StopLoss {
		return ReasonStopLoss
	}
	if price <= levels.TakeProfit {
		return ReasonTakeProfit
	}
	return ""
}

// orderSide 开仓方向到订单方向
func orderSide(side string) string {
	if side == signal.SideLong {
		return exchange.OrderSideBuy
	}
	return exchange.OrderSideSell
}

// closeSide 平仓方向与持仓方向相反
func closeSide(side string) string {
	if side == signal.SideLong {
		return exchange.OrderSideSell
	}
	return exchange.OrderSideBuy
}
