package adaptive

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kokinoge/aiCrypto/internal/clock"
	"github.com/kokinoge/aiCrypto/internal/config"
	"github.com/kokinoge/aiCrypto/internal/journal"
	"github.com/kokinoge/aiCrypto/internal/storage"
)

// 参数安全边界，任何自动调整都不允许越界
const (
	riskMin = 1.0
	riskMax = 5.0
	confMin = 0.4
	confMax = 0.9
	sizeMin = 0.5
	sizeMax = 1.5
)

// Overrides 自适应参数覆盖
// 指针字段为nil表示不覆盖，使用配置基准值
type Overrides struct {
	RiskPerTradePct           *float64           `json:"risk_per_trade_pct"`
	MinConfidence             *float64           `json:"min_confidence"`
	CoinConfidenceAdjustments map[string]float64 `json:"coin_confidence_adjustments"`
	SkipHoursUTC              []int              `json:"skip_hours_utc"`
	PositionSizeModifier      float64            `json:"position_size_modifier"`
}

func emptyOverrides() Overrides {
	return Overrides{
		CoinConfidenceAdjustments: map[string]float64{},
		SkipHoursUTC:              []int{},
		PositionSizeModifier:      1.0,
	}
}

// Tuner 根据交易日志表现自动调整交易参数
type Tuner struct {
	logger      *zap.Logger
	journal     *journal.Journal
	baseRisk    config.RiskConfig
	baseSignals config.SignalsConfig
	staleness   time.Duration
	store       *storage.SnapshotStore
	clock       clock.Clock

	mu        sync.Mutex
	overrides Overrides
	lastCalc  time.Time
}

// NewTuner 创建自适应调参器，加载上次持久化的参数
func NewTuner(
	j *journal.Journal,
	baseRisk config.RiskConfig,
	baseSignals config.SignalsConfig,
	stalenessMinutes int,
	store *storage.SnapshotStore,
	clk clock.Clock,
	logger *zap.Logger,
) *Tuner {
	if stalenessMinutes <= 0 {
		stalenessMinutes = 30
	}
	t := &Tuner{
		logger:      logger.With(zap.String("component", "adaptive_tuner")),
		journal:     j,
		baseRisk:    baseRisk,
		baseSignals: baseSignals,
		staleness:   time.Duration(stalenessMinutes) * time.Minute,
		store:       store,
		clock:       clk,
		overrides:   emptyOverrides(),
	}

	var loaded Overrides
	if store.Load(&loaded) {
		if loaded.CoinConfidenceAdjustments == nil {
			loaded.CoinConfidenceAdjustments = map[string]float64{}
		}
		if loaded.SkipHoursUTC == nil {
			loaded.SkipHoursUTC = []int{}
		}
		if loaded.PositionSizeModifier == 0 {
			loaded.PositionSizeModifier = 1.0
		}
		t.overrides = loaded
		t.logger.Info("加载历史自适应参数成功")
	}
	return t
}

// Recalculate 基于最近交易记录重新计算全部覆盖参数
func (t *Tuner) Recalculate() Overrides {
	overrides := emptyOverrides()

	trades := t.journal.PastTrades("", 100)
	recent := trades
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}

	t.applyStreakAdjustment(recent, &overrides)
	t.applyWinRateSizing(trades, &overrides)
	t.applyCoinConfidence(trades, &overrides)
	t.applyHourAnalysis(trades, &overrides)
	enforceBounds(&overrides)

	t.mu.Lock()
	t.overrides = overrides
	t.lastCalc = t.clock.Now()
	t.mu.Unlock()

	if err := t.store.Save(&overrides); err != nil {
		t.logger.Error("保存自适应参数失败", zap.Error(err))
	}

	t.logger.Info("自适应参数重算完成",
		zap.Float64("risk_pct", t.EffectiveRiskPct()),
		zap.Float64("min_confidence", t.EffectiveMinConfidence()),
		zap.Float64("size_modifier", overrides.PositionSizeModifier),
		zap.Ints("skip_hours_utc", overrides.SkipHoursUTC),
		zap.Any("coin_adjustments", overrides.CoinConfidenceAdjustments))
	return overrides
}

// Overrides 返回当前覆盖参数，过期时自动重算
func (t *Tuner) Overrides() Overrides {
	t.mu.Lock()
	stale := t.lastCalc.IsZero() || t.clock.Now().Sub(t.lastCalc) >= t.staleness
	current := t.overrides
	t.mu.Unlock()

	if stale {
		return t.Recalculate()
	}
	return current
}

// ShouldSkipNow 判断当前UTC小时是否属于历史表现差的跳过时段
func (t *Tuner) ShouldSkipNow() (bool, string) {
	overrides := t.Overrides()
	hour := t.clock.Now().UTC().Hour()
	for _, h := range overrides.SkipHoursUTC {
		if h == hour {
			return true, fmt.Sprintf("UTC %d点历史胜率过低，跳过该时段", hour)
		}
	}
	return false, ""
}

// AdjustedConfidence 应用币种置信度调整后的有效置信度
func (t *Tuner) AdjustedConfidence(coin string, baseConfidence float64) float64 {
	overrides := t.Overrides()
	adjustment := overrides.CoinConfidenceAdjustments[coin]
	return clampFloat(baseConfidence+adjustment, confMin, confMax)
}

// EffectiveRiskPct 当前生效的单笔风险比例
func (t *Tuner) EffectiveRiskPct() float64 {
	overrides := t.Overrides()
	if overrides.RiskPerTradePct != nil {
		return *overrides.RiskPerTradePct
	}
	return t.baseRisk.MaxRiskPerTradePct
}

// EffectiveMinConfidence 当前生效的最低置信度
func (t *Tuner) EffectiveMinConfidence() float64 {
	overrides := t.Overrides()
	if overrides.MinConfidence != nil {
		return *overrides.MinConfidence
	}
	return t.baseSignals.MinConfidence
}

// SizeModifier 当前生效的仓位缩放系数
func (t *Tuner) SizeModifier() float64 {
	return t.Overrides().PositionSizeModifier
}

// applyStreakAdjustment 连亏降风险提门槛，连胜适度加风险
func (t *Tuner) applyStreakAdjustment(recent []journal.TradeResult, overrides *Overrides) {
	if len(recent) == 0 {
		return
	}

	consecutiveWins := 0
	consecutiveLosses := 0
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].PnL > 0 {
			if consecutiveLosses > 0 {
				break
			}
			consecutiveWins++
		} else {
			if consecutiveWins > 0 {
				break
			}
			consecutiveLosses++
		}
	}

	baseRisk := t.baseRisk.MaxRiskPerTradePct
	baseConf := t.baseSignals.MinConfidence

	if consecutiveLosses >= 3 {
		risk := baseRisk * 0.5
		conf := baseConf + 0.1
		overrides.RiskPerTradePct = &risk
		overrides.MinConfidence = &conf
		t.logger.Info("连续亏损，风险减半并提高置信度门槛",
			zap.Int("consecutive_losses", consecutiveLosses),
			zap.Float64("risk_pct", risk),
			zap.Float64("min_confidence", conf))
	} else if consecutiveWins >= 3 {
		risk := baseRisk * 1.2
		if risk > riskMax {
			risk = riskMax
		}
		overrides.RiskPerTradePct = &risk
		t.logger.Info("连续盈利，适度提高风险",
			zap.Int("consecutive_wins", consecutiveWins),
			zap.Float64("risk_pct", risk))
	}
}

// applyWinRateSizing 按总体胜率调整仓位缩放，样本不足时保守
func (t *Tuner) applyWinRateSizing(trades []journal.TradeResult, overrides *Overrides) {
	if len(trades) < 10 {
		overrides.PositionSizeModifier = 0.8
		t.logger.Info("交易样本不足，仓位缩放取保守值",
			zap.Int("total_trades", len(trades)),
			zap.Float64("size_modifier", 0.8))
		return
	}

	winRate := t.journal.WinRate().WinRate
	switch {
	case winRate >= 0.65:
		overrides.PositionSizeModifier = 1.2
	case winRate >= 0.55:
		overrides.PositionSizeModifier = 1.0
	case winRate < 0.45:
		overrides.PositionSizeModifier = 0.7
	default:
		overrides.PositionSizeModifier = 1.0
	}

	t.logger.Info("按胜率调整仓位缩放",
		zap.Float64("win_rate", winRate),
		zap.Float64("size_modifier", overrides.PositionSizeModifier))
}

// applyCoinConfidence 按币种历史胜率调整置信度要求
func (t *Tuner) applyCoinConfidence(trades []journal.TradeResult, overrides *Overrides) {
	pnlsByCoin := make(map[string][]float64)
	for _, tr := range trades {
		if tr.Coin != "" {
			pnlsByCoin[tr.Coin] = append(pnlsByCoin[tr.Coin], tr.PnL)
		}
	}

	for coin, pnls := range pnlsByCoin {
		if len(pnls) < 3 {
			continue
		}
		wins := 0
		for _, p := range pnls {
			if p > 0 {
				wins++
			}
		}
		wr := float64(wins) / float64(len(pnls))

		if wr < 0.3 {
			overrides.CoinConfidenceAdjustments[coin] = 0.2
			t.logger.Info("币种胜率过低，提高置信度要求",
				zap.String("coin", coin),
				zap.Float64("win_rate", wr))
		} else if wr > 0.7 {
			overrides.CoinConfidenceAdjustments[coin] = -0.1
			t.logger.Info("币种胜率较高，放宽置信度要求",
				zap.String("coin", coin),
				zap.Float64("win_rate", wr))
		}
	}
}

// applyHourAnalysis 找出历史胜率过低的UTC小时加入跳过时段
func (t *Tuner) applyHourAnalysis(trades []journal.TradeResult, overrides *Overrides) {
	pnlsByHour := make(map[int][]float64)
	for _, tr := range trades {
		hour := tr.Timestamp.UTC().Hour()
		pnlsByHour[hour] = append(pnlsByHour[hour], tr.PnL)
	}

	hours := make([]int, 0, len(pnlsByHour))
	for h := range pnlsByHour {
		hours = append(hours, h)
	}
	sort.Ints(hours)

	for _, hour := range hours {
		pnls := pnlsByHour[hour]
		if len(pnls) < 3 {
			continue
		}
		wins := 0
		for _, p := range pnls {
			if p > 0 {
				wins++
			}
		}
		wr := float64(wins) / float64(len(pnls))
		if wr < 0.25 {
			overrides.SkipHoursUTC = append(overrides.SkipHoursUTC, hour)
			t.logger.Info("时段胜率过低，加入跳过时段",
				zap.Int("hour_utc", hour),
				zap.Float64("win_rate", wr),
				zap.Int("trades", len(pnls)))
		}
	}
}

func enforceBounds(overrides *Overrides) {
	if overrides.RiskPerTradePct != nil {
		v := clampFloat(*overrides.RiskPerTradePct, riskMin, riskMax)
		overrides.RiskPerTradePct = &v
	}
	if overrides.MinConfidence != nil {
		v := clampFloat(*overrides.MinConfidence, confMin, confMax)
		overrides.MinConfidence = &v
	}
	overrides.PositionSizeModifier = clampFloat(overrides.PositionSizeModifier, sizeMin, sizeMax)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
