package journal

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// WinRateStats 总体胜率统计
type WinRateStats struct {
	Total   int     `json:"total"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	WinRate float64 `json:"win_rate"`
	AvgWin  float64 `json:"avg_win"`
	AvgLoss float64 `json:"avg_loss"`
}

// GroupStats 按维度分组的胜率统计
type GroupStats struct {
	Total    int     `json:"total"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	WinRate  float64 `json:"win_rate"`
	TotalPnL float64 `json:"total_pnl"`
	AvgPnL   float64 `json:"avg_pnl"`
}

// AdvisorStats 顾问推荐准确率统计
type AdvisorStats struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// PastTrades 返回最近limit条交易，coin非空时只看该币种
func (j *Journal) PastTrades(coin string, limit int) []TradeResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	trades := j.data.Trades
	if coin != "" {
		filtered := make([]TradeResult, 0, len(trades))
		for _, t := range trades {
			if t.Coin == coin {
				filtered = append(filtered, t)
			}
		}
		trades = filtered
	}

	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	out := make([]TradeResult, len(trades))
	copy(out, trades)
	return out
}

// Lessons 返回最近limit条教训
func (j *Journal) Lessons(limit int) []Lesson {
	j.mu.Lock()
	defer j.mu.Unlock()

	lessons := j.data.Lessons
	if limit > 0 && len(lessons) > limit {
		lessons = lessons[len(lessons)-limit:]
	}
	out := make([]Lesson, len(lessons))
	copy(out, lessons)
	return out
}

// WinRate 计算总体胜率，pnl为0按亏损计
func (j *Journal) WinRate() WinRateStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return winRateOf(j.data.Trades)
}

func winRateOf(trades []TradeResult) WinRateStats {
	if len(trades) == 0 {
		return WinRateStats{}
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
			winSum += t.PnL
		} else {
			losses++
			lossSum += t.PnL
		}
	}

	stats := WinRateStats{
		Total:   len(trades),
		Wins:    wins,
		Losses:  losses,
		WinRate: round2(float64(wins) / float64(len(trades))),
	}
	if wins > 0 {
		stats.AvgWin = round2(winSum / float64(wins))
	}
	if losses > 0 {
		stats.AvgLoss = round2(lossSum / float64(losses))
	}
	return stats
}

// SourceStats 按信号来源分组的胜率统计
// 来源取自同币种同方向的最近一次分析记录
func (j *Journal) SourceStats() map[string]GroupStats {
	j.mu.Lock()
	defer j.mu.Unlock()

	sources := make(map[[2]string]string)
	for _, a := range j.data.Analyses {
		sources[[2]string{a.Coin, a.Side}] = a.Source
	}

	pnlsBySource := make(map[string][]float64)
	for _, t := range j.data.Trades {
		source, ok := sources[[2]string{t.Coin, t.Side}]
		if !ok {
			source = "unknown"
		}
		pnlsBySource[source] = append(pnlsBySource[source], t.PnL)
	}

	result := make(map[string]GroupStats, len(pnlsBySource))
	for source, pnls := range pnlsBySource {
		result[source] = groupStatsOf(pnls)
	}
	return result
}

// CoinStats 按币种分组的胜率统计，样本少于minTrades的币种不纳入
func (j *Journal) CoinStats(minTrades int) map[string]GroupStats {
	j.mu.Lock()
	defer j.mu.Unlock()

	pnlsByCoin := make(map[string][]float64)
	for _, t := range j.data.Trades {
		pnlsByCoin[t.Coin] = append(pnlsByCoin[t.Coin], t.PnL)
	}

	result := make(map[string]GroupStats)
	for coin, pnls := range pnlsByCoin {
		if len(pnls) < minTrades {
			continue
		}
		result[coin] = groupStatsOf(pnls)
	}
	return result
}

// HourlyStats 按UTC小时分组的胜率统计
func (j *Journal) HourlyStats() map[int]GroupStats {
	j.mu.Lock()
	defer j.mu.Unlock()

	pnlsByHour := make(map[int][]float64)
	for _, t := range j.data.Trades {
		hour := t.Timestamp.UTC().Hour()
		pnlsByHour[hour] = append(pnlsByHour[hour], t.PnL)
	}

	result := make(map[int]GroupStats, len(pnlsByHour))
	for hour, pnls := range pnlsByHour {
		result[hour] = groupStatsOf(pnls)
	}
	return result
}

func groupStatsOf(pnls []float64) GroupStats {
	wins := 0
	totalPnL := 0.0
	for _, p := range pnls {
		if p > 0 {
			wins++
		}
		totalPnL += p
	}
	stats := GroupStats{
		Total:    len(pnls),
		Wins:     wins,
		Losses:   len(pnls) - wins,
		TotalPnL: round2(totalPnL),
	}
	if len(pnls) > 0 {
		stats.WinRate = round2(float64(wins) / float64(len(pnls)))
		stats.AvgPnL = round2(totalPnL / float64(len(pnls)))
	}
	return stats
}

// AdvisorAccuracy 统计各顾问推荐的历史准确率
// buy推荐且盈利、skip推荐且亏损视为正确
func (j *Journal) AdvisorAccuracy() map[string]AdvisorStats {
	j.mu.Lock()
	defer j.mu.Unlock()

	outcomes := make(map[[2]string]bool)
	for _, t := range j.data.Trades {
		outcomes[[2]string{t.Coin, t.Side}] = t.PnL > 0
	}

	counts := make(map[string]*AdvisorStats)
	for _, a := range j.data.Analyses {
		profitable, ok := outcomes[[2]string{a.Coin, a.Side}]
		if !ok {
			continue
		}
		for name, opinion := range a.Advisors {
			rec := strings.ToLower(opinion.Recommendation)
			if rec == "" {
				continue
			}
			stats, exists := counts[name]
			if !exists {
				stats = &AdvisorStats{}
				counts[name] = stats
			}
			stats.Total++
			if (rec == "buy" && profitable) || (rec == "skip" && !profitable) {
				stats.Correct++
			}
		}
	}

	result := make(map[string]AdvisorStats, len(counts))
	for name, stats := range counts {
		if stats.Total > 0 {
			stats.Accuracy = round2(float64(stats.Correct) / float64(stats.Total))
		}
		result[name] = *stats
	}
	return result
}

// Streak 返回当前连胜或连亏情况，返回值为("win"|"loss"|"none", 连续次数)
func (j *Journal) Streak() (string, int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	trades := j.data.Trades
	if len(trades) == 0 {
		return "none", 0
	}

	lastWin := trades[len(trades)-1].PnL > 0
	streakType := "loss"
	if lastWin {
		streakType = "win"
	}

	count := 0
	for i := len(trades) - 1; i >= 0; i-- {
		if (trades[i].PnL > 0) == lastWin {
			count++
		} else {
			break
		}
	}
	return streakType, count
}

// PerformanceSummary 生成近期表现的文字摘要，供决策咨询服务使用
func (j *Journal) PerformanceSummary(days int) string {
	j.mu.Lock()
	stats := winRateOf(j.data.Trades)
	if stats.Total == 0 {
		j.mu.Unlock()
		return "Past Performance: No trade history yet."
	}

	cutoff := j.clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	recent := make([]TradeResult, 0, len(j.data.Trades))
	for _, t := range j.data.Trades {
		if !t.Timestamp.Before(cutoff) {
			recent = append(recent, t)
		}
	}
	j.mu.Unlock()

	if len(recent) == 0 {
		return fmt.Sprintf("Past Performance (last %d days): No trades in this period.", days)
	}

	recentStats := winRateOf(recent)
	best := recent[0]
	worst := recent[0]
	for _, t := range recent {
		if t.PnL > best.PnL {
			best = t
		}
		if t.PnL < worst.PnL {
			worst = t
		}
	}

	lines := []string{
		fmt.Sprintf("Past Performance (last %d days):", days),
		fmt.Sprintf("- Win rate: %.0f%% (%dW / %dL)", recentStats.WinRate*100, recentStats.Wins, recentStats.Losses),
		fmt.Sprintf("- Average profit: +$%.2f / Average loss: -$%.2f", math.Abs(recentStats.AvgWin), math.Abs(recentStats.AvgLoss)),
		fmt.Sprintf("- Best trade: %s %s +$%.2f", strings.ToUpper(best.Side), best.Coin, best.PnL),
		fmt.Sprintf("- Worst trade: %s %s $%.2f", strings.ToUpper(worst.Side), worst.Coin, worst.PnL),
	}

	if lessons := j.Lessons(5); len(lessons) > 0 {
		texts := make([]string, 0, len(lessons))
		for _, l := range lessons {
			if l.Lesson != "" {
				texts = append(texts, l.Lesson)
			}
		}
		if len(texts) > 0 {
			lines = append(lines, "- Lessons: "+strings.Join(texts, "; "))
		}
	}

	if perf := j.SourceStats(); len(perf) > 0 {
		names := make([]string, 0, len(perf))
		for src := range perf {
			names = append(names, src)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, src := range names {
			parts = append(parts, fmt.Sprintf("%s %.0f%%", src, perf[src].WinRate*100))
		}
		lines = append(lines, "- Signal accuracy by source: "+strings.Join(parts, ", "))
	}

	return strings.Join(lines, "\n")
}

// RecentLessonsText 最近教训的编号文本，为空时返回空字符串
func (j *Journal) RecentLessonsText(limit int) string {
	lessons := j.Lessons(limit)
	if len(lessons) == 0 {
		return ""
	}
	lines := make([]string, 0, len(lessons))
	for i, l := range lessons {
		lines = append(lines, fmt.Sprintf("%d. [%s] %s", i+1, l.Coin, l.Lesson))
	}
	return strings.Join(lines, "\n")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
