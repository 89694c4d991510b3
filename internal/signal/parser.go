package signal

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// coinAlias 名称到交易对代码的映射，按固定顺序匹配保证确定性
type coinAlias struct {
	name    string
	ticker  string
	pattern *regexp.Regexp
}

var knownCoins = buildKnownCoins([]struct {
	name   string
	ticker string
}{
	{"bitcoin", "BTC"}, {"btc", "BTC"},
	{"ethereum", "ETH"}, {"eth", "ETH"},
	{"solana", "SOL"}, {"sol", "SOL"},
	{"dogecoin", "DOGE"}, {"doge", "DOGE"},
	{"avalanche", "AVAX"}, {"avax", "AVAX"},
	{"chainlink", "LINK"}, {"link", "LINK"},
	{"polygon", "MATIC"}, {"matic", "MATIC"},
	{"arbitrum", "ARB"}, {"arb", "ARB"},
	{"optimism", "OP"}, {"op", "OP"},
	{"sui", "SUI"},
	{"aptos", "APT"}, {"apt", "APT"},
	{"pepe", "PEPE"},
	{"wif", "WIF"},
	{"render", "RNDR"}, {"rndr", "RNDR"},
	{"injective", "INJ"}, {"inj", "INJ"},
	{"sei", "SEI"},
	{"celestia", "TIA"}, {"tia", "TIA"},
	{"jupiter", "JUP"}, {"jup", "JUP"},
	{"pendle", "PENDLE"},
})

var buyKeywords = []string{
	"buying", "bought", "accumulated", "accumulating",
	"inflow", "inflows", "adding", "added",
	"long", "bullish", "bid", "scooping",
	"purchased", "acquiring", "loading",
}

var sellKeywords = []string{
	"selling", "sold", "dumping", "dumped",
	"outflow", "outflows", "removing", "removed",
	"short", "bearish", "liquidating",
	"distributing", "exiting", "offloading",
}

var (
	tickerPattern = regexp.MustCompile(`\$([A-Z]{2,10})`)
	amountPattern = regexp.MustCompile(`\$?([0-9][0-9,]*(?:\.[0-9]+)?)\s*([kKmMbB])?\b`)
)

func buildKnownCoins(entries []struct {
	name   string
	ticker string
}) []coinAlias {
	aliases := make([]coinAlias, 0, len(entries))
	for _, e := range entries {
		aliases = append(aliases, coinAlias{
			name:    e.name,
			ticker:  e.ticker,
			pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(e.name) + `\b`),
		})
	}
	return aliases
}

// Parser 将原始告警文本解析为结构化信号
// 纯函数式解析，无I/O，相同输入产生相同输出
type Parser struct {
	mu        sync.RWMutex
	tradeable map[string]struct{}
}

// NewParser 创建解析器，tradeableCoins为可交易币种白名单（为空表示不限制）
func NewParser(tradeableCoins []string) *Parser {
	p := &Parser{}
	p.UpdateTradeableCoins(tradeableCoins)
	return p
}

// UpdateTradeableCoins 更新可交易币种白名单
func (p *Parser) UpdateTradeableCoins(coins []string) {
	set := make(map[string]struct{}, len(coins))
	for _, c := range coins {
		set[strings.ToUpper(c)] = struct{}{}
	}
	p.mu.Lock()
	p.tradeable = set
	p.mu.Unlock()
}

func (p *Parser) isTradeable(coin string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.tradeable) == 0 {
		return true
	}
	_, ok := p.tradeable[coin]
	return ok
}

// Parse 解析告警文本，无法解析时返回nil（歧义不猜测）
func (p *Parser) Parse(text string, source string) *Signal {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lower := strings.ToLower(text)

	coin := p.extractCoin(lower, text)
	if coin == "" {
		return nil
	}
	if !p.isTradeable(coin) {
		return nil
	}

	// 结构化模式优先：识别到smart alert标记时按资金流方向解析
	if strings.Contains(lower, "smart alert") {
		if sig := p.parseStructured(text, lower, coin, source); sig != nil {
			return sig
		}
	}

	return p.parseKeywords(text, lower, coin, source)
}

// parseStructured 结构化解析：方向来自inflow/outflow标记，置信度按金额分档
func (p *Parser) parseStructured(text, lower, coin, source string) *Signal {
	hasInflow := strings.Contains(lower, "inflow")
	hasOutflow := strings.Contains(lower, "outflow")
	if !hasInflow && !hasOutflow {
		return nil
	}

	var side string
	switch {
	case hasInflow && !hasOutflow:
		side = SideLong
	case hasOutflow && !hasInflow:
		side = SideShort
	default:
		// 双向都有时比较各自金额合计，持平视为流入
		inflowSum, outflowSum := sumDirectionalAmounts(lower)
		if outflowSum > inflowSum {
			side = SideShort
		} else {
			side = SideLong
		}
	}

	confidence := 0.7
	largest := largestAmount(lower)
	switch {
	case largest >= 5_000_000:
		confidence = 0.9
	case largest >= 1_000_000:
		confidence = 0.85
	case largest >= 500_000:
		confidence = 0.8
	}

	return &Signal{
		Coin:       coin,
		Side:       side,
		Confidence: round2(confidence),
		Source:     source,
		RawText:    truncate(text, 500),
	}
}

// parseKeywords 关键词计分解析，买卖计分相等时视为歧义放弃
func (p *Parser) parseKeywords(text, lower, coin, source string) *Signal {
	buyScore := 0
	for _, kw := range buyKeywords {
		if strings.Contains(lower, kw) {
			buyScore++
		}
	}
	sellScore := 0
	for _, kw := range sellKeywords {
		if strings.Contains(lower, kw) {
			sellScore++
		}
	}

	if buyScore == 0 && sellScore == 0 {
		return nil
	}

	var side string
	var score int
	switch {
	case buyScore > sellScore:
		side = SideLong
		score = buyScore
	case sellScore > buyScore:
		side = SideShort
		score = sellScore
	default:
		return nil
	}

	confidence := math.Min(float64(score)/4.0, 1.0)

	// smart money或机构提及加分
	if strings.Contains(lower, "smart money") || strings.Contains(lower, "fund") {
		confidence = math.Min(confidence+0.2, 1.0)
	}
	if strings.Contains(lower, "whale") {
		confidence = math.Min(confidence+0.15, 1.0)
	}
	if strings.Contains(lower, "smart alert") {
		confidence = math.Min(confidence+0.3, 1.0)
	}

	return &Signal{
		Coin:       coin,
		Side:       side,
		Confidence: round2(confidence),
		Source:     source,
		RawText:    truncate(text, 500),
	}
}

// extractCoin 按优先级提取币种：名称字典 → $TICKER → 独立大写词
func (p *Parser) extractCoin(lower, original string) string {
	for _, alias := range knownCoins {
		if alias.pattern.MatchString(lower) {
			return alias.ticker
		}
	}

	if m := tickerPattern.FindStringSubmatch(original); m != nil {
		return m[1]
	}

	for _, word := range strings.Fields(original) {
		cleaned := strings.Trim(word, ".,!?()[]{}:;\"'")
		if len(cleaned) >= 2 && len(cleaned) <= 10 && isAllUpper(cleaned) {
			if p.isTradeable(cleaned) {
				return cleaned
			}
		}
	}

	return ""
}

func isAllUpper(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return len(s) > 0
}

// parseAmount 解析数字文本，支持k/m/b后缀和千分位逗号
func parseAmount(num, suffix string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", ""), 64)
	if err != nil {
		return 0
	}
	switch strings.ToLower(suffix) {
	case "k":
		v *= 1_000
	case "m":
		v *= 1_000_000
	case "b":
		v *= 1_000_000_000
	}
	return v
}

// largestAmount 返回文本中超过10000的最大金额，不存在时返回0
func largestAmount(text string) float64 {
	largest := 0.0
	for _, m := range amountPattern.FindAllStringSubmatch(text, -1) {
		if v := parseAmount(m[1], m[2]); v > 10_000 && v > largest {
			largest = v
		}
	}
	return largest
}

// sumDirectionalAmounts 按行归属累加流入/流出金额，一行同时提及则双向计入
func sumDirectionalAmounts(lower string) (inflowSum, outflowSum float64) {
	for _, line := range strings.Split(lower, "\n") {
		hasInflow := strings.Contains(line, "inflow")
		hasOutflow := strings.Contains(line, "outflow")
		if !hasInflow && !hasOutflow {
			continue
		}
		lineSum := 0.0
		for _, m := range amountPattern.FindAllStringSubmatch(line, -1) {
			lineSum += parseAmount(m[1], m[2])
		}
		if hasInflow {
			inflowSum += lineSum
		}
		if hasOutflow {
			outflowSum += lineSum
		}
	}
	return inflowSum, outflowSum
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
