package rulebook

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// 复盘文本中常见的大写干扰词，不视为币种
var ruleStopWords = map[string]bool{
	"THE": true, "AND": true, "FOR": true,
	"NOT": true, "BUT": true, "ARE": true,
}

var (
	coinAvoidPattern   = regexp.MustCompile(`\b([A-Z]{2,10})\b.*(?i:avoid|skip)`)
	avoidCoinPattern   = regexp.MustCompile(`(?i:avoid|skip).*?\b([A-Z]{2,10})\b`)
	coinCautionPattern = regexp.MustCompile(`\b([A-Z]{2,10})\b.*(?i:caution|careful)`)

	fundingThresholdPattern = regexp.MustCompile(`(\d+\.?\d*)\s*%`)
	usdAmountPattern        = regexp.MustCompile(`\$?([\d,]+(?:\.\d+)?)`)
)

// DeriveRuleFromReview 从复盘调整建议文本中挖掘结构化规则
// 依次尝试币种规避、资金费率、自定义三类，成功派生即入库并返回规则
func (rb *Rulebook) DeriveRuleFromReview(adjustment, source string) *StrategyRule {
	text := strings.TrimSpace(adjustment)
	if text == "" {
		return nil
	}

	rule := deriveCoinRule(text, source)
	if rule == nil {
		rule = deriveFundingRule(text, source)
	}
	if rule == nil {
		rule = deriveCustomRule(text, source)
	}
	if rule == nil {
		return nil
	}

	rb.AddRule(rule)
	rb.logger.Info("从复盘文本派生规则",
		zap.String("rule_id", rule.ID),
		zap.String("source", source))
	return rule
}

// deriveCoinRule 尝试派生币种规避/降权规则
func deriveCoinRule(text, source string) *StrategyRule {
	if coin, ok := matchCoin(coinAvoidPattern, text); ok {
		return newCoinRule(coin, ActionSkip, 0, "规避"+coin+": "+truncateText(text, 120), source)
	}
	if coin, ok := matchCoin(avoidCoinPattern, text); ok {
		return newCoinRule(coin, ActionSkip, 0, "规避"+coin+": "+truncateText(text, 120), source)
	}
	if coin, ok := matchCoin(coinCautionPattern, text); ok {
		return newCoinRule(coin, ActionReduceConfidence, 0.3, "谨慎对待"+coin+": "+truncateText(text, 120), source)
	}
	return nil
}

func matchCoin(pattern *regexp.Regexp, text string) (string, bool) {
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	coin := m[1]
	if ruleStopWords[coin] {
		return "", false
	}
	return coin, true
}

func newCoinRule(coin string, action Action, value float64, description, source string) *StrategyRule {
	return &StrategyRule{
		ID:            generateRuleID(),
		Description:   description,
		ConditionType: ConditionCoin,
		Condition:     Condition{Coin: &CoinCondition{Coin: coin}},
		Action:        action,
		ActionValue:   value,
		Source:        source,
		Active:        true,
	}
}

// deriveFundingRule 尝试派生资金费率规则，文本中须提及funding
func deriveFundingRule(text, source string) *StrategyRule {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "funding") {
		return nil
	}

	threshold := 0.05
	if m := fundingThresholdPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			threshold = v
		}
	}

	direction := "long"
	if strings.Contains(lower, "short") {
		direction = "short"
	}

	return &StrategyRule{
		ID:            generateRuleID(),
		Description:   "资金费率规则: " + truncateText(text, 120),
		ConditionType: ConditionFundingRate,
		Condition: Condition{FundingRate: &FundingRateCondition{
			Direction:       direction,
			FundingAbovePct: threshold,
		}},
		Action:      ActionReduceConfidence,
		ActionValue: 0.2,
		Source:      source,
		Active:      true,
	}
}

// deriveCustomRule 兜底的自定义规则，小幅降低信心
func deriveCustomRule(text, source string) *StrategyRule {
	return &StrategyRule{
		ID:            generateRuleID(),
		Description:   truncateText(text, 120),
		ConditionType: ConditionCustom,
		Condition:     Condition{Custom: &CustomCondition{Pattern: truncateText(text, 200)}},
		Action:        ActionReduceConfidence,
		ActionValue:   0.1,
		Source:        source,
		Active:        true,
	}
}

// extractUSDAmount 取文本中最大的美元数值，找不到有效数值时ok为false
func extractUSDAmount(text string) (float64, bool) {
	matches := usdAmountPattern.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return 0, false
	}
	var best float64
	for _, m := range matches {
		raw := strings.ReplaceAll(m[1], ",", "")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		if v > best {
			best = v
		}
	}
	if best == 0 {
		return 0, false
	}
	return best, true
}

func truncateText(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
