package signal

// 交易方向
const (
	SideLong  = "long"
	SideShort = "short"
)

// Signal 结构化交易信号，由原始告警文本解析得出
// 置信度调整时不原地修改，而是派生新值，保留原始来源可追溯
type Signal struct {
	Coin       string  `json:"coin"`
	Side       string  `json:"side"`
	Confidence float64 `json:"confidence"` // 0.0 ~ 1.0
	Source     string  `json:"source"`
	RawText    string  `json:"raw_text"`
}

// WithConfidence 派生一个置信度不同的新信号，原信号保持不变
func (s *Signal) WithConfidence(confidence float64) *Signal {
	derived := *s
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	derived.Confidence = confidence
	return &derived
}
