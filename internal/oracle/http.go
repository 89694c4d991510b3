package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kokinoge/aiCrypto/internal/config"
)

// HTTPOracle 通过HTTP对接的决策服务实现
type HTTPOracle struct {
	logger   *zap.Logger
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPOracle 按配置创建HTTP决策服务客户端
func NewHTTPOracle(cfg config.OracleConfig, logger *zap.Logger) *HTTPOracle {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPOracle{
		logger:   logger.With(zap.String("component", "oracle")),
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Deliberate 对信号做裁决
func (o *HTTPOracle) Deliberate(ctx context.Context, req *DeliberationRequest) (*Decision, error) {
	var decision Decision
	if err := o.post(ctx, o.endpoint+"/deliberate", req, &decision); err != nil {
		return nil, err
	}

	o.logger.Info("决策服务裁决返回",
		zap.String("coin", req.Signal.Coin),
		zap.Bool("should_execute", decision.ShouldExecute),
		zap.Float64("adjusted_confidence", decision.AdjustedConfidence))
	return &decision, nil
}

// ReviewTrade 对已平仓交易做复盘
func (o *HTTPOracle) ReviewTrade(ctx context.Context, req *ReviewRequest) (*Review, error) {
	var review Review
	if err := o.post(ctx, o.endpoint+"/review", req, &review); err != nil {
		return nil, err
	}
	return &review, nil
}

// WeeklyReview 对近一周表现做复盘
func (o *HTTPOracle) WeeklyReview(ctx context.Context, req *WeeklyReviewRequest) (*WeeklyReport, error) {
	var report WeeklyReport
	if err := o.post(ctx, o.endpoint+"/weekly-review", req, &report); err != nil {
		return nil, err
	}

	o.logger.Info("周度复盘返回",
		zap.Int("proposed_rules", len(report.ProposedRules)))
	return &report, nil
}

func (o *HTTPOracle) post(ctx context.Context, url string, payload, dest interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("请求决策服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("决策服务返回%d: %s", resp.StatusCode, string(raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("解析决策服务响应失败: %w", err)
	}
	return nil
}
