// Package notify 对外广播交易事件
// 事件对核心是不透明载荷，广播失败不影响交易流程
package notify

import (
	"context"

	"go.uber.org/zap"
)

// 事件类型
const (
	EventTradeOpened = "trade_opened"
	EventTradeClosed = "trade_closed"
	EventHalt        = "halt"
	EventStatus      = "status"
)

// Event 一条对外通知
type Event struct {
	Kind    string            `json:"kind"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Broadcaster 事件广播接口
type Broadcaster interface {
	Publish(ctx context.Context, event *Event)
}

// LogBroadcaster 把事件写入结构化日志的默认广播器
type LogBroadcaster struct {
	logger *zap.Logger
}

// NewLogBroadcaster 创建日志广播器
func NewLogBroadcaster(logger *zap.Logger) *LogBroadcaster {
	return &LogBroadcaster{logger: logger.With(zap.String("component", "notify"))}
}

// Publish 记录事件
func (b *LogBroadcaster) Publish(_ context.Context, event *Event) {
	fields := []zap.Field{
		zap.String("kind", event.Kind),
		zap.String("title", event.Title),
		zap.String("message", event.Message),
	}
	for k, v := range event.Fields {
		fields = append(fields, zap.String(k, v))
	}
	b.logger.Info("事件广播", fields...)
}
