package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kokinoge/aiCrypto/internal/exchange"
)

// Redis 键前缀常量
const (
	keyMarketSnapshotPrefix = "market:snapshot:"
	keyMarketHistoryPrefix  = "market:history:"

	// 过期时间（秒）
	expiryMarketSnapshot = 3600      // 1小时
	expiryMarketHistory  = 86400 * 7 // 7天
)

// MarketCache 行情快照的Redis缓存
// 只做旁路缓存，Redis不可用时调用方直接回源交易所
type MarketCache struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
}

// NewMarketCache 创建行情缓存
func NewMarketCache(client *redis.Client, keyPrefix string, logger *zap.Logger) *MarketCache {
	return &MarketCache{
		client:    client,
		logger:    logger.With(zap.String("component", "market_cache")),
		keyPrefix: keyPrefix,
	}
}

// Initialize 初始化缓存连接
func (c *MarketCache) Initialize(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.logger.Error("Redis连接失败", zap.Error(err))
		return fmt.Errorf("redis连接失败: %w", err)
	}
	c.logger.Info("行情缓存初始化成功")
	return nil
}

// Close 关闭Redis连接
func (c *MarketCache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("关闭Redis连接失败: %w", err)
	}
	return nil
}

// Health 检查Redis健康状态
func (c *MarketCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// StoreSnapshot 缓存最新行情快照并追加历史序列
func (c *MarketCache) StoreSnapshot(ctx context.Context, data *exchange.MarketData) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化行情快照失败: %w", err)
	}

	key := c.keyPrefix + keyMarketSnapshotPrefix + data.Coin
	historyKey := c.keyPrefix + keyMarketHistoryPrefix + data.Coin

	// 使用Pipeline批量执行
	pipe := c.client.Pipeline()

	// 最新快照
	pipe.Set(ctx, key, jsonData, time.Duration(expiryMarketSnapshot)*time.Second)

	// 历史序列（有序集合，按时间戳排序）
	pipe.ZAdd(ctx, historyKey, redis.Z{
		Score:  float64(data.Timestamp.Unix()),
		Member: jsonData,
	})
	pipe.Expire(ctx, historyKey, time.Duration(expiryMarketHistory)*time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("缓存行情快照失败: %w", err)
	}
	return nil
}

// GetSnapshot 获取指定币种的最新行情快照，缓存未命中时返回nil
func (c *MarketCache) GetSnapshot(ctx context.Context, coin string) (*exchange.MarketData, error) {
	key := c.keyPrefix + keyMarketSnapshotPrefix + coin

	jsonData, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("获取行情快照失败: %w", err)
	}

	var data exchange.MarketData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		c.logger.Warn("解析行情快照失败", zap.Error(err), zap.String("coin", coin))
		return nil, nil
	}
	return &data, nil
}

// GetHistory 获取指定时间段内的行情历史
func (c *MarketCache) GetHistory(ctx context.Context, coin string, period time.Duration) ([]*exchange.MarketData, error) {
	historyKey := c.keyPrefix + keyMarketHistoryPrefix + coin

	now := time.Now()
	minTime := now.Add(-period).Unix()

	results, err := c.client.ZRangeByScore(ctx, historyKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(minTime, 10),
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("获取行情历史失败: %w", err)
	}

	history := make([]*exchange.MarketData, 0, len(results))
	for _, jsonData := range results {
		var data exchange.MarketData
		if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
			c.logger.Warn("解析行情历史数据失败", zap.Error(err))
			continue
		}
		history = append(history, &data)
	}
	return history, nil
}
