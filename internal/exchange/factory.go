package exchange

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/kokinoge/aiCrypto/internal/config"
)

// Factory 交易所客户端工厂
type Factory struct {
	cfg    config.ExchangeConfig
	logger *zap.Logger
}

// NewFactory 创建交易所工厂
func NewFactory(cfg config.ExchangeConfig, logger *zap.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateExchange 根据配置创建交易所客户端
func (f *Factory) CreateExchange() (Exchange, error) {
	if f.cfg.Binance.Enabled {
		f.logger.Info("创建Binance客户端")
		return NewBinanceClient(
			f.cfg.Binance.APIKey,
			f.cfg.Binance.APISecret,
			f.logger.With(zap.String("exchange", "binance")),
		), nil
	}

	return nil, fmt.Errorf("没有启用的交易所")
}
