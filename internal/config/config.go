package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config 应用配置结构
type Config struct {
	Mode     string         `mapstructure:"mode"` // paper 或 live
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Signals  SignalsConfig  `mapstructure:"signals"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Adaptive AdaptiveConfig `mapstructure:"adaptive"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	System   SystemConfig   `mapstructure:"system"`
}

// ExchangeConfig 交易所配置
type ExchangeConfig struct {
	Binance BinanceConfig `mapstructure:"binance"`
}

// BinanceConfig Binance配置
type BinanceConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	APIKey    string `mapstructure:"api_key"`    // 从配置文件或环境变量中读取
	APISecret string `mapstructure:"api_secret"` // 从配置文件或环境变量中读取
}

// RiskConfig 风险控制配置
type RiskConfig struct {
	MaxRiskPerTradePct float64 `mapstructure:"max_risk_per_trade_pct"` // 单笔风险占权益百分比
	StopLossPct        float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct      float64 `mapstructure:"take_profit_pct"`
	MaxPositions       int     `mapstructure:"max_positions"`
	MaxDrawdownPct     float64 `mapstructure:"max_drawdown_pct"` // 相对初始权益的最大回撤，触发后永久停机
	MaxLeverage        int     `mapstructure:"max_leverage"`
}

// SignalsConfig 信号过滤配置
type SignalsConfig struct {
	MinConfidence   float64 `mapstructure:"min_confidence"`
	CooldownMinutes int     `mapstructure:"cooldown_minutes"` // 同币种开仓冷却时间
}

// TradingConfig 交易配置
type TradingConfig struct {
	PaperStartingBalance float64  `mapstructure:"paper_starting_balance"`
	AllowedCoins         []string `mapstructure:"allowed_coins"` // 为空表示不限制
	BlacklistFile        string   `mapstructure:"blacklist_file"`
}

// AdaptiveConfig 自适应参数配置
type AdaptiveConfig struct {
	StalenessMinutes int `mapstructure:"staleness_minutes"` // 参数过期时间，超时后回退基准值
}

// OracleConfig 决策咨询服务配置
type OracleConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"` // 从配置文件或环境变量中读取
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RedisConfig Redis配置（行情快照缓存，可选）
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RecorderConfig 成交归档配置（SQLite，可选）
type RecorderConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	ExitCheckIntervalSeconds int    `mapstructure:"exit_check_interval_seconds"`
	StatusIntervalMinutes    int    `mapstructure:"status_interval_minutes"`
	LogLevel                 string `mapstructure:"log_level"`
	DataDir                  string `mapstructure:"data_dir"`
	LogDir                   string `mapstructure:"log_dir"`
}

// LoadConfig 从文件加载配置
func LoadConfig(filePath string) (*Config, error) {
	// 使用Viper读取配置
	v := viper.New()
	v.SetConfigFile(filePath)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 绑定环境变量（可选，如果需要从环境变量覆盖配置）
	v.AutomaticEnv()
	v.SetEnvPrefix("AICRYPTO") // 环境变量前缀，如AICRYPTO_MODE

	// 特定环境变量映射，如果存在这些环境变量则优先使用
	if binanceApiKey := os.Getenv("BINANCE_API_KEY"); binanceApiKey != "" {
		v.Set("exchange.binance.api_key", binanceApiKey)
	}
	if binanceApiSecret := os.Getenv("BINANCE_API_SECRET"); binanceApiSecret != "" {
		v.Set("exchange.binance.api_secret", binanceApiSecret)
	}
	if oracleApiKey := os.Getenv("ORACLE_API_KEY"); oracleApiKey != "" {
		v.Set("oracle.api_key", oracleApiKey)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		v.Set("redis.password", redisPassword)
	}

	// 解析配置到结构体
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 验证配置有效性
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// 保留原有的yaml加载函数以备不时之需
func LoadConfigFromYAML(filePath string) (*Config, error) {
	yamlFile, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(yamlFile, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 验证配置有效性
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// validateConfig 验证配置有效性
func validateConfig(config *Config) error {
	// 验证运行模式
	if config.Mode != "paper" && config.Mode != "live" {
		return fmt.Errorf("无效的运行模式: %s（只支持paper或live）", config.Mode)
	}

	// live模式必须配置交易所密钥
	if config.Mode == "live" {
		if !config.Exchange.Binance.Enabled {
			return fmt.Errorf("live模式必须启用交易所")
		}
		if config.Exchange.Binance.APIKey == "" || config.Exchange.Binance.APISecret == "" {
			return fmt.Errorf("Binance已启用，但API密钥未配置")
		}
	}

	// 验证风险参数
	if config.Risk.MaxRiskPerTradePct <= 0 || config.Risk.MaxRiskPerTradePct > 100 {
		return fmt.Errorf("单笔风险比例必须在0到100之间")
	}

	if config.Risk.StopLossPct <= 0 {
		return fmt.Errorf("止损比例必须大于0")
	}

	if config.Risk.TakeProfitPct <= 0 {
		return fmt.Errorf("止盈比例必须大于0")
	}

	if config.Risk.MaxPositions <= 0 {
		return fmt.Errorf("最大持仓数必须大于0")
	}

	if config.Risk.MaxDrawdownPct <= 0 || config.Risk.MaxDrawdownPct > 100 {
		return fmt.Errorf("最大回撤比例必须在0到100之间")
	}

	if config.Risk.MaxLeverage <= 0 {
		return fmt.Errorf("最大杠杆倍数必须大于0")
	}

	// 验证信号参数
	if config.Signals.MinConfidence < 0 || config.Signals.MinConfidence > 1 {
		return fmt.Errorf("最低置信度必须在0到1之间")
	}

	if config.Signals.CooldownMinutes < 0 {
		return fmt.Errorf("冷却时间不能为负")
	}

	// 验证模拟盘初始资金
	if config.Mode == "paper" && config.Trading.PaperStartingBalance <= 0 {
		return fmt.Errorf("模拟盘初始资金必须大于0")
	}

	// 验证Redis配置
	if config.Redis.Enabled {
		if config.Redis.Host == "" {
			return fmt.Errorf("Redis主机不能为空")
		}
		if config.Redis.Port <= 0 || config.Redis.Port > 65535 {
			return fmt.Errorf("无效的Redis端口")
		}
	}

	// 验证归档配置
	if config.Recorder.Enabled && config.Recorder.DBPath == "" {
		return fmt.Errorf("归档已启用，但数据库路径未配置")
	}

	return nil
}

// GetDefaultConfig 获取默认配置（用于生成示例配置）
func GetDefaultConfig() *Config {
	return &Config{
		Mode: "paper",
		Exchange: ExchangeConfig{
			Binance: BinanceConfig{
				Enabled: true,
			},
		},
		Risk: RiskConfig{
			MaxRiskPerTradePct: 3.0,
			StopLossPct:        5.0,
			TakeProfitPct:      10.0,
			MaxPositions:       3,
			MaxDrawdownPct:     20.0,
			MaxLeverage:        3,
		},
		Signals: SignalsConfig{
			MinConfidence:   0.6,
			CooldownMinutes: 30,
		},
		Trading: TradingConfig{
			PaperStartingBalance: 1000.0,
			AllowedCoins:         []string{},
			BlacklistFile:        "./data/blacklist.json",
		},
		Adaptive: AdaptiveConfig{
			StalenessMinutes: 30,
		},
		Oracle: OracleConfig{
			Enabled:        false,
			TimeoutSeconds: 30,
		},
		Redis: RedisConfig{
			Enabled:   false,
			Host:      "localhost",
			Port:      6379,
			Password:  "",
			DB:        0,
			KeyPrefix: "aicrypto:",
		},
		Recorder: RecorderConfig{
			Enabled: true,
			DBPath:  "./data/trades.db",
		},
		System: SystemConfig{
			ExitCheckIntervalSeconds: 60,
			StatusIntervalMinutes:    60,
			LogLevel:                 "INFO",
			DataDir:                  "./data",
			LogDir:                   "./logs",
		},
	}
}

// SaveConfigToFile 将配置保存到文件
func SaveConfigToFile(config *Config, filePath string) error {
	v := viper.New()
	v.SetConfigFile(filePath)

	// 将配置转换为map
	// 注意：这里不包含敏感信息
	configMap := map[string]interface{}{
		"mode": config.Mode,
		"exchange": map[string]interface{}{
			"binance": map[string]interface{}{
				"enabled": config.Exchange.Binance.Enabled,
			},
		},
		"risk": map[string]interface{}{
			"max_risk_per_trade_pct": config.Risk.MaxRiskPerTradePct,
			"stop_loss_pct":          config.Risk.StopLossPct,
			"take_profit_pct":        config.Risk.TakeProfitPct,
			"max_positions":          config.Risk.MaxPositions,
			"max_drawdown_pct":       config.Risk.MaxDrawdownPct,
			"max_leverage":           config.Risk.MaxLeverage,
		},
		"signals": map[string]interface{}{
			"min_confidence":   config.Signals.MinConfidence,
			"cooldown_minutes": config.Signals.CooldownMinutes,
		},
		"trading": map[string]interface{}{
			"paper_starting_balance": config.Trading.PaperStartingBalance,
			"allowed_coins":          config.Trading.AllowedCoins,
			"blacklist_file":         config.Trading.BlacklistFile,
		},
		"adaptive": map[string]interface{}{
			"staleness_minutes": config.Adaptive.StalenessMinutes,
		},
		"oracle": map[string]interface{}{
			"enabled":         config.Oracle.Enabled,
			"endpoint":        config.Oracle.Endpoint,
			"timeout_seconds": config.Oracle.TimeoutSeconds,
		},
		"redis": map[string]interface{}{
			"enabled":    config.Redis.Enabled,
			"host":       config.Redis.Host,
			"port":       config.Redis.Port,
			"db":         config.Redis.DB,
			"key_prefix": config.Redis.KeyPrefix,
		},
		"recorder": map[string]interface{}{
			"enabled": config.Recorder.Enabled,
			"db_path": config.Recorder.DBPath,
		},
		"system": map[string]interface{}{
			"exit_check_interval_seconds": config.System.ExitCheckIntervalSeconds,
			"status_interval_minutes":     config.System.StatusIntervalMinutes,
			"log_level":                   config.System.LogLevel,
			"data_dir":                    config.System.DataDir,
			"log_dir":                     config.System.LogDir,
		},
	}

	// 将配置设置到viper
	for k, val := range configMap {
		v.Set(k, val)
	}

	// 写入文件
	return v.WriteConfigAs(filePath)
}
