// Package services 组装全部组件并管理生命周期
package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kokinoge/aiCrypto/internal/adaptive"
	"github.com/kokinoge/aiCrypto/internal/clock"
	"github.com/kokinoge/aiCrypto/internal/coinlist"
	"github.com/kokinoge/aiCrypto/internal/config"
	"github.com/kokinoge/aiCrypto/internal/exchange"
	"github.com/kokinoge/aiCrypto/internal/journal"
	"github.com/kokinoge/aiCrypto/internal/notify"
	"github.com/kokinoge/aiCrypto/internal/oracle"
	"github.com/kokinoge/aiCrypto/internal/pipeline"
	"github.com/kokinoge/aiCrypto/internal/recorder"
	_redisClient "github.com/kokinoge/aiCrypto/internal/redis"
	"github.com/kokinoge/aiCrypto/internal/risk"
	"github.com/kokinoge/aiCrypto/internal/rulebook"
	"github.com/kokinoge/aiCrypto/internal/scheduler"
	"github.com/kokinoge/aiCrypto/internal/signal"
	"github.com/kokinoge/aiCrypto/internal/storage"
	"github.com/kokinoge/aiCrypto/internal/trading"
)

// TradingService 智能资金信号交易服务
type TradingService struct {
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *zap.Logger
	cfg       *config.Config
	parser    *signal.Parser
	pipeline  *pipeline.Pipeline
	scheduler *scheduler.Scheduler
	cache     *storage.MarketCache
	recorder  recorder.Recorder
}

// NewTradingService 创建交易服务，按依赖顺序组装全部组件
func NewTradingService(
	parentCtx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
) (*TradingService, error) {
	ctx, cancel := context.WithCancel(parentCtx)

	if err := os.MkdirAll(cfg.System.DataDir, 0755); err != nil {
		cancel()
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	// 交易所客户端
	factory := exchange.NewFactory(cfg.Exchange, logger)
	exch, err := factory.CreateExchange()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("创建交易所客户端失败: %w", err)
	}

	// 行情缓存（可选）
	var cache *storage.MarketCache
	if cfg.Redis.Enabled {
		client, err := _redisClient.NewClient(cfg.Redis)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("初始化Redis客户端失败: %w", err)
		}
		cache = storage.NewMarketCache(client, cfg.Redis.KeyPrefix, logger)
		if err := cache.Initialize(ctx); err != nil {
			cancel()
			return nil, err
		}
	}

	// 持久化存储，每个组件一个独立快照文件
	clk := clock.System()
	dataDir := cfg.System.DataDir
	journalStore := storage.NewSnapshotStore(filepath.Join(dataDir, "trade_journal.json"), logger)
	adaptiveStore := storage.NewSnapshotStore(filepath.Join(dataDir, "adaptive_params.json"), logger)
	rulesStore := storage.NewSnapshotStore(filepath.Join(dataDir, "strategy_rules.json"), logger)
	portfolioStore := storage.NewSnapshotStore(filepath.Join(dataDir, "paper_portfolio.json"), logger)
	coinsStore := storage.NewSnapshotStore(filepath.Join(dataDir, "coin_lists.json"), logger)
	pendingStore := storage.NewSnapshotStore(filepath.Join(dataDir, "pending_rules.json"), logger)

	// 核心组件
	j := journal.NewJournal(journalStore, clk, logger)
	tuner := adaptive.NewTuner(j, cfg.Risk, cfg.Signals, cfg.Adaptive.StalenessMinutes, adaptiveStore, clk, logger)
	rb := rulebook.NewRulebook(rulesStore, j, clk, logger)
	coins := coinlist.NewManager(coinsStore, clk, logger)
	riskEngine := risk.NewEngine(cfg.Risk, logger)

	// 按模式选择账本
	var ledger trading.Ledger
	switch cfg.Mode {
	case "live":
		state, err := exch.GetAccountState(ctx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("获取实盘账户状态失败: %w", err)
		}
		riskEngine.Initialize(state.Equity)
		ledger = trading.NewLiveLedger(cfg, exch, riskEngine, tuner, clk, logger)
		logger.Info("实盘模式已启用", zap.Float64("equity", state.Equity))
	default:
		ledger = trading.NewPaperLedger(cfg, exch, riskEngine, tuner, portfolioStore, clk, logger)
		logger.Info("模拟盘模式已启用",
			zap.Float64("starting_balance", cfg.Trading.PaperStartingBalance))
	}

	// 决策咨询服务（可选）
	var orc oracle.Oracle
	if cfg.Oracle.Enabled {
		orc = oracle.NewHTTPOracle(cfg.Oracle, logger)
	}

	// 成交归档
	var rec recorder.Recorder = recorder.NoopRecorder{}
	if cfg.Recorder.Enabled {
		sqlRec, err := recorder.NewSQLiteRecorder(cfg.Recorder.DBPath, clk, logger)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("初始化成交归档失败: %w", err)
		}
		rec = sqlRec
	}

	broadcaster := notify.NewLogBroadcaster(logger)

	// 信号解析器，可交易币种优先取自交易所
	tradeable := cfg.Trading.AllowedCoins
	if exchCoins, err := exch.GetTradeableCoins(ctx); err == nil && len(exchCoins) > 0 {
		tradeable = exchCoins
	} else if err != nil {
		logger.Warn("获取可交易币种失败，使用配置中的允许列表", zap.Error(err))
	}
	parser := signal.NewParser(tradeable)

	p := pipeline.NewPipeline(pipeline.Deps{
		Config:       cfg,
		Exchange:     exch,
		Ledger:       ledger,
		RiskEngine:   riskEngine,
		Tuner:        tuner,
		Rulebook:     rb,
		Journal:      j,
		Coinlist:     coins,
		Oracle:       orc,
		Recorder:     rec,
		Broadcaster:  broadcaster,
		Cache:        cache,
		PendingStore: pendingStore,
	}, logger)

	sched := scheduler.NewScheduler(ctx, cfg, p, logger)
	if err := sched.RegisterAll(); err != nil {
		cancel()
		return nil, fmt.Errorf("注册周期任务失败: %w", err)
	}

	return &TradingService{
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		cfg:       cfg,
		parser:    parser,
		pipeline:  p,
		scheduler: sched,
		cache:     cache,
		recorder:  rec,
	}, nil
}

// Start 启动服务
func (s *TradingService) Start() {
	s.logger.Info("启动智能资金信号交易服务", zap.String("mode", s.cfg.Mode))
	s.scheduler.Start()
	s.scheduler.RunStatusNow()
}

// HandleAlert 处理一条外部警报文本，解析成交易信号后送入决策管线
// 解析失败（无法识别币种或信号模糊）时静默丢弃
func (s *TradingService) HandleAlert(text, source string) {
	sig := s.parser.Parse(text, source)
	if sig == nil {
		s.logger.Debug("警报未能解析为信号", zap.String("source", source))
		return
	}
	s.pipeline.HandleSignal(s.ctx, sig)
}

// Stop 停止服务并释放资源
func (s *TradingService) Stop(ctx context.Context) error {
	s.logger.Info("停止智能资金信号交易服务")

	s.scheduler.Stop()
	s.cancel()

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("关闭行情缓存失败", zap.Error(err))
		}
	}
	if err := s.recorder.Close(); err != nil {
		s.logger.Error("关闭成交归档失败", zap.Error(err))
	}

	// 等待执行中的任务收尾
	timer := time.NewTimer(5 * time.Second)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
