// Package scheduler 用cron驱动管线的周期任务
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kokinoge/aiCrypto/internal/config"
	"github.com/kokinoge/aiCrypto/internal/pipeline"
)

// Scheduler 周期任务调度器
type Scheduler struct {
	logger   *zap.Logger
	cron     *cron.Cron
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	ctx      context.Context
}

// NewScheduler 创建调度器
func NewScheduler(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger:   logger.With(zap.String("component", "scheduler")),
		cron:     cron.New(cron.WithSeconds()),
		cfg:      cfg,
		pipeline: p,
		ctx:      ctx,
	}
}

// RegisterAll 注册出场巡检、状态巡检与周度复盘任务
func (s *Scheduler) RegisterAll() error {
	exitSeconds := s.cfg.System.ExitCheckIntervalSeconds
	if exitSeconds <= 0 {
		exitSeconds = 60
	}
	statusMinutes := s.cfg.System.StatusIntervalMinutes
	if statusMinutes <= 0 {
		statusMinutes = 60
	}

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", exitSeconds), s.exitCheckTask); err != nil {
		return fmt.Errorf("注册出场巡检任务失败: %w", err)
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %dm", statusMinutes), s.statusTask); err != nil {
		return fmt.Errorf("注册状态巡检任务失败: %w", err)
	}
	// 每周一 00:05 UTC 做一次参数重算、规则评审与周度战绩汇报
	if _, err := s.cron.AddFunc("0 5 0 * * 1", s.weeklyReviewTask); err != nil {
		return fmt.Errorf("注册周度复盘任务失败: %w", err)
	}
	return nil
}

// Start 启动调度
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("调度器已启动",
		zap.Int("exit_check_interval_seconds", s.cfg.System.ExitCheckIntervalSeconds),
		zap.Int("status_interval_minutes", s.cfg.System.StatusIntervalMinutes))
}

// Stop 停止调度并等待执行中的任务结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("调度器已停止")
}

// RunStatusNow 立即执行一次状态巡检，启动时用于确认链路通畅
func (s *Scheduler) RunStatusNow() {
	s.statusTask()
}

func (s *Scheduler) exitCheckTask() {
	s.pipeline.RunExitCheck(s.ctx)
}

func (s *Scheduler) statusTask() {
	s.pipeline.RunStatusCheck(s.ctx)
}

func (s *Scheduler) weeklyReviewTask() {
	s.logger.Info("执行周度复盘")
	s.pipeline.RunWeeklyReview(s.ctx)
}
