package pulse

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/easyops/orcha-go/pkg/otel"
)

// UserRef 摘要任务的目标用户
type UserRef struct {
	TenantID string
	UserID   string
}

// UserLister 列出需要生成摘要的用户
type UserLister func(ctx context.Context) ([]UserRef, error)

// Scheduler 按日调度摘要生成
type Scheduler struct {
	generator *Generator
	users     UserLister
	cron      *cron.Cron
	hour      int
	logger    otel.Logger
}

// SchedulerOption 配置 Scheduler
type SchedulerOption func(*Scheduler)

// WithHour 设置每日运行的 UTC 整点，默认 21 点
func WithHour(hour int) SchedulerOption {
	return func(s *Scheduler) {
		s.hour = hour
	}
}

// WithSchedulerLogger 设置日志器
func WithSchedulerLogger(logger otel.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// NewScheduler 创建调度器
func NewScheduler(generator *Generator, users UserLister, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		generator: generator,
		users:     users,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		hour:      21,
		logger:    otel.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start 启动每日调度
func (s *Scheduler) Start() error {
	spec := fmt.Sprintf("0 %d * * *", s.hour)
	_, err := s.cron.AddFunc(spec, s.runOnce)
	if err != nil {
		return fmt.Errorf("failed to schedule digest job: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop 停止调度并等待进行中的任务结束
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// runOnce 为所有用户各生成一份摘要
//
// 单个用户失败不中断其余用户。
func (s *Scheduler) runOnce() {
	ctx := context.Background()

	users, err := s.users(ctx)
	if err != nil {
		s.logger.Error("failed to list digest users", "error", err)
		return
	}

	for _, ref := range users {
		if _, err := s.generator.GenerateForUser(ctx, ref.TenantID, ref.UserID); err != nil {
			s.logger.Warn("digest generation failed",
				"tenant_id", ref.TenantID, "user_id", ref.UserID, "error", err)
		}
	}
}
