package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job 由触发器调用的任务
type Job func(ctx context.Context)

// Trigger 可插拔的时间源
type Trigger interface {
	// Register 以调度表达式注册任务；表达式含义由实现决定
	Register(name, spec string, job Job) error
	Start()
	// Stop 停止触发并等待运行中的任务结束（或 ctx 到期）
	Stop(ctx context.Context)
}

// ── Cron 实现 ──

// CronTrigger 基于 robfig/cron 的时区感知触发器
type CronTrigger struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewCronTrigger 创建 cron 触发器，表达式按 loc 时区解释
func NewCronTrigger(loc *time.Location, logger *zap.Logger) *CronTrigger {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &CronTrigger{
		cron:   cron.New(cron.WithLocation(loc)),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Register 实现 Trigger（标准 5 段 cron 表达式）
func (t *CronTrigger) Register(name, spec string, job Job) error {
	_, err := t.cron.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("定时任务 panic", zap.String("job", name), zap.Any("panic", r))
			}
		}()
		job(t.ctx)
	})
	if err != nil {
		return fmt.Errorf("注册定时任务 %s 失败: %w", name, err)
	}
	t.logger.Info("定时任务已注册", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Start 实现 Trigger
func (t *CronTrigger) Start() {
	t.cron.Start()
}

// Stop 实现 Trigger：取消运行中任务的 ctx 并等待其退出
func (t *CronTrigger) Stop(ctx context.Context) {
	done := t.cron.Stop()
	t.cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
		t.logger.Warn("等待定时任务退出超时")
	}
}

// ── 手动实现（测试 / 运维命令）──

// ManualTrigger 只在 Fire 时同步执行任务
type ManualTrigger struct {
	mu   sync.Mutex
	jobs map[string]Job
}

// NewManualTrigger 创建手动触发器
func NewManualTrigger() *ManualTrigger {
	return &ManualTrigger{jobs: make(map[string]Job)}
}

// Register 实现 Trigger，spec 被忽略
func (t *ManualTrigger) Register(name, _ string, job Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[name] = job
	return nil
}

func (t *ManualTrigger) Start()                 {}
func (t *ManualTrigger) Stop(_ context.Context) {}

// Fire 同步执行已注册的任务
func (t *ManualTrigger) Fire(ctx context.Context, name string) error {
	t.mu.Lock()
	job, ok := t.jobs[name]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("任务 %s 未注册", name)
	}
	job(ctx)
	return nil
}
