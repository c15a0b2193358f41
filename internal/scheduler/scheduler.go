// Package scheduler 定时任务：夜间批量预生成、每周清理、每日报告
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GHS01/chikitita-sub002/config"
	"github.com/GHS01/chikitita-sub002/internal/model"
	"github.com/GHS01/chikitita-sub002/internal/repository"
	"github.com/GHS01/chikitita-sub002/internal/service"
	pkgerrors "github.com/GHS01/chikitita-sub002/pkg/errors"
	"github.com/GHS01/chikitita-sub002/pkg/metrics"
)

var (
	ErrUnknownJob = errors.New("未知的调度任务")
)

// 手动触发 / 命令行使用的短名
const (
	JobNameNightly = "nightly"
	JobNameCleanup = "cleanup"
	JobNameReport  = "report"
)

// 失败明细最多保留的条数
const maxFailureDetails = 100

// Orchestrator 调度器依赖的缓存编排能力
type Orchestrator interface {
	EnsureGenerated(ctx context.Context, userID string, horizonDays int) (*service.Manifest, error)
	Today() time.Time
}

// UserFailure 单用户（或单日）失败明细
type UserFailure struct {
	UserID string `json:"user_id"`
	Date   string `json:"date,omitempty"`
	Error  string `json:"error"`
}

// BatchReport 一次任务运行的结果
// 部分失败体现在 Run.Status=partial，不作为 error 返回
type BatchReport struct {
	Run      *model.BatchRun
	Failures []UserFailure
}

// DailyReport 每日运行报告（只读）
type DailyReport struct {
	WindowStart      time.Time
	WindowEnd        time.Time
	ActiveUsers      int64
	TotalCachedPlans int64
	ConsumedPlans    int64
	PrebuiltConsumed int64
	HitRate          float64
	Runs             []model.BatchRun
}

// Scheduler 定时任务执行器
type Scheduler struct {
	repo    *repository.Repository
	orch    Orchestrator
	lease   LeaseManager
	clock   service.Clock
	metrics metrics.Recorder
	logger  *zap.Logger

	cfg          config.SchedulerConfig
	shortHorizon int
	storeTimeout time.Duration
	holder       string
}

// New 创建 Scheduler
func New(
	cfg *config.Config,
	repo *repository.Repository,
	orch Orchestrator,
	lease LeaseManager,
	clock service.Clock,
	recorder metrics.Recorder,
	logger *zap.Logger,
) *Scheduler {
	if clock == nil {
		clock = service.SystemClock{}
	}
	if recorder == nil {
		recorder = metrics.NewNop()
	}
	if lease == nil {
		lease = NewDBLeaseManager(repo.Lease, clock)
	}
	storeTimeout := cfg.Cache.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Scheduler{
		repo:         repo,
		orch:         orch,
		lease:        lease,
		clock:        clock,
		metrics:      recorder,
		logger:       logger,
		cfg:          cfg.Scheduler,
		shortHorizon: cfg.Cache.ShortHorizonDays,
		storeTimeout: storeTimeout,
		holder:       NewHolderID(),
	}
}

// Holder 当前实例的租约持有者标识
func (s *Scheduler) Holder() string { return s.holder }

// runHolder 单次运行的租约令牌：同一实例的并发运行互相排斥，释放也只影响自己
func (s *Scheduler) runHolder() string {
	return s.holder + "/" + uuid.NewString()
}

// Register 将三个任务注册到触发器
func (s *Scheduler) Register(t Trigger) error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{model.JobNightlyBatch, s.cfg.NightlyCron, func(ctx context.Context) error { _, err := s.NightlyBatch(ctx); return err }},
		{model.JobWeeklyCleanup, s.cfg.CleanupCron, func(ctx context.Context) error { _, err := s.WeeklyCleanup(ctx); return err }},
		{model.JobDailyReport, s.cfg.ReportCron, func(ctx context.Context) error { _, err := s.DailyReport(ctx); return err }},
	}
	for _, j := range jobs {
		j := j
		err := t.Register(j.name, j.spec, func(ctx context.Context) {
			if err := j.run(ctx); err != nil {
				s.logger.Error("定时任务执行失败", zap.String("job", j.name), zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// RunJob 按短名手动执行任务（管理接口 / 命令行）
// report 任务返回 *DailyReport，其余返回 *BatchReport。
// 租约被其他实例持有时返回跳过记录与 ErrLeaseHeld
func (s *Scheduler) RunJob(ctx context.Context, name string) (any, error) {
	var (
		report *BatchReport
		err    error
	)
	switch name {
	case JobNameNightly, model.JobNightlyBatch:
		report, err = s.NightlyBatch(ctx)
	case JobNameCleanup, model.JobWeeklyCleanup:
		report, err = s.WeeklyCleanup(ctx)
	case JobNameReport, model.JobDailyReport:
		return s.DailyReport(ctx)
	default:
		return nil, ErrUnknownJob
	}
	if err != nil {
		return nil, err
	}
	if report.Run.Status == model.RunStatusSkipped {
		return report, pkgerrors.ErrLeaseHeld
	}
	return report, nil
}

// ═══════════════════════════════════════════════════════════
// NightlyBatch：夜间批量预生成
// ═══════════════════════════════════════════════════════════
//
// 租约保护；活跃用户分发到固定大小的 worker 池，每个用户补齐短窗口。
// 单用户失败汇总进报告，不影响其他用户；ctx 取消后剩余用户记为跳过。
// 只有租约后端或用户列表读取失败时返回 error。

func (s *Scheduler) NightlyBatch(ctx context.Context) (*BatchReport, error) {
	report, runCtx, finish, err := s.begin(ctx, model.JobNightlyBatch)
	if err != nil || runCtx == nil {
		return report, err
	}
	defer finish()

	run := report.Run
	listCtx, cancel := context.WithTimeout(runCtx, s.storeTimeout)
	userIDs, err := s.repo.Assignment.ListActiveUserIDs(listCtx)
	cancel()
	if err != nil {
		s.fail(report, err)
		return report, fmt.Errorf("读取活跃用户失败: %w", err)
	}
	run.TotalUsers = len(userIDs)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(max(s.cfg.Workers, 1))

	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error {
			if runCtx.Err() != nil {
				mu.Lock()
				run.SkippedUsers++
				mu.Unlock()
				return nil
			}

			manifest, err := s.orch.EnsureGenerated(runCtx, userID, s.shortHorizon)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				run.FailedUsers++
				report.addFailure(UserFailure{UserID: userID, Error: err.Error()})
				s.logger.Warn("用户预生成失败", zap.String("run_id", run.RunID), zap.String("user_id", userID), zap.Error(err))
				return nil
			}

			run.GeneratedPlans += len(manifest.Succeeded)
			run.FailedPlans += len(manifest.Failed)
			for _, f := range manifest.Failed {
				report.addFailure(UserFailure{UserID: userID, Date: f.Date, Error: f.Err.Error()})
			}
			if len(manifest.Failed) > 0 {
				run.FailedUsers++
			} else {
				run.SucceededUsers++
			}
			return nil
		})
	}
	_ = g.Wait()

	run.Status = batchStatus(run)
	return report, nil
}

// batchStatus 按用户结果推导运行状态
func batchStatus(run *model.BatchRun) string {
	switch {
	case run.FailedUsers == 0 && run.SkippedUsers == 0:
		return model.RunStatusSucceeded
	case run.SucceededUsers == 0 && run.GeneratedPlans == 0:
		return model.RunStatusFailed
	default:
		return model.RunStatusPartial
	}
}

// ═══════════════════════════════════════════════════════════
// WeeklyCleanup：保留期清理
// ═══════════════════════════════════════════════════════════

func (s *Scheduler) WeeklyCleanup(ctx context.Context) (*BatchReport, error) {
	report, runCtx, finish, err := s.begin(ctx, model.JobWeeklyCleanup)
	if err != nil || runCtx == nil {
		return report, err
	}
	defer finish()

	run := report.Run
	today := s.orch.Today()
	cutoff := model.FormatDate(today.AddDate(0, 0, -s.cfg.CacheRetentionDays))

	// 批量删除耗时与数据量相关，以租约 TTL 为上限
	purgeCtx, cancel := context.WithTimeout(runCtx, s.cfg.LeaseTTL)
	defer cancel()

	purged, err := s.repo.CachedPlan.PurgeOlderThan(purgeCtx, cutoff)
	if err != nil {
		s.fail(report, err)
		return report, fmt.Errorf("清理过期计划失败: %w", err)
	}
	run.PurgedPlans = purged
	s.metrics.IncPurged("retention", purged)

	// 运行记录与租约的保留窗口更长，失败不影响本次结果
	historyBefore := s.clock.Now().AddDate(0, 0, -s.cfg.HistoryRetentionDays)
	purgedRuns, err := s.repo.BatchRun.PurgeOlderThan(purgeCtx, historyBefore)
	if err != nil {
		s.logger.Warn("清理运行记录失败", zap.String("run_id", run.RunID), zap.Error(err))
	}
	purgedLeases, err := s.lease.PurgeExpired(purgeCtx)
	if err != nil {
		s.logger.Warn("清理过期租约失败", zap.String("run_id", run.RunID), zap.Error(err))
	}

	run.Status = model.RunStatusSucceeded
	run.Details = mustJSON(map[string]any{
		"cutoff":        cutoff,
		"purged_runs":   purgedRuns,
		"purged_leases": purgedLeases,
	})

	s.logger.Info("保留期清理完成",
		zap.String("run_id", run.RunID),
		zap.String("cutoff", cutoff),
		zap.Int64("purged_plans", purged),
		zap.Int64("purged_runs", purgedRuns),
		zap.Int64("purged_leases", purgedLeases),
	)
	return report, nil
}

// ═══════════════════════════════════════════════════════════
// DailyReport：只读统计
// ═══════════════════════════════════════════════════════════

func (s *Scheduler) DailyReport(ctx context.Context) (*DailyReport, error) {
	start := s.clock.Now()
	end := start
	windowStart := end.AddDate(0, 0, -max(s.cfg.ReportWindowDays, 1))

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	active, err := s.repo.Assignment.CountActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("统计活跃用户失败: %w", err)
	}
	total, err := s.repo.CachedPlan.CountTotal(ctx)
	if err != nil {
		return nil, fmt.Errorf("统计缓存计划失败: %w", err)
	}
	consumed, prebuilt, err := s.repo.CachedPlan.CountConsumedBetween(ctx, windowStart, end)
	if err != nil {
		return nil, fmt.Errorf("统计命中率失败: %w", err)
	}
	runs, err := s.repo.BatchRun.ListSince(ctx, model.JobNightlyBatch, windowStart)
	if err != nil {
		return nil, fmt.Errorf("读取运行记录失败: %w", err)
	}

	report := &DailyReport{
		WindowStart:      windowStart,
		WindowEnd:        end,
		ActiveUsers:      active,
		TotalCachedPlans: total,
		ConsumedPlans:    consumed,
		PrebuiltConsumed: prebuilt,
		Runs:             runs,
	}
	if consumed > 0 {
		report.HitRate = float64(prebuilt) / float64(consumed)
	}

	failedUsers := 0
	for _, r := range runs {
		failedUsers += r.FailedUsers
	}
	s.logger.Info("每日报告",
		zap.Int64("active_users", active),
		zap.Int64("cached_plans", total),
		zap.Int64("consumed", consumed),
		zap.Float64("hit_rate", report.HitRate),
		zap.Int("batch_runs", len(runs)),
		zap.Int("failed_users", failedUsers),
	)
	s.metrics.ObserveJobRun(model.JobDailyReport, model.RunStatusSucceeded, s.clock.Now().Sub(start))
	s.metrics.SetLastJobRun(model.JobDailyReport, s.clock.Now())
	return report, nil
}

// ── 运行生命周期 ──

// begin 获取租约并落库 running 记录
// 租约被占用时记录 skipped 并返回 nil runCtx；finish 负责收尾、释放租约和心跳
func (s *Scheduler) begin(ctx context.Context, job string) (*BatchReport, context.Context, func(), error) {
	now := s.clock.Now()
	holder := s.runHolder()
	run := &model.BatchRun{
		Job:       job,
		Status:    model.RunStatusRunning,
		Holder:    holder,
		StartedAt: now,
	}
	report := &BatchReport{Run: run}

	storeCtx, storeDone := context.WithTimeout(ctx, s.storeTimeout)
	defer storeDone()

	acquired, err := s.lease.Acquire(storeCtx, job, holder, s.cfg.LeaseTTL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("获取调度租约失败: %w", err)
	}
	if !acquired {
		run.Status = model.RunStatusSkipped
		finished := s.clock.Now()
		run.FinishedAt = &finished
		if err := s.repo.BatchRun.Create(storeCtx, run); err != nil {
			s.logger.Warn("记录跳过的运行失败", zap.String("job", job), zap.Error(err))
		}
		s.metrics.ObserveJobRun(job, run.Status, 0)
		s.logger.Warn("调度租约被占用，跳过本次运行", zap.String("job", job), zap.String("holder", holder))
		return report, nil, nil, nil
	}

	if err := s.repo.BatchRun.Create(storeCtx, run); err != nil {
		_ = s.lease.Release(context.WithoutCancel(ctx), job, holder)
		return nil, nil, nil, fmt.Errorf("记录运行失败: %w", err)
	}

	s.logger.Info("调度任务开始", zap.String("job", job), zap.String("run_id", run.RunID))

	runCtx, cancel := context.WithCancel(ctx)
	stopHeartbeat := s.heartbeat(runCtx, cancel, job, holder)

	finish := func() {
		stopHeartbeat()
		cancel()

		// 收尾使用独立 ctx，保证取消后依然能落库与释放租约
		cleanupCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer done()

		if run.Status == model.RunStatusRunning {
			run.Status = model.RunStatusFailed
		}
		finished := s.clock.Now()
		run.FinishedAt = &finished
		if len(report.Failures) > 0 {
			run.Details = mustJSON(map[string]any{"failures": report.Failures})
		}
		if err := s.repo.BatchRun.Update(cleanupCtx, run); err != nil {
			s.logger.Error("更新运行记录失败", zap.String("run_id", run.RunID), zap.Error(err))
		}
		if err := s.lease.Release(cleanupCtx, job, holder); err != nil {
			s.logger.Warn("释放调度租约失败", zap.String("job", job), zap.Error(err))
		}

		elapsed := finished.Sub(run.StartedAt)
		s.metrics.ObserveJobRun(job, run.Status, elapsed)
		s.metrics.SetLastJobRun(job, finished)
		s.logger.Info("调度任务结束",
			zap.String("job", job),
			zap.String("run_id", run.RunID),
			zap.String("status", run.Status),
			zap.Int("total_users", run.TotalUsers),
			zap.Int("failed_users", run.FailedUsers),
			zap.Int("skipped_users", run.SkippedUsers),
			zap.Int("generated_plans", run.GeneratedPlans),
			zap.Int("failed_plans", run.FailedPlans),
			zap.Duration("elapsed", elapsed),
		)
	}
	return report, runCtx, finish, nil
}

// heartbeat 周期续约；租约已丢失，或连续 LeaseTTL 未能续约成功时取消本次运行
func (s *Scheduler) heartbeat(ctx context.Context, cancel context.CancelFunc, job, holder string) func() {
	interval := s.cfg.LeaseTTL / 3
	if interval < time.Second {
		interval = time.Second
	}
	lastRenewed := s.clock.Now()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				renewCtx, renewDone := context.WithTimeout(ctx, interval)
				ok, err := s.lease.Renew(renewCtx, job, holder, s.cfg.LeaseTTL)
				renewDone()
				if err != nil {
					if s.clock.Now().Sub(lastRenewed) >= s.cfg.LeaseTTL {
						s.logger.Error("调度租约长时间未能续约，终止本次运行", zap.String("job", job), zap.Error(err))
						cancel()
						return
					}
					s.logger.Warn("调度租约续约出错", zap.String("job", job), zap.Error(err))
					continue
				}
				if !ok {
					s.logger.Error("调度租约已丢失，终止本次运行", zap.String("job", job))
					cancel()
					return
				}
				lastRenewed = s.clock.Now()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
		<-done
	}
}

func (s *Scheduler) fail(report *BatchReport, err error) {
	report.Run.Status = model.RunStatusFailed
	report.Failures = append(report.Failures, UserFailure{Error: err.Error()})
	s.logger.Error("调度任务失败", zap.String("job", report.Run.Job), zap.String("run_id", report.Run.RunID), zap.Error(err))
}

func (r *BatchReport) addFailure(f UserFailure) {
	if len(r.Failures) < maxFailureDetails {
		r.Failures = append(r.Failures, f)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
