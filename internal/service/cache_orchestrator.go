package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/GHS01/chikitita-sub002/config"
	"github.com/GHS01/chikitita-sub002/internal/generator"
	"github.com/GHS01/chikitita-sub002/internal/model"
	"github.com/GHS01/chikitita-sub002/internal/repository"
	pkgerrors "github.com/GHS01/chikitita-sub002/pkg/errors"
	"github.com/GHS01/chikitita-sub002/pkg/metrics"
)

// ── 缓存模块业务错误 ──

var (
	ErrInvalidDate         = errors.New("日期格式错误，应为 YYYY-MM-DD")
	ErrInvalidHorizon      = errors.New("窗口天数超出范围")
	ErrRestDay             = errors.New("当天为休息日")
	ErrCachedPlanNotFound  = errors.New("缓存计划不存在")
	ErrWorkoutNotStartable = errors.New("不能开始未来日期的训练")
	ErrPlanContentMismatch = errors.New("生成内容与请求不一致")
	ErrPlanContentVersion  = errors.New("不支持的计划内容版本")
)

// 失效原因（指标标签）
const (
	purgeReasonInvalidation = "invalidation"
)

// CacheStatus 缓存状态（派生视图）
type CacheStatus struct {
	UserID           string
	From             string
	To               string // 不含
	HorizonDays      int
	TotalCached      int64
	NextWindowCached int
	OldestDate       string
	NewestDate       string
	NeedsGeneration  []string

	tasks []generationTask
}

// generationTask 缺口分析得到的单日待生成任务（不落库）
type generationTask struct {
	userID     string
	date       time.Time
	weekday    model.Weekday
	assignment *model.Assignment
}

// Manifest 单用户生成清单
type Manifest struct {
	UserID    string
	Succeeded []string
	Failed    []*pkgerrors.GenerationFailure
}

// WorkoutResult 某日训练查询结果；RestDay 时 Plan 为 nil
type WorkoutResult struct {
	Date           string
	Weekday        model.Weekday
	RestDay        bool
	CacheHit       bool
	Generated      bool
	AlreadyStarted bool
	Plan           *model.CachedPlan
}

// Invalidation 分配变更后的失效与重建结果
type Invalidation struct {
	PurgedPlans int64
	Manifest    *Manifest
}

// CacheOrchestrator 缓存编排：缺口分析、生成、按需生成与失效
// 自身不持有权威状态，正确性依赖存储层 (user_id, plan_date) 唯一约束
type CacheOrchestrator interface {
	Status(ctx context.Context, userID string, horizonDays int) (*CacheStatus, error)
	EnsureGenerated(ctx context.Context, userID string, horizonDays int) (*Manifest, error)
	GetOrGenerate(ctx context.Context, userID, date string) (*WorkoutResult, error)
	OnAssignmentChanged(ctx context.Context, userID string) (*Invalidation, error)
	StartWorkout(ctx context.Context, userID, date string) (*WorkoutResult, error)
	// UpcomingPlans 返回从今天起 days 天内已缓存的计划
	UpcomingPlans(ctx context.Context, userID string, days int) ([]model.CachedPlan, error)
	// Today 调度时区下的今日零点
	Today() time.Time
}

type cacheOrchestrator struct {
	repo    *repository.Repository
	gen     generator.Generator
	cfg     config.CacheConfig
	loc     *time.Location
	clock   Clock
	metrics metrics.Recorder
	logger  *zap.Logger

	flight singleflight.Group
}

// NewCacheOrchestrator 创建 CacheOrchestrator 实例
func NewCacheOrchestrator(
	cfg *config.Config,
	repo *repository.Repository,
	gen generator.Generator,
	clock Clock,
	recorder metrics.Recorder,
	logger *zap.Logger,
) CacheOrchestrator {
	if clock == nil {
		clock = SystemClock{}
	}
	if recorder == nil {
		recorder = metrics.NewNop()
	}
	return &cacheOrchestrator{
		repo:    repo,
		gen:     gen,
		cfg:     cfg.Cache,
		loc:     cfg.Scheduler.Location(),
		clock:   clock,
		metrics: recorder,
		logger:  logger,
	}
}

func (s *cacheOrchestrator) Today() time.Time {
	return today(s.clock, s.loc)
}

// ═══════════════════════════════════════════════════════════
// Status：缺口分析
// ═══════════════════════════════════════════════════════════
//
// 窗口为 [today, today+horizon)。某日需要生成当且仅当：
//   - 该星期几存在生效分配
//   - 该日期没有缓存行（已消费的行同样视为存在，它永远不会被替换）

func (s *cacheOrchestrator) Status(ctx context.Context, userID string, horizonDays int) (*CacheStatus, error) {
	if horizonDays < 1 || horizonDays > s.cfg.MaxHorizonDays {
		return nil, ErrInvalidHorizon
	}

	from := s.Today()
	to := from.AddDate(0, 0, horizonDays)
	fromStr, toStr := model.FormatDate(from), model.FormatDate(to)

	readCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	assignments, err := s.repo.Assignment.ListByUser(readCtx, userID)
	if err != nil {
		s.logger.Error("查询训练分配失败", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	byWeekday := make(map[model.Weekday]*model.Assignment, len(assignments))
	for i := range assignments {
		byWeekday[assignments[i].Weekday] = &assignments[i]
	}

	plans, err := s.repo.CachedPlan.ListRange(readCtx, userID, fromStr, toStr)
	if err != nil {
		s.logger.Error("查询缓存计划失败", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	present := make(map[string]bool, len(plans))
	for _, p := range plans {
		present[p.PlanDate] = true
	}

	stats, err := s.repo.CachedPlan.Stats(readCtx, userID)
	if err != nil {
		s.logger.Error("统计缓存计划失败", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	status := &CacheStatus{
		UserID:           userID,
		From:             fromStr,
		To:               toStr,
		HorizonDays:      horizonDays,
		TotalCached:      stats.Total,
		NextWindowCached: len(plans),
		OldestDate:       stats.Oldest,
		NewestDate:       stats.Newest,
		NeedsGeneration:  []string{},
	}

	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		wd := model.WeekdayOf(d)
		a, ok := byWeekday[wd]
		if !ok {
			continue
		}
		key := model.FormatDate(d)
		if present[key] {
			continue
		}
		status.NeedsGeneration = append(status.NeedsGeneration, key)
		status.tasks = append(status.tasks, generationTask{userID: userID, date: d, weekday: wd, assignment: a})
	}

	return status, nil
}

// ═══════════════════════════════════════════════════════════
// EnsureGenerated：补齐窗口内缺失的计划
// ═══════════════════════════════════════════════════════════
//
// 单日失败只记录到清单，不影响同一用户的其他日期。
// 只有缺口分析本身失败时才返回 error。

func (s *cacheOrchestrator) EnsureGenerated(ctx context.Context, userID string, horizonDays int) (*Manifest, error) {
	status, err := s.Status(ctx, userID, horizonDays)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{UserID: userID, Succeeded: []string{}}
	if len(status.tasks) == 0 {
		return manifest, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(max(s.cfg.PerUserConcurrency, 1))

	for _, task := range status.tasks {
		task := task
		g.Go(func() error {
			date := model.FormatDate(task.date)

			// 取消后剩余日期直接记为失败，下次调用再补
			if err := ctx.Err(); err != nil {
				mu.Lock()
				manifest.Failed = append(manifest.Failed, &pkgerrors.GenerationFailure{Date: date, Err: err})
				mu.Unlock()
				return nil
			}

			_, err := s.generateAndStore(ctx, task, model.PlanSourceBatch)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("生成计划失败",
					zap.String("user_id", userID),
					zap.String("date", date),
					zap.Error(err),
				)
				manifest.Failed = append(manifest.Failed, &pkgerrors.GenerationFailure{Date: date, Err: err})
				return nil
			}
			manifest.Succeeded = append(manifest.Succeeded, date)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(manifest.Succeeded)
	sort.Slice(manifest.Failed, func(i, j int) bool { return manifest.Failed[i].Date < manifest.Failed[j].Date })

	s.logger.Info("计划预生成完成",
		zap.String("user_id", userID),
		zap.Int("horizon_days", horizonDays),
		zap.Int("succeeded", len(manifest.Succeeded)),
		zap.Int("failed", len(manifest.Failed)),
	)
	return manifest, nil
}

// ═══════════════════════════════════════════════════════════
// GetOrGenerate：交互式按需生成
// ═══════════════════════════════════════════════════════════
//
// 无分配 → 休息日（非错误）；命中缓存直接返回；否则调用一次生成器并 upsert。
// 同进程内同一 (user, date) 的并发请求经 singleflight 合并，
// 跨进程并发由 upsert 的幂等覆盖兜底。

func (s *cacheOrchestrator) GetOrGenerate(ctx context.Context, userID, date string) (*WorkoutResult, error) {
	day, err := model.ParseDate(date, s.loc)
	if err != nil {
		return nil, ErrInvalidDate
	}
	date = model.FormatDate(day)
	result := &WorkoutResult{Date: date, Weekday: model.WeekdayOf(day)}

	readCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	a, err := s.repo.Assignment.GetActiveForWeekday(readCtx, userID, result.Weekday)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.metrics.IncCacheLookup(metrics.LookupRestDay)
			result.RestDay = true
			return result, nil
		}
		s.logger.Error("查询训练分配失败", zap.String("user_id", userID), zap.String("date", date), zap.Error(err))
		return nil, err
	}

	plan, err := s.repo.CachedPlan.Get(readCtx, userID, date)
	switch {
	case err == nil:
		s.metrics.IncCacheLookup(metrics.LookupHit)
		result.CacheHit = true
		result.Plan = plan
		return result, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		s.logger.Error("查询缓存计划失败", zap.String("user_id", userID), zap.String("date", date), zap.Error(err))
		return nil, err
	}

	s.metrics.IncCacheLookup(metrics.LookupMiss)

	// 共享任务不随任何一个调用方取消，生成与写入各自有超时；
	// 每个调用方只在自己的 ctx 结束时放弃等待
	ch := s.flight.DoChan(userID+"|"+date, func() (interface{}, error) {
		shared := context.WithoutCancel(ctx)
		task := generationTask{userID: userID, date: day, weekday: result.Weekday, assignment: a}
		if _, err := s.generateAndStore(shared, task, model.PlanSourceLazy); err != nil {
			return nil, err
		}
		// 重新读取：并发写入时以已提交的行为准
		getCtx, done := s.storeCtx(shared)
		defer done()
		return s.repo.CachedPlan.Get(getCtx, userID, date)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.Err = ctx.Err()
	}
	if res.Err != nil {
		s.logger.Warn("按需生成计划失败", zap.String("user_id", userID), zap.String("date", date), zap.Error(res.Err))
		return nil, &pkgerrors.GenerationFailure{Date: date, Err: res.Err}
	}

	result.Generated = true
	result.Plan = res.Val.(*model.CachedPlan)
	return result, nil
}

// ═══════════════════════════════════════════════════════════
// OnAssignmentChanged：失效并重建
// ═══════════════════════════════════════════════════════════

func (s *cacheOrchestrator) OnAssignmentChanged(ctx context.Context, userID string) (*Invalidation, error) {
	purgeCtx, cancel := s.storeCtx(ctx)
	purged, err := s.repo.CachedPlan.PurgeFutureUnconsumed(purgeCtx, userID, model.FormatDate(s.Today()))
	cancel()
	if err != nil {
		s.logger.Error("清理未消费计划失败", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	s.metrics.IncPurged(purgeReasonInvalidation, purged)

	manifest, err := s.EnsureGenerated(ctx, userID, s.cfg.DefaultHorizonDays)
	if err != nil {
		return nil, err
	}
	return &Invalidation{PurgedPlans: purged, Manifest: manifest}, nil
}

// ═══════════════════════════════════════════════════════════
// StartWorkout：开始训练（消费计划）
// ═══════════════════════════════════════════════════════════

func (s *cacheOrchestrator) StartWorkout(ctx context.Context, userID, date string) (*WorkoutResult, error) {
	day, err := model.ParseDate(date, s.loc)
	if err != nil {
		return nil, ErrInvalidDate
	}
	if day.After(s.Today()) {
		return nil, ErrWorkoutNotStartable
	}

	result, err := s.GetOrGenerate(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if result.RestDay {
		return nil, ErrRestDay
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	changed, err := s.repo.CachedPlan.MarkConsumed(storeCtx, userID, result.Date, s.clock.Now().UTC())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCachedPlanNotFound
		}
		s.logger.Error("标记计划已消费失败", zap.String("user_id", userID), zap.String("date", result.Date), zap.Error(err))
		return nil, err
	}
	result.AlreadyStarted = !changed

	plan, err := s.repo.CachedPlan.Get(storeCtx, userID, result.Date)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCachedPlanNotFound
		}
		return nil, err
	}
	result.Plan = plan

	if changed {
		s.logger.Info("开始训练", zap.String("user_id", userID), zap.String("date", result.Date))
	}
	return result, nil
}

// ────────────────────── UpcomingPlans ──────────────────────

func (s *cacheOrchestrator) UpcomingPlans(ctx context.Context, userID string, days int) ([]model.CachedPlan, error) {
	if days < 1 || days > s.cfg.MaxHorizonDays {
		return nil, ErrInvalidHorizon
	}
	from := s.Today()
	readCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.repo.CachedPlan.ListRange(readCtx, userID, model.FormatDate(from), model.FormatDate(from.AddDate(0, 0, days)))
}

// ═══════════════════════════════════════════════════════════
// 生成 + 落库
// ═══════════════════════════════════════════════════════════

// generateAndStore 调用生成器（带超时与有限重试），校验内容后 upsert
// 生成成功但写入失败视为未生成，下次调用重试；不会留下半写入的行
func (s *cacheOrchestrator) generateAndStore(ctx context.Context, task generationTask, source string) (*model.CachedPlan, error) {
	start := time.Now()
	outcome := metrics.OutcomeFailure
	defer func() {
		s.metrics.ObserveGeneration(source, outcome, time.Since(start))
	}()

	content, err := s.generate(ctx, task)
	if err != nil {
		return nil, err
	}

	plan, err := model.NewCachedPlan(task.userID, task.date, task.assignment, content, source)
	if err != nil {
		return nil, err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.repo.CachedPlan.Put(storeCtx, plan); err != nil {
		return nil, fmt.Errorf("写入缓存计划失败: %w", err)
	}

	outcome = metrics.OutcomeSuccess
	return plan, nil
}

// storeCtx 每次存储读写的超时
func (s *cacheOrchestrator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *cacheOrchestrator) generate(ctx context.Context, task generationTask) (*model.PlanContent, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
	defer cancel()

	date := model.FormatDate(task.date)
	in := generator.GenerateInput{UserID: task.userID, Date: task.date, Assignment: task.assignment}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(s.cfg.GenerateRetries, 0))), genCtx)

	var content *model.PlanContent
	err := backoff.Retry(func() error {
		c, err := s.callGenerator(genCtx, in)
		if err != nil {
			return err
		}
		// 内容错误重试无意义
		if c.SchemaVersion != model.PlanContentSchemaVersion {
			return backoff.Permanent(fmt.Errorf("%w: %d", ErrPlanContentVersion, c.SchemaVersion))
		}
		if c.Date != date || c.SplitID != task.assignment.SplitID {
			return backoff.Permanent(ErrPlanContentMismatch)
		}
		if err := c.Validate(); err != nil {
			return backoff.Permanent(err)
		}
		content = c
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return content, nil
}

// callGenerator 保证超时后立即返回，即使生成器未响应 ctx
func (s *cacheOrchestrator) callGenerator(ctx context.Context, in generator.GenerateInput) (*model.PlanContent, error) {
	type result struct {
		content *model.PlanContent
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := s.gen.Generate(ctx, in)
		ch <- result{content: c, err: err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && r.content == nil {
			return nil, errors.New("生成器返回空内容")
		}
		return r.content, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
