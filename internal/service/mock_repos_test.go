package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GHS01/chikitita-sub002/config"
	"github.com/GHS01/chikitita-sub002/internal/generator"
	"github.com/GHS01/chikitita-sub002/internal/model"
	"github.com/GHS01/chikitita-sub002/internal/repository"
	"github.com/GHS01/chikitita-sub002/internal/testutil"
	"github.com/GHS01/chikitita-sub002/pkg/metrics"
)

// monday 2025-03-10 是周一
var monday = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// ── 测试配置 ──

func newTestConfig() *config.Config {
	return &config.Config{
		Cache: config.CacheConfig{
			DefaultHorizonDays: 14,
			ShortHorizonDays:   7,
			StatusHorizonDays:  7,
			MaxHorizonDays:     31,
			GenerateTimeout:    2 * time.Second,
			GenerateRetries:    0,
			StoreTimeout:       2 * time.Second,
			PerUserConcurrency: 2,
			LazyRateLimit:      30,
		},
		Scheduler: config.SchedulerConfig{
			Timezone:             "UTC",
			Workers:              2,
			LeaseTTL:             time.Minute,
			CacheRetentionDays:   30,
			HistoryRetentionDays: 90,
			ReportWindowDays:     1,
		},
	}
}

// ── Fake Generator ──

// fakeGenerator 包装模板生成器，可按 (user|date) 注入失败、延迟
type fakeGenerator struct {
	mu      sync.Mutex
	inner   *generator.TemplateGenerator
	calls   map[string]int
	fail    map[string]error
	failN   map[string]int // 前 N 次失败
	delay   time.Duration
	mutate  func(*model.PlanContent)
	release chan struct{}
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{
		inner: generator.NewTemplateGenerator(),
		calls: make(map[string]int),
		fail:  make(map[string]error),
		failN: make(map[string]int),
	}
}

func genKey(userID, date string) string { return userID + "|" + date }

func (f *fakeGenerator) Generate(ctx context.Context, in generator.GenerateInput) (*model.PlanContent, error) {
	key := genKey(in.UserID, model.FormatDate(in.Date))

	f.mu.Lock()
	f.calls[key]++
	n := f.calls[key]
	err := f.fail[key]
	if limit, ok := f.failN[key]; ok && n <= limit {
		err = errors.New("generator temporarily unavailable")
	}
	delay, release, mutate := f.delay, f.release, f.mutate
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	content, err := f.inner.Generate(ctx, in)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(content)
	}
	return content, nil
}

func (f *fakeGenerator) callCount(userID, date string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[genKey(userID, date)]
}

func (f *fakeGenerator) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// ── Mock CachedPlanRepository ──

// failingPlanRepo 对指定日期的 Put 返回错误，其余委托给真实实现
type failingPlanRepo struct {
	repository.CachedPlanRepository
	failDates map[string]bool
}

func (m *failingPlanRepo) Put(ctx context.Context, plan *model.CachedPlan) error {
	if m.failDates[plan.PlanDate] {
		return errors.New("store unavailable")
	}
	return m.CachedPlanRepository.Put(ctx, plan)
}

// hangingPlanRepo 读操作一直阻塞到 ctx 结束，模拟挂起的查询
type hangingPlanRepo struct {
	repository.CachedPlanRepository
}

func (m *hangingPlanRepo) ListRange(ctx context.Context, userID, from, to string) ([]model.CachedPlan, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (m *hangingPlanRepo) Get(ctx context.Context, userID, date string) (*model.CachedPlan, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// ── 测试环境 ──

type testEnv struct {
	db    *gorm.DB
	repo  *repository.Repository
	gen   *fakeGenerator
	clock *testutil.FakeClock
	cfg   *config.Config
	orch  CacheOrchestrator
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	env := &testEnv{
		db:    db,
		repo:  repository.NewRepository(db),
		gen:   newFakeGenerator(),
		clock: testutil.NewFakeClock(monday),
		cfg:   newTestConfig(),
	}
	env.orch = NewCacheOrchestrator(env.cfg, env.repo, env.gen, env.clock, metrics.NewNop(), zap.NewNop())
	return env
}

func (e *testEnv) assignmentService() AssignmentService {
	validator := NewAssignmentValidator(generator.HasSplitType)
	return NewAssignmentService(e.cfg, e.repo, validator, e.orch, metrics.NewNop(), zap.NewNop())
}

// assign 直接写入分配（绕过校验），days: weekday → splitID
func (e *testEnv) assign(t *testing.T, userID string, days map[model.Weekday]string) {
	t.Helper()
	list := make([]model.Assignment, 0, len(days))
	for wd, split := range days {
		list = append(list, model.Assignment{
			Weekday:         wd,
			SplitID:         split,
			SplitType:       "push",
			WeeklyFrequency: len(days),
			IsActive:        true,
		})
	}
	if err := e.repo.Assignment.ReplaceForUser(context.Background(), userID, list); err != nil {
		t.Fatalf("写入分配失败: %v", err)
	}
}

func (e *testEnv) plans(t *testing.T, userID string) []model.CachedPlan {
	t.Helper()
	var plans []model.CachedPlan
	if err := e.db.Where("user_id = ?", userID).Order("plan_date ASC").Find(&plans).Error; err != nil {
		t.Fatalf("查询计划失败: %v", err)
	}
	return plans
}

func planDates(plans []model.CachedPlan) []string {
	out := make([]string, 0, len(plans))
	for _, p := range plans {
		out = append(out, p.PlanDate)
	}
	return out
}
