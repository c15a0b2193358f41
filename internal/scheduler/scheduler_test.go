package scheduler

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
	"github.com/GHS01/chikitita-sub002/internal/service"
	"github.com/GHS01/chikitita-sub002/internal/testutil"
	pkgerrors "github.com/GHS01/chikitita-sub002/pkg/errors"
	"github.com/GHS01/chikitita-sub002/pkg/metrics"
)

// monday 2025-03-10 是周一
var monday = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestConfig() *config.Config {
	return &config.Config{
		Cache: config.CacheConfig{
			DefaultHorizonDays: 14,
			ShortHorizonDays:   7,
			StatusHorizonDays:  7,
			MaxHorizonDays:     31,
			GenerateTimeout:    2 * time.Second,
			StoreTimeout:       2 * time.Second,
			PerUserConcurrency: 2,
		},
		Scheduler: config.SchedulerConfig{
			Timezone:             "UTC",
			NightlyCron:          "0 2 * * *",
			CleanupCron:          "0 3 * * 0",
			ReportCron:           "0 8 * * *",
			Workers:              2,
			LeaseTTL:             time.Minute,
			CacheRetentionDays:   30,
			HistoryRetentionDays: 90,
			ReportWindowDays:     1,
		},
	}
}

// ── 可注入失败的生成器 ──

type stubGenerator struct {
	mu     sync.Mutex
	inner  *generator.TemplateGenerator
	fail   map[string]bool
	calls  int
	onCall func()
}

func newStubGenerator() *stubGenerator {
	return &stubGenerator{inner: generator.NewTemplateGenerator(), fail: make(map[string]bool)}
}

func (g *stubGenerator) Generate(ctx context.Context, in generator.GenerateInput) (*model.PlanContent, error) {
	g.mu.Lock()
	g.calls++
	failed := g.fail[in.UserID+"|"+model.FormatDate(in.Date)]
	onCall := g.onCall
	g.mu.Unlock()

	if onCall != nil {
		onCall()
	}
	if failed {
		return nil, errors.New("generator unavailable")
	}
	return g.inner.Generate(ctx, in)
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// ── 测试环境 ──

type testEnv struct {
	db    *gorm.DB
	repo  *repository.Repository
	gen   *stubGenerator
	clock *testutil.FakeClock
	cfg   *config.Config
	sched *Scheduler
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	env := &testEnv{
		db:    db,
		repo:  repository.NewRepository(db),
		gen:   newStubGenerator(),
		clock: testutil.NewFakeClock(monday),
		cfg:   newTestConfig(),
	}
	orch := service.NewCacheOrchestrator(env.cfg, env.repo, env.gen, env.clock, metrics.NewNop(), zap.NewNop())
	env.sched = New(env.cfg, env.repo, orch, nil, env.clock, metrics.NewNop(), zap.NewNop())
	return env
}

func (e *testEnv) assign(t *testing.T, userID string, days ...model.Weekday) {
	t.Helper()
	list := make([]model.Assignment, 0, len(days))
	for _, wd := range days {
		list = append(list, model.Assignment{
			Weekday:         wd,
			SplitID:         "split-" + wd.String(),
			SplitType:       "push",
			WeeklyFrequency: len(days),
			IsActive:        true,
		})
	}
	if err := e.repo.Assignment.ReplaceForUser(context.Background(), userID, list); err != nil {
		t.Fatalf("写入分配失败: %v", err)
	}
}

func (e *testEnv) countPlans(t *testing.T, userID string) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(&model.CachedPlan{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		t.Fatalf("统计计划失败: %v", err)
	}
	return n
}

// seedPlan 直接写入一行缓存计划
func (e *testEnv) seedPlan(t *testing.T, userID, date, source string) {
	t.Helper()
	day, err := model.ParseDate(date, time.UTC)
	if err != nil {
		t.Fatalf("解析日期失败: %v", err)
	}
	a := &model.Assignment{SplitID: "seed", SplitType: "push", Weekday: model.WeekdayOf(day)}
	content, err := generator.NewTemplateGenerator().Generate(context.Background(), generator.GenerateInput{UserID: userID, Date: day, Assignment: a})
	if err != nil {
		t.Fatalf("生成内容失败: %v", err)
	}
	plan, err := model.NewCachedPlan(userID, day, a, content, source)
	if err != nil {
		t.Fatalf("组装计划失败: %v", err)
	}
	if err := e.repo.CachedPlan.Put(context.Background(), plan); err != nil {
		t.Fatalf("写入计划失败: %v", err)
	}
}

// ═══════════════════════════════════════════════════════════
// NightlyBatch
// ═══════════════════════════════════════════════════════════

// A 的周二生成失败，A 的周四与 B 全部成功：一条失败、两行写入
func TestNightlyBatch_PartialFailureIsolation(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.assign(t, "user-a", model.Tuesday, model.Thursday)
	env.assign(t, "user-b", model.Wednesday)
	env.gen.fail["user-a|2025-03-11"] = true

	report, err := env.sched.NightlyBatch(ctx)
	if err != nil {
		t.Fatalf("NightlyBatch 不应返回错误: %v", err)
	}

	run := report.Run
	if run.Status != model.RunStatusPartial {
		t.Errorf("状态应为 partial，实际 %s", run.Status)
	}
	if run.TotalUsers != 2 || run.SucceededUsers != 1 || run.FailedUsers != 1 {
		t.Errorf("用户计数异常: total=%d ok=%d failed=%d", run.TotalUsers, run.SucceededUsers, run.FailedUsers)
	}
	if run.GeneratedPlans != 2 || run.FailedPlans != 1 {
		t.Errorf("期望 2 成功 1 失败，实际 %d / %d", run.GeneratedPlans, run.FailedPlans)
	}
	if len(report.Failures) != 1 || report.Failures[0].UserID != "user-a" || report.Failures[0].Date != "2025-03-11" {
		t.Errorf("失败明细异常: %+v", report.Failures)
	}
	if n := env.countPlans(t, "user-a"); n != 1 {
		t.Errorf("user-a 应有 1 行，实际 %d", n)
	}
	if n := env.countPlans(t, "user-b"); n != 1 {
		t.Errorf("user-b 应有 1 行，实际 %d", n)
	}

	var stored model.BatchRun
	if err := env.db.Where("run_id = ?", run.RunID).First(&stored).Error; err != nil {
		t.Fatalf("运行记录应落库: %v", err)
	}
	if stored.Status != model.RunStatusPartial || stored.FinishedAt == nil || len(stored.Details) == 0 {
		t.Errorf("落库记录异常: %+v", stored)
	}
	if _, err := env.repo.Lease.Get(ctx, model.JobNightlyBatch); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("结束后应释放租约，实际 %v", err)
	}
}

func TestNightlyBatch_Idempotent(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.assign(t, "user-a", model.Monday, model.Wednesday)

	first, err := env.sched.NightlyBatch(ctx)
	if err != nil || first.Run.Status != model.RunStatusSucceeded {
		t.Fatalf("首次运行异常: %+v err=%v", first, err)
	}
	calls := env.gen.callCount()

	second, err := env.sched.NightlyBatch(ctx)
	if err != nil {
		t.Fatalf("第二次运行失败: %v", err)
	}
	if second.Run.GeneratedPlans != 0 || env.gen.callCount() != calls {
		t.Errorf("缓存已满时不应再调用生成器: generated=%d calls=%d", second.Run.GeneratedPlans, env.gen.callCount())
	}
	if n := env.countPlans(t, "user-a"); n != 2 {
		t.Errorf("应保持 2 行，实际 %d", n)
	}
}

func TestNightlyBatch_SkippedWhenLeaseHeld(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.assign(t, "user-a", model.Monday, model.Wednesday)

	ok, err := env.repo.Lease.TryAcquire(ctx, model.JobNightlyBatch, "other-node", monday, time.Hour)
	if err != nil || !ok {
		t.Fatalf("预占租约失败: ok=%v err=%v", ok, err)
	}

	report, err := env.sched.NightlyBatch(ctx)
	if err != nil {
		t.Fatalf("租约被占用不应返回错误: %v", err)
	}
	if report.Run.Status != model.RunStatusSkipped {
		t.Errorf("状态应为 skipped，实际 %s", report.Run.Status)
	}
	if env.gen.callCount() != 0 {
		t.Error("跳过的运行不应调用生成器")
	}

	runs, _ := env.repo.BatchRun.ListSince(ctx, model.JobNightlyBatch, monday.Add(-time.Hour))
	if len(runs) != 1 || runs[0].Status != model.RunStatusSkipped {
		t.Errorf("跳过也应留下运行记录: %+v", runs)
	}
	lease, err := env.repo.Lease.Get(ctx, model.JobNightlyBatch)
	if err != nil || lease.Holder != "other-node" {
		t.Errorf("不应释放他人持有的租约: %+v err=%v", lease, err)
	}
}

func TestNightlyBatch_TakesOverExpiredLease(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.assign(t, "user-a", model.Monday, model.Wednesday)

	if _, err := env.repo.Lease.TryAcquire(ctx, model.JobNightlyBatch, "crashed-node", monday.Add(-2*time.Hour), time.Hour); err != nil {
		t.Fatalf("写入过期租约失败: %v", err)
	}

	report, err := env.sched.NightlyBatch(ctx)
	if err != nil || report.Run.Status != model.RunStatusSucceeded {
		t.Errorf("过期租约应被接管: %+v err=%v", report, err)
	}
}

// 同一实例上一次运行未结束时，再次触发应跳过，且不能释放前一次的租约
func TestNightlyBatch_SecondRunInSameProcessSkipped(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.assign(t, "user-a", model.Monday)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.gen.onCall = func() {
		once.Do(func() { close(started) })
		<-release
	}

	firstDone := make(chan *BatchReport, 1)
	go func() {
		report, err := env.sched.NightlyBatch(ctx)
		if err != nil {
			t.Errorf("第一次运行失败: %v", err)
		}
		firstDone <- report
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("第一次运行未进入生成阶段")
	}

	second, err := env.sched.NightlyBatch(ctx)
	if err != nil {
		t.Fatalf("第二次运行不应返回错误: %v", err)
	}
	if second.Run.Status != model.RunStatusSkipped {
		t.Errorf("第一次运行未结束时第二次应跳过，实际 %s", second.Run.Status)
	}

	lease, err := env.repo.Lease.Get(ctx, model.JobNightlyBatch)
	if err != nil {
		t.Fatalf("第一次运行期间租约应仍存在: %v", err)
	}
	if lease.Holder == second.Run.Holder {
		t.Error("跳过的运行不应成为租约持有者")
	}

	close(release)
	first := <-firstDone
	if first == nil || first.Run.Status != model.RunStatusSucceeded {
		t.Fatalf("第一次运行应成功: %+v", first)
	}
	if first.Run.Holder == second.Run.Holder {
		t.Error("每次运行应使用独立的租约令牌")
	}
	if _, err := env.repo.Lease.Get(ctx, model.JobNightlyBatch); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("第一次运行结束后应释放租约，实际 %v", err)
	}
}

// unreachableLease 获取成功，之后续约一直出错
type unreachableLease struct{}

func (unreachableLease) Acquire(context.Context, string, string, time.Duration) (bool, error) {
	return true, nil
}

func (unreachableLease) Renew(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("lease backend unreachable")
}

func (unreachableLease) Release(context.Context, string, string) error { return nil }

func (unreachableLease) PurgeExpired(context.Context) (int64, error) { return 0, nil }

// 续约持续失败超过 TTL 时终止运行，不能在租约过期后继续执行
func TestNightlyBatch_CanceledWhenRenewalFailsForTTL(t *testing.T) {
	env := setupTestEnv(t)
	env.cfg.Scheduler.LeaseTTL = 3 * time.Second
	env.cfg.Cache.GenerateTimeout = 10 * time.Second
	orch := service.NewCacheOrchestrator(env.cfg, env.repo, env.gen, env.clock, metrics.NewNop(), zap.NewNop())
	env.sched = New(env.cfg, env.repo, orch, unreachableLease{}, env.clock, metrics.NewNop(), zap.NewNop())
	env.assign(t, "user-a", model.Monday)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	var once sync.Once
	env.gen.onCall = func() {
		once.Do(func() { env.clock.Advance(5 * time.Second) })
		<-release
	}

	done := make(chan *BatchReport, 1)
	go func() {
		report, _ := env.sched.NightlyBatch(context.Background())
		done <- report
	}()

	select {
	case report := <-done:
		if report == nil || report.Run.Status == model.RunStatusSucceeded {
			t.Errorf("租约失效后运行不应成功: %+v", report)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("续约持续失败时运行未被终止")
	}
}

func TestNightlyBatch_CancellationSkipsRemainingUsers(t *testing.T) {
	env := setupTestEnv(t)
	env.cfg.Scheduler.Workers = 1
	orch := service.NewCacheOrchestrator(env.cfg, env.repo, env.gen, env.clock, metrics.NewNop(), zap.NewNop())
	env.sched = New(env.cfg, env.repo, orch, nil, env.clock, metrics.NewNop(), zap.NewNop())

	env.assign(t, "user-a", model.Tuesday)
	env.assign(t, "user-b", model.Tuesday)
	env.assign(t, "user-c", model.Tuesday)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.gen.onCall = cancel

	report, err := env.sched.NightlyBatch(ctx)
	if err != nil {
		t.Fatalf("取消不应作为错误返回: %v", err)
	}
	run := report.Run
	if run.SkippedUsers != 2 {
		t.Errorf("取消后剩余 2 个用户应跳过，实际 %d", run.SkippedUsers)
	}
	if run.Status == model.RunStatusSucceeded {
		t.Error("有跳过用户时状态不应为 succeeded")
	}

	var stored model.BatchRun
	if err := env.db.Where("run_id = ?", run.RunID).First(&stored).Error; err != nil {
		t.Fatalf("取消后仍应落库运行记录: %v", err)
	}
	if stored.Status != run.Status || stored.SkippedUsers != 2 {
		t.Errorf("落库记录与报告不一致: %+v", stored)
	}
}

func TestNightlyBatch_NoActiveUsers(t *testing.T) {
	env := setupTestEnv(t)

	report, err := env.sched.NightlyBatch(context.Background())
	if err != nil {
		t.Fatalf("NightlyBatch 失败: %v", err)
	}
	if report.Run.Status != model.RunStatusSucceeded || report.Run.TotalUsers != 0 {
		t.Errorf("无活跃用户应视为成功: %+v", report.Run)
	}
}

// ═══════════════════════════════════════════════════════════
// WeeklyCleanup
// ═══════════════════════════════════════════════════════════

func TestWeeklyCleanup_Retention(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	env.seedPlan(t, "user-a", "2025-01-15", model.PlanSourceBatch) // 超出 30 天
	env.seedPlan(t, "user-a", "2025-02-07", model.PlanSourceLazy)  // 超出 30 天
	env.seedPlan(t, "user-a", "2025-02-08", model.PlanSourceBatch) // 恰好在保留边界
	env.seedPlan(t, "user-a", "2025-03-12", model.PlanSourceBatch)
	if _, err := env.repo.CachedPlan.MarkConsumed(ctx, "user-a", "2025-01-15", monday.AddDate(0, -2, 0)); err != nil {
		t.Fatalf("标记消费失败: %v", err)
	}

	oldRun := &model.BatchRun{Job: model.JobNightlyBatch, Status: model.RunStatusSucceeded, StartedAt: monday.AddDate(0, 0, -120)}
	recentRun := &model.BatchRun{Job: model.JobNightlyBatch, Status: model.RunStatusSucceeded, StartedAt: monday.AddDate(0, 0, -10)}
	for _, r := range []*model.BatchRun{oldRun, recentRun} {
		if err := env.repo.BatchRun.Create(ctx, r); err != nil {
			t.Fatalf("写入运行记录失败: %v", err)
		}
	}
	if _, err := env.repo.Lease.TryAcquire(ctx, "stale", "gone", monday.Add(-2*time.Hour), time.Minute); err != nil {
		t.Fatalf("写入过期租约失败: %v", err)
	}

	report, err := env.sched.WeeklyCleanup(ctx)
	if err != nil {
		t.Fatalf("WeeklyCleanup 失败: %v", err)
	}
	if report.Run.Status != model.RunStatusSucceeded {
		t.Errorf("状态应为 succeeded，实际 %s", report.Run.Status)
	}
	if report.Run.PurgedPlans != 2 {
		t.Errorf("期望清理 2 行（含已消费），实际 %d", report.Run.PurgedPlans)
	}
	if n := env.countPlans(t, "user-a"); n != 2 {
		t.Errorf("应保留 2 行，实际 %d", n)
	}

	var n int64
	env.db.Model(&model.BatchRun{}).Where("run_id = ?", oldRun.RunID).Count(&n)
	if n != 0 {
		t.Error("超出历史保留期的运行记录应被清理")
	}
	env.db.Model(&model.BatchRun{}).Where("run_id = ?", recentRun.RunID).Count(&n)
	if n != 1 {
		t.Error("近期运行记录应保留")
	}
	if _, err := env.repo.Lease.Get(ctx, "stale"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("过期租约应被清理，实际 %v", err)
	}
}

// ═══════════════════════════════════════════════════════════
// DailyReport
// ═══════════════════════════════════════════════════════════

func TestDailyReport_HitRateAndReadOnly(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.assign(t, "user-a", model.Monday, model.Wednesday)
	env.assign(t, "user-b", model.Sunday)

	env.seedPlan(t, "user-a", "2025-03-09", model.PlanSourceBatch)
	env.seedPlan(t, "user-b", "2025-03-09", model.PlanSourceLazy)
	env.seedPlan(t, "user-a", "2025-03-12", model.PlanSourceBatch)
	for _, u := range []string{"user-a", "user-b"} {
		if _, err := env.repo.CachedPlan.MarkConsumed(ctx, u, "2025-03-09", monday.Add(-3*time.Hour)); err != nil {
			t.Fatalf("标记消费失败: %v", err)
		}
	}
	if _, err := env.sched.NightlyBatch(ctx); err != nil {
		t.Fatalf("NightlyBatch 失败: %v", err)
	}
	env.clock.Advance(time.Hour)

	var before int64
	env.db.Model(&model.BatchRun{}).Count(&before)

	report, err := env.sched.DailyReport(ctx)
	if err != nil {
		t.Fatalf("DailyReport 失败: %v", err)
	}
	if report.ActiveUsers != 2 {
		t.Errorf("活跃用户应为 2，实际 %d", report.ActiveUsers)
	}
	if report.ConsumedPlans != 2 || report.PrebuiltConsumed != 1 {
		t.Errorf("消费统计异常: consumed=%d prebuilt=%d", report.ConsumedPlans, report.PrebuiltConsumed)
	}
	if report.HitRate != 0.5 {
		t.Errorf("命中率应为 0.5，实际 %v", report.HitRate)
	}
	if len(report.Runs) != 1 {
		t.Errorf("窗口内应有 1 次批处理，实际 %d", len(report.Runs))
	}
	if report.TotalCachedPlans < 3 {
		t.Errorf("缓存总数异常: %d", report.TotalCachedPlans)
	}

	var after int64
	env.db.Model(&model.BatchRun{}).Count(&after)
	if after != before {
		t.Error("DailyReport 不应写入任何记录")
	}
}

func TestDailyReport_NoConsumption(t *testing.T) {
	env := setupTestEnv(t)

	report, err := env.sched.DailyReport(context.Background())
	if err != nil {
		t.Fatalf("DailyReport 失败: %v", err)
	}
	if report.HitRate != 0 || report.ConsumedPlans != 0 {
		t.Errorf("无消费时命中率应为 0: %+v", report)
	}
}

// ═══════════════════════════════════════════════════════════
// RunJob / Trigger
// ═══════════════════════════════════════════════════════════

func TestScheduler_RunJob(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	if _, err := env.sched.RunJob(ctx, "compact"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("期望 ErrUnknownJob，实际 %v", err)
	}
	out, err := env.sched.RunJob(ctx, JobNameReport)
	if err != nil {
		t.Fatalf("RunJob(report) 失败: %v", err)
	}
	if _, ok := out.(*DailyReport); !ok {
		t.Errorf("report 应返回 *DailyReport，实际 %T", out)
	}
	out, err = env.sched.RunJob(ctx, JobNameCleanup)
	if err != nil {
		t.Fatalf("RunJob(cleanup) 失败: %v", err)
	}
	if r, ok := out.(*BatchReport); !ok || r.Run.Job != model.JobWeeklyCleanup {
		t.Errorf("cleanup 应返回 *BatchReport: %+v", out)
	}
}

func TestScheduler_RunJob_LeaseHeld(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	if _, err := env.repo.Lease.TryAcquire(ctx, model.JobWeeklyCleanup, "other-node", monday, time.Hour); err != nil {
		t.Fatalf("预占租约失败: %v", err)
	}

	out, err := env.sched.RunJob(ctx, JobNameCleanup)
	if !errors.Is(err, pkgerrors.ErrLeaseHeld) {
		t.Fatalf("期望 ErrLeaseHeld，实际 %v", err)
	}
	if r, ok := out.(*BatchReport); !ok || r.Run.Status != model.RunStatusSkipped {
		t.Errorf("应返回跳过记录: %+v", out)
	}
}

func TestManualTrigger_FiresRegisteredJobs(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.assign(t, "user-a", model.Monday)

	trigger := NewManualTrigger()
	if err := env.sched.Register(trigger); err != nil {
		t.Fatalf("Register 失败: %v", err)
	}
	if err := trigger.Fire(ctx, model.JobNightlyBatch); err != nil {
		t.Fatalf("Fire 失败: %v", err)
	}
	if n := env.countPlans(t, "user-a"); n != 1 {
		t.Errorf("触发后应生成 1 行，实际 %d", n)
	}
	if err := trigger.Fire(ctx, "unknown"); err == nil {
		t.Error("未注册任务应返回错误")
	}
}

func TestCronTrigger_Register(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.UTC
	}
	trigger := NewCronTrigger(loc, zap.NewNop())
	if err := trigger.Register("bad", "not a cron", func(context.Context) {}); err == nil {
		t.Error("非法表达式应返回错误")
	}
	if err := trigger.Register("ok", "0 2 * * *", func(context.Context) {}); err != nil {
		t.Errorf("合法表达式注册失败: %v", err)
	}
	trigger.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	trigger.Stop(ctx)
}

// ═══════════════════════════════════════════════════════════
// LeaseManager
// ═══════════════════════════════════════════════════════════

func TestDBLeaseManager(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	clock := testutil.NewFakeClock(monday)
	lease := NewDBLeaseManager(repository.NewLeaseRepo(db), clock)
	ctx := context.Background()

	if ok, err := lease.Acquire(ctx, "job", "a", time.Minute); err != nil || !ok {
		t.Fatalf("首次获取应成功: ok=%v err=%v", ok, err)
	}
	if ok, _ := lease.Acquire(ctx, "job", "b", time.Minute); ok {
		t.Error("未过期时其他持有者不应获取成功")
	}
	if ok, _ := lease.Renew(ctx, "job", "b", time.Minute); ok {
		t.Error("非持有者续约不应成功")
	}

	clock.Advance(2 * time.Minute)
	if ok, _ := lease.Acquire(ctx, "job", "b", time.Minute); !ok {
		t.Error("过期后应可被接管")
	}
	if ok, _ := lease.Renew(ctx, "job", "a", time.Minute); ok {
		t.Error("被接管后原持有者续约应失败")
	}

	clock.Advance(2 * time.Minute)
	n, err := lease.PurgeExpired(ctx)
	if err != nil || n != 1 {
		t.Errorf("应清理 1 个过期租约: n=%d err=%v", n, err)
	}
}

func TestNewHolderID_Unique(t *testing.T) {
	if NewHolderID() == NewHolderID() {
		t.Error("实例标识应唯一")
	}
}
