package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/GHS01/chikitita-sub002/internal/model"
	"github.com/GHS01/chikitita-sub002/internal/repository"
	"github.com/GHS01/chikitita-sub002/internal/testutil"
	pkgerrors "github.com/GHS01/chikitita-sub002/pkg/errors"
)

func week(days ...model.Weekday) []model.Assignment {
	out := make([]model.Assignment, 0, len(days))
	for _, d := range days {
		out = append(out, model.Assignment{
			Weekday:         d,
			SplitID:         "split-" + d.String(),
			SplitType:       "full_body",
			WeeklyFrequency: len(days),
			IsActive:        true,
		})
	}
	return out
}

func TestAssignmentRepo_ReplaceForUser(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := repository.NewRepository(db)
	ctx := context.Background()

	if err := repo.Assignment.ReplaceForUser(ctx, "u-7", week(model.Monday, model.Wednesday, model.Friday)); err != nil {
		t.Fatalf("首次替换失败: %v", err)
	}
	if err := repo.Assignment.ReplaceForUser(ctx, "u-7", week(model.Tuesday, model.Thursday)); err != nil {
		t.Fatalf("再次替换失败: %v", err)
	}

	list, err := repo.Assignment.ListByUser(ctx, "u-7")
	if err != nil {
		t.Fatalf("ListByUser 失败: %v", err)
	}
	if len(list) != 2 || list[0].Weekday != model.Tuesday || list[1].Weekday != model.Thursday {
		t.Fatalf("期望替换为 [Tue, Thu]，实际 %+v", list)
	}
	for _, a := range list {
		if a.UserID != "u-7" || a.AssignmentID == "" {
			t.Errorf("分配字段未正确填充: %+v", a)
		}
	}

	if _, err := repo.Assignment.GetActiveForWeekday(ctx, "u-7", model.Monday); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("被替换掉的周一应返回 ErrRecordNotFound，实际: %v", err)
	}
	a, err := repo.Assignment.GetActiveForWeekday(ctx, "u-7", model.Thursday)
	if err != nil || a.SplitID != "split-Thu" {
		t.Errorf("周四分配查询异常: a=%+v err=%v", a, err)
	}
}

func TestAssignmentRepo_UniqueActiveWeekday_RollsBack(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := repository.NewRepository(db)
	ctx := context.Background()

	_ = repo.Assignment.ReplaceForUser(ctx, "u-7", week(model.Monday, model.Wednesday))

	// 同一天两条生效记录违反部分唯一索引，整个替换回滚
	err := repo.Assignment.ReplaceForUser(ctx, "u-7", week(model.Friday, model.Friday))
	if !errors.Is(err, pkgerrors.ErrOptimisticLock) {
		t.Fatalf("重复星期几应触发唯一约束错误，实际 %v", err)
	}

	list, _ := repo.Assignment.ListByUser(ctx, "u-7")
	if len(list) != 2 || list[0].Weekday != model.Monday {
		t.Errorf("失败的替换不应改变原有分配，实际 %+v", list)
	}
}

func TestAssignmentRepo_TransactionRollsBackPlanPurge(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := repository.NewRepository(db)
	ctx := context.Background()

	_ = repo.Assignment.ReplaceForUser(ctx, "u-7", week(model.Monday, model.Wednesday))
	_ = repo.CachedPlan.Put(ctx, newPlan("u-7", "2025-03-12", "splitA"))

	boom := errors.New("boom")
	err := repo.Transaction(ctx, func(tx *repository.Repository) error {
		if err := tx.Assignment.ReplaceForUser(ctx, "u-7", week(model.Tuesday, model.Thursday)); err != nil {
			return err
		}
		if _, err := tx.CachedPlan.PurgeFutureUnconsumed(ctx, "u-7", "2025-03-10"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("期望返回 boom，实际 %v", err)
	}

	list, _ := repo.Assignment.ListByUser(ctx, "u-7")
	if len(list) != 2 || list[0].Weekday != model.Monday {
		t.Errorf("回滚后分配应保持不变，实际 %+v", list)
	}
	if countPlans(t, db, "u-7", "2025-03-12") != 1 {
		t.Error("回滚后缓存计划应保持不变")
	}
}

func TestAssignmentRepo_ActiveUsers(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := repository.NewRepository(db)
	ctx := context.Background()

	_ = repo.Assignment.ReplaceForUser(ctx, "u-b", week(model.Monday, model.Tuesday))
	_ = repo.Assignment.ReplaceForUser(ctx, "u-a", week(model.Friday, model.Saturday))
	_ = repo.Assignment.ReplaceForUser(ctx, "u-c", nil)

	ids, err := repo.Assignment.ListActiveUserIDs(ctx)
	if err != nil {
		t.Fatalf("ListActiveUserIDs 失败: %v", err)
	}
	if len(ids) != 2 || ids[0] != "u-a" || ids[1] != "u-b" {
		t.Errorf("期望 [u-a u-b]，实际 %v", ids)
	}

	n, _ := repo.Assignment.CountActiveUsers(ctx)
	if n != 2 {
		t.Errorf("期望 2 个活跃用户，实际 %d", n)
	}
}

func TestBatchRunRepo_ListAndPurge(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := repository.NewRepository(db)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC)

	for i, job := range []string{model.JobNightlyBatch, model.JobWeeklyCleanup, model.JobNightlyBatch} {
		run := &model.BatchRun{
			Job:       job,
			Status:    model.RunStatusSucceeded,
			Holder:    "node-a",
			StartedAt: base.AddDate(0, 0, i*5),
		}
		if err := repo.BatchRun.Create(ctx, run); err != nil {
			t.Fatalf("Create 失败: %v", err)
		}
	}

	runs, err := repo.BatchRun.ListSince(ctx, model.JobNightlyBatch, base.AddDate(0, 0, 1))
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListSince 期望 1 条: n=%d err=%v", len(runs), err)
	}

	all, total, err := repo.BatchRun.List(ctx, 0, 2)
	if err != nil || total != 3 || len(all) != 2 {
		t.Fatalf("List 分页异常: total=%d n=%d err=%v", total, len(all), err)
	}
	if !all[0].StartedAt.After(all[1].StartedAt) {
		t.Error("List 应按开始时间倒序")
	}

	n, err := repo.BatchRun.PurgeOlderThan(ctx, base.AddDate(0, 0, 6))
	if err != nil || n != 2 {
		t.Errorf("PurgeOlderThan 期望删除 2 条: n=%d err=%v", n, err)
	}
}
