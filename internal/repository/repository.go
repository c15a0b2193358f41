package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/GHS01/chikitita-sub002/internal/model"
)

// Repository 所有 Repository 的聚合入口
type Repository struct {
	db *gorm.DB

	Assignment AssignmentRepository
	CachedPlan CachedPlanRepository
	Lease      LeaseRepository
	BatchRun   BatchRunRepository
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:         db,
		Assignment: NewAssignmentRepo(db),
		CachedPlan: NewCachedPlanRepo(db),
		Lease:      NewLeaseRepo(db),
		BatchRun:   NewBatchRunRepo(db),
	}
}

// Transaction 在单个数据库事务内执行 fn，fn 收到绑定该事务的 Repository
// fn 返回错误时整体回滚。由 mock 组装（无 db）的聚合直接执行 fn
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	if r.db == nil {
		return fn(r)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepository(tx))
	})
}

// AutoMigrate 按模型建表（sqlite 部署与测试使用；postgres 走 golang-migrate）
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Assignment{},
		&model.CachedPlan{},
		&model.SchedulerLease{},
		&model.BatchRun{},
	)
}
