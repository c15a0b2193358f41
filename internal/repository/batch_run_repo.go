package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/GHS01/chikitita-sub002/internal/model"
)

// BatchRunRepository 调度运行记录数据访问接口
type BatchRunRepository interface {
	Create(ctx context.Context, run *model.BatchRun) error
	Update(ctx context.Context, run *model.BatchRun) error
	// ListSince 返回 started_at >= since 的记录；job 为空表示全部任务
	ListSince(ctx context.Context, job string, since time.Time) ([]model.BatchRun, error)
	List(ctx context.Context, offset, limit int) ([]model.BatchRun, int64, error)
	PurgeOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type batchRunRepo struct {
	db *gorm.DB
}

// NewBatchRunRepo 创建 BatchRunRepository 实例
func NewBatchRunRepo(db *gorm.DB) BatchRunRepository {
	return &batchRunRepo{db: db}
}

func (r *batchRunRepo) Create(ctx context.Context, run *model.BatchRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *batchRunRepo) Update(ctx context.Context, run *model.BatchRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *batchRunRepo) ListSince(ctx context.Context, job string, since time.Time) ([]model.BatchRun, error) {
	var runs []model.BatchRun
	db := r.db.WithContext(ctx).Where("started_at >= ?", since)
	if job != "" {
		db = db.Where("job = ?", job)
	}
	err := db.Order("started_at DESC").Find(&runs).Error
	return runs, err
}

func (r *batchRunRepo) List(ctx context.Context, offset, limit int) ([]model.BatchRun, int64, error) {
	var runs []model.BatchRun
	var total int64

	db := r.db.WithContext(ctx).Model(&model.BatchRun{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Offset(offset).Limit(limit).
		Order("started_at DESC").
		Find(&runs).Error
	return runs, total, err
}

func (r *batchRunRepo) PurgeOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("started_at < ?", before).
		Delete(&model.BatchRun{})
	return result.RowsAffected, result.Error
}
