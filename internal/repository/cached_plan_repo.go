package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/GHS01/chikitita-sub002/internal/model"
)

// CachedPlanRepository 预生成计划数据访问接口
// 日期参数统一为 YYYY-MM-DD 字符串
type CachedPlanRepository interface {
	// Get 无记录时返回 gorm.ErrRecordNotFound
	Get(ctx context.Context, userID, date string) (*model.CachedPlan, error)
	// ListRange 返回 [from, to) 区间内的计划，按日期升序
	ListRange(ctx context.Context, userID, from, to string) ([]model.CachedPlan, error)
	// Put 以 (user_id, plan_date) 幂等 upsert；已消费的行不会被覆盖
	// 冲突时保留首个写入者的 plan_id/source/created_at，调用方需重新 Get 获取落库结果
	Put(ctx context.Context, plan *model.CachedPlan) error
	// MarkConsumed 单向置为已消费；已消费返回 (false, nil)，不存在返回 gorm.ErrRecordNotFound
	MarkConsumed(ctx context.Context, userID, date string, at time.Time) (bool, error)
	// PurgeFutureUnconsumed 删除 plan_date >= fromDate 且未消费的计划
	PurgeFutureUnconsumed(ctx context.Context, userID, fromDate string) (int64, error)
	// PurgeOlderThan 删除 plan_date < cutoffDate 的计划，与消费状态无关
	PurgeOlderThan(ctx context.Context, cutoffDate string) (int64, error)
	Stats(ctx context.Context, userID string) (*PlanStats, error)
	CountTotal(ctx context.Context) (int64, error)
	// CountConsumedBetween 统计 consumed_at ∈ [from, to) 的计划数及其中批处理预生成的数量
	CountConsumedBetween(ctx context.Context, from, to time.Time) (total int64, prebuilt int64, err error)
}

// PlanStats 单用户缓存统计
type PlanStats struct {
	Total  int64
	Oldest string
	Newest string
}

type cachedPlanRepo struct {
	db *gorm.DB
}

// NewCachedPlanRepo 创建 CachedPlanRepository 实例
func NewCachedPlanRepo(db *gorm.DB) CachedPlanRepository {
	return &cachedPlanRepo{db: db}
}

func (r *cachedPlanRepo) Get(ctx context.Context, userID, date string) (*model.CachedPlan, error) {
	var plan model.CachedPlan
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND plan_date = ?", userID, date).
		First(&plan).Error
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *cachedPlanRepo) ListRange(ctx context.Context, userID, from, to string) ([]model.CachedPlan, error) {
	var plans []model.CachedPlan
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND plan_date >= ? AND plan_date < ?", userID, from, to).
		Order("plan_date ASC").
		Find(&plans).Error
	return plans, err
}

func (r *cachedPlanRepo) Put(ctx context.Context, plan *model.CachedPlan) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "plan_date"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: clause.Column{Table: "cached_plans", Name: "consumed"}, Value: false},
		}},
		DoUpdates: clause.AssignmentColumns([]string{
			"weekday", "assignment_id", "split_id", "split_type",
			"schema_version", "content", "updated_at",
		}),
	}).Create(plan).Error
}

func (r *cachedPlanRepo) MarkConsumed(ctx context.Context, userID, date string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.CachedPlan{}).
		Where("user_id = ? AND plan_date = ? AND consumed = ?", userID, date, false).
		Updates(map[string]interface{}{
			"consumed":    true,
			"consumed_at": at,
			"updated_at":  at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	// 未更新：要么已消费（幂等成功），要么不存在
	if _, err := r.Get(ctx, userID, date); err != nil {
		return false, err
	}
	return false, nil
}

func (r *cachedPlanRepo) PurgeFutureUnconsumed(ctx context.Context, userID, fromDate string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND plan_date >= ? AND consumed = ?", userID, fromDate, false).
		Delete(&model.CachedPlan{})
	return result.RowsAffected, result.Error
}

func (r *cachedPlanRepo) PurgeOlderThan(ctx context.Context, cutoffDate string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("plan_date < ?", cutoffDate).
		Delete(&model.CachedPlan{})
	return result.RowsAffected, result.Error
}

func (r *cachedPlanRepo) Stats(ctx context.Context, userID string) (*PlanStats, error) {
	var row struct {
		Total  int64
		Oldest *string
		Newest *string
	}
	err := r.db.WithContext(ctx).
		Model(&model.CachedPlan{}).
		Select("COUNT(*) AS total, MIN(plan_date) AS oldest, MAX(plan_date) AS newest").
		Where("user_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	stats := &PlanStats{Total: row.Total}
	if row.Oldest != nil {
		stats.Oldest = *row.Oldest
	}
	if row.Newest != nil {
		stats.Newest = *row.Newest
	}
	return stats, nil
}

func (r *cachedPlanRepo) CountTotal(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.CachedPlan{}).Count(&count).Error
	return count, err
}

func (r *cachedPlanRepo) CountConsumedBetween(ctx context.Context, from, to time.Time) (int64, int64, error) {
	var total, prebuilt int64
	base := r.db.WithContext(ctx).
		Model(&model.CachedPlan{}).
		Where("consumed = ? AND consumed_at >= ? AND consumed_at < ?", true, from, to)

	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := base.Session(&gorm.Session{}).Where("source = ?", model.PlanSourceBatch).Count(&prebuilt).Error; err != nil {
		return 0, 0, err
	}
	return total, prebuilt, nil
}
