package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/GHS01/chikitita-sub002/internal/model"
)

// LeaseRepository 调度租约数据访问接口（落库实现，跨实例生效）
type LeaseRepository interface {
	// TryAcquire 租约不存在或已过期时获取成功；未过期的租约不可重入
	TryAcquire(ctx context.Context, name, holder string, now time.Time, ttl time.Duration) (bool, error)
	// Renew 仅当租约仍属于 holder 时延长
	Renew(ctx context.Context, name, holder string, now time.Time, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, holder string) error
	Get(ctx context.Context, name string) (*model.SchedulerLease, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

type leaseRepo struct {
	db *gorm.DB
}

// NewLeaseRepo 创建 LeaseRepository 实例
func NewLeaseRepo(db *gorm.DB) LeaseRepository {
	return &leaseRepo{db: db}
}

// leaseTime 统一为 UTC 秒精度，保证 sqlite 文本时间按字典序可比
func leaseTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func (r *leaseRepo) TryAcquire(ctx context.Context, name, holder string, now time.Time, ttl time.Duration) (bool, error) {
	now = leaseTime(now)
	lease := model.SchedulerLease{
		Name:       name,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  leaseTime(now.Add(ttl)),
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Lt{Column: clause.Column{Table: "scheduler_leases", Name: "expires_at"}, Value: now},
		}},
		DoUpdates: clause.AssignmentColumns([]string{"holder", "acquired_at", "expires_at"}),
	}).Create(&lease)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *leaseRepo) Renew(ctx context.Context, name, holder string, now time.Time, ttl time.Duration) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.SchedulerLease{}).
		Where("name = ? AND holder = ?", name, holder).
		Update("expires_at", leaseTime(now.Add(ttl)))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *leaseRepo) Release(ctx context.Context, name, holder string) error {
	return r.db.WithContext(ctx).
		Where("name = ? AND holder = ?", name, holder).
		Delete(&model.SchedulerLease{}).Error
}

func (r *leaseRepo) Get(ctx context.Context, name string) (*model.SchedulerLease, error) {
	var lease model.SchedulerLease
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&lease).Error; err != nil {
		return nil, err
	}
	return &lease, nil
}

func (r *leaseRepo) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", leaseTime(before)).
		Delete(&model.SchedulerLease{})
	return result.RowsAffected, result.Error
}
