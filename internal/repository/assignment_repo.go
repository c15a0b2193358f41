package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/GHS01/chikitita-sub002/internal/model"
	pkgerrors "github.com/GHS01/chikitita-sub002/pkg/errors"
)

// AssignmentRepository 训练日分配数据访问接口
type AssignmentRepository interface {
	// ReplaceForUser 删除用户全部分配并写入新的一周，二者在同一事务内
	// 违反 (user_id, weekday) 生效唯一索引时返回 ErrOptimisticLock
	ReplaceForUser(ctx context.Context, userID string, assignments []model.Assignment) error
	ListByUser(ctx context.Context, userID string) ([]model.Assignment, error)
	// GetActiveForWeekday 无记录时返回 gorm.ErrRecordNotFound
	GetActiveForWeekday(ctx context.Context, userID string, weekday model.Weekday) (*model.Assignment, error)
	ListActiveUserIDs(ctx context.Context) ([]string, error)
	CountActiveUsers(ctx context.Context) (int64, error)
}

type assignmentRepo struct {
	db *gorm.DB
}

// NewAssignmentRepo 创建 AssignmentRepository 实例
func NewAssignmentRepo(db *gorm.DB) AssignmentRepository {
	return &assignmentRepo{db: db}
}

func (r *assignmentRepo) ReplaceForUser(ctx context.Context, userID string, assignments []model.Assignment) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&model.Assignment{}).Error; err != nil {
			return err
		}
		if len(assignments) == 0 {
			return nil
		}
		for i := range assignments {
			assignments[i].UserID = userID
		}
		return tx.Create(&assignments).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return pkgerrors.ErrOptimisticLock
	}
	return err
}

func (r *assignmentRepo) ListByUser(ctx context.Context, userID string) ([]model.Assignment, error) {
	var assignments []model.Assignment
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("weekday ASC").
		Find(&assignments).Error
	return assignments, err
}

func (r *assignmentRepo) GetActiveForWeekday(ctx context.Context, userID string, weekday model.Weekday) (*model.Assignment, error) {
	var a model.Assignment
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND weekday = ? AND is_active = ?", userID, weekday, true).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assignmentRepo) ListActiveUserIDs(ctx context.Context) ([]string, error) {
	var userIDs []string
	err := r.db.WithContext(ctx).
		Model(&model.Assignment{}).
		Where("is_active = ?", true).
		Distinct("user_id").
		Order("user_id ASC").
		Pluck("user_id", &userIDs).Error
	return userIDs, err
}

func (r *assignmentRepo) CountActiveUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Assignment{}).
		Where("is_active = ?", true).
		Distinct("user_id").
		Count(&count).Error
	return count, err
}
