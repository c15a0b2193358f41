package model

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Assignment 训练日分配表，对应 assignments
// 每个用户每个星期几至多一条生效记录（部分唯一索引 WHERE is_active）
// 整周作为一个逻辑单元整体替换，不做单日修改
type Assignment struct {
	AssignmentID    string  `gorm:"type:varchar(36);primaryKey"                                                                  json:"assignment_id"`
	UserID          string  `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_assignments_user_weekday_active,where:is_active" json:"user_id"`
	Weekday         Weekday `gorm:"type:smallint;not null;uniqueIndex:idx_assignments_user_weekday_active,where:is_active"          json:"weekday"` // 1-7
	SplitID         string  `gorm:"type:varchar(64);not null"                                                                    json:"split_id"`
	SplitType       string  `gorm:"type:varchar(32);not null"                                                                    json:"split_type"`
	WeeklyFrequency int     `gorm:"type:smallint;not null"                                                                       json:"weekly_frequency"`
	IsActive        bool    `gorm:"not null"                                                                                     json:"is_active"`
	BaseModel
}

// TableName 指定表名
func (Assignment) TableName() string { return "assignments" }

// BeforeCreate 生成主键（兼容不支持 gen_random_uuid 的 sqlite）
func (a *Assignment) BeforeCreate(_ *gorm.DB) error {
	if a.AssignmentID == "" {
		a.AssignmentID = uuid.NewString()
	}
	return nil
}
