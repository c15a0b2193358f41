package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 计划来源
const (
	PlanSourceBatch = "batch" // 夜间批处理 / 分配变更后预热
	PlanSourceLazy  = "lazy"  // 用户访问时按需生成
)

// CachedPlan 预生成训练计划表，对应 cached_plans
// (user_id, plan_date) 硬唯一约束，是整个缓存层的正确性基础
// consumed 只能由 false → true，且不可逆
type CachedPlan struct {
	PlanID        string         `gorm:"type:varchar(36);primaryKey"                                         json:"plan_id"`
	UserID        string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_cached_plans_user_date"    json:"user_id"`
	PlanDate      string         `gorm:"type:varchar(10);not null;uniqueIndex:idx_cached_plans_user_date;index" json:"plan_date"` // YYYY-MM-DD
	Weekday       Weekday        `gorm:"type:smallint;not null"                                              json:"weekday"`
	AssignmentID  string         `gorm:"type:varchar(36);not null"                                           json:"assignment_id"`
	SplitID       string         `gorm:"type:varchar(64);not null"                                           json:"split_id"`
	SplitType     string         `gorm:"type:varchar(32);not null"                                           json:"split_type"`
	SchemaVersion int            `gorm:"type:smallint;not null"                                              json:"schema_version"`
	Content       datatypes.JSON `gorm:"not null"                                                            json:"content"`
	Source        string         `gorm:"type:varchar(16);not null"                                           json:"source"` // batch | lazy
	Consumed      bool           `gorm:"not null;index"                                                      json:"consumed"`
	ConsumedAt    *time.Time     `json:"consumed_at,omitempty"`
	BaseModel
}

// TableName 指定表名
func (CachedPlan) TableName() string { return "cached_plans" }

// BeforeCreate 生成主键
func (p *CachedPlan) BeforeCreate(_ *gorm.DB) error {
	if p.PlanID == "" {
		p.PlanID = uuid.NewString()
	}
	return nil
}

// DecodeContent 反序列化计划内容
func (p *CachedPlan) DecodeContent() (*PlanContent, error) {
	var content PlanContent
	if err := json.Unmarshal(p.Content, &content); err != nil {
		return nil, fmt.Errorf("解析计划内容失败: %w", err)
	}
	return &content, nil
}

// NewCachedPlan 由分配与生成结果组装待写入的缓存行
func NewCachedPlan(userID string, date time.Time, a *Assignment, content *PlanContent, source string) (*CachedPlan, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("序列化计划内容失败: %w", err)
	}
	return &CachedPlan{
		UserID:        userID,
		PlanDate:      FormatDate(date),
		Weekday:       WeekdayOf(date),
		AssignmentID:  a.AssignmentID,
		SplitID:       a.SplitID,
		SplitType:     a.SplitType,
		SchemaVersion: content.SchemaVersion,
		Content:       datatypes.JSON(raw),
		Source:        source,
	}, nil
}
