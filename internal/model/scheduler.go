package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SchedulerLease 调度任务租约表，对应 scheduler_leases
// 多实例部署时保证同名任务同一时刻只有一个持有者；过期后可被抢占
type SchedulerLease struct {
	Name       string    `gorm:"type:varchar(64);primaryKey" json:"name"`
	Holder     string    `gorm:"type:varchar(128);not null"  json:"holder"`
	AcquiredAt time.Time `gorm:"not null"                    json:"acquired_at"`
	ExpiresAt  time.Time `gorm:"not null;index"              json:"expires_at"`
}

// TableName 指定表名
func (SchedulerLease) TableName() string { return "scheduler_leases" }

// 调度任务名
const (
	JobNightlyBatch  = "nightly_batch"
	JobWeeklyCleanup = "weekly_cleanup"
	JobDailyReport   = "daily_report"
)

// 批处理运行状态
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
	RunStatusSkipped   = "skipped"
)

// BatchRun 调度运行记录表，对应 batch_runs（聚合报告，不是异常）
type BatchRun struct {
	RunID          string         `gorm:"type:varchar(36);primaryKey"      json:"run_id"`
	Job            string         `gorm:"type:varchar(32);not null;index"  json:"job"`
	Status         string         `gorm:"type:varchar(16);not null"        json:"status"`
	Holder         string         `gorm:"type:varchar(128)"                json:"holder,omitempty"`
	StartedAt      time.Time      `gorm:"not null;index"                   json:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	TotalUsers     int            `gorm:"not null"                         json:"total_users"`
	SucceededUsers int            `gorm:"not null"                         json:"succeeded_users"`
	FailedUsers    int            `gorm:"not null"                         json:"failed_users"`
	SkippedUsers   int            `gorm:"not null"                         json:"skipped_users"`
	GeneratedPlans int            `gorm:"not null"                         json:"generated_plans"`
	FailedPlans    int            `gorm:"not null"                         json:"failed_plans"`
	PurgedPlans    int64          `gorm:"not null"                         json:"purged_plans"`
	Details        datatypes.JSON `json:"details,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;autoCreateTime"          json:"created_at"`
}

// TableName 指定表名
func (BatchRun) TableName() string { return "batch_runs" }

// BeforeCreate 生成主键
func (r *BatchRun) BeforeCreate(_ *gorm.DB) error {
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	return nil
}
