package dto

// ── 训练分配模块 DTO ──

// AssignmentDay 一周中某一天的分配
type AssignmentDay struct {
	Weekday   int    `json:"weekday"    binding:"required"` // 1=周一 … 7=周日
	SplitID   string `json:"split_id"`
	SplitType string `json:"split_type"`
}

// ReplaceAssignmentsRequest 整周替换训练分配
// 业务规则（可用日、最少天数、周频次）由服务层校验器统一检查
type ReplaceAssignmentsRequest struct {
	WeeklyFrequency   int             `json:"weekly_frequency"   binding:"required"`
	AvailableWeekdays []int           `json:"available_weekdays" binding:"required"`
	Days              []AssignmentDay `json:"days"               binding:"required"`
}

// AssignmentResponse 训练分配响应
type AssignmentResponse struct {
	ID              string `json:"id"`
	Weekday         int    `json:"weekday"`
	WeekdayName     string `json:"weekday_name"`
	SplitID         string `json:"split_id"`
	SplitType       string `json:"split_type"`
	WeeklyFrequency int    `json:"weekly_frequency"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// ReplaceAssignmentsResponse 替换结果：新分配 + 失效的缓存数 + 预热清单
type ReplaceAssignmentsResponse struct {
	Assignments []AssignmentResponse `json:"assignments"`
	PurgedPlans int64                `json:"purged_plans"`
	Warmup      *ManifestResponse    `json:"warmup,omitempty"`
}
