package dto

// ── 调度 / 报表模块 DTO ──

// BatchRunResponse 调度运行记录
type BatchRunResponse struct {
	ID             string `json:"id"`
	Job            string `json:"job"`
	Status         string `json:"status"`
	Holder         string `json:"holder,omitempty"`
	StartedAt      string `json:"started_at"`
	FinishedAt     string `json:"finished_at,omitempty"`
	TotalUsers     int    `json:"total_users"`
	SucceededUsers int    `json:"succeeded_users"`
	FailedUsers    int    `json:"failed_users"`
	SkippedUsers   int    `json:"skipped_users"`
	GeneratedPlans int    `json:"generated_plans"`
	FailedPlans    int    `json:"failed_plans"`
	PurgedPlans    int64  `json:"purged_plans"`
}

// DailyReportResponse 每日报表
type DailyReportResponse struct {
	WindowStart      string             `json:"window_start"`
	WindowEnd        string             `json:"window_end"`
	ActiveUsers      int64              `json:"active_users"`
	TotalCachedPlans int64              `json:"total_cached_plans"`
	ConsumedPlans    int64              `json:"consumed_plans"`
	PrebuiltConsumed int64              `json:"prebuilt_consumed"`
	HitRate          float64            `json:"hit_rate"`
	Runs             []BatchRunResponse `json:"runs"`
}

// JobFailureItem 批处理中单个用户（或单日）的失败
type JobFailureItem struct {
	UserID string `json:"user_id"`
	Date   string `json:"date,omitempty"`
	Error  string `json:"error"`
}

// JobRunResponse 手动触发任务的结果
type JobRunResponse struct {
	Job      string               `json:"job"`
	Run      *BatchRunResponse    `json:"run,omitempty"`
	Failures []JobFailureItem     `json:"failures,omitempty"`
	Report   *DailyReportResponse `json:"report,omitempty"`
}

// BatchRunExportRequest 运行记录导出参数
type BatchRunExportRequest struct {
	Days int `form:"days" binding:"omitempty,min=1,max=365"`
}
