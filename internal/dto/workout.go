package dto

import "encoding/json"

// ── 训练计划 / 缓存模块 DTO ──

// CacheStatusRequest 缓存状态查询参数
type CacheStatusRequest struct {
	Horizon int `form:"horizon" binding:"omitempty,min=1"`
}

// CalendarRequest 日历导出参数
type CalendarRequest struct {
	Days int `form:"days" binding:"omitempty,min=1"`
}

// CacheStatusResponse 缓存状态（派生视图，不落库）
type CacheStatusResponse struct {
	From             string   `json:"from"`
	To               string   `json:"to"` // 不含
	HorizonDays      int      `json:"horizon_days"`
	TotalCached      int64    `json:"total_cached"`
	NextWindowCached int      `json:"next_window_cached"`
	OldestDate       string   `json:"oldest_date,omitempty"`
	NewestDate       string   `json:"newest_date,omitempty"`
	NeedsGeneration  []string `json:"needs_generation"`
}

// GenerationFailureItem 单日生成失败
type GenerationFailureItem struct {
	Date  string `json:"date"`
	Error string `json:"error"`
}

// ManifestResponse 生成清单
type ManifestResponse struct {
	Succeeded []string                `json:"succeeded"`
	Failed    []GenerationFailureItem `json:"failed"`
}

// CachedPlanResponse 缓存计划
type CachedPlanResponse struct {
	ID            string          `json:"id"`
	Date          string          `json:"date"`
	Weekday       int             `json:"weekday"`
	SplitID       string          `json:"split_id"`
	SplitType     string          `json:"split_type"`
	SchemaVersion int             `json:"schema_version"`
	Content       json.RawMessage `json:"content"`
	Source        string          `json:"source"`
	Consumed      bool            `json:"consumed"`
	ConsumedAt    string          `json:"consumed_at,omitempty"`
	CreatedAt     string          `json:"created_at"`
}

// WorkoutResponse 某日训练：休息日时 plan 为空
type WorkoutResponse struct {
	Date      string              `json:"date"`
	Weekday   int                 `json:"weekday"`
	RestDay   bool                `json:"rest_day"`
	CacheHit  bool                `json:"cache_hit"`
	Generated bool                `json:"generated"`
	Plan      *CachedPlanResponse `json:"plan,omitempty"`
}

// StartWorkoutResponse 开始训练结果
type StartWorkoutResponse struct {
	WorkoutResponse
	AlreadyStarted bool `json:"already_started"`
}

// RegenerateResponse 强制重建缓存结果
type RegenerateResponse struct {
	PurgedPlans int64             `json:"purged_plans"`
	Manifest    *ManifestResponse `json:"manifest"`
}
