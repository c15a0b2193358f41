package service

import (
	"encoding/json"
	"time"

	"github.com/GHS01/chikitita-sub002/internal/dto"
	"github.com/GHS01/chikitita-sub002/internal/model"
)

// ── 领域结果 → 响应 DTO ──

// ToCacheStatusResponse 缓存状态转响应
func ToCacheStatusResponse(st *CacheStatus) *dto.CacheStatusResponse {
	return &dto.CacheStatusResponse{
		From:             st.From,
		To:               st.To,
		HorizonDays:      st.HorizonDays,
		TotalCached:      st.TotalCached,
		NextWindowCached: st.NextWindowCached,
		OldestDate:       st.OldestDate,
		NewestDate:       st.NewestDate,
		NeedsGeneration:  append([]string{}, st.NeedsGeneration...),
	}
}

// ToCachedPlanResponse 缓存计划转响应
func ToCachedPlanResponse(p *model.CachedPlan) *dto.CachedPlanResponse {
	resp := &dto.CachedPlanResponse{
		ID:            p.PlanID,
		Date:          p.PlanDate,
		Weekday:       int(p.Weekday),
		SplitID:       p.SplitID,
		SplitType:     p.SplitType,
		SchemaVersion: p.SchemaVersion,
		Content:       json.RawMessage(p.Content),
		Source:        p.Source,
		Consumed:      p.Consumed,
		CreatedAt:     p.CreatedAt.UTC().Format(time.RFC3339),
	}
	if p.ConsumedAt != nil {
		resp.ConsumedAt = p.ConsumedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// ToWorkoutResponse 某日训练结果转响应
func ToWorkoutResponse(r *WorkoutResult) *dto.WorkoutResponse {
	resp := &dto.WorkoutResponse{
		Date:      r.Date,
		Weekday:   int(r.Weekday),
		RestDay:   r.RestDay,
		CacheHit:  r.CacheHit,
		Generated: r.Generated,
	}
	if r.Plan != nil {
		resp.Plan = ToCachedPlanResponse(r.Plan)
	}
	return resp
}

// ToBatchRunResponse 调度运行记录转响应
func ToBatchRunResponse(r *model.BatchRun) *dto.BatchRunResponse {
	if r == nil {
		return nil
	}
	resp := &dto.BatchRunResponse{
		ID:             r.RunID,
		Job:            r.Job,
		Status:         r.Status,
		Holder:         r.Holder,
		StartedAt:      r.StartedAt.UTC().Format(time.RFC3339),
		TotalUsers:     r.TotalUsers,
		SucceededUsers: r.SucceededUsers,
		FailedUsers:    r.FailedUsers,
		SkippedUsers:   r.SkippedUsers,
		GeneratedPlans: r.GeneratedPlans,
		FailedPlans:    r.FailedPlans,
		PurgedPlans:    r.PurgedPlans,
	}
	if r.FinishedAt != nil {
		resp.FinishedAt = r.FinishedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
