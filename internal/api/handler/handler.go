package handler

import (
	"github.com/GHS01/chikitita-sub002/config"
	"github.com/GHS01/chikitita-sub002/internal/service"
)

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Assignment *AssignmentHandler
	Workout    *WorkoutHandler
	Admin      *AdminHandler
}

// NewHandler 创建 Handler 聚合；jobs 为 nil 时管理端任务接口返回 503
func NewHandler(cfg *config.Config, svc *service.Service, jobs JobRunner) *Handler {
	return &Handler{
		Assignment: NewAssignmentHandler(svc.Assignment),
		Workout:    NewWorkoutHandler(svc.Cache, svc.Export, cfg.Cache.StatusHorizonDays, cfg.Cache.DefaultHorizonDays),
		Admin:      NewAdminHandler(jobs, svc.BatchRun, svc.Export),
	}
}
