package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/GHS01/chikitita-sub002/internal/dto"
	"github.com/GHS01/chikitita-sub002/internal/service"
	pkgerrors "github.com/GHS01/chikitita-sub002/pkg/errors"
	"github.com/GHS01/chikitita-sub002/pkg/response"
)

// WorkoutHandler 训练计划 / 缓存模块 HTTP 处理器
type WorkoutHandler struct {
	cache         service.CacheOrchestrator
	exportSvc     service.ExportService
	statusHorizon int
	calendarDays  int
}

// NewWorkoutHandler 创建 WorkoutHandler
func NewWorkoutHandler(cache service.CacheOrchestrator, exportSvc service.ExportService, statusHorizon, calendarDays int) *WorkoutHandler {
	return &WorkoutHandler{
		cache:         cache,
		exportSvc:     exportSvc,
		statusHorizon: statusHorizon,
		calendarDays:  calendarDays,
	}
}

// GetCacheStatus 缓存状态（派生视图）
// GET /api/v1/workouts/cache/status?horizon=N
func (h *WorkoutHandler) GetCacheStatus(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var req dto.CacheStatusRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 21002, "horizon 参数无效")
		return
	}
	horizon := req.Horizon
	if horizon == 0 {
		horizon = h.statusHorizon
	}

	status, err := h.cache.Status(c.Request.Context(), userID, horizon)
	if err != nil {
		h.handleWorkoutError(c, err)
		return
	}

	response.OK(c, service.ToCacheStatusResponse(status))
}

// GetWorkout 获取某日训练；未命中缓存时按需生成
// GET /api/v1/workouts/:date
func (h *WorkoutHandler) GetWorkout(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	result, err := h.cache.GetOrGenerate(c.Request.Context(), userID, c.Param("date"))
	if err != nil {
		h.handleWorkoutError(c, err)
		return
	}

	response.OK(c, service.ToWorkoutResponse(result))
}

// StartWorkout 开始训练：消费当日计划，不可逆
// POST /api/v1/workouts/:date/start
func (h *WorkoutHandler) StartWorkout(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	result, err := h.cache.StartWorkout(c.Request.Context(), userID, c.Param("date"))
	if err != nil {
		h.handleWorkoutError(c, err)
		return
	}

	response.OK(c, &dto.StartWorkoutResponse{
		WorkoutResponse: *service.ToWorkoutResponse(result),
		AlreadyStarted:  result.AlreadyStarted,
	})
}

// RegenerateCache 清理未来未消费的计划并重建默认窗口
// POST /api/v1/workouts/cache/regenerate
func (h *WorkoutHandler) RegenerateCache(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	inv, err := h.cache.OnAssignmentChanged(c.Request.Context(), userID)
	if err != nil {
		h.handleWorkoutError(c, err)
		return
	}

	response.OK(c, &dto.RegenerateResponse{
		PurgedPlans: inv.PurgedPlans,
		Manifest:    service.ToManifestResponse(inv.Manifest),
	})
}

// ExportCalendar 导出未来 N 天已缓存计划的 iCalendar
// GET /api/v1/workouts/calendar.ics?days=N
func (h *WorkoutHandler) ExportCalendar(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var req dto.CalendarRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 21002, "days 参数无效")
		return
	}
	days := req.Days
	if days == 0 {
		days = h.calendarDays
	}

	data, filename, err := h.exportSvc.ExportCalendar(c.Request.Context(), userID, days)
	if err != nil {
		h.handleWorkoutError(c, err)
		return
	}

	c.Header("Content-Disposition", "inline; filename*=UTF-8''"+url.QueryEscape(filename))
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", data)
}

func (h *WorkoutHandler) handleWorkoutError(c *gin.Context, err error) {
	var genErr *pkgerrors.GenerationFailure
	switch {
	case errors.Is(err, service.ErrInvalidDate):
		response.BadRequest(c, 21001, err.Error())
	case errors.Is(err, service.ErrInvalidHorizon):
		response.BadRequest(c, 21002, err.Error())
	case errors.Is(err, service.ErrRestDay):
		response.Conflict(c, 21003, err.Error())
	case errors.Is(err, service.ErrWorkoutNotStartable):
		response.Conflict(c, 21004, err.Error())
	case errors.Is(err, service.ErrCachedPlanNotFound):
		response.NotFound(c, 21005, err.Error())
	case errors.As(err, &genErr):
		response.ServiceUnavailable(c, 21006, "训练计划暂时无法生成，请稍后重试", genErr.Date)
	default:
		response.InternalError(c)
	}
}
