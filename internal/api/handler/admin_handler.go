package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GHS01/chikitita-sub002/internal/dto"
	"github.com/GHS01/chikitita-sub002/internal/scheduler"
	"github.com/GHS01/chikitita-sub002/internal/service"
	pkgerrors "github.com/GHS01/chikitita-sub002/pkg/errors"
	"github.com/GHS01/chikitita-sub002/pkg/response"
)

// JobRunner 管理端可调用的调度能力（由 *scheduler.Scheduler 实现）
type JobRunner interface {
	RunJob(ctx context.Context, name string) (any, error)
	DailyReport(ctx context.Context) (*scheduler.DailyReport, error)
}

// AdminHandler 运维管理 HTTP 处理器
type AdminHandler struct {
	jobs        JobRunner
	batchRunSvc service.BatchRunService
	exportSvc   service.ExportService
}

// NewAdminHandler 创建 AdminHandler
func NewAdminHandler(jobs JobRunner, batchRunSvc service.BatchRunService, exportSvc service.ExportService) *AdminHandler {
	return &AdminHandler{jobs: jobs, batchRunSvc: batchRunSvc, exportSvc: exportSvc}
}

// RunJob 手动触发调度任务
// POST /api/v1/admin/jobs/:job/run   job = nightly | cleanup | report
func (h *AdminHandler) RunJob(c *gin.Context) {
	if h.jobs == nil {
		response.Error(c, http.StatusServiceUnavailable, 22003, "调度器未启用")
		return
	}

	job := c.Param("job")
	out, err := h.jobs.RunJob(c.Request.Context(), job)
	if err != nil {
		h.handleAdminError(c, err)
		return
	}

	resp := &dto.JobRunResponse{Job: job}
	switch v := out.(type) {
	case *scheduler.BatchReport:
		resp.Run = service.ToBatchRunResponse(v.Run)
		for _, f := range v.Failures {
			resp.Failures = append(resp.Failures, dto.JobFailureItem{UserID: f.UserID, Date: f.Date, Error: f.Error})
		}
	case *scheduler.DailyReport:
		resp.Report = toDailyReportResponse(v)
	}
	response.OK(c, resp)
}

// GetDailyReport 每日运行报告（只读）
// GET /api/v1/admin/reports/daily
func (h *AdminHandler) GetDailyReport(c *gin.Context) {
	if h.jobs == nil {
		response.Error(c, http.StatusServiceUnavailable, 22003, "调度器未启用")
		return
	}

	report, err := h.jobs.DailyReport(c.Request.Context())
	if err != nil {
		h.handleAdminError(c, err)
		return
	}

	response.OK(c, toDailyReportResponse(report))
}

// ListBatchRuns 运行记录分页列表
// GET /api/v1/admin/batch-runs?page=1&page_size=20
func (h *AdminHandler) ListBatchRuns(c *gin.Context) {
	var req dto.PaginationRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "分页参数无效")
		return
	}

	list, total, err := h.batchRunSvc.List(c.Request.Context(), &req)
	if err != nil {
		h.handleAdminError(c, err)
		return
	}

	response.OKPage(c, list, total, req.GetPage(), req.GetPageSize())
}

// ExportBatchRuns 导出最近 N 天运行记录
// GET /api/v1/admin/reports/batch-runs/export?days=N
func (h *AdminHandler) ExportBatchRuns(c *gin.Context) {
	var req dto.BatchRunExportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 10001, "days 参数无效")
		return
	}

	buf, filename, err := h.exportSvc.ExportBatchRuns(c.Request.Context(), req.Days)
	if err != nil {
		h.handleAdminError(c, err)
		return
	}

	// 设置下载响应头
	encodedFilename := url.QueryEscape(filename)
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+encodedFilename)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *AdminHandler) handleAdminError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		response.NotFound(c, 22001, err.Error())
	case errors.Is(err, pkgerrors.ErrLeaseHeld):
		response.Conflict(c, 22002, "任务正在其他实例运行，本次已跳过")
	case errors.Is(err, service.ErrExportNoRuns):
		response.NotFound(c, 23001, err.Error())
	case errors.Is(err, service.ErrExportGenerateFail):
		response.InternalError(c)
	default:
		response.InternalError(c)
	}
}

func toDailyReportResponse(r *scheduler.DailyReport) *dto.DailyReportResponse {
	resp := &dto.DailyReportResponse{
		WindowStart:      r.WindowStart.UTC().Format(time.RFC3339),
		WindowEnd:        r.WindowEnd.UTC().Format(time.RFC3339),
		ActiveUsers:      r.ActiveUsers,
		TotalCachedPlans: r.TotalCachedPlans,
		ConsumedPlans:    r.ConsumedPlans,
		PrebuiltConsumed: r.PrebuiltConsumed,
		HitRate:          r.HitRate,
		Runs:             make([]dto.BatchRunResponse, 0, len(r.Runs)),
	}
	for i := range r.Runs {
		resp.Runs = append(resp.Runs, *service.ToBatchRunResponse(&r.Runs[i]))
	}
	return resp
}
