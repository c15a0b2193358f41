package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GHS01/chikitita-sub002/internal/dto"
	"github.com/GHS01/chikitita-sub002/internal/service"
	pkgerrors "github.com/GHS01/chikitita-sub002/pkg/errors"
	"github.com/GHS01/chikitita-sub002/pkg/response"
)

// AssignmentHandler 训练分配模块 HTTP 处理器
type AssignmentHandler struct {
	assignmentSvc service.AssignmentService
}

// NewAssignmentHandler 创建 AssignmentHandler
func NewAssignmentHandler(assignmentSvc service.AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{assignmentSvc: assignmentSvc}
}

// GetAssignments 获取我的整周分配
// GET /api/v1/assignments
func (h *AssignmentHandler) GetAssignments(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	list, err := h.assignmentSvc.GetAssignments(c.Request.Context(), userID)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	response.OK(c, gin.H{"list": list})
}

// GetForWeekday 获取某个星期几的分配
// GET /api/v1/assignments/:weekday
func (h *AssignmentHandler) GetForWeekday(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	weekday, err := strconv.Atoi(c.Param("weekday"))
	if err != nil {
		response.BadRequest(c, 20004, "星期几应为 1-7")
		return
	}

	a, err := h.assignmentSvc.GetForWeekday(c.Request.Context(), userID, weekday)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	response.OK(c, a)
}

// ReplaceAssignments 整周替换分配，并失效、预热缓存
// PUT /api/v1/assignments
func (h *AssignmentHandler) ReplaceAssignments(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var req dto.ReplaceAssignmentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 20001, "参数校验失败")
		return
	}

	result, err := h.assignmentSvc.ReplaceAssignments(c.Request.Context(), userID, &req)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	response.OK(c, result)
}

func (h *AssignmentHandler) handleAssignmentError(c *gin.Context, err error) {
	var verr *pkgerrors.ValidationError
	switch {
	case errors.As(err, &verr):
		response.ValidationFailed(c, 20002, "训练分配校验失败", verr.Problems)
	case errors.Is(err, service.ErrAssignmentNotFound):
		response.NotFound(c, 20003, err.Error())
	case errors.Is(err, service.ErrInvalidWeekday):
		response.BadRequest(c, 20004, err.Error())
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		response.Conflict(c, 20005, err.Error())
	default:
		response.InternalError(c)
	}
}
