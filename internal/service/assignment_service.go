package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GHS01/chikitita-sub002/config"
	"github.com/GHS01/chikitita-sub002/internal/dto"
	"github.com/GHS01/chikitita-sub002/internal/model"
	"github.com/GHS01/chikitita-sub002/internal/repository"
	pkgerrors "github.com/GHS01/chikitita-sub002/pkg/errors"
	"github.com/GHS01/chikitita-sub002/pkg/metrics"
)

// ── 训练分配模块业务错误 ──

var (
	ErrAssignmentNotFound = errors.New("该星期几没有训练分配")
	ErrInvalidWeekday     = errors.New("星期几应为 1-7")
)

// AssignmentService 训练分配业务接口
type AssignmentService interface {
	// ReplaceAssignments 整周替换：校验 → 事务内(替换 + 清理未来未消费计划) → 尽力预热
	// 校验失败返回 *errors.ValidationError，且不做任何写入
	ReplaceAssignments(ctx context.Context, userID string, req *dto.ReplaceAssignmentsRequest) (*dto.ReplaceAssignmentsResponse, error)
	GetAssignments(ctx context.Context, userID string) ([]dto.AssignmentResponse, error)
	GetForWeekday(ctx context.Context, userID string, weekday int) (*dto.AssignmentResponse, error)
}

type assignmentService struct {
	repo         *repository.Repository
	validator    AssignmentValidator
	orchestrator CacheOrchestrator
	cfg          config.CacheConfig
	metrics      metrics.Recorder
	logger       *zap.Logger
}

// NewAssignmentService 创建 AssignmentService 实例
func NewAssignmentService(
	cfg *config.Config,
	repo *repository.Repository,
	validator AssignmentValidator,
	orchestrator CacheOrchestrator,
	recorder metrics.Recorder,
	logger *zap.Logger,
) AssignmentService {
	if recorder == nil {
		recorder = metrics.NewNop()
	}
	return &assignmentService{
		repo:         repo,
		validator:    validator,
		orchestrator: orchestrator,
		cfg:          cfg.Cache,
		metrics:      recorder,
		logger:       logger,
	}
}

// ────────────────────── ReplaceAssignments ──────────────────────

func (s *assignmentService) ReplaceAssignments(ctx context.Context, userID string, req *dto.ReplaceAssignmentsRequest) (*dto.ReplaceAssignmentsResponse, error) {
	schedule := &WeeklySchedule{WeeklyFrequency: req.WeeklyFrequency}
	for _, d := range req.Days {
		schedule.Days = append(schedule.Days, ScheduleDay{
			Weekday:   model.Weekday(d.Weekday),
			SplitID:   d.SplitID,
			SplitType: d.SplitType,
		})
	}
	available := make([]model.Weekday, 0, len(req.AvailableWeekdays))
	for _, w := range req.AvailableWeekdays {
		available = append(available, model.Weekday(w))
	}

	// 1. 写入前校验
	if problems := s.validator.Validate(schedule, available); len(problems) > 0 {
		return nil, pkgerrors.NewValidationError(problems)
	}

	assignments := make([]model.Assignment, 0, len(schedule.Days))
	for _, d := range schedule.Days {
		assignments = append(assignments, model.Assignment{
			Weekday:         d.Weekday,
			SplitID:         d.SplitID,
			SplitType:       d.SplitType,
			WeeklyFrequency: schedule.WeeklyFrequency,
			IsActive:        true,
		})
	}

	// 2. 单事务：替换整周 + 清理今天起未消费的计划
	todayStr := model.FormatDate(s.orchestrator.Today())
	var purged int64
	err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		if err := tx.Assignment.ReplaceForUser(ctx, userID, assignments); err != nil {
			return err
		}
		n, err := tx.CachedPlan.PurgeFutureUnconsumed(ctx, userID, todayStr)
		if err != nil {
			return err
		}
		purged = n
		return nil
	})
	if err != nil {
		s.logger.Error("替换训练分配失败", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	s.metrics.IncPurged(purgeReasonInvalidation, purged)

	s.logger.Info("训练分配已替换",
		zap.String("user_id", userID),
		zap.Int("days", len(assignments)),
		zap.Int64("purged_plans", purged),
	)

	// 3. 预热（尽力而为，失败体现在清单中而非返回错误）
	resp := &dto.ReplaceAssignmentsResponse{
		Assignments: make([]dto.AssignmentResponse, 0, len(assignments)),
		PurgedPlans: purged,
	}
	manifest, err := s.orchestrator.EnsureGenerated(ctx, userID, s.cfg.DefaultHorizonDays)
	if err != nil {
		s.logger.Warn("分配变更后预热失败", zap.String("user_id", userID), zap.Error(err))
	} else {
		resp.Warmup = ToManifestResponse(manifest)
	}

	current, err := s.repo.Assignment.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range current {
		resp.Assignments = append(resp.Assignments, *toAssignmentResponse(&current[i]))
	}
	return resp, nil
}

// ────────────────────── GetAssignments ──────────────────────

func (s *assignmentService) GetAssignments(ctx context.Context, userID string) ([]dto.AssignmentResponse, error) {
	list, err := s.repo.Assignment.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("查询训练分配失败", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	result := make([]dto.AssignmentResponse, 0, len(list))
	for i := range list {
		result = append(result, *toAssignmentResponse(&list[i]))
	}
	return result, nil
}

// ────────────────────── GetForWeekday ──────────────────────

func (s *assignmentService) GetForWeekday(ctx context.Context, userID string, weekday int) (*dto.AssignmentResponse, error) {
	wd := model.Weekday(weekday)
	if !wd.Valid() {
		return nil, ErrInvalidWeekday
	}

	a, err := s.repo.Assignment.GetActiveForWeekday(ctx, userID, wd)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssignmentNotFound
		}
		s.logger.Error("查询训练分配失败", zap.String("user_id", userID), zap.Int("weekday", weekday), zap.Error(err))
		return nil, err
	}
	return toAssignmentResponse(a), nil
}

// ── 辅助函数 ──

func toAssignmentResponse(a *model.Assignment) *dto.AssignmentResponse {
	return &dto.AssignmentResponse{
		ID:              a.AssignmentID,
		Weekday:         int(a.Weekday),
		WeekdayName:     a.Weekday.String(),
		SplitID:         a.SplitID,
		SplitType:       a.SplitType,
		WeeklyFrequency: a.WeeklyFrequency,
		CreatedAt:       a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       a.UpdatedAt.Format(time.RFC3339),
	}
}

// ToManifestResponse 生成清单转响应
func ToManifestResponse(m *Manifest) *dto.ManifestResponse {
	resp := &dto.ManifestResponse{
		Succeeded: append([]string{}, m.Succeeded...),
		Failed:    make([]dto.GenerationFailureItem, 0, len(m.Failed)),
	}
	for _, f := range m.Failed {
		resp.Failed = append(resp.Failed, dto.GenerationFailureItem{Date: f.Date, Error: f.Err.Error()})
	}
	return resp
}
