package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/GHS01/chikitita-sub002/internal/dto"
	"github.com/GHS01/chikitita-sub002/internal/repository"
)

// BatchRunService 调度运行记录查询
type BatchRunService interface {
	List(ctx context.Context, req *dto.PaginationRequest) ([]dto.BatchRunResponse, int64, error)
}

type batchRunService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewBatchRunService 创建 BatchRunService 实例
func NewBatchRunService(repo *repository.Repository, logger *zap.Logger) BatchRunService {
	return &batchRunService{repo: repo, logger: logger}
}

func (s *batchRunService) List(ctx context.Context, req *dto.PaginationRequest) ([]dto.BatchRunResponse, int64, error) {
	runs, total, err := s.repo.BatchRun.List(ctx, req.GetOffset(), req.GetPageSize())
	if err != nil {
		s.logger.Error("查询运行记录失败", zap.Error(err))
		return nil, 0, err
	}

	list := make([]dto.BatchRunResponse, 0, len(runs))
	for i := range runs {
		list = append(list, *ToBatchRunResponse(&runs[i]))
	}
	return list, total, nil
}
