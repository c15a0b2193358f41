package service

import (
	"go.uber.org/zap"

	"github.com/GHS01/chikitita-sub002/config"
	"github.com/GHS01/chikitita-sub002/internal/generator"
	"github.com/GHS01/chikitita-sub002/internal/repository"
	"github.com/GHS01/chikitita-sub002/pkg/metrics"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Cache      CacheOrchestrator
	Assignment AssignmentService
	Export     ExportService
	BatchRun   BatchRunService
}

// NewService 创建 Service 聚合
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	gen generator.Generator,
	clock Clock,
	recorder metrics.Recorder,
	logger *zap.Logger,
) *Service {
	orchestrator := NewCacheOrchestrator(cfg, repo, gen, clock, recorder, logger)
	validator := NewAssignmentValidator(generator.HasSplitType)
	return &Service{
		Cache:      orchestrator,
		Assignment: NewAssignmentService(cfg, repo, validator, orchestrator, recorder, logger),
		Export:     NewExportService(repo, orchestrator, clock, logger),
		BatchRun:   NewBatchRunService(repo, logger),
	}
}
