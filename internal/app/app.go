// Package app 组装数据库、Redis、服务与调度器，供 HTTP 服务与运维命令行共用
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/GHS01/chikitita-sub002/config"
	"github.com/GHS01/chikitita-sub002/internal/generator"
	"github.com/GHS01/chikitita-sub002/internal/repository"
	"github.com/GHS01/chikitita-sub002/internal/scheduler"
	"github.com/GHS01/chikitita-sub002/internal/service"
	"github.com/GHS01/chikitita-sub002/pkg/database"
	"github.com/GHS01/chikitita-sub002/pkg/metrics"
	"github.com/GHS01/chikitita-sub002/pkg/redis"
)

// App 进程级依赖集合
type App struct {
	Cfg       *config.Config
	Logger    *zap.Logger
	DB        *gorm.DB
	Redis     *redis.Client // redis.enabled=false 或连接失败（且未用作租约后端）时为 nil
	Registry  *prometheus.Registry
	Repo      *repository.Repository
	Service   *service.Service
	Scheduler *scheduler.Scheduler
}

// New 连接数据库与 Redis，并完成 Repository → Service → Scheduler 的依赖注入
// 不执行迁移，调用方按需调用 Migrate
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		return nil, err
	}

	a := &App{Cfg: cfg, Logger: logger, DB: db}

	// Redis 用于限流与黑名单时可降级；作为租约后端时必须可用
	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			if cfg.Scheduler.LeaseBackend == "redis" {
				a.Close()
				return nil, fmt.Errorf("租约后端 Redis 不可用: %w", err)
			}
			logger.Warn("Redis 连接失败，限流与 Token 黑名单不可用", zap.Error(err))
		} else {
			a.Redis = rdb
		}
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheus(a.Registry, "")

	clock := service.SystemClock{}
	a.Repo = repository.NewRepository(db)
	a.Service = service.NewService(cfg, a.Repo, generator.NewTemplateGenerator(), clock, recorder, logger)

	lease, err := LeaseManagerFor(&cfg.Scheduler, a.Repo, a.Redis, clock)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Scheduler = scheduler.New(cfg, a.Repo, a.Service.Cache, lease, clock, recorder, logger)

	return a, nil
}

// LeaseManagerFor 按配置选择租约后端，不因连接状态自动切换：
// 各实例后端不一致时互斥失效，因此配置的后端不可用时直接报错
func LeaseManagerFor(cfg *config.SchedulerConfig, repo *repository.Repository, rdb *redis.Client, clock service.Clock) (scheduler.LeaseManager, error) {
	switch cfg.LeaseBackend {
	case "", "db":
		return scheduler.NewDBLeaseManager(repo.Lease, clock), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("scheduler.lease_backend=redis 但 Redis 未连接")
		}
		return scheduler.NewRedisLeaseManager(rdb), nil
	default:
		return nil, fmt.Errorf("未知的租约后端 %q", cfg.LeaseBackend)
	}
}

// Migrate 执行数据库迁移
// postgres 使用版本化 SQL 迁移；sqlite 仅用于本地运行，走 GORM AutoMigrate
func (a *App) Migrate() error {
	if a.Cfg.Database.Driver == "sqlite" {
		if err := repository.AutoMigrate(a.DB); err != nil {
			return fmt.Errorf("自动迁移失败: %w", err)
		}
		a.Logger.Info("数据库自动迁移完成", zap.String("driver", "sqlite"))
		return nil
	}

	sqlDB, err := a.DB.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return database.RunMigrations(sqlDB, a.Logger)
}

// Rollback 回滚 steps 个版本（仅 postgres）
func (a *App) Rollback(steps int) error {
	if a.Cfg.Database.Driver == "sqlite" {
		return fmt.Errorf("sqlite 不支持回滚迁移")
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return database.RollbackMigrations(sqlDB, steps, a.Logger)
}

// PingContext 数据库健康检查
func (a *App) PingContext(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库与 Redis 连接
func (a *App) Close() {
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.Logger.Warn("关闭数据库连接失败", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("关闭 Redis 连接失败", zap.Error(err))
		}
	}
}
