package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/GHS01/chikitita-sub002/config"
	"github.com/GHS01/chikitita-sub002/internal/api/handler"
	"github.com/GHS01/chikitita-sub002/internal/api/router"
	"github.com/GHS01/chikitita-sub002/internal/app"
	"github.com/GHS01/chikitita-sub002/internal/scheduler"
	"github.com/GHS01/chikitita-sub002/pkg/jwt"
	applogger "github.com/GHS01/chikitita-sub002/pkg/logger"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "配置文件路径（默认查找 ./config/config.yaml）")
	skipMigrate := pflag.Bool("skip-migrate", false, "启动时不执行数据库迁移")
	pflag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.Int("port", cfg.Server.Port),
		zap.String("log_level", cfg.Log.Level),
		zap.String("db_driver", cfg.Database.Driver),
	)

	// 3. 连接数据库 / Redis，依赖注入
	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("初始化失败", zap.Error(err))
	}
	defer a.Close()

	// 3.1 执行数据库迁移
	if !*skipMigrate {
		if err := a.Migrate(); err != nil {
			logger.Fatal("数据库迁移失败", zap.Error(err))
		}
	}

	// 4. 定时任务
	var trigger scheduler.Trigger
	if cfg.Scheduler.Enabled {
		cronTrigger := scheduler.NewCronTrigger(cfg.Scheduler.Location(), logger)
		if err := a.Scheduler.Register(cronTrigger); err != nil {
			logger.Fatal("注册定时任务失败", zap.Error(err))
		}
		cronTrigger.Start()
		trigger = cronTrigger
		logger.Info("定时任务已启动",
			zap.String("holder", a.Scheduler.Holder()),
			zap.String("timezone", cfg.Scheduler.Timezone),
			zap.Bool("redis_lease", a.Redis != nil),
		)
	} else {
		logger.Info("定时任务未启用，仅支持管理端手动触发")
	}

	// 5. 路由
	h := handler.NewHandler(cfg, a.Service, a.Scheduler)
	engine := router.Setup(cfg, h, router.Deps{
		JWT:      jwt.NewManager(&cfg.Auth),
		Redis:    a.Redis,
		DB:       a,
		Gatherer: a.Registry,
		Logger:   logger,
	})

	// 6. 启动 HTTP 服务器（优雅关闭）
	// 按需生成可能等待生成器，WriteTimeout 需覆盖 generate_timeout 及重试
	writeTimeout := cfg.Cache.GenerateTimeout*time.Duration(cfg.Cache.GenerateRetries+1) + 10*time.Second
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器已启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP 服务器异常", zap.Error(err))
		}
	}()

	// 7. 监听系统信号，优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("收到关闭信号，开始优雅关闭...", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}

	// 停止调度：取消运行中的批处理，等待其写完运行记录并释放租约
	if trigger != nil {
		trigger.Stop(ctx)
	}

	logger.Info("服务器已关闭")
}
