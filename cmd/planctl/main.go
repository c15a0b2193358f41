// planctl 训练计划缓存运维命令行：手动执行调度任务、查看缓存状态、预热与迁移
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/GHS01/chikitita-sub002/config"
	"github.com/GHS01/chikitita-sub002/internal/app"
	applogger "github.com/GHS01/chikitita-sub002/pkg/logger"
)

// 全局 flag
var (
	configPath string
	v          = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "planctl",
	Short: "训练计划缓存运维工具",
	Long: `planctl 直接连接数据库执行运维操作，与 HTTP 服务共用同一份配置。

示例:
  planctl nightly                       # 立即执行一次夜间批处理
  planctl cleanup                       # 立即执行一次周清理
  planctl report                        # 输出每日报表（只读）
  planctl status --user u1 --horizon 7  # 查看某用户缓存状态
  planctl warm --user u1 --days 14      # 为某用户预生成计划
  planctl migrate up                    # 执行数据库迁移`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().String("log-level", "", "覆盖 log.level")
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(jobCmd("nightly", "执行夜间批处理：为全部活跃用户补齐短窗口计划"))
	rootCmd.AddCommand(jobCmd("cleanup", "执行周清理：删除过期计划、运行记录与租约"))
	rootCmd.AddCommand(jobCmd("report", "输出每日报表（只读）"))
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(warmCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "错误: "+err.Error())
		os.Exit(1)
	}
}

// withApp 加载配置并初始化依赖，执行 fn 后释放资源
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl == "" {
		// 未显式指定时命令行默认仅输出警告
		v.Set("log.level", "warn")
	}
	cfg, err := config.LoadWith(v, configPath)
	if err != nil {
		return err
	}
	// 命令行不启动定时任务
	cfg.Scheduler.Enabled = false

	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fn(ctx, a); err != nil {
		logger.Debug("命令执行失败", zap.String("cmd", cmd.Name()), zap.Error(err))
		return err
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var errMissingUser = errors.New("必须指定 --user")
