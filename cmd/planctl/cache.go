package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/GHS01/chikitita-sub002/internal/app"
	"github.com/GHS01/chikitita-sub002/internal/service"
)

var (
	statusUser    string
	statusHorizon int
	warmUser      string
	warmDays      int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看用户缓存状态",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if statusUser == "" {
			return errMissingUser
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			horizon := statusHorizon
			if horizon <= 0 {
				horizon = a.Cfg.Cache.StatusHorizonDays
			}
			st, err := a.Service.Cache.Status(ctx, statusUser, horizon)
			if err != nil {
				return err
			}
			return printJSON(service.ToCacheStatusResponse(st))
		})
	},
}

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "为用户预生成未来 N 天的计划（幂等）",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if warmUser == "" {
			return errMissingUser
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			days := warmDays
			if days <= 0 {
				days = a.Cfg.Cache.DefaultHorizonDays
			}
			m, err := a.Service.Cache.EnsureGenerated(ctx, warmUser, days)
			if err != nil {
				return err
			}
			return printJSON(service.ToManifestResponse(m))
		})
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusUser, "user", "u", "", "用户 ID")
	statusCmd.Flags().IntVar(&statusHorizon, "horizon", 0, "窗口天数（默认 cache.status_horizon_days）")
	warmCmd.Flags().StringVarP(&warmUser, "user", "u", "", "用户 ID")
	warmCmd.Flags().IntVar(&warmDays, "days", 0, "窗口天数（默认 cache.default_horizon_days）")
}
