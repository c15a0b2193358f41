package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GHS01/chikitita-sub002/internal/app"
	"github.com/GHS01/chikitita-sub002/internal/dto"
	"github.com/GHS01/chikitita-sub002/internal/scheduler"
	"github.com/GHS01/chikitita-sub002/internal/service"
	pkgerrors "github.com/GHS01/chikitita-sub002/pkg/errors"
)

// jobCmd 调度任务子命令，与管理端手动触发走同一入口（租约互斥）
func jobCmd(name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				out, err := a.Scheduler.RunJob(ctx, name)
				if errors.Is(err, pkgerrors.ErrLeaseHeld) {
					fmt.Fprintln(os.Stderr, "任务正在其他实例运行，本次已跳过")
				} else if err != nil {
					return err
				}
				if out == nil {
					return nil
				}
				return printJSON(toOutput(out))
			})
		},
	}
}

func toOutput(out any) any {
	switch r := out.(type) {
	case *scheduler.BatchReport:
		resp := dto.JobRunResponse{Run: service.ToBatchRunResponse(r.Run)}
		if r.Run != nil {
			resp.Job = r.Run.Job
		}
		for _, f := range r.Failures {
			resp.Failures = append(resp.Failures, dto.JobFailureItem{UserID: f.UserID, Date: f.Date, Error: f.Error})
		}
		return resp
	default:
		return out
	}
}
