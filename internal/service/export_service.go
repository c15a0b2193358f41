package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/GHS01/chikitita-sub002/internal/model"
	"github.com/GHS01/chikitita-sub002/internal/repository"
)

// ── 导出模块业务错误 ──

var (
	ErrExportNoRuns       = errors.New("时间范围内没有调度运行记录")
	ErrExportGenerateFail = errors.New("生成导出文件失败")
)

// ExportService 导出业务接口
//
// 设计说明：
//   - 日历导出：未来 N 天已缓存的计划，每日一个全天事件，供用户订阅
//   - 运行记录导出：调度任务历史，按任务分 Sheet 的 Excel (.xlsx)
//   - 返回字节内容与建议文件名，由 Handler 层设置响应头
type ExportService interface {
	ExportCalendar(ctx context.Context, userID string, days int) ([]byte, string, error)
	ExportBatchRuns(ctx context.Context, days int) (*bytes.Buffer, string, error)
}

type exportService struct {
	repo         *repository.Repository
	orchestrator CacheOrchestrator
	clock        Clock
	logger       *zap.Logger
}

// NewExportService 创建 ExportService 实例
func NewExportService(repo *repository.Repository, orchestrator CacheOrchestrator, clock Clock, logger *zap.Logger) ExportService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &exportService{repo: repo, orchestrator: orchestrator, clock: clock, logger: logger}
}

// ═══════════════════════════════════════════════════════════
// ExportCalendar：导出 iCalendar
// ═══════════════════════════════════════════════════════════
//
// 只导出已缓存的计划，不触发生成。UID 由 plan_id 派生，
// 重新生成后的计划会以新事件出现，旧事件随之消失。

func (s *exportService) ExportCalendar(ctx context.Context, userID string, days int) ([]byte, string, error) {
	plans, err := s.orchestrator.UpcomingPlans(ctx, userID, days)
	if err != nil {
		if !errors.Is(err, ErrInvalidHorizon) {
			s.logger.Error("查询待导出计划失败", zap.String("user_id", userID), zap.Error(err))
		}
		return nil, "", err
	}

	now := s.clock.Now().UTC()
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//fitplan//workout plans//ZH")
	cal.SetXWRCalName("训练计划")

	for i := range plans {
		p := &plans[i]
		day, err := model.ParseDate(p.PlanDate, time.UTC)
		if err != nil {
			continue
		}

		summary := fmt.Sprintf("训练：%s", p.SplitType)
		var desc strings.Builder
		if content, err := p.DecodeContent(); err == nil {
			summary = fmt.Sprintf("训练：%s（%s）", content.Focus, p.SplitType)
			fmt.Fprintf(&desc, "预计 %d 分钟\n", content.EstimatedMinutes)
			for _, ex := range content.Exercises {
				fmt.Fprintf(&desc, "%s %d×%s\n", ex.Name, ex.Sets, ex.Reps)
			}
		} else {
			s.logger.Warn("解析计划内容失败", zap.String("plan_id", p.PlanID), zap.Error(err))
		}

		event := cal.AddEvent(p.PlanID + "@fitplan")
		event.SetDtStampTime(now)
		event.SetCreatedTime(p.CreatedAt)
		event.SetAllDayStartAt(day)
		event.SetAllDayEndAt(day.AddDate(0, 0, 1))
		event.SetSummary(summary)
		event.SetDescription(strings.TrimSpace(desc.String()))
		if p.Consumed {
			event.SetStatus(ics.ObjectStatusConfirmed)
		} else {
			event.SetStatus(ics.ObjectStatusTentative)
		}
	}

	filename := fmt.Sprintf("workouts_%s.ics", model.FormatDate(s.orchestrator.Today()))
	return []byte(cal.Serialize()), filename, nil
}

// ═══════════════════════════════════════════════════════════
// ExportBatchRuns：导出调度运行记录为 Excel
// ═══════════════════════════════════════════════════════════
//
// 输出格式：
//   - 每个任务一个 Sheet（nightly_batch / weekly_cleanup / daily_report）
//   - 行：一次运行，按开始时间倒序
//   - 列：开始 / 结束 / 状态 / 执行实例 / 用户统计 / 计划统计

func (s *exportService) ExportBatchRuns(ctx context.Context, days int) (*bytes.Buffer, string, error) {
	if days < 1 {
		days = 7
	}
	since := s.clock.Now().UTC().AddDate(0, 0, -days)

	runs, err := s.repo.BatchRun.ListSince(ctx, "", since)
	if err != nil {
		s.logger.Error("查询调度运行记录失败", zap.Error(err))
		return nil, "", err
	}
	if len(runs) == 0 {
		return nil, "", ErrExportNoRuns
	}

	byJob := make(map[string][]model.BatchRun)
	for _, r := range runs {
		byJob[r.Job] = append(byJob[r.Job], r)
	}

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	headers := []string{"开始时间", "结束时间", "状态", "执行实例", "用户总数", "成功用户", "失败用户", "跳过用户", "生成计划", "失败计划", "清理计划"}

	first := true
	for _, job := range []string{model.JobNightlyBatch, model.JobWeeklyCleanup, model.JobDailyReport} {
		list, ok := byJob[job]
		if !ok {
			continue
		}

		idx, err := f.NewSheet(job)
		if err != nil {
			s.logger.Error("创建 Sheet 失败", zap.String("job", job), zap.Error(err))
			return nil, "", ErrExportGenerateFail
		}
		if first {
			f.SetActiveSheet(idx)
			first = false
		}

		for i, h := range headers {
			f.SetCellValue(job, cell(colName(i), 1), h)
		}
		f.SetCellStyle(job, "A1", cell(colName(len(headers)-1), 1), headerStyle)
		f.SetColWidth(job, "A", "B", 22)
		f.SetColWidth(job, "D", "D", 24)

		for r, run := range list {
			row := r + 2
			finished := "-"
			if run.FinishedAt != nil {
				finished = run.FinishedAt.UTC().Format(time.RFC3339)
			}
			values := []interface{}{
				run.StartedAt.UTC().Format(time.RFC3339), finished, run.Status, run.Holder,
				run.TotalUsers, run.SucceededUsers, run.FailedUsers, run.SkippedUsers,
				run.GeneratedPlans, run.FailedPlans, run.PurgedPlans,
			}
			for c, v := range values {
				f.SetCellValue(job, cell(colName(c), row), v)
			}
		}
	}
	// 删除默认 Sheet1
	f.DeleteSheet("Sheet1")

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("batch_runs_%s.xlsx", model.FormatDate(s.clock.Now().UTC()))
	return buf, filename, nil
}

// ── 辅助函数 ──

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
