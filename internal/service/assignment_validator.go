package service

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/GHS01/chikitita-sub002/internal/model"
)

// MinTrainingDays 一周最少训练天数
const MinTrainingDays = 2

// ScheduleDay 待校验的单日分配
type ScheduleDay struct {
	Weekday   model.Weekday `validate:"min=1,max=7"`
	SplitID   string        `validate:"required,max=64"`
	SplitType string        `validate:"required,max=32,split_type"`
}

// WeeklySchedule 待校验的整周分配
type WeeklySchedule struct {
	WeeklyFrequency int           `validate:"min=2,max=7"`
	Days            []ScheduleDay `validate:"dive"`
}

// AssignmentValidator 分配校验器，在任何写入之前调用
// 返回全部问题而非遇到第一个就停止；空切片表示通过
type AssignmentValidator interface {
	Validate(schedule *WeeklySchedule, availableWeekdays []model.Weekday) []error
}

type assignmentValidator struct {
	v *validator.Validate
}

// NewAssignmentValidator 创建校验器
// allowSplitType 为 nil 时接受任意非空分化类型
func NewAssignmentValidator(allowSplitType func(string) bool) AssignmentValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("split_type", func(fl validator.FieldLevel) bool {
		if allowSplitType == nil {
			return true
		}
		return allowSplitType(fl.Field().String())
	})
	return &assignmentValidator{v: v}
}

func (a *assignmentValidator) Validate(schedule *WeeklySchedule, availableWeekdays []model.Weekday) []error {
	if schedule == nil {
		return []error{errors.New("训练分配为空")}
	}

	var problems []error

	// ── 字段级校验 ──
	if err := a.v.Struct(schedule); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []error{err}
		}
		for _, fe := range verrs {
			problems = append(problems, fieldProblem(fe))
		}
	}

	// ── 可训练日 ──
	available := make(map[model.Weekday]bool, len(availableWeekdays))
	for _, w := range availableWeekdays {
		if !w.Valid() {
			problems = append(problems, fmt.Errorf("可训练日 %d 不在 1-7 范围内", int(w)))
			continue
		}
		available[w] = true
	}

	// ── 天数规则 ──
	n := len(schedule.Days)
	if n < MinTrainingDays {
		problems = append(problems, fmt.Errorf("每周至少安排 %d 天训练，当前 %d 天", MinTrainingDays, n))
	}
	if schedule.WeeklyFrequency > 0 && n > schedule.WeeklyFrequency {
		problems = append(problems, fmt.Errorf("安排了 %d 天，超过每周 %d 次的训练频次", n, schedule.WeeklyFrequency))
	}

	seen := make(map[model.Weekday]bool, n)
	for _, d := range schedule.Days {
		if !d.Weekday.Valid() {
			continue // 字段级已报告
		}
		if seen[d.Weekday] {
			problems = append(problems, fmt.Errorf("%s 被重复安排", d.Weekday))
			continue
		}
		seen[d.Weekday] = true
		if !available[d.Weekday] {
			problems = append(problems, fmt.Errorf("%s 不在可训练日内", d.Weekday))
		}
	}

	return problems
}

func fieldProblem(fe validator.FieldError) error {
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s 不能为空", fe.Namespace())
	case "split_type":
		return fmt.Errorf("%s 不支持的分化类型 %q", fe.Namespace(), fe.Value())
	case "min", "max":
		return fmt.Errorf("%s 超出范围（%s=%s）", fe.Namespace(), fe.Tag(), fe.Param())
	default:
		return fmt.Errorf("%s 校验失败（%s）", fe.Namespace(), fe.Tag())
	}
}
