package model

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// PlanContentSchemaVersion 当前计划内容结构版本
// 结构发生不兼容变化时递增，缓存层拒绝写入未知版本
const PlanContentSchemaVersion = 1

// PlanContent 单日训练计划内容（生成器输出，写入 cached_plans.content）
type PlanContent struct {
	SchemaVersion    int            `json:"schema_version"     validate:"eq=1"`
	SplitID          string         `json:"split_id"           validate:"required,max=64"`
	SplitType        string         `json:"split_type"         validate:"required,max=32"`
	Date             string         `json:"date"               validate:"required,datetime=2006-01-02"`
	Focus            string         `json:"focus"              validate:"required,max=100"`
	EstimatedMinutes int            `json:"estimated_minutes"  validate:"min=10,max=240"`
	Exercises        []PlanExercise `json:"exercises"          validate:"required,min=1,max=20,dive"`
	Notes            string         `json:"notes,omitempty"    validate:"max=1000"`
}

// PlanExercise 单个动作
type PlanExercise struct {
	Name        string `json:"name"         validate:"required,max=100"`
	MuscleGroup string `json:"muscle_group" validate:"required,max=50"`
	Sets        int    `json:"sets"         validate:"min=1,max=10"`
	Reps        string `json:"reps"         validate:"required,max=20"` // "8-12" | "30s"
	RestSeconds int    `json:"rest_seconds" validate:"min=0,max=600"`
}

var contentValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate 校验生成器输出，返回的错误会列出全部不合法字段
func (c *PlanContent) Validate() error {
	if c == nil {
		return fmt.Errorf("计划内容为空")
	}
	err := contentValidator.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("计划内容校验失败: %s", strings.Join(fields, ", "))
}
