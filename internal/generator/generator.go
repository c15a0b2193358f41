// Package generator 定义计划内容生成器的边界
// 动作选择与限制过滤全部位于该接口之后，缓存层只关心输入与输出
package generator

import (
	"context"
	"time"

	"github.com/GHS01/chikitita-sub002/internal/model"
)

// GenerateInput 单次生成的输入：(用户, 日期, 分配) 三元组
type GenerateInput struct {
	UserID     string
	Date       time.Time
	Assignment *model.Assignment
}

// Generator 计划内容生成器
// 同一三元组的重复调用应产出等价内容，缓存层依赖这一点做幂等覆盖
type Generator interface {
	Generate(ctx context.Context, in GenerateInput) (*model.PlanContent, error)
}

// Func 适配普通函数为 Generator
type Func func(ctx context.Context, in GenerateInput) (*model.PlanContent, error)

// Generate 实现 Generator
func (f Func) Generate(ctx context.Context, in GenerateInput) (*model.PlanContent, error) {
	return f(ctx, in)
}
