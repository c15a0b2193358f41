package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOptimisticLock 并发修改冲突：同一用户的整周分配被另一个请求同时替换
var ErrOptimisticLock = errors.New("数据已被其他操作修改，请刷新后重试")

// ErrLeaseHeld 调度租约被其他实例持有
var ErrLeaseHeld = errors.New("调度租约已被占用")

// ValidationError 训练分配校验失败，写入前返回，无任何副作用
type ValidationError struct {
	Problems []string
}

// NewValidationError 由校验器返回的错误列表构造
func NewValidationError(errs []error) *ValidationError {
	problems := make([]string, 0, len(errs))
	for _, e := range errs {
		problems = append(problems, e.Error())
	}
	return &ValidationError{Problems: problems}
}

func (e *ValidationError) Error() string {
	return "训练分配校验失败: " + strings.Join(e.Problems, "; ")
}

// GenerationFailure 单日计划生成失败（生成器报错或超时），隔离处理并在下次调用时重试
type GenerationFailure struct {
	Date string
	Err  error
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("生成 %s 的计划失败: %v", e.Date, e.Err)
}

func (e *GenerationFailure) Unwrap() error { return e.Err }
