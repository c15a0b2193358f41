package errors

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestValidationError_Message(t *testing.T) {
	err := NewValidationError([]error{errors.New("至少需要 2 个训练日"), errors.New("周六不在可用日内")})

	if len(err.Problems) != 2 {
		t.Fatalf("期望 2 条问题，实际 %d", len(err.Problems))
	}
	if !strings.Contains(err.Error(), "至少需要 2 个训练日") || !strings.Contains(err.Error(), "周六不在可用日内") {
		t.Errorf("错误信息应包含全部问题: %s", err.Error())
	}

	var target *ValidationError
	if !errors.As(error(err), &target) {
		t.Error("errors.As 应匹配 *ValidationError")
	}
}

func TestGenerationFailure_Unwrap(t *testing.T) {
	err := &GenerationFailure{Date: "2025-03-10", Err: context.DeadlineExceeded}

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("GenerationFailure 应可 Unwrap 到原始错误")
	}
	if !strings.Contains(err.Error(), "2025-03-10") {
		t.Errorf("错误信息应包含日期: %s", err.Error())
	}
}
