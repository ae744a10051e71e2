// internal/errors/errors_test.go
package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_TypePredicates(t *testing.T) {
	cases := []struct {
		err       error
		predicate func(error) bool
	}{
		{NewValidationError("标题不能为空", nil), IsValidationError},
		{NewNotFoundError("剧本不存在", nil), IsNotFoundError},
		{NewConflictError("批次正在生成中", nil), IsConflictError},
		{NewContentPolicyError("提示词被拒绝", nil), IsContentPolicyError},
		{NewQuotaError("当日生成次数已用尽", nil), IsQuotaError},
	}

	for _, tc := range cases {
		assert.True(t, tc.predicate(tc.err))
		assert.False(t, tc.predicate(errors.New("plain error")))
	}
}

func TestAppError_WrapsOriginal(t *testing.T) {
	inner := errors.New("disk full")
	appErr := NewProcessingError("保存失败", inner)

	assert.ErrorIs(t, appErr, inner)

	// 包装一层后类型判断依然成立
	wrapped := fmt.Errorf("上下文: %w", appErr)
	var target *AppError
	assert.True(t, errors.As(wrapped, &target))
	assert.Equal(t, ErrorTypeError, target.Type)
}

func TestParseError_Retryable(t *testing.T) {
	retryable := NewParseError("上游超时", true, nil)
	fatal := NewParseError("响应不是合法JSON", false, nil)

	assert.True(t, IsRetryableParseError(retryable))
	assert.False(t, IsRetryableParseError(fatal))
	assert.False(t, IsRetryableParseError(errors.New("other")))
}
