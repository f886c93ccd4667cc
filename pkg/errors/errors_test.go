package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/koopa0/system-design/duel-arena/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// TestAppError_Is 測試以錯誤碼比對
func TestAppError_Is(t *testing.T) {
	wrapped := fmt.Errorf("enqueue guest_1: %w", errors.ErrQueueFull)

	assert.True(t, stderrors.Is(wrapped, errors.ErrQueueFull))
	assert.True(t, errors.IsQueueFull(wrapped))
	assert.False(t, errors.IsNotFound(wrapped))
	assert.False(t, stderrors.Is(wrapped, errors.ErrMalformedPayload))
}

// TestAppError_Error 測試錯誤訊息格式
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *errors.AppError
		expected string
	}{
		{
			name:     "without cause",
			err:      errors.New(errors.ErrCodeNotFound, "session not found"),
			expected: "[NOT_FOUND] session not found",
		},
		{
			name:     "with cause",
			err:      errors.Wrap(stderrors.New("dial tcp: refused"), errors.ErrCodeUnavailable, "leaderboard store unavailable"),
			expected: "[SERVICE_UNAVAILABLE] leaderboard store unavailable: dial tcp: refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

// TestAppError_WithDetails 測試預定義錯誤不被修改
func TestAppError_WithDetails(t *testing.T) {
	detailed := errors.ErrInvalidPage.WithDetails("limit must be 1..100")

	assert.Equal(t, "limit must be 1..100", detailed.Details)
	assert.Empty(t, errors.ErrInvalidPage.Details)
	assert.True(t, errors.IsInvalidInput(detailed))
}

// TestAppError_Unwrap 測試錯誤鏈
func TestAppError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := errors.Wrap(cause, errors.ErrCodeUnavailable, "save score")

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, errors.IsUnavailable(err))
}
