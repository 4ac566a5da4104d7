package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  NewError(ErrQueueFull, "batch queue is full"),
			want: "[QUEUE_FULL] batch queue is full",
		},
		{
			name: "with cause",
			err:  NewError(ErrAPIError, "write failed").WithCause(errors.New("boom")),
			want: "[API_ERROR] write failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError(ErrRetriesExhausted, "gave up").WithCause(cause)

	assert.ErrorIs(t, err, cause)
}

func TestDefaultRetryable(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want bool
	}{
		{ErrTransport, true},
		{ErrConnection, true},
		{ErrAPIError, true},
		{ErrRateLimited, true},
		{ErrValidation, false},
		{ErrConfiguration, false},
		{ErrCircuitOpen, false},
		{ErrQueueFull, false},
		{ErrRetriesExhausted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, NewError(tt.code, "x").Retryable)
		})
	}
}

func TestIsRetryable_Wrapped(t *testing.T) {
	inner := NewError(ErrConnection, "refused")
	wrapped := fmt.Errorf("write batch: %w", inner)

	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, ErrConnection, GetErrorCode(wrapped))
}

func TestIsRetryable_PlainError(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestCodeHelpers(t *testing.T) {
	assert.True(t, IsCircuitOpen(NewError(ErrCircuitOpen, "rejected")))
	assert.False(t, IsCircuitOpen(NewError(ErrQueueFull, "full")))
	assert.True(t, IsQueueFull(NewError(ErrQueueFull, "full")))
}

func TestBuilderMethods(t *testing.T) {
	err := NewError(ErrValidation, "empty embedding").
		WithOperation("addDocuments").
		WithItemCount(7).
		WithRetryable(false)

	assert.Equal(t, "addDocuments", err.Operation)
	assert.Equal(t, 7, err.ItemCount)
	assert.False(t, err.Retryable)
}
