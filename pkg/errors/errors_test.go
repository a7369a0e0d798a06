package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			err:      New(CodeMalformedRecord, "invalid basic event type 0x0c"),
			expected: "[MALFORMED_RECORD] invalid basic event type 0x0c",
		},
		{
			name:     "with underlying error",
			err:      Wrap(CodeDatabaseError, "insert failed", errors.New("disk full")),
			expected: "[DATABASE_ERROR] insert failed: disk full",
		},
		{
			name:     "formatted message",
			err:      Newf(CodeTruncatedStream, "need %d bytes, have %d", 48, 12),
			expected: "[TRUNCATED_STREAM] need 48 bytes, have 12",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeStorageError, "download failed", underlying)

	assert.Equal(t, underlying, err.Unwrap())
	assert.True(t, errors.Is(err, underlying))
}

func TestAppError_Is(t *testing.T) {
	err1 := New(CodeMalformedRecord, "error 1")
	err2 := New(CodeMalformedRecord, "error 2")
	err3 := New(CodeTruncatedStream, "error 3")

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name     string
		check    func(error) bool
		err      error
		expected bool
	}{
		{"malformed", IsMalformedRecord, Newf(CodeMalformedRecord, "bad"), true},
		{"malformed wrapped by fmt", IsMalformedRecord, fmt.Errorf("buffer 3: %w", ErrMalformedRecord), true},
		{"malformed other", IsMalformedRecord, ErrTruncatedStream, false},
		{"truncated", IsTruncatedStream, ErrTruncatedStream, true},
		{"reuse", IsReuseViolation, ErrReuseViolation, true},
		{"not frozen", IsNotFrozen, Wrap(CodeNotFrozen, "heapshot 2", nil), true},
		{"database", IsDatabaseError, Wrap(CodeDatabaseError, "db", errors.New("locked")), true},
		{"not found", IsNotFound, ErrNotFound, true},
		{"nil", IsMalformedRecord, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.check(tt.err))
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "app error",
			err:      New(CodeDatabaseError, "db error"),
			expected: CodeDatabaseError,
		},
		{
			name:     "wrapped app error",
			err:      fmt.Errorf("processing: %w", Wrap(CodeMalformedRecord, "decode", errors.New("inner"))),
			expected: CodeMalformedRecord,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: CodeUnknown,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: CodeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorCode(tt.err))
		})
	}
}

func TestGetErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "app error",
			err:      New(CodeNotFrozen, "heapshot 4 is still ingesting"),
			expected: "heapshot 4 is still ingesting",
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: "standard error",
		},
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorMessage(tt.err))
		})
	}
}
