package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{"fetch timeout is retryable network", ErrCodeFetchTimeout, CategoryNetwork, SeverityWarning, true},
		{"corrupt input is non-retryable IO", ErrCodeCorruptInput, CategoryIO, SeverityError, false},
		{"capacity is fatal", ErrCodeCapacity, CategoryInternal, SeverityFatal, false},
		{"dimension mismatch is validation", ErrCodeDimensionMismatch, CategoryValidation, SeverityError, false},
		{"config invalid", ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom")
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestPipelineError_IsMatchesByCode(t *testing.T) {
	// Given: two errors with the same code, different messages
	a := New(ErrCodeFetchTimeout, "fetch A timed out")
	b := New(ErrCodeFetchTimeout, "fetch B timed out")

	// Then: errors.Is matches on code
	assert.True(t, stderrors.Is(a, b))

	// And: different codes don't match
	c := New(ErrCodeCorruptInput, "bad pdf")
	assert.False(t, stderrors.Is(a, c))
}

func TestPipelineError_UnwrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Wrap(cause, ErrCodeNetworkUnavailable, "remote unreachable")
	require.NotNil(t, err)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Message, "connection reset")
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(Capacity("disk full", nil)))
	assert.False(t, IsFatal(TransientIO("timeout", nil)))
	assert.False(t, IsFatal(stderrors.New("plain")))
	assert.False(t, IsFatal(nil))
}

func TestWithDetail(t *testing.T) {
	err := DimensionMismatch(384, 768).WithDetail("file_id", "abc")
	assert.Equal(t, "abc", err.Details["file_id"])
	assert.Contains(t, err.Error(), "ERR_402")
}
