package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codedErr struct{ code Code }

func (c codedErr) Error() string { return string(c.code) }
func (c codedErr) Code() Code    { return c.code }

func TestNewUsesRegisteredMessage(t *testing.T) {
	err := New(CodeLoad, "")
	assert.Equal(t, "[LOAD_ERROR] adapter load failed", err.Error())
	assert.Equal(t, SeverityWarning, err.Severity())
	assert.False(t, err.Retryable())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeStorageFailure, cause, "write history", WithMetadata("driver", "sqlite"))

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "[STORAGE_FAILURE] write history: connection refused", err.Error())
	assert.Equal(t, map[string]string{"driver": "sqlite"}, err.Metadata())
	assert.True(t, err.Retryable())
	assert.False(t, Wrap(CodeStorageFailure, cause, "", WithRetryable(false)).Retryable())
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeNotFound, "adapter missing"))
	assert.True(t, stdErrors.Is(err, New(CodeNotFound, "")))
	assert.False(t, stdErrors.Is(err, New(CodeConflict, "")))
}

func TestCodeOfSupportsForeignCodedErrors(t *testing.T) {
	assert.Equal(t, CodeUnknown, CodeOf(nil))
	assert.Equal(t, CodeUnknown, CodeOf(stdErrors.New("plain")))
	assert.Equal(t, CodeValidation, CodeOf(fmt.Errorf("wrapped: %w", codedErr{code: CodeValidation})))
	assert.True(t, IsCode(New(CodeTimeout, ""), CodeTimeout))
	assert.True(t, RetryableError(codedErr{code: CodeUnavailable}))
	assert.Equal(t, SeverityCritical, SeverityOf(stdErrors.New("plain")))
}

func TestRegisterAddsCode(t *testing.T) {
	const custom Code = "CUSTOM_TEST_CODE"
	Register(custom, Attributes{Message: "custom", Severity: SeverityInfo})
	assert.Equal(t, "custom", AttributesOf(custom).Message)
	assert.Contains(t, Codes(), custom)
	assert.Equal(t, "unknown error", AttributesOf("NEVER_REGISTERED").Message)
}
