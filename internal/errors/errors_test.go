package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGgrepError_WrappingAndIdentity(t *testing.T) {
	cause := errors.New("disk says no")
	gerr := New(ErrCodeFileNotFound, "file not found: test.txt", cause)
	require.NotNil(t, gerr)

	assert.Equal(t, cause, errors.Unwrap(gerr))
	assert.True(t, errors.Is(gerr, cause))
	assert.Equal(t, "[ERR_201_FILE_NOT_FOUND] file not found: test.txt", gerr.Error())

	// Is matches by code, not message.
	assert.True(t, errors.Is(gerr, New(ErrCodeFileNotFound, "other message", nil)))
	assert.False(t, errors.Is(gerr, New(ErrCodeDiskFull, "file not found: test.txt", nil)))
}

func TestGgrepError_DetailsAndSuggestion(t *testing.T) {
	gerr := New(ErrCodeInvalidQuery, "empty query", nil).
		WithDetail("field", "query").
		WithDetail("length", "0").
		WithSuggestion("provide a non-empty query string")

	assert.Equal(t, "query", gerr.Details["field"])
	assert.Equal(t, "0", gerr.Details["length"])
	assert.Equal(t, "provide a non-empty query string", gerr.Suggestion)
}

func TestNew_DerivesClassificationFromCode(t *testing.T) {
	cases := []struct {
		code      string
		category  Category
		retryable bool
	}{
		{ErrCodeConfigNotFound, CategoryConfig, false},
		{ErrCodeFileNotFound, CategoryIO, false},
		{ErrCodeNetworkTimeout, CategoryNetwork, true},
		{ErrCodeNetworkUnavailable, CategoryNetwork, true},
		{ErrCodeInvalidInput, CategoryValidation, false},
		{ErrCodeInternal, CategoryInternal, false},
		{ErrCodeBusy, CategoryConcurrency, true},
		{ErrCodeLeaseLost, CategoryConcurrency, false},
	}
	for _, tc := range cases {
		gerr := New(tc.code, "m", nil)
		assert.Equal(t, tc.category, gerr.Category, "code %s", tc.code)
		assert.Equal(t, tc.retryable, gerr.Retryable, "code %s", tc.code)
	}

	// Severity: corruption and lease loss are fatal, retryable codes
	// only warn.
	assert.Equal(t, SeverityFatal, New(ErrCodeCorruptIndex, "m", nil).Severity)
	assert.Equal(t, SeverityFatal, New(ErrCodeLeaseLost, "m", nil).Severity)
	assert.Equal(t, SeverityWarning, New(ErrCodeBusy, "m", nil).Severity)
	assert.Equal(t, SeverityError, New(ErrCodeInternal, "m", nil).Severity)
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))

	cause := errors.New("underlying")
	gerr := Wrap(ErrCodeEmbeddingFailed, cause)
	require.NotNil(t, gerr)
	assert.Equal(t, "underlying", gerr.Message)
	assert.Equal(t, cause, gerr.Cause)
}

func TestConstructors(t *testing.T) {
	assert.Equal(t, CategoryConfig, ConfigError("m", nil).Category)
	assert.Equal(t, CategoryIO, IOError("m", nil).Category)
	assert.Equal(t, CategoryValidation, ValidationError("m", nil).Category)
	assert.Equal(t, CategoryInternal, InternalError("m", nil).Category)

	assert.True(t, NetworkError("m", nil).Retryable)

	assert.Equal(t, "busy", BusyError("m", nil).ClientCode())
	assert.Equal(t, "timeout", TimeoutError("m", nil).ClientCode())
	assert.Equal(t, "cancelled", CancelledError("m", nil).ClientCode())
	assert.Equal(t, "incompatible", StaleConfigError("m", nil).ClientCode())
	assert.Equal(t, "internal", LeaseLostError("m", nil).ClientCode())
}

func TestPredicates(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.True(t, IsRetryable(NetworkError("m", nil)))
	assert.False(t, IsRetryable(InternalError("m", nil)))

	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(errors.New("plain")))
	assert.True(t, IsFatal(New(ErrCodeDiskFull, "m", nil)))
	assert.False(t, IsFatal(New(ErrCodeBusy, "m", nil)))

	assert.Equal(t, ErrCodeBusy, GetCode(BusyError("m", nil)))
	assert.Empty(t, GetCode(errors.New("plain")))
	assert.Equal(t, CategoryIO, GetCategory(IOError("m", nil)))
	assert.Empty(t, GetCategory(errors.New("plain")))
}

func TestClientCodeMapping(t *testing.T) {
	cases := map[string]string{
		ErrCodeBusy:         "busy",
		ErrCodeQueryTimeout: "timeout",
		ErrCodeCancelled:    "cancelled",
		ErrCodeStaleConfig:  "incompatible",
		ErrCodeIncompatible: "incompatible",
		ErrCodeInvalidQuery: "invalid_request",
		ErrCodeInvalidPath:  "invalid_request",
		ErrCodeInternal:     "internal",
		"ERR_999_UNKNOWN":   "internal",
	}
	for code, want := range cases {
		assert.Equal(t, want, ClientCode(code), "code %s", code)
	}
}

func TestExitCodeForClientCode(t *testing.T) {
	assert.Equal(t, 10, ExitCodeForClientCode("busy"))
	assert.Equal(t, 11, ExitCodeForClientCode("timeout"))
	assert.Equal(t, 12, ExitCodeForClientCode("cancelled"))
	assert.Equal(t, 13, ExitCodeForClientCode("incompatible"))
	assert.Equal(t, 1, ExitCodeForClientCode("invalid_request"))
	assert.Equal(t, 1, ExitCodeForClientCode("internal"))
	assert.Equal(t, 1, ExitCodeForClientCode(""))
}
