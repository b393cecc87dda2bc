package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForUser(t *testing.T) {
	assert.Empty(t, FormatForUser(nil, false))

	// Plain errors pass through unchanged.
	assert.Equal(t, "boring", FormatForUser(errors.New("boring"), false))

	gerr := New(ErrCodeConfigInvalid, "bad yaml in config", nil).
		WithSuggestion("run 'ggrep config validate'")
	out := FormatForUser(gerr, false)
	assert.Contains(t, out, "Error: bad yaml in config")
	assert.Contains(t, out, "Suggestion: run 'ggrep config validate'")
	assert.Contains(t, out, "[ERR_102_CONFIG_INVALID]")
}

func TestFormatForCLI(t *testing.T) {
	assert.Empty(t, FormatForCLI(nil))

	gerr := New(ErrCodeQueryTimeout, "query exceeded deadline", nil).
		WithSuggestion("raise query_timeout_ms or narrow the query")
	out := FormatForCLI(gerr)
	assert.Contains(t, out, "Error: query exceeded deadline")
	assert.Contains(t, out, "Hint: raise query_timeout_ms")
	assert.Contains(t, out, "Code: ERR_602_QUERY_TIMEOUT")

	// A plain error gets wrapped as internal rather than dropped.
	out = FormatForCLI(errors.New("surprise"))
	assert.Contains(t, out, "surprise")
	assert.Contains(t, out, ErrCodeInternal)
}

func TestFormatJSON(t *testing.T) {
	cause := errors.New("socket closed")
	gerr := NetworkError("backend unreachable", cause).WithDetail("host", "localhost:11434")

	data, err := FormatJSON(gerr)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, ErrCodeNetworkTimeout, decoded["code"])
	assert.Equal(t, "backend unreachable", decoded["message"])
	assert.Equal(t, string(CategoryNetwork), decoded["category"])
	assert.Equal(t, true, decoded["retryable"])
	assert.Equal(t, "socket closed", decoded["cause"])

	details, ok := decoded["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "localhost:11434", details["host"])
}

func TestFormatForLog(t *testing.T) {
	assert.Nil(t, FormatForLog(nil))

	plain := FormatForLog(errors.New("plain"))
	assert.Equal(t, "plain", plain["error"])

	gerr := New(ErrCodeLeaseLost, "lease stolen mid-publish", errors.New("epoch moved")).
		WithDetail("epoch", "7")
	attrs := FormatForLog(gerr)

	assert.Equal(t, ErrCodeLeaseLost, attrs["error_code"])
	assert.Equal(t, "lease stolen mid-publish", attrs["message"])
	assert.Equal(t, string(SeverityFatal), attrs["severity"])
	assert.Equal(t, "epoch moved", attrs["cause"])
	// Details get the detail_ prefix so they cannot shadow fixed keys.
	assert.Equal(t, "7", attrs["detail_epoch"])
}
