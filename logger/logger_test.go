package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContextAddsFields(t *testing.T) {
	Configure("debug", "json")
	var buf bytes.Buffer
	Default().SetOutput(&buf)

	ctx := WithUser(WithRequestID(context.Background(), "req-1"), "ana@example.com")
	WithContext(ctx).Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "ana@example.com", line["user"])
	assert.Equal(t, "hello", line["msg"])
}

func TestConfigureFallsBackToInfo(t *testing.T) {
	Configure("nonsense", "text")
	assert.Equal(t, "info", Default().GetLevel().String())
}
