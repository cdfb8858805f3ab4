package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")
	logger.Debug("hidden")
	logger.Info("message ingested", "tenant_id", "t1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "message ingested", entry["msg"])
	assert.Equal(t, "t1", entry["tenant_id"])
}

func TestTextFormatHasNoColorOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf, "info", "text").Info("poll pass finished", "failed", 0)
	assert.Contains(t, buf.String(), "poll pass finished")
	assert.Contains(t, buf.String(), "failed=0")
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestSetLevelAffectsExistingLoggers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")
	logger.Debug("before")
	assert.Empty(t, buf.String())

	SetLevel("debug")
	t.Cleanup(func() { SetLevel("info") })
	logger.Debug("after")
	assert.Contains(t, buf.String(), "after")
}
