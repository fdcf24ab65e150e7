package applog

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestInitJSONWritesKeyValues(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})

	Info("[Worker] Request done", "request_id", "r-1", "code", "OK")
	Sync()

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"msg":"[Worker] Request done"`)
	assert.Contains(t, out, `"request_id":"r-1"`)
}

func TestInitRespectsLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})

	Info("hidden")
	Warn("shown")
	Sync()

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestComponentAddsField(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})

	Component("ingest").Info("[Ingest] Message handled", "offset", 7)
	Sync()

	out := buf.String()
	assert.Contains(t, out, `"component":"ingest"`)
	assert.Contains(t, out, `"offset":7`)
}
