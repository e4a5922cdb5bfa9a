package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("warn", FormatJSON, &buf)
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("stage failed", zap.String("stage", "group"), zap.Int("exit_code", 2))
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stage failed", entry["msg"])
	assert.Equal(t, "group", entry["stage"])
	assert.Equal(t, float64(2), entry["exit_code"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("debug", FormatConsole, &buf)
	require.NoError(t, err)

	log.Debug("loaded", zap.Int("records", 3))

	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "loaded")
}

func TestNew_RejectsUnknownSettings(t *testing.T) {
	_, err := New("verbose", FormatJSON, &bytes.Buffer{})
	assert.Error(t, err)
	_, err = New("info", "xml", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestParseLevel_DefaultsToInfo(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl)
	lvl, err = ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)
}
