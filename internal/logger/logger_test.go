package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/modelport/internal/env"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(env.Production, WithConsole(&buf), WithLevel(slog.LevelInfo))

	log.Info("Export finished", "artifact", "yolov8n.onnx")
	log.Debug("Hidden")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "Export finished", record["msg"])
	assert.Equal(t, "yolov8n.onnx", record["artifact"])
}

func TestNew_DevelopmentUsesConsole(t *testing.T) {
	var buf bytes.Buffer
	log := New(env.Development, WithConsole(&buf))

	log.Info("Checkpoint resolved", "path", "yolov8n.pt")

	assert.Contains(t, buf.String(), "Checkpoint resolved")
	assert.Contains(t, buf.String(), "yolov8n.pt")
}

func TestNew_LogToFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "modelport.log")

	log := New(env.Development,
		WithConsole(&buf),
		WithLogToFile(true),
		WithLogFile(path),
	).With("component", "test")

	log.Warn("Opset ignored", "format", "torchscript")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Opset ignored"`)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, buf.String(), "Opset ignored")
}
