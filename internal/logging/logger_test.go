package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Production_JSONHandler(t *testing.T) {
	logger := NewLogger("production")
	require.NotNil(t, logger)

	handler := logger.Handler()
	_, ok := handler.(*slog.JSONHandler)
	assert.True(t, ok, "production logger should use JSONHandler, got %T", handler)
}

func TestNewLogger_Development_TextHandler(t *testing.T) {
	logger := NewLogger("development")
	require.NotNil(t, logger)

	handler := logger.Handler()
	_, ok := handler.(*slog.TextHandler)
	assert.True(t, ok, "development logger should use TextHandler, got %T", handler)
}

func TestNewLogger_EmptyEnv_TextHandler(t *testing.T) {
	logger := NewLogger("")
	require.NotNil(t, logger)

	handler := logger.Handler()
	_, ok := handler.(*slog.TextHandler)
	assert.True(t, ok, "empty env logger should use TextHandler, got %T", handler)
}

func TestNewLogger_UnknownEnv_TextHandler(t *testing.T) {
	logger := NewLogger("staging")
	require.NotNil(t, logger)

	handler := logger.Handler()
	_, ok := handler.(*slog.TextHandler)
	assert.True(t, ok, "unknown env logger should use TextHandler, got %T", handler)
}

func TestNewLogger_Production_InfoLevel(t *testing.T) {
	logger := NewLogger("production")
	// Production should log at Info but not Debug.
	assert.True(t, logger.Handler().Enabled(nil, slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(nil, slog.LevelDebug))
}

func TestNewLogger_Development_DebugLevel(t *testing.T) {
	logger := NewLogger("development")
	// Development should log at Debug level.
	assert.True(t, logger.Handler().Enabled(nil, slog.LevelDebug))
	assert.True(t, logger.Handler().Enabled(nil, slog.LevelInfo))
}

func TestNew_WritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := New("production", &buf)
	logger.Info("hello", slog.String("resource", "medication"))

	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"resource":"medication"`)
}

func TestOpen_Stdout(t *testing.T) {
	logger, closer := Open("development", "")
	require.NotNil(t, logger)
	require.NotNil(t, closer)
	assert.NoError(t, closer.Close())
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "medsync.log")

	logger, closer := Open("production", path)
	logger.Info("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}
