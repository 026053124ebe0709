package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn+2, ParseLevel("warn+2"))
}

func TestNew_ErrorLevel(t *testing.T) {
	logger := New("error", "text")
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
}

func TestNewWithOptions_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOptions(Options{Level: "info", Format: "json", Output: &buf})

	logger.Info("bet logged", "session_id", "ses_1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "bet logged", rec["msg"])
	assert.Equal(t, "ses_1", rec["session_id"])
}

func TestNewWithOptions_FileSink(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "tiltcheck.log")
	logger := NewWithOptions(Options{Level: "info", Format: "text", File: path, Output: &buf})

	logger.Info("alert raised")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "alert raised")
	assert.Contains(t, buf.String(), "alert raised")
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", RequestID(ctx))
	assert.NotNil(t, FromContext(ctx))

	var buf bytes.Buffer
	custom := NewWithOptions(Options{Format: "json", Output: &buf})
	ctx = WithLogger(ctx, custom)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithUserID(ctx, "u-42")
	assert.Same(t, custom, FromContext(ctx))

	// Later tags do not drop earlier ones.
	child := WithUserID(ctx, "u-43")
	assert.Equal(t, "req-1", RequestID(child))

	L(ctx).Info("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "req-1", rec["request_id"])
	assert.Equal(t, "u-42", rec["user_id"])
}
