package logger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_ParsesLevel(t *testing.T) {
	l := New("debug")
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l = New("not-a-level")
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
}

func TestNewWithOptions_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	l := NewWithOptions(Options{Level: "info", Output: "file", FilePath: path, MaxSizeMB: 1})
	require.NotNil(t, l)
	l.Info("hello")
	require.NoError(t, l.Sync())
	assert.FileExists(t, path)
}

func TestContextLogger_AddsRunAndRequestIDs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithRequestID(ctx, "req-7")
	cl.LogInfo(ctx, "frame batch", zap.Int("aligned", 3))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "req-7", fields["request_id"])
	assert.EqualValues(t, 3, fields["aligned"])
}

func TestContextLogger_NoFieldsReturnsBaseLogger(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	base := zap.New(core)
	cl := NewContextLogger(base)
	assert.Same(t, base, cl.WithContext(context.Background()))
}

func TestContextLogger_RequestLevelFollowsStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cl := NewContextLogger(zap.New(core))
	ctx := WithOperator(context.Background(), "bench")

	cl.LogRequest(ctx, "POST", "/api/v1/camera/snap", 200, 4)
	cl.LogRequest(ctx, "PUT", "/api/v1/camera/binning", 409, 1)
	cl.LogRequest(ctx, "POST", "/api/v1/camera/sequence", 502, 9)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "bench", entries[0].ContextMap()["operator"])
	assert.EqualValues(t, 409, entries[1].ContextMap()["status"])
}
