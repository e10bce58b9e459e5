package observability

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/dverhoef/scanwarden/internal/config"
)

// syncBuffer is a minimal WriteSyncer capturing console output.
type syncBuffer struct {
	strings.Builder
}

func (s *syncBuffer) Sync() error { return nil }

func TestInitializeWritesToConsole(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "scanwarden-test"}, buf)

	logger := GetLogger()
	require.NotNil(t, logger)
	logger.Info("hello from test")
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.Contains(t, out, "hello from test")
	assert.Contains(t, out, "scanwarden-test")
}

func TestInitializeHappensOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	first := &syncBuffer{}
	second := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, first)
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, second)

	GetLogger().Info("only once")
	require.NoError(t, GetLogger().Sync())

	assert.Contains(t, first.String(), "only once")
	assert.Empty(t, second.String())
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "not-a-level", Format: "json"}, buf)

	logger := GetLogger()
	logger.Debug("hidden")
	logger.Info("visible")
	require.NoError(t, logger.Sync())

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	assert.NotNil(t, GetLogger(), "uninitialized logger still yields a usable instance")
}

func TestConsoleEncoderColorizesLevels(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "warn", Format: "console"}, buf)

	GetLogger().Warn("tinted")
	require.NoError(t, GetLogger().Sync())
	assert.Contains(t, buf.String(), colorYellow)
}

func TestSyncWithoutLoggerIsANoop(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)
	Sync()
}

var _ zapcore.WriteSyncer = (*syncBuffer)(nil)
