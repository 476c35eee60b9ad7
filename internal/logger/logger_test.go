package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewToleratesBadConfig(t *testing.T) {
	// Мусорные уровень и формат не мешают старту
	log, err := New(Config{Level: "loudest", Encoding: "xml"})
	require.NoError(t, err)
	assert.NotNil(t, log)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel), "unknown level falls back to info")
}

func TestNewConsoleEncoding(t *testing.T) {
	log, err := New(Config{Level: "debug", Encoding: "console"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}
