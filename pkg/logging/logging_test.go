package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/orneryd/bifrost/pkg/config"
)

func TestInit_JSONWithLevel(t *testing.T) {
	log, err := Init(config.LoggingConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)

	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
	assert.Same(t, log, L())
}

func TestInit_ConsoleFormat(t *testing.T) {
	log, err := Init(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestInit_UnknownLevelFallsBackToInfo(t *testing.T) {
	log, err := Init(config.LoggingConfig{Level: "shouting", Format: "json"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestSugaredAccessor(t *testing.T) {
	_, err := Init(config.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, S())
}
