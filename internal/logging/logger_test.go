package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		" error ": zapcore.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestInitialize_SilentByDefault(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")

	require.NoError(t, Initialize(""))
	assert.Nil(t, Slog())
}

func TestInitialize_FromEnv(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "debug")
	t.Cleanup(func() { logger = zap.NewNop() })

	require.NoError(t, Initialize(""))
	assert.True(t, GetLogger().Core().Enabled(zapcore.DebugLevel))
	assert.NotNil(t, Slog())
}

func TestInitialize_UnknownLevel(t *testing.T) {
	assert.Error(t, Initialize("chatty"))
}

func TestSlogWritesThroughZap(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := newSlog(zap.New(core))
	require.NotNil(t, l)

	l.Debug("dropped")
	l.With("session", "abc").Warn("connection lost", "addr", "10.0.0.5:12100")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "connection lost", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "abc", fields["session"])
	assert.Equal(t, "10.0.0.5:12100", fields["addr"])
}
