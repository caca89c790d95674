package cmd

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigConstants(t *testing.T) {
	assert.Equal(t, "test262-harness", configBaseName)
	assert.Equal(t, "test262-harness.yaml", configFileName)
	assert.Equal(t, ".", configFolderPath)
	assert.Equal(t, "TEST262", envPrefix)
	assert.Equal(t, "run.threads", threadsKey)
	assert.Equal(t, "run.timeout", timeoutKey)
	assert.Equal(t, "host.type", hostTypeKey)
	assert.Equal(t, "report.reporter", reporterKey)
	assert.Equal(t, 1, defaultThreads)
	assert.Equal(t, 10000, defaultTimeoutMillis)
	assert.Equal(t, 2000, defaultStopGraceMillis)
	assert.True(t, defaultReplaceTimedOut)
	assert.Equal(t, "node", defaultHostType)
	assert.Equal(t, "simple", defaultReporter)
	assert.Equal(t, ".test262-results.db", defaultDB)
	assert.Equal(t, ".test262-harness.log", defaultLogFilename)
}

func TestConfigVersionConstants(t *testing.T) {
	assert.Equal(t, "version", configVersionKey)
	assert.Equal(t, 1, currentConfigVersion)
}

func TestParseSlogLevel(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  slog.Level
	}{
		{"empty uses default", "", slog.LevelWarn},
		{"debug", "debug", slog.LevelDebug},
		{"info", "INFO", slog.LevelInfo},
		{"warn", "warn", slog.LevelWarn},
		{"warning", "warning", slog.LevelWarn},
		{"error", " error ", slog.LevelError},
		{"numeric", "-4", slog.LevelDebug},
		{"unknown uses default", "loud", slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseSlogLevel(tt.value, slog.LevelWarn))
		})
	}
}

func TestConfigureLogger_Verbose(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	configureLogger(filepath.Join(t.TempDir(), "harness.log"), true)

	assert.NotNil(t, globalLogger)
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
}

func TestConfigureLogger_DefaultLevel(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	configureLogger(filepath.Join(t.TempDir(), "harness.log"), false)

	assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelInfo))
}
