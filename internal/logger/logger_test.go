package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestConfigSetDefaults(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()

	require.Equal(t, DefaultLevel, cfg.Level)
	require.Equal(t, DefaultFormat, cfg.Format)
	require.Equal(t, DefaultOutputPaths, cfg.OutputPaths)
}

func TestConfigSetDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{Level: "debug", Format: "console", OutputPaths: []string{"/var/log/jobforge.log"}}
	cfg.SetDefaults()

	require.Equal(t, "debug", cfg.Level)
	require.Equal(t, "console", cfg.Format)
	require.Equal(t, []string{"/var/log/jobforge.log"}, cfg.OutputPaths)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"warn":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   zapcore.FatalLevel,
		"info":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
		"DEBUG":   zapcore.DebugLevel,
	}
	for level, want := range cases {
		require.Equal(t, want, parseLevel(level), "level %q", level)
	}
}

func TestNewWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobforge.log")

	log, err := New(Config{Level: "info", OutputPaths: []string{path}})
	require.NoError(t, err)

	log.Info("hello", String("key", "value"))
	require.NoError(t, log.Sync())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "hello")
	require.Contains(t, string(contents), `"key":"value"`)
}

func TestNewWithInvalidOutputPathErrors(t *testing.T) {
	_, err := New(Config{OutputPaths: []string{"/nonexistent-dir-xyz/jobforge.log"}})
	require.Error(t, err)
}

func TestWithReturnsLoggerCarryingFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobforge.log")

	log, err := New(Config{OutputPaths: []string{path}})
	require.NoError(t, err)

	scoped := log.With(String("correlation_id", "abc-123"))
	scoped.Info("scoped message")
	require.NoError(t, log.Sync())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), `"correlation_id":"abc-123"`)
}

func TestNopLoggerDiscardsEverythingAndNeverPanics(t *testing.T) {
	nop := NewNop()
	require.NotPanics(t, func() {
		nop.Debug("x")
		nop.Info("x")
		nop.Warn("x")
		nop.Error("x")
		nop.Fatal("x")
		require.Equal(t, nop, nop.With(String("k", "v")))
		require.NoError(t, nop.Sync())
	})
}
