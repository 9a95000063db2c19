package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"Error":   LevelError,
		"none":    LevelNone,
		" none ":  LevelNone,
		"verbose": LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "NONE", LevelNone.String())
}

func TestLevelFilteringAndPrefix(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "ryxsurf.log")

	l, err := New(LevelInfo, logPath, "vault")
	require.NoError(t, err)
	l.Info("credential backend: %s", "keyring")
	l.Debug("probe returned %d", 0)
	require.NoError(t, l.Close())

	content := readLog(t, logPath)
	assert.Contains(t, content, "[vault] credential backend: keyring")
	assert.Contains(t, content, "INFO")
	assert.NotContains(t, content, "probe returned")
}

func TestChildLoggerSharesOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "ryxsurf.log")

	parent, err := New(LevelDebug, logPath, "browser")
	require.NoError(t, err)

	child := parent.WithPrefix("eviction")
	child.Warn("unloaded %d tabs", 2)
	require.NoError(t, child.Close(), "closing a child is a no-op")

	parent.Info("still running")
	require.NoError(t, parent.Close())

	content := readLog(t, logPath)
	assert.Contains(t, content, "[browser:eviction] unloaded 2 tabs")
	assert.Contains(t, content, "[browser] still running")
}

func TestSetLevel(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "ryxsurf.log")

	l, err := New(LevelWarn, logPath, "")
	require.NoError(t, err)
	l.Info("before")
	l.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, l.GetLevel())
	l.Debug("after")
	l.SetLevel(LevelNone)
	l.Error("silenced")
	require.NoError(t, l.Close())

	content := readLog(t, logPath)
	assert.NotContains(t, content, "before")
	assert.Contains(t, content, "after")
	assert.NotContains(t, content, "silenced")
}

func TestDisabledLoggerWritesNothing(t *testing.T) {
	dir := t.TempDir()

	l, err := New(LevelNone, filepath.Join(dir, "ryxsurf.log"), "test")
	require.NoError(t, err)
	l.Error("dropped")
	require.NoError(t, l.Close())
	assert.NoFileExists(t, filepath.Join(dir, "ryxsurf.log"))

	l, err = New(LevelDebug, "", "test")
	require.NoError(t, err)
	assert.NotPanics(t, func() { l.Debug("dropped") })
}

func TestGlobalWithoutInit(t *testing.T) {
	require.NotNil(t, Global())
	assert.NotPanics(t, func() {
		Debug("debug")
		Info("info")
		Warn("warn")
		Error("error")
	})
}
