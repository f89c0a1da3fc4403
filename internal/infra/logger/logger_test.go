package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkdesk/internal/infra/config"
)

func TestNewRefusesStdout(t *testing.T) {
	_, _, err := New(config.LoggerConfig{Output: "stdout"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved for the host protocol")
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	log, closer, err := New(config.LoggerConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	log.Debug("hello", "k", "v")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestLevelFrom(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, levelFrom("debug"))
	assert.Equal(t, slog.LevelWarn, levelFrom("WARNING"))
	assert.Equal(t, slog.LevelError, levelFrom("error"))
	assert.Equal(t, slog.LevelInfo, levelFrom(""))
	assert.Equal(t, slog.LevelInfo, levelFrom("verbose"))
}
