package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestGetLoggerLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, getLoggerLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, getLoggerLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, getLoggerLevel("nonsense"))
}

func TestInitLoggerWritesFile(t *testing.T) {
	prev := log
	t.Cleanup(func() { log = prev })

	dir := t.TempDir()
	require.NoError(t, InitLogger("7", "info", dir))
	Infof("dropped %s", "db.t")
	Sync()

	data, err := os.ReadFile(filepath.Join(dir, "ddl_7.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "dropped db.t")
}
