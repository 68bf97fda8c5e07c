package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", ""} {
		l, err := New(level, "text", "stderr")
		require.NoError(t, err, level)
		assert.NotNil(t, l)
	}
	_, err := New("verbose", "text", "stderr")
	assert.Error(t, err)
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickq.log")
	l, err := New("info", "json", path)
	require.NoError(t, err)

	l.Info("batch executed")
	l.Debug("suppressed")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"batch executed"`)
	assert.Contains(t, string(data), `"timestamp"`)
	assert.NotContains(t, string(data), "suppressed")
}
