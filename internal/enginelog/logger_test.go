package enginelog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesToEngineLogFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.log")

	logger, closers, err := New(Options{EnginePath: path})
	require.NoError(t, err)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	logger.Info("hello", "key", "value")

	dat, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(dat), "hello")
	assert.Contains(t, string(dat), "value")
}

func TestNew_FanOutToBothFiles(t *testing.T) {
	dir := t.TempDir()
	enginePath := filepath.Join(dir, "engine.log")
	backendPath := filepath.Join(dir, "backend.log")

	logger, closers, err := New(Options{EnginePath: enginePath, BackendPath: backendPath})
	require.NoError(t, err)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	logger.Info("dispatching")

	eng, err := os.ReadFile(enginePath)
	require.NoError(t, err)
	back, err := os.ReadFile(backendPath)
	require.NoError(t, err)

	assert.Contains(t, string(eng), "dispatching")
	assert.Contains(t, string(back), "dispatching")
}
