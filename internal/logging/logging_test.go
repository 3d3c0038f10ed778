package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithDefaults(t *testing.T) {
	logger, err := New(DefaultConfig())
	require.NoError(t, err)
	logger.Info("hello")
	logger.Sync()
}

func TestNewWithFileOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.OutputPath = filepath.Join(dir, "logs", "fleetd.log")

	logger, err := New(cfg)
	require.NoError(t, err)
	logger.Info("write to file")
	logger.Sync()

	_, statErr := os.Stat(cfg.OutputPath)
	assert.NoError(t, statErr)
}

func TestNewConsoleEncoding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Encoding = "console"
	cfg.Development = true

	_, err := New(cfg)
	require.NoError(t, err)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "loud"
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Encoding = "xml"
	_, err = New(cfg)
	assert.Error(t, err)
}
