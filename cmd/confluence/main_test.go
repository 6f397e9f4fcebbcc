package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confluence/internal/config"
	"confluence/internal/logger"
)

func TestSetupLoggingCloseRestoresOutput(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "confluence.log")
	auditPath := filepath.Join(dir, "logs", "audit.log")

	closeLogs, err := setupLogging(config.AppConfig{
		LogLevel:     "info",
		LogPath:      logPath,
		AuditLogPath: auditPath,
		AuditEnabled: true,
	})
	require.NoError(t, err)

	logger.Infof("before close")
	info, err := os.Stat(logPath)
	require.NoError(t, err)
	written := info.Size()
	assert.Positive(t, written)

	closeLogs()
	closeLogs()

	logger.Infof("after close")
	info, err = os.Stat(logPath)
	require.NoError(t, err)
	assert.Equal(t, written, info.Size(), "closed log file must not receive writes")
}

func TestSetupLoggingWithoutFiles(t *testing.T) {
	closeLogs, err := setupLogging(config.AppConfig{LogLevel: "warn"})
	require.NoError(t, err)
	closeLogs()
	logger.SetLevel("info")
}
