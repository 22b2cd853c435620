package logging

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netscope/internal/config"
)

func TestInitLevels(t *testing.T) {
	log, err := Init(config.LogConfig{Level: "debug", Format: "text"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log, err = Init(config.LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
}

func TestInitRejectsBadLevel(t *testing.T) {
	_, err := Init(config.LogConfig{Level: "loud", Format: "text"})
	require.Error(t, err)
}

func TestInitRejectsBadFormat(t *testing.T) {
	_, err := Init(config.LogConfig{Level: "info", Format: "xml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported log format")
}

func TestInitFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := Init(config.LogConfig{
		Level:  "info",
		Format: "text",
		File:   config.FileLogConfig{Enabled: true, Path: path, MaxSizeMB: 1},
	})
	require.NoError(t, err)
	require.NotNil(t, log)

	_, err = Init(config.LogConfig{
		Level:  "info",
		Format: "text",
		File:   config.FileLogConfig{Enabled: true},
	})
	require.Error(t, err)
}
