package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.Listen)
	assert.Equal(t, 65535, cfg.Capture.SnapLen)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Log.File.Enabled)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, 3*time.Second, cfg.Diagnostics.PingTimeout)
	assert.Equal(t, 30*time.Second, cfg.Diagnostics.TracerouteTimeout)
	assert.Equal(t, 15, cfg.Diagnostics.MaxHops)
	assert.Empty(t, cfg.GeoIP.Database)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":8080"
capture:
  interface: "eth0"
  snap_len: 9000
  bpf: "tcp port 443"
log:
  level: "debug"
  format: "json"
  file:
    enabled: true
    path: "/tmp/netscope.log"
diagnostics:
  ping_timeout: "1s"
  max_hops: 20
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "eth0", cfg.Capture.Interface)
	assert.Equal(t, 9000, cfg.Capture.SnapLen)
	assert.Equal(t, "tcp port 443", cfg.Capture.BPF)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Log.File.Enabled)
	assert.Equal(t, "/tmp/netscope.log", cfg.Log.File.Path)
	assert.Equal(t, time.Second, cfg.Diagnostics.PingTimeout)
	assert.Equal(t, 4*time.Second, cfg.Diagnostics.DNSTimeout)
	assert.Equal(t, 20, cfg.Diagnostics.MaxHops)
	assert.Equal(t, 100, cfg.Log.File.MaxSizeMB)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("NETSCOPE_LISTEN", ":9000")
	t.Setenv("NETSCOPE_LOG_LEVEL", "warn")
	t.Setenv("NETSCOPE_OPENAI_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
}

func TestLoadInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
log:
  level: "loud"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestLoadInvalidLogFormat(t *testing.T) {
	path := writeConfig(t, `
log:
  format: "xml"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log format")
}

func TestLoadInvalidSnapLen(t *testing.T) {
	path := writeConfig(t, `
capture:
  snap_len: 8
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snap_len")
}

func TestLoadInvalidMaxHops(t *testing.T) {
	path := writeConfig(t, `
diagnostics:
  max_hops: 0
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
}

func TestLoadFileLogNeedsPath(t *testing.T) {
	path := writeConfig(t, `
log:
  file:
    enabled: true
    path: ""
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.file.path")
}
