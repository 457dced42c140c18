package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "echoserver.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_AllFields(t *testing.T) {
	path := writeConfig(t, `
addr = "0.0.0.0:9000"
max_message_size = 4096
idle_timeout = "30s"
shutdown_timeout = "10s"
log_level = "debug"
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.addr)
	assert.Equal(t, 4096, cfg.maxMessageSize)
	assert.Equal(t, 30*time.Second, cfg.idleTimeout)
	assert.Equal(t, 10*time.Second, cfg.shutdownTimeout)
	assert.Equal(t, zerolog.DebugLevel, cfg.logLevel)
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `addr = "127.0.0.1:8001"`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	def := defaultConfig()
	assert.Equal(t, "127.0.0.1:8001", cfg.addr)
	assert.Equal(t, def.maxMessageSize, cfg.maxMessageSize)
	assert.Equal(t, def.idleTimeout, cfg.idleTimeout)
	assert.Equal(t, def.shutdownTimeout, cfg.shutdownTimeout)
	assert.Equal(t, def.logLevel, cfg.logLevel)
}

func TestLoadConfig_EmptyAddrKeepsDefault(t *testing.T) {
	path := writeConfig(t, `addr = "  "`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, defaultConfig().addr, cfg.addr)
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `idle_timeout = "not a duration"`)

	_, err := loadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_InvalidMaxMessageSize(t *testing.T) {
	path := writeConfig(t, `max_message_size = -1`)

	_, err := loadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `log_level = "shouting"`)

	_, err := loadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
