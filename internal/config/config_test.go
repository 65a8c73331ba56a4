package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "mock", cfg.Backend)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, "blegw", cfg.MQTT.TopicPrefix)
	assert.Equal(t, 256, cfg.MQTT.QueueSize)
	assert.Equal(t, "/dev/ttyACM0", cfg.Silabs.Port)
	assert.Equal(t, 115200, cfg.Silabs.Baud)
	assert.Equal(t, 4, cfg.Silabs.MaxConnections)
	assert.Equal(t, time.Second, cfg.Mock.AdvertisementInterval)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Boot)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Connect)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Operation)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
backend: silabs
log_level: debug
mqtt:
  broker: tcp://broker.example:1883
  username: gw
silabs:
  port: /dev/ttyUSB3
  max_connections: 8
timeouts:
  operation: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "silabs", cfg.Backend)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "tcp://broker.example:1883", cfg.MQTT.Broker)
	assert.Equal(t, "gw", cfg.MQTT.Username)
	assert.Equal(t, "/dev/ttyUSB3", cfg.Silabs.Port)
	assert.Equal(t, 8, cfg.Silabs.MaxConnections)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Operation)

	// Untouched settings keep their defaults.
	assert.Equal(t, "blegw", cfg.MQTT.TopicPrefix)
	assert.Equal(t, 115200, cfg.Silabs.Baud)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Connect)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, "backend: zigbee\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestLoadRejectsInvalidMaxConnections(t *testing.T) {
	path := writeConfig(t, "silabs:\n  max_connections: 0\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_connections")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "backend: [unclosed\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
