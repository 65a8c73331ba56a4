// Package config loads the gateway configuration from YAML, applying
// struct defaults to anything the file leaves out.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// MQTTConfig holds the broker settings for the publisher.
type MQTTConfig struct {
	Broker      string `yaml:"broker" default:"tcp://localhost:1883"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix" default:"blegw"`
	QueueSize   int    `yaml:"queue_size" default:"256"`
}

// SilabsConfig holds the NCP serial link settings.
type SilabsConfig struct {
	Port           string `yaml:"port" default:"/dev/ttyACM0"`
	Baud           int    `yaml:"baud" default:"115200"`
	MaxConnections int    `yaml:"max_connections" default:"4"`
}

// MockConfig tunes the mock backend's synthetic traffic.
type MockConfig struct {
	AdvertisementInterval time.Duration `yaml:"advertisement_interval" default:"1s"`
	NotificationInterval  time.Duration `yaml:"notification_interval" default:"1s"`
}

// TimeoutConfig bounds the blocking operations.
type TimeoutConfig struct {
	Boot      time.Duration `yaml:"boot" default:"10s"`
	Connect   time.Duration `yaml:"connect" default:"10s"`
	Operation time.Duration `yaml:"operation" default:"5s"`
}

// Config is the root gateway configuration.
type Config struct {
	Backend  string        `yaml:"backend" default:"mock"`
	LogLevel string        `yaml:"log_level" default:"info"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
	Silabs   SilabsConfig  `yaml:"silabs"`
	Mock     MockConfig    `yaml:"mock"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := new(Config)
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. A missing path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the gateway cannot run with.
func (c *Config) Validate() error {
	switch c.Backend {
	case "mock", "silabs", "hostble":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Silabs.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be at least 1")
	}
	return nil
}
