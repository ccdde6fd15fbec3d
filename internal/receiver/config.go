package receiver

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the receiver's YAML configuration.
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Node    NodeConfig    `yaml:"node"`
	Archive ArchiveConfig `yaml:"archive"`
	Drain   DrainConfig   `yaml:"drain"`
	Log     LogConfig     `yaml:"log"`
}

type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

type NodeConfig struct {
	ID string `yaml:"id"` // archive key for this node's records
}

type ArchiveConfig struct {
	Dir  string `yaml:"dir"`
	Sync bool   `yaml:"sync"`
}

type DrainConfig struct {
	Timeout time.Duration `yaml:"timeout"` // whole export, including both reset reports
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// Default returns a configuration for a node on the first USB serial port.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 115200,
		},
		Node:    NodeConfig{ID: "node"},
		Archive: ArchiveConfig{Dir: "nodelog-archive"},
		Drain:   DrainConfig{Timeout: 5 * time.Minute},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads filename. A missing file yields the defaults; missing fields
// are filled from the defaults.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ensureDefaults()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Node.ID == "" {
		c.Node.ID = def.Node.ID
	}
	if c.Archive.Dir == "" {
		c.Archive.Dir = def.Archive.Dir
	}
	if c.Drain.Timeout == 0 {
		c.Drain.Timeout = def.Drain.Timeout
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}
