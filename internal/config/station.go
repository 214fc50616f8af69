package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StationConfig holds the deployment-level settings for the station: which
// serial ports the boards are attached to, where to listen, where the
// database lives. Unlike TuningConfig these do not change at runtime.
type StationConfig struct {
	Listen string       `yaml:"listen"`
	DBPath string       `yaml:"db_path"`
	Pulse  SerialConfig `yaml:"pulse"`
	Sonar  SerialConfig `yaml:"sonar"`
	NATS   NATSConfig   `yaml:"nats"`
}

// SerialConfig describes the serial link to one sensor board.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// NATSConfig describes the optional NATS publishing target.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DefaultStation returns a station configuration with sensible values.
func DefaultStation() *StationConfig {
	return &StationConfig{
		Listen: ":8080",
		DBPath: "station.db",
		Pulse: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 115200,
		},
		Sonar: SerialConfig{
			Port:     "/dev/ttyACM1",
			BaudRate: 9600,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "pulse",
		},
	}
}

// LoadStation loads the station configuration from a YAML file. If the file
// doesn't exist or fields are missing, defaults are used.
func LoadStation(filename string) (*StationConfig, error) {
	cfg := DefaultStation()

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

// Save writes the station configuration to a YAML file.
func (c *StationConfig) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults fills in any zero-valued required fields from the defaults.
func (c *StationConfig) ensureDefaults() {
	def := DefaultStation()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.Pulse.Port == "" {
		c.Pulse.Port = def.Pulse.Port
	}
	if c.Pulse.BaudRate == 0 {
		c.Pulse.BaudRate = def.Pulse.BaudRate
	}
	if c.Sonar.Port == "" {
		c.Sonar.Port = def.Sonar.Port
	}
	if c.Sonar.BaudRate == 0 {
		c.Sonar.BaudRate = def.Sonar.BaudRate
	}
	if c.NATS.URL == "" {
		c.NATS.URL = def.NATS.URL
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = def.NATS.SubjectPrefix
	}
}
