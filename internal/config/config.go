package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	NATS    NATSConfig    `yaml:"nats"`
	Store   StoreConfig   `yaml:"store"`
	Web     WebConfig     `yaml:"web"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// SessionConfig holds the timing and decision constants of the help
// request protocol.
type SessionConfig struct {
	Delay       time.Duration `yaml:"delay"`
	Timeout     time.Duration `yaml:"timeout"`
	Probability float64       `yaml:"probability"`
	Message     string        `yaml:"message"`
}

type NATSConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 9999,
		},
		Session: SessionConfig{
			Delay:       10 * time.Second,
			Timeout:     10 * time.Second,
			Probability: 0.3,
			Message:     "Help Needed!",
		},
		NATS: NATSConfig{
			Enabled: true,
			Port:    4222,
		},
		Store: StoreConfig{
			Path: ":memory:",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("QUORUM_CONFIG")
	if path == "" {
		path = "config/quorum.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("QUORUM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("QUORUM_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse QUORUM_DELAY: %w", err)
		}
		cfg.Session.Delay = d
	}
	if v := os.Getenv("QUORUM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse QUORUM_TIMEOUT: %w", err)
		}
		cfg.Session.Timeout = d
	}
	if v := os.Getenv("QUORUM_PROBABILITY"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse QUORUM_PROBABILITY: %w", err)
		}
		cfg.Session.Probability = p
	}
	if v := os.Getenv("QUORUM_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("QUORUM_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("QUORUM_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	return nil
}

func (c *Config) validate() error {
	if c.Session.Probability < 0 || c.Session.Probability > 1 {
		return fmt.Errorf("session.probability must be within [0,1], got %v", c.Session.Probability)
	}
	if c.Session.Delay < 0 {
		return fmt.Errorf("session.delay must not be negative")
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be positive")
	}
	return nil
}
