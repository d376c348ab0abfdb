// Package config loads the server configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Addr is the listen address of the HTTP server.
	Addr string `yaml:"addr"`
	// MaxLogLength bounds the operations kept per document for rebasing
	// late transactions. 0 keeps every operation.
	MaxLogLength int `yaml:"max_log_length"`
	// SeedFile is a JSON file of documents registered at startup. Empty
	// registers the built-in examples.
	SeedFile string `yaml:"seed_file"`
	// AllowedOrigins lists the origins accepted on websocket upgrade. Empty
	// accepts any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// SendBuffer is the per-connection outgoing queue length. A connection
	// whose queue is full is closed.
	SendBuffer   int           `yaml:"send_buffer"`
	ReadLimit    int64         `yaml:"read_limit"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func Default() Config {
	return Config{
		Addr:         ":8080",
		MaxLogLength: 1000,
		SendBuffer:   256,
		ReadLimit:    1 << 20,
		WriteTimeout: 10 * time.Second,
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("addr is required")
	case c.MaxLogLength < 0:
		return errors.New("max_log_length must not be negative")
	case c.SendBuffer <= 0:
		return errors.New("send_buffer must be positive")
	case c.ReadLimit <= 0:
		return errors.New("read_limit must be positive")
	case c.WriteTimeout <= 0:
		return errors.New("write_timeout must be positive")
	}
	return nil
}
