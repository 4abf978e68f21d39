// Package config loads the server configuration from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
)

// Defaults applied for keys absent from the file.
const (
	DefaultName            = "webserv"
	DefaultPort            = 8080
	DefaultConnNum         = 10
	DefaultLogRotationSize = 8 * 1024 * 1024
)

// Config holds every recognized key of the configuration file.
type Config struct {
	Name            string `json:"name"`
	Port            int    `json:"port"`
	ThreadNum       int    `json:"thread-num"`
	ConnNum         int    `json:"conn-num"`
	ConnStr         string `json:"conn-str"`
	LogDir          string `json:"log-dir"`
	LogRotationSize int    `json:"log-rotation-size"`
	MaxConn         int    `json:"max-conn"`
	TemplateRoot    string `json:"template_root"`
	StaticRoot      string `json:"static_root"`
}

// Default returns the built-in configuration: port 8080, one worker
// thread per core, a pool of 10 (once a connection string is set), logs
// to stdout.
func Default() Config {
	return Config{
		Name:            DefaultName,
		Port:            DefaultPort,
		ThreadNum:       runtime.NumCPU(),
		ConnNum:         DefaultConnNum,
		LogRotationSize: DefaultLogRotationSize,
	}
}

// Load reads path and overlays it on the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.ThreadNum < 0 {
		return fmt.Errorf("thread-num must not be negative")
	}
	if c.ConnStr != "" && c.ConnNum < 1 {
		return fmt.Errorf("conn-num must be positive when conn-str is set")
	}
	return nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
