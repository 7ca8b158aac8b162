// Package config loads the hub's TOML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Bridge  BridgeConfig  `toml:"bridge"`
	Console ConsoleConfig `toml:"console"`
	Log     LogConfig     `toml:"log"`
}

type BridgeConfig struct {
	// ListenAddress is the TCP address for the binary frame protocol.
	ListenAddress string `toml:"listen_address"`

	// MaxClients bounds simultaneous bridge peers; connections beyond it
	// are rejected at accept time.
	MaxClients int `toml:"max_clients"`

	// IdleTimeoutSeconds disconnects peers with no valid inbound frame for
	// this long. Zero disables the sweep.
	IdleTimeoutSeconds int `toml:"idle_timeout_seconds"`

	// Websocket optionally exposes the same frame protocol over WebSocket
	// binary messages.
	EnableWebsocket   bool   `toml:"enable_websocket"`
	WebsocketAddress  string `toml:"websocket_address"`
	WebsocketEndpoint string `toml:"websocket_endpoint"`
}

type ConsoleConfig struct {
	Enable        bool   `toml:"enable"`
	ListenAddress string `toml:"listen_address"`
}

type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `toml:"level"`
	// Format: console or json
	Format string `toml:"format"`
	// File: optional log file path, rotated; empty logs to stderr only
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ListenAddress:     ":5002",
			MaxClients:        4,
			WebsocketAddress:  ":5003",
			WebsocketEndpoint: "/bridge",
		},
		Console: ConsoleConfig{
			Enable:        true,
			ListenAddress: ":5001",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load reads path over the defaults. A missing file is fine - the defaults
// stand on their own; a present-but-broken file is not.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Bridge.ListenAddress == "" {
		return fmt.Errorf("bridge.listen_address must not be empty")
	}
	if c.Bridge.MaxClients <= 0 {
		return fmt.Errorf("bridge.max_clients must be positive, got %d", c.Bridge.MaxClients)
	}
	if c.Bridge.IdleTimeoutSeconds < 0 {
		return fmt.Errorf("bridge.idle_timeout_seconds must not be negative, got %d", c.Bridge.IdleTimeoutSeconds)
	}
	if c.Bridge.EnableWebsocket && c.Bridge.WebsocketAddress == "" {
		return fmt.Errorf("bridge.websocket_address must not be empty when the WebSocket listener is enabled")
	}
	if c.Console.Enable && c.Console.ListenAddress == "" {
		return fmt.Errorf("console.listen_address must not be empty when the console is enabled")
	}
	return nil
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Bridge.IdleTimeoutSeconds) * time.Second
}
