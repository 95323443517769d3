// Copyright 2026 The Intent Broker Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the broker's startup configuration.
//
// Configuration is loaded from a single file specified by the
// INTENTBROKER_CONFIG environment variable or a --config flag passed
// to the command. There are no fallbacks or automatic discovery: this
// keeps configuration deterministic and auditable, with no hidden
// overrides layered in from somewhere else.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the broker's startup configuration, loaded once and held
// immutable for the process lifetime.
type Config struct {
	// SocketPath is the Unix domain socket the daemon listens on.
	SocketPath string `yaml:"socket_path"`

	// DatabasePath is the SQLite file backing the relationship store.
	DatabasePath string `yaml:"database_path"`

	// ChainKeyPath is the file holding the 32-byte event-chain hashing
	// key, loaded into lib/secret-protected memory at startup.
	ChainKeyPath string `yaml:"chain_key_path"`

	// PolicyPath is the YAML policy file loaded into the Policy
	// Registry at startup and whenever the operator CLI issues a
	// reload.
	PolicyPath string `yaml:"policy_path"`

	// KeysPath is the YAML participant key file consumed by
	// identity.LoadKeysFile when no external identity subsystem is
	// configured.
	KeysPath string `yaml:"keys_path"`

	// DefaultMaxDepth is loaded and validated (it must be positive) but
	// is not applied to establish requests: a relationship's max depth
	// is always the value its establish request carries, 0 included.
	DefaultMaxDepth int `yaml:"default_max_depth"`

	// DefaultInactivityLimit is loaded and validated but is not applied
	// to establish requests: an activity-based relationship's timebox is
	// always the inactivity limit its establish request carries.
	DefaultInactivityLimit time.Duration `yaml:"default_inactivity_limit"`

	// AppointmentGraceWindow is the grace margin around an
	// appointment-based relationship's [start, end] window.
	AppointmentGraceWindow time.Duration `yaml:"appointment_grace_window"`

	// DeliveryQueueCapacity bounds how many admitted intents a single
	// responder may have pending delivery at once.
	DeliveryQueueCapacity int `yaml:"delivery_queue_capacity"`

	// DeliveryAckTimeout is how long an in-flight delivery waits for
	// acknowledgment before it is requeued (and, on a second timeout,
	// finalized as delivery_timeout).
	DeliveryAckTimeout time.Duration `yaml:"delivery_ack_timeout"`

	// HeartbeatInterval is the subscription keepalive period; a
	// session missing two consecutive intervals is closed.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// SweepInterval is how often the lifecycle engine scans for
	// expired activity-based relationships between admissions.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// RejectionWindow bounds how far back the admission pipeline looks
	// when counting recent rejections for the risk score.
	RejectionWindow time.Duration `yaml:"rejection_window"`
}

// Default returns the configuration used as a base before loading the
// config file. It exists to give every field a sensible zero value,
// not as a substitute for the config file.
func Default() *Config {
	return &Config{
		SocketPath:             "/run/intentbroker/broker.sock",
		DatabasePath:           "/var/lib/intentbroker/relationships.db",
		ChainKeyPath:           "/etc/intentbroker/chain.key",
		PolicyPath:             "/etc/intentbroker/policy.yaml",
		KeysPath:               "/etc/intentbroker/keys.yaml",
		DefaultMaxDepth:        50,
		DefaultInactivityLimit: 24 * time.Hour,
		AppointmentGraceWindow: 5 * time.Minute,
		DeliveryQueueCapacity:  64,
		DeliveryAckTimeout:     10 * time.Second,
		HeartbeatInterval:      30 * time.Second,
		SweepInterval:          time.Minute,
		RejectionWindow:        time.Hour,
	}
}

// Load loads configuration from the path named by the
// INTENTBROKER_CONFIG environment variable. There is no fallback: if
// the variable is unset, this fails.
func Load() (*Config, error) {
	path := os.Getenv("INTENTBROKER_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("config: INTENTBROKER_CONFIG is not set; " +
			"set it to the path of a broker config file, or pass --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merged onto
// Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for missing or nonsensical
// values.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("config: socket_path is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("config: database_path is required")
	}
	if c.ChainKeyPath == "" {
		return fmt.Errorf("config: chain_key_path is required")
	}
	if c.PolicyPath == "" {
		return fmt.Errorf("config: policy_path is required")
	}
	if c.KeysPath == "" {
		return fmt.Errorf("config: keys_path is required")
	}
	if c.DefaultMaxDepth <= 0 {
		return fmt.Errorf("config: default_max_depth must be positive")
	}
	if c.DeliveryQueueCapacity <= 0 {
		return fmt.Errorf("config: delivery_queue_capacity must be positive")
	}
	if c.DeliveryAckTimeout <= 0 {
		return fmt.Errorf("config: delivery_ack_timeout must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: heartbeat_interval must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("config: sweep_interval must be positive")
	}
	return nil
}
