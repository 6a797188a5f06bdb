// Package config provides configuration management for the conformance
// toolkit: the server under test's address and ports, scenario
// parameters and the optional metrics listener.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the toolkit configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Scenario ScenarioConfig `toml:"scenario"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// ServerConfig describes the server under test. All endpoints are
// plaintext; the toolkit never negotiates TLS.
type ServerConfig struct {
	Host           string `toml:"host"`
	IMAPPort       int    `toml:"imap_port"`
	SMTPPort       int    `toml:"smtp_port"`
	SubmissionPort int    `toml:"submission_port"`
}

// AuthConfig holds the account-provisioning expectations. The server
// under test creates unknown users on first login when the password
// meets its minimum length.
type AuthConfig struct {
	PasswordLength int `toml:"password_length"`
	MinPasswordLen int `toml:"min_password_len"`
}

// ScenarioConfig holds default scenario parameters, overridable per run
// from the command line.
type ScenarioConfig struct {
	Messages   int    `toml:"messages"`
	Recipients int    `toml:"recipients"`
	Timeout    string `toml:"timeout"`
	Verbose    bool   `toml:"verbose"`
}

// MetricsConfig controls the optional Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// Default returns the configuration used when no file is given: a
// server on localhost with maddy-style test ports.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			IMAPPort:       2143,
			SMTPPort:       2525,
			SubmissionPort: 2587,
		},
		Auth: AuthConfig{
			PasswordLength: 16,
			MinPasswordLen: 12,
		},
		Scenario: ScenarioConfig{
			Messages:   1,
			Recipients: 4,
			Timeout:    "10s",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9271",
		},
	}
}

// Timeout parses the scenario timeout string.
func (c *Config) Timeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Scenario.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid scenario timeout %q: %w", c.Scenario.Timeout, err)
	}
	return d, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server host must not be empty")
	}
	for _, p := range []struct {
		name string
		port int
	}{
		{"imap_port", c.Server.IMAPPort},
		{"smtp_port", c.Server.SMTPPort},
		{"submission_port", c.Server.SubmissionPort},
	} {
		if p.port <= 0 || p.port > 65535 {
			return fmt.Errorf("%s out of range: %d", p.name, p.port)
		}
	}
	if c.Auth.PasswordLength < c.Auth.MinPasswordLen {
		return fmt.Errorf("password_length %d below server minimum %d; first logins would be rejected",
			c.Auth.PasswordLength, c.Auth.MinPasswordLen)
	}
	if c.Scenario.Recipients < 1 {
		return errors.New("recipients must be at least 1")
	}
	if c.Scenario.Messages < 1 {
		return errors.New("messages must be at least 1")
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return errors.New("metrics enabled but no listen address configured")
	}
	return nil
}
