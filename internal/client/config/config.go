package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime settings for the chatkeeper CLI.
type Config struct {
	ServerEndpointAddr string `env:"CHATKEEPER_SERVER_ADDR"`
	RealtimeURL        string `env:"CHATKEEPER_REALTIME_URL"`
	PairingBaseURL     string `env:"CHATKEEPER_PAIRING_URL"`
	APIKey             string `env:"CHATKEEPER_API_KEY"`

	DatabasePath string `env:"CHATKEEPER_DATABASE"`
	TokenFile    string `env:"CHATKEEPER_TOKEN_FILE"`

	// AccountID and OrganizationID override the identity read from the
	// auth token.
	AccountID      string `env:"CHATKEEPER_ACCOUNT_ID"`
	OrganizationID string `env:"CHATKEEPER_ORGANIZATION_ID"`

	SyncInterval        time.Duration `env:"CHATKEEPER_SYNC_INTERVAL"`
	PairingPollInterval time.Duration `env:"CHATKEEPER_PAIRING_POLL_INTERVAL"`
	PairingTimeout      time.Duration `env:"CHATKEEPER_PAIRING_TIMEOUT"`
	ReconnectMaxWait    time.Duration `env:"CHATKEEPER_RECONNECT_MAX_WAIT"`

	LogFormat   string `env:"CHATKEEPER_LOG_FORMAT"`
	LogLevel    string `env:"CHATKEEPER_LOG_LEVEL"`
	MetricsAddr string `env:"CHATKEEPER_METRICS_ADDR"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.RealtimeURL = "ws://127.0.0.1:8080/realtime"
	c.PairingBaseURL = "http://127.0.0.1:8080"
	c.DatabasePath = defaultDataPath("cache.db")
	c.TokenFile = defaultDataPath("token")
	c.SyncInterval = 60 * time.Second
	c.PairingPollInterval = 2 * time.Second
	c.PairingTimeout = 2 * time.Minute
	c.ReconnectMaxWait = 5 * time.Minute
	c.LogFormat = "text"
	c.LogLevel = "info"
}

// LoadEnv overlays c with the CHATKEEPER_* variables that are set.
func (c *Config) LoadEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}

// Validate rejects settings the client cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.ServerEndpointAddr == "" {
		errs = append(errs, errors.New("server endpoint address is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if c.SyncInterval <= 0 {
		errs = append(errs, fmt.Errorf("sync interval must be positive, got %s", c.SyncInterval))
	}
	if c.PairingPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("pairing poll interval must be positive, got %s", c.PairingPollInterval))
	}
	if c.PairingTimeout < c.PairingPollInterval {
		errs = append(errs, fmt.Errorf("pairing timeout %s is shorter than the poll interval", c.PairingTimeout))
	}
	return errors.Join(errs...)
}

func defaultDataPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".chatkeeper", name)
	}
	return filepath.Join(home, ".chatkeeper", name)
}
