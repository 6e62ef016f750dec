package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/chatkeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Absent
// fields keep the value loaded before.
type JsonConfig struct {
	ServerEndpointAddr  *string         `json:"server_endpoint_addr"`
	RealtimeURL         *string         `json:"realtime_url"`
	PairingBaseURL      *string         `json:"pairing_base_url"`
	APIKey              *string         `json:"api_key"`
	DatabasePath        *string         `json:"database_path"`
	TokenFile           *string         `json:"token_file"`
	AccountID           *string         `json:"account_id"`
	OrganizationID      *string         `json:"organization_id"`
	SyncInterval        *timex.Duration `json:"sync_interval"`
	PairingPollInterval *timex.Duration `json:"pairing_poll_interval"`
	PairingTimeout      *timex.Duration `json:"pairing_timeout"`
	ReconnectMaxWait    *timex.Duration `json:"reconnect_max_wait"`
	LogFormat           *string         `json:"log_format"`
	LogLevel            *string         `json:"log_level"`
	MetricsAddr         *string         `json:"metrics_addr"`
}

// LoadJSON overlays c with the fields present in the file at path.
func (c *Config) LoadJSON(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&c.ServerEndpointAddr, jc.ServerEndpointAddr)
	setString(&c.RealtimeURL, jc.RealtimeURL)
	setString(&c.PairingBaseURL, jc.PairingBaseURL)
	setString(&c.APIKey, jc.APIKey)
	setString(&c.DatabasePath, jc.DatabasePath)
	setString(&c.TokenFile, jc.TokenFile)
	setString(&c.AccountID, jc.AccountID)
	setString(&c.OrganizationID, jc.OrganizationID)
	setString(&c.LogFormat, jc.LogFormat)
	setString(&c.LogLevel, jc.LogLevel)
	setString(&c.MetricsAddr, jc.MetricsAddr)

	if jc.SyncInterval != nil {
		c.SyncInterval = jc.SyncInterval.Duration
	}
	if jc.PairingPollInterval != nil {
		c.PairingPollInterval = jc.PairingPollInterval.Duration
	}
	if jc.PairingTimeout != nil {
		c.PairingTimeout = jc.PairingTimeout.Duration
	}
	if jc.ReconnectMaxWait != nil {
		c.ReconnectMaxWait = jc.ReconnectMaxWait.Duration
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
