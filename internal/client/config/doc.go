// Package config loads runtime configuration for the chatkeeper CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file, selected with --config/-c or CHATKEEPER_CONFIG.
//  3. Environment variables (CHATKEEPER_*).
//  4. Command-line flags that were explicitly set.
//
// # JSON schema
//
// Intervals use timex.Duration, so values can be either strings like "2s"
// or integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "realtime_url": "ws://127.0.0.1:8080/realtime",
//	  "pairing_base_url": "http://127.0.0.1:8080",
//	  "database_path": "~/.chatkeeper/cache.db",
//	  "sync_interval": "60s",
//	  "pairing_poll_interval": "2s",
//	  "pairing_timeout": "2m"
//	}
package config
