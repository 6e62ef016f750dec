package config

import (
	"os"

	"github.com/spf13/pflag"
)

// ConfigFileEnv names the JSON config file when --config is not given.
const ConfigFileEnv = "CHATKEEPER_CONFIG"

type binding struct {
	name  string
	apply func(dst, src *Config)
}

// Flags binds the config to a flag set. Only flags the user actually set
// override the other sources.
type Flags struct {
	fs         *pflag.FlagSet
	values     Config
	configPath string
	bindings   []binding
}

// BindFlags registers the config flags on fs. Call Load after fs was parsed.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	f.values.LoadDefaults()
	v := &f.values

	fs.StringVarP(&f.configPath, "config", "c", "", "path to JSON config file")

	f.str("server", "a", &v.ServerEndpointAddr, "address and port of the conversation service",
		func(d, s *Config) { d.ServerEndpointAddr = s.ServerEndpointAddr })
	f.str("realtime-url", "", &v.RealtimeURL, "websocket URL of the realtime service",
		func(d, s *Config) { d.RealtimeURL = s.RealtimeURL })
	f.str("pairing-url", "", &v.PairingBaseURL, "base URL of the pairing endpoints",
		func(d, s *Config) { d.PairingBaseURL = s.PairingBaseURL })
	f.str("api-key", "", &v.APIKey, "API key sent to the pairing endpoints",
		func(d, s *Config) { d.APIKey = s.APIKey })
	f.str("db", "", &v.DatabasePath, "path of the local cache database",
		func(d, s *Config) { d.DatabasePath = s.DatabasePath })
	f.str("token-file", "", &v.TokenFile, "file holding the auth token",
		func(d, s *Config) { d.TokenFile = s.TokenFile })
	f.str("account", "", &v.AccountID, "account id, overrides the token subject",
		func(d, s *Config) { d.AccountID = s.AccountID })
	f.str("organization", "", &v.OrganizationID, "organization id, overrides the token claim",
		func(d, s *Config) { d.OrganizationID = s.OrganizationID })
	f.str("log-format", "", &v.LogFormat, "log format: text, json or zerolog",
		func(d, s *Config) { d.LogFormat = s.LogFormat })
	f.str("log-level", "", &v.LogLevel, "log level: debug, info, warn or error",
		func(d, s *Config) { d.LogLevel = s.LogLevel })
	f.str("metrics-addr", "", &v.MetricsAddr, "serve Prometheus metrics on this address",
		func(d, s *Config) { d.MetricsAddr = s.MetricsAddr })

	fs.DurationVarP(&v.SyncInterval, "sync-interval", "i", v.SyncInterval, "delay between sync cycles")
	f.bind("sync-interval", func(d, s *Config) { d.SyncInterval = s.SyncInterval })
	fs.DurationVar(&v.PairingPollInterval, "pairing-poll-interval", v.PairingPollInterval, "pairing status poll interval")
	f.bind("pairing-poll-interval", func(d, s *Config) { d.PairingPollInterval = s.PairingPollInterval })
	fs.DurationVar(&v.PairingTimeout, "pairing-timeout", v.PairingTimeout, "give up pairing after this long")
	f.bind("pairing-timeout", func(d, s *Config) { d.PairingTimeout = s.PairingTimeout })
	fs.DurationVar(&v.ReconnectMaxWait, "reconnect-max-wait", v.ReconnectMaxWait, "give up rebuilding the realtime link after this long")
	f.bind("reconnect-max-wait", func(d, s *Config) { d.ReconnectMaxWait = s.ReconnectMaxWait })

	return f
}

func (f *Flags) str(name, short string, p *string, usage string, apply func(dst, src *Config)) {
	f.fs.StringVarP(p, name, short, *p, usage)
	f.bind(name, apply)
}

func (f *Flags) bind(name string, apply func(dst, src *Config)) {
	f.bindings = append(f.bindings, binding{name: name, apply: apply})
}

// Load builds the Config from defaults, the JSON file, the environment and
// the flags that were set, in that order.
func (f *Flags) Load() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	path := f.configPath
	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		if err := cfg.LoadJSON(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.LoadEnv(); err != nil {
		return nil, err
	}

	for _, b := range f.bindings {
		if f.fs.Changed(b.name) {
			b.apply(cfg, &f.values)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
