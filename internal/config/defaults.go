package config

import "path/filepath"

// Default values for configuration options. These are layer 0 of the
// override chain and give a working local setup once a client id is set.
const (
	defaultBindAddr        = "0.0.0.0:3000"
	defaultExposedURL      = "http://localhost:3000"
	defaultDAVPrefix       = "/zotero"
	defaultMaxBodySize     = "64MiB"
	defaultShutdownTimeout = "10s"
	defaultTenant          = "common"
	defaultRefreshMargin   = "60s"
	defaultPendingTTL      = "10m"
	defaultMaxPending      = 64
	defaultRetryMinDelay   = "1s"
	defaultRetryMaxDelay   = "5m"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultConnectTimeout  = "10s"
	defaultDataTimeout     = "60s"
	defaultRequestTimeout  = "30s"
	stateFileName          = "token.json"
)

// Scratch files macOS and Windows clients create next to real files.
var (
	defaultEphemeralPrefixes = []string{"._"}
	defaultEphemeralSuffixes = []string{"DS_Store"}
)

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding, so unset fields keep their
// defaults, and the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddr:        defaultBindAddr,
			ExposedURL:      defaultExposedURL,
			DAVPrefix:       defaultDAVPrefix,
			MaxBodySize:     defaultMaxBodySize,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		OneDrive: OneDriveConfig{
			Tenant: defaultTenant,
		},
		Auth: AuthConfig{
			StateFile:     DefaultStatePath(),
			RefreshMargin: defaultRefreshMargin,
			PendingTTL:    defaultPendingTTL,
			MaxPending:    defaultMaxPending,
			RetryMinDelay: defaultRetryMinDelay,
			RetryMaxDelay: defaultRetryMaxDelay,
		},
		Routing: RoutingConfig{
			EphemeralPrefixes: append([]string(nil), defaultEphemeralPrefixes...),
			EphemeralSuffixes: append([]string(nil), defaultEphemeralSuffixes...),
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
			RequestTimeout: defaultRequestTimeout,
		},
	}
}

// DefaultStatePath returns the default credential file location.
func DefaultStatePath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return stateFileName
	}

	return filepath.Join(dir, stateFileName)
}
