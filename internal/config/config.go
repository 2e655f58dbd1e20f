// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for paperfs. Values are layered:
// defaults -> config file -> environment -> CLI flags.
package config

import (
	"strings"
	"time"
)

// Config is the top-level configuration structure parsed from a TOML file.
// Durations and sizes are kept as strings so the file stays readable
// ("30s", "64MiB"); the accessor methods parse them after validation.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	OneDrive OneDriveConfig `toml:"onedrive"`
	Auth     AuthConfig     `toml:"auth"`
	Routing  RoutingConfig  `toml:"routing"`
	Logging  LoggingConfig  `toml:"logging"`
	Network  NetworkConfig  `toml:"network"`
}

// ServerConfig controls the HTTP listener and the WebDAV mount.
type ServerConfig struct {
	BindAddr           string `toml:"bind_addr"`
	ExposedURL         string `toml:"exposed_url"`
	DAVPrefix          string `toml:"dav_prefix"`
	MaxBodySize        string `toml:"max_body_size"`
	ShutdownTimeout    string `toml:"shutdown_timeout"`
	DebugTokenEndpoint bool   `toml:"debug_token_endpoint"`
}

// OneDriveConfig identifies the Azure AD application and the folder served.
// Root is relative to the drive root; "" serves the whole drive.
type OneDriveConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	Tenant       string `toml:"tenant"`
	Root         string `toml:"root"`
}

// AuthConfig controls credential persistence and refresh scheduling.
type AuthConfig struct {
	StateFile     string `toml:"state_file"`
	RefreshMargin string `toml:"refresh_margin"`
	PendingTTL    string `toml:"pending_ttl"`
	MaxPending    int    `toml:"max_pending"`
	RetryMinDelay string `toml:"retry_min_delay"`
	RetryMaxDelay string `toml:"retry_max_delay"`
}

// RoutingConfig selects which client scratch files stay in memory instead
// of reaching OneDrive. Matching is on the base name.
type RoutingConfig struct {
	EphemeralPrefixes []string `toml:"ephemeral_prefixes"`
	EphemeralSuffixes []string `toml:"ephemeral_suffixes"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client timeouts.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	RequestTimeout string `toml:"request_timeout"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	BindAddr   *string // serve --bind
	LogLevel   *string // derived from --verbose / --quiet
}

// RedirectPath is the OAuth2 callback path under ExposedURL.
const RedirectPath = "/api/v1/onedrive/callback"

// RedirectURL is the OAuth2 redirect URI registered for this deployment.
func (s *ServerConfig) RedirectURL() string {
	return strings.TrimSuffix(s.ExposedURL, "/") + RedirectPath
}

// MaxBodyBytes returns max_body_size in bytes.
func (s *ServerConfig) MaxBodyBytes() int64 {
	n, err := ParseSize(s.MaxBodySize)
	if err != nil || n <= 0 {
		n, _ = ParseSize(defaultMaxBodySize)
	}

	return n
}

// Shutdown returns shutdown_timeout.
func (s *ServerConfig) Shutdown() time.Duration {
	return durationOr(s.ShutdownTimeout, defaultShutdownTimeout)
}

// Margin returns refresh_margin.
func (a *AuthConfig) Margin() time.Duration {
	return durationOr(a.RefreshMargin, defaultRefreshMargin)
}

// TTL returns pending_ttl.
func (a *AuthConfig) TTL() time.Duration {
	return durationOr(a.PendingTTL, defaultPendingTTL)
}

// MinDelay returns retry_min_delay.
func (a *AuthConfig) MinDelay() time.Duration {
	return durationOr(a.RetryMinDelay, defaultRetryMinDelay)
}

// MaxDelay returns retry_max_delay.
func (a *AuthConfig) MaxDelay() time.Duration {
	return durationOr(a.RetryMaxDelay, defaultRetryMaxDelay)
}

// Connect returns connect_timeout.
func (n *NetworkConfig) Connect() time.Duration {
	return durationOr(n.ConnectTimeout, defaultConnectTimeout)
}

// Data returns data_timeout.
func (n *NetworkConfig) Data() time.Duration {
	return durationOr(n.DataTimeout, defaultDataTimeout)
}

// Request returns request_timeout.
func (n *NetworkConfig) Request() time.Duration {
	return durationOr(n.RequestTimeout, defaultRequestTimeout)
}

// durationOr parses s, falling back to def when s is empty or invalid.
// Validate has already rejected invalid values for loaded configs.
func durationOr(s, def string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}

	d, _ := time.ParseDuration(def)

	return d
}
