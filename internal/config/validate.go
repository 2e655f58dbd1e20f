package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minShutdownTimeout = 1 * time.Second
	minRefreshMargin   = 1 * time.Second
	minPendingTTL      = 1 * time.Minute
	minRetryDelay      = 10 * time.Millisecond
	minConnectTimeout  = 1 * time.Second
	minDataTimeout     = 5 * time.Second
	minRequestTimeout  = 1 * time.Second
	minMaxPending      = 1
	minBodyBytes       = 1
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateRouting(&cfg.Routing)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only hold once env and CLI
// overrides are applied: the app credentials may come from the environment.
func ValidateResolved(cfg *Config) error {
	var errs []error

	if cfg.OneDrive.ClientID == "" {
		errs = append(errs, fmt.Errorf("onedrive.client_id: required (set it in the config file or %s)", EnvOneDriveClientID))
	}

	if cfg.Auth.StateFile == "" {
		errs = append(errs, errors.New("auth.state_file: required"))
	}

	if _, _, err := net.SplitHostPort(cfg.Server.BindAddr); err != nil {
		errs = append(errs, fmt.Errorf("server.bind_addr: %w", err))
	}

	errs = append(errs, validateExposedURL(cfg.Server.ExposedURL)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if !strings.HasPrefix(s.DAVPrefix, "/") || s.DAVPrefix == "/" {
		errs = append(errs, fmt.Errorf("server.dav_prefix: must start with / and not be the root, got %q", s.DAVPrefix))
	}

	if strings.HasPrefix(s.DAVPrefix, "/api/") || s.DAVPrefix == "/metrics" || s.DAVPrefix == "/healthz" {
		errs = append(errs, fmt.Errorf("server.dav_prefix: %q collides with a built-in route", s.DAVPrefix))
	}

	if n, err := ParseSize(s.MaxBodySize); err != nil {
		errs = append(errs, fmt.Errorf("server.max_body_size: %w", err))
	} else if n < minBodyBytes {
		errs = append(errs, fmt.Errorf("server.max_body_size: must be > 0, got %q", s.MaxBodySize))
	}

	errs = append(errs, validateDurationMin("server.shutdown_timeout", s.ShutdownTimeout, minShutdownTimeout)...)

	return errs
}

func validateExposedURL(raw string) []error {
	u, err := url.Parse(raw)
	if err != nil {
		return []error{fmt.Errorf("server.exposed_url: %w", err)}
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("server.exposed_url: must be an absolute http(s) URL, got %q", raw)}
	}

	return nil
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("auth.refresh_margin", a.RefreshMargin, minRefreshMargin)...)
	errs = append(errs, validateDurationMin("auth.pending_ttl", a.PendingTTL, minPendingTTL)...)
	errs = append(errs, validateDurationMin("auth.retry_min_delay", a.RetryMinDelay, minRetryDelay)...)
	errs = append(errs, validateDurationMin("auth.retry_max_delay", a.RetryMaxDelay, minRetryDelay)...)

	if a.MaxPending < minMaxPending {
		errs = append(errs, fmt.Errorf("auth.max_pending: must be >= %d, got %d", minMaxPending, a.MaxPending))
	}

	minD, errMin := time.ParseDuration(a.RetryMinDelay)
	maxD, errMax := time.ParseDuration(a.RetryMaxDelay)

	if errMin == nil && errMax == nil && maxD < minD {
		errs = append(errs, fmt.Errorf("auth.retry_max_delay: must be >= retry_min_delay (%s), got %s", minD, maxD))
	}

	return errs
}

func validateRouting(r *RoutingConfig) []error {
	var errs []error

	for _, p := range append(append([]string(nil), r.EphemeralPrefixes...), r.EphemeralSuffixes...) {
		if p == "" {
			errs = append(errs, errors.New("routing: ephemeral patterns must not be empty"))
		}

		if strings.Contains(p, "/") {
			errs = append(errs, fmt.Errorf("routing: pattern %q must not contain /", p))
		}
	}

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("network.data_timeout", n.DataTimeout, minDataTimeout)...)
	errs = append(errs, validateDurationMin("network.request_timeout", n.RequestTimeout, minRequestTimeout)...)

	return errs
}
