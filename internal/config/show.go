package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as TOML-like text to w.
// This powers the "config show" command. The client secret is masked.
func RenderEffective(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration\n\n")

	ew.printf("[server]\n")
	ew.printf("  bind_addr            = %q\n", cfg.Server.BindAddr)
	ew.printf("  exposed_url          = %q\n", cfg.Server.ExposedURL)
	ew.printf("  dav_prefix           = %q\n", cfg.Server.DAVPrefix)
	ew.printf("  max_body_size        = %q\n", cfg.Server.MaxBodySize)
	ew.printf("  shutdown_timeout     = %q\n", cfg.Server.ShutdownTimeout)
	ew.printf("  debug_token_endpoint = %t\n", cfg.Server.DebugTokenEndpoint)
	ew.printf("  # redirect_url       = %q\n\n", cfg.Server.RedirectURL())

	ew.printf("[onedrive]\n")
	ew.printf("  client_id     = %q\n", cfg.OneDrive.ClientID)
	ew.printf("  client_secret = %q\n", maskSecret(cfg.OneDrive.ClientSecret))
	ew.printf("  tenant        = %q\n", cfg.OneDrive.Tenant)
	ew.printf("  root          = %q\n\n", cfg.OneDrive.Root)

	ew.printf("[auth]\n")
	ew.printf("  state_file      = %q\n", cfg.Auth.StateFile)
	ew.printf("  refresh_margin  = %q\n", cfg.Auth.RefreshMargin)
	ew.printf("  pending_ttl     = %q\n", cfg.Auth.PendingTTL)
	ew.printf("  max_pending     = %d\n", cfg.Auth.MaxPending)
	ew.printf("  retry_min_delay = %q\n", cfg.Auth.RetryMinDelay)
	ew.printf("  retry_max_delay = %q\n\n", cfg.Auth.RetryMaxDelay)

	ew.printf("[routing]\n")
	ew.printf("  ephemeral_prefixes = [%s]\n", joinQuoted(cfg.Routing.EphemeralPrefixes))
	ew.printf("  ephemeral_suffixes = [%s]\n\n", joinQuoted(cfg.Routing.EphemeralSuffixes))

	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", cfg.Logging.LogLevel)
	ew.printf("  log_format = %q\n\n", cfg.Logging.LogFormat)

	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", cfg.Network.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", cfg.Network.DataTimeout)
	ew.printf("  request_timeout = %q\n", cfg.Network.RequestTimeout)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}

	return strings.Join(quoted, ", ")
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}

	return "********"
}
