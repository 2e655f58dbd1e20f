package server

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tonimelisma/paperfs/internal/auth"
	"github.com/tonimelisma/paperfs/internal/config"
	"github.com/tonimelisma/paperfs/internal/graph"
	"github.com/tonimelisma/paperfs/internal/metrics"
)

const idleConnTimeout = 90 * time.Second

func transport(n *config.NetworkConfig) *http.Transport {
	dialer := &net.Dialer{Timeout: n.Connect(), KeepAlive: 30 * time.Second}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   n.Connect(),
		ResponseHeaderTimeout: n.Data(),
		IdleConnTimeout:       idleConnTimeout,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   8,
	}
}

// NewGraphHTTPClient returns the client for Graph calls. It has no overall
// timeout because downloads stream; connection setup and response headers
// are bounded instead.
func NewGraphHTTPClient(n *config.NetworkConfig) *http.Client {
	return &http.Client{Transport: transport(n)}
}

// NewProviderHTTPClient returns the client for token endpoint calls.
func NewProviderHTTPClient(n *config.NetworkConfig) *http.Client {
	return &http.Client{Transport: transport(n), Timeout: n.Request()}
}

// NewSession builds the token session described by cfg, persisting to
// auth.state_file.
func NewSession(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *auth.Session {
	oauthCfg := graph.OAuthConfig(
		cfg.OneDrive.ClientID,
		cfg.OneDrive.ClientSecret,
		cfg.OneDrive.Tenant,
		cfg.Server.RedirectURL(),
	)

	return auth.NewSession(auth.Config{
		OAuth:          oauthCfg,
		RefreshMargin:  cfg.Auth.Margin(),
		RequestTimeout: cfg.Network.Request(),
		PendingTTL:     cfg.Auth.TTL(),
		MaxPending:     cfg.Auth.MaxPending,
		RetryMinDelay:  cfg.Auth.MinDelay(),
		RetryMaxDelay:  cfg.Auth.MaxDelay(),
	}, auth.FileStore{Path: cfg.Auth.StateFile}, NewProviderHTTPClient(&cfg.Network), logger, auth.WithMetrics(m))
}
