// Package server assembles paperfs: the token session, the hot-swapped
// WebDAV pipeline, the login endpoints, and the operational routes, all on
// one HTTP listener.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/webdav"

	"github.com/tonimelisma/paperfs/internal/auth"
	"github.com/tonimelisma/paperfs/internal/config"
	"github.com/tonimelisma/paperfs/internal/dav"
	"github.com/tonimelisma/paperfs/internal/graph"
	"github.com/tonimelisma/paperfs/internal/hotswap"
	"github.com/tonimelisma/paperfs/internal/metrics"
	"github.com/tonimelisma/paperfs/internal/storage"
	"github.com/tonimelisma/paperfs/internal/tokenfile"
)

const readHeaderTimeout = 10 * time.Second

// Server owns the long-lived state shared by every pipeline generation.
type Server struct {
	cfg     *config.Config
	session *auth.Session
	logger  *slog.Logger
	metrics *metrics.Metrics

	swap      *hotswap.Handle
	ephemeral *storage.Memory
	locks     webdav.LockSystem
	route     storage.Route

	graphBaseURL string
	graphHTTP    *http.Client

	handler http.Handler
}

// Option adjusts a Server.
type Option func(*Server)

// WithGraphBaseURL points the storage pipeline and /me at another Graph
// root.
func WithGraphBaseURL(u string) Option {
	return func(s *Server) { s.graphBaseURL = u }
}

// WithGraphHTTPClient replaces the Graph HTTP client.
func WithGraphHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.graphHTTP = c }
}

// New wires a Server. m may be nil.
func New(cfg *config.Config, session *auth.Session, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:          cfg,
		session:      session,
		logger:       logger,
		metrics:      m,
		swap:         hotswap.New(logger, m),
		ephemeral:    storage.NewMemory(logger),
		locks:        webdav.NewMemLS(),
		route:        storage.EphemeralRoute(cfg.Routing.EphemeralPrefixes, cfg.Routing.EphemeralSuffixes),
		graphBaseURL: graph.DefaultBaseURL,
		graphHTTP:    NewGraphHTTPClient(&cfg.Network),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.handler = s.routes()

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Ready reports whether a pipeline is installed.
func (s *Server) Ready() bool {
	return s.swap.Ready()
}

// Subscriber returns the session callback that builds a pipeline for a
// freshly committed credential and installs it. The ephemeral store and
// the lock table outlive individual pipelines.
func (s *Server) Subscriber() func(auth.Credential) {
	return func(cred auth.Credential) {
		client := graph.NewClient(s.graphBaseURL, s.graphHTTP, graph.StaticToken(cred.AccessToken), s.logger)
		durable := storage.NewBuffered(storage.NewOneDrive(client, s.cfg.OneDrive.Root, s.logger), s.logger)
		mux := storage.NewMultiplexer(s.ephemeral, durable, s.route, s.logger, s.metrics)

		h := dav.NewHandler(
			dav.NewFileSystem(mux, s.logger),
			s.locks,
			s.cfg.Server.DAVPrefix,
			s.cfg.Server.MaxBodyBytes(),
			s.logger,
		)

		gen := s.swap.Init(h)

		s.logger.Info("storage pipeline installed",
			slog.Uint64("generation", gen),
			slog.Time("token_expires_at", cred.ExpiresAt),
		)
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	prefix := strings.TrimSuffix(s.cfg.Server.DAVPrefix, "/")
	mux.Handle(prefix, s.swap)
	mux.Handle(prefix+"/", s.swap)

	mux.Handle(auth.Prefix+"/", auth.NewHandler(s.session, auth.HandlerOptions{
		GraphBaseURL: s.graphBaseURL,
		HTTPClient:   s.graphHTTP,
		DebugToken:   s.cfg.Server.DebugTokenEndpoint,
	}, s.logger))

	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /{$}", s.index)

	return mux
}

type health struct {
	Ready      bool   `json:"ready"`
	Generation uint64 `json:"generation"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(health{Ready: s.swap.Ready(), Generation: s.swap.Generation()}); err != nil {
		s.logger.Debug("writing health response", slog.String("error", err.Error()))
	}
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><title>paperfs</title></head>
<body>
<h1>paperfs</h1>
{{if .Ready}}<p>Connected to OneDrive. WebDAV URL: <code>{{.DAVURL}}</code></p>
{{else}}<p>Not connected. <a href="{{.LoginURL}}">Sign in with Microsoft</a></p>
{{end}}</body></html>
`))

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	base := strings.TrimSuffix(s.cfg.Server.ExposedURL, "/")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	err := indexTmpl.Execute(w, struct {
		Ready    bool
		DAVURL   string
		LoginURL string
	}{
		Ready:    s.swap.Ready(),
		DAVURL:   base + strings.TrimSuffix(s.cfg.Server.DAVPrefix, "/") + "/",
		LoginURL: auth.Prefix + "/login",
	})
	if err != nil {
		s.logger.Debug("writing index page", slog.String("error", err.Error()))
	}
}

// Run locks and loads the credential file, then serves until ctx is
// canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.BindAddr)
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", s.cfg.Server.BindAddr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener, which it closes.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	unlock, err := tokenfile.Lock(s.cfg.Auth.StateFile)
	if err != nil {
		ln.Close()
		return fmt.Errorf("server: %w", err)
	}

	defer func() {
		if uerr := unlock(); uerr != nil {
			s.logger.Warn("releasing state file lock", slog.String("error", uerr.Error()))
		}
	}()

	// An unreadable state file leaves the server unready; the next login
	// overwrites it.
	if err := s.session.Load(); err != nil {
		s.logger.Error("state file unusable, login required",
			slog.String("state_file", s.cfg.Auth.StateFile),
			slog.String("error", err.Error()),
		)
	}

	s.session.Subscribe(s.Subscriber())

	loopCtx, stopLoop := context.WithCancel(ctx)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		if err := s.session.RunRefreshLoop(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("refresh loop exited", slog.String("error", err.Error()))
		}
	}()

	defer func() {
		stopLoop()
		wg.Wait()
	}()

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("serving",
		slog.String("addr", ln.Addr().String()),
		slog.String("dav_prefix", s.cfg.Server.DAVPrefix),
		slog.String("exposed_url", s.cfg.Server.ExposedURL),
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", slog.Duration("timeout", s.cfg.Server.Shutdown()))

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.Shutdown())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}

	return nil
}
