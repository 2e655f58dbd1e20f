// Package auth holds the OneDrive credential for the process: the OAuth2
// authorization code flow with PKCE, refresh ahead of expiry, persistence of
// the refresh token across restarts, and change notifications for the parts
// of the server that depend on the current access token.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/paperfs/internal/metrics"
)

// Defaults applied to zero Config fields.
const (
	DefaultRefreshMargin  = 60 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultRetryMinDelay  = time.Second
	DefaultRetryMaxDelay  = 5 * time.Minute
)

// stateBytes is the size of the random login state nonce.
const stateBytes = 16

// Config tunes a Session. OAuth is required.
type Config struct {
	OAuth          *oauth2.Config
	RefreshMargin  time.Duration
	RequestTimeout time.Duration
	PendingTTL     time.Duration
	MaxPending     int
	RetryMinDelay  time.Duration
	RetryMaxDelay  time.Duration
}

func (c *Config) applyDefaults() {
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = DefaultRefreshMargin
	}

	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}

	if c.RetryMinDelay <= 0 {
		c.RetryMinDelay = DefaultRetryMinDelay
	}

	if c.RetryMaxDelay < c.RetryMinDelay {
		c.RetryMaxDelay = max(DefaultRetryMaxDelay, c.RetryMinDelay)
	}
}

// Option configures optional Session collaborators.
type Option func(*Session)

// WithMetrics records refreshes and pending logins on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithClock replaces time.Now for expiry computations.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session is the single credential holder of the process. All methods are
// safe for concurrent use.
type Session struct {
	cfg        Config
	store      Store
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu   sync.RWMutex
	cred *Credential

	// commitMu orders commit, persist and notify, and guards subscribers.
	commitMu    sync.Mutex
	subscribers []func(Credential)

	pending *pendingStore
	flight  singleflight.Group

	// changed is signaled after every commit or Load; buffered so the
	// signal is never lost and never blocks.
	changed chan struct{}

	retryTimer retry.Timer
}

// NewSession returns a Session with no credential. httpClient is used for
// token endpoint calls; nil selects http.DefaultClient.
func NewSession(cfg Config, store Store, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	cfg.applyDefaults()

	s := &Session{
		cfg:        cfg,
		store:      store,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
		changed:    make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.pending = newPendingStore(cfg.PendingTTL, cfg.MaxPending, s.now)

	return s
}

// InitiateAuth starts an interactive login and returns the authorization
// URL to send the user to. Each call issues a fresh state nonce and PKCE
// verifier.
func (s *Session) InitiateAuth() (string, error) {
	state, err := newState()
	if err != nil {
		return "", err
	}

	verifier := oauth2.GenerateVerifier()

	n := s.pending.put(state, verifier)
	s.metrics.PendingLogins(n)

	s.logger.Info("login initiated", slog.Int("pending_logins", n))

	return s.cfg.OAuth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier)), nil
}

// ExchangeCode completes the login identified by state. The state is
// consumed whether or not the exchange succeeds. On success the credential
// is committed, persisted, and delivered to every subscriber before
// ExchangeCode returns.
func (s *Session) ExchangeCode(ctx context.Context, state, code string) error {
	verifier, n, ok := s.pending.take(state)
	s.metrics.PendingLogins(n)

	if !ok {
		s.logger.Warn("login callback with unknown state")
		return &AuthError{Kind: ErrUnknownState}
	}

	ctx, cancel := s.providerContext(ctx)
	defer cancel()

	tok, err := s.cfg.OAuth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		s.logger.Error("authorization code exchange failed", slog.String("error", err.Error()))
		return &AuthError{Kind: classify(err), Err: err}
	}

	cred := s.credentialFrom(tok, "")
	s.commit(cred, false)

	s.logger.Info("login completed",
		slog.Time("expires_at", cred.ExpiresAt),
		slog.Bool("has_refresh_token", cred.RefreshToken != ""),
	)

	return nil
}

// Refresh trades the current refresh token for a new access token.
// Concurrent callers share one provider round trip. On failure the current
// credential is left as it was.
func (s *Session) Refresh(ctx context.Context) error {
	// The shared call must not die with whichever caller arrived first.
	ch := s.flight.DoChan("refresh", func() (any, error) {
		return nil, s.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return &RefreshError{Kind: ErrProviderUnreachable, Err: ctx.Err()}
	}
}

func (s *Session) refresh(ctx context.Context) error {
	cur, ok := s.Credential()
	if !ok || cur.RefreshToken == "" {
		return &RefreshError{Kind: ErrNoRefreshToken}
	}

	ctx, cancel := s.providerContext(ctx)
	defer cancel()

	tok, err := s.cfg.OAuth.TokenSource(ctx, &oauth2.Token{RefreshToken: cur.RefreshToken}).Token()
	s.metrics.TokenRefresh(err)

	if err != nil {
		return &RefreshError{Kind: classify(err), Err: err}
	}

	cred := s.credentialFrom(tok, cur.RefreshToken)
	if !s.commit(cred, true) {
		s.logger.Warn("discarding refresh result older than current credential")
		return nil
	}

	s.logger.Info("access token refreshed",
		slog.Time("expires_at", cred.ExpiresAt),
		slog.Bool("rotated", tok.RefreshToken != "" && tok.RefreshToken != cur.RefreshToken),
	)

	return nil
}

// AccessToken returns the current access token, if one is held. A
// credential restored from disk holds none until its first refresh.
func (s *Session) AccessToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cred == nil || s.cred.AccessToken == "" {
		return "", false
	}

	return s.cred.AccessToken, true
}

// Credential returns a copy of the current credential.
func (s *Session) Credential() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cred == nil {
		return Credential{}, false
	}

	return *s.cred, true
}

// Subscribe registers fn for every future commit. If an access token is
// already held, fn is called once with it before Subscribe returns.
// Subscribers run synchronously and must not call Subscribe.
func (s *Session) Subscribe(fn func(Credential)) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.subscribers = append(s.subscribers, fn)

	if cur, ok := s.Credential(); ok && cur.AccessToken != "" {
		fn(cur)
	}
}

// Load restores the persisted refresh token and expiry. Nothing persisted
// is not an error. The restored credential holds no access token and is
// not delivered to subscribers; the refresh loop picks it up.
func (s *Session) Load() error {
	c, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("auth: loading credential: %w", err)
	}

	if c == nil {
		s.logger.Info("no persisted credential, login required")
		return nil
	}

	s.commitMu.Lock()
	s.mu.Lock()
	s.cred = &Credential{RefreshToken: c.RefreshToken, ExpiresAt: c.ExpiresAt}
	s.mu.Unlock()
	s.commitMu.Unlock()

	s.signal()

	s.logger.Info("persisted credential restored",
		slog.Bool("has_refresh_token", c.RefreshToken != ""),
		slog.Time("expires_at", c.ExpiresAt),
	)

	return nil
}

// Status summarizes the session for operators.
type Status struct {
	Authenticated   bool       `json:"authenticated"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	ExpiresAt       *time.Time `json:"expires_at"`
	PendingLogins   int        `json:"pending_logins"`
}

// Status returns a snapshot summary. Tokens are not included.
func (s *Session) Status() Status {
	st := Status{PendingLogins: s.pending.len()}

	if cur, ok := s.Credential(); ok {
		st.Authenticated = cur.AccessToken != ""
		st.HasRefreshToken = cur.RefreshToken != ""

		if !cur.ExpiresAt.IsZero() {
			exp := cur.ExpiresAt
			st.ExpiresAt = &exp
		}
	}

	return st
}

// commit installs cred, persists it, and notifies subscribers, in that
// order and under commitMu. A refresh result that would move ExpiresAt
// backwards is dropped; it returns false in that case.
func (s *Session) commit(cred Credential, fromRefresh bool) bool {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	if fromRefresh && s.cred != nil && s.cred.AccessToken != "" && cred.ExpiresAt.Before(s.cred.ExpiresAt) {
		s.mu.Unlock()
		return false
	}

	c := cred
	s.cred = &c
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Save(cred); err != nil {
			s.logger.Error("persisting credential failed", slog.String("error", err.Error()))
		}
	}

	for _, fn := range s.subscribers {
		fn(cred)
	}

	s.signal()

	return true
}

func (s *Session) signal() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// credentialFrom converts a token response. The expiry is taken from
// expires_in against the session clock. fallbackRefresh is kept when the
// provider does not rotate the refresh token.
func (s *Session) credentialFrom(tok *oauth2.Token, fallbackRefresh string) Credential {
	cred := Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}

	if tok.ExpiresIn > 0 {
		cred.ExpiresAt = s.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}

	if cred.RefreshToken == "" {
		cred.RefreshToken = fallbackRefresh
	}

	return cred
}

// providerContext bounds a token endpoint call and routes it through the
// session's HTTP client.
func (s *Session) providerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}

	return context.WithTimeout(ctx, s.cfg.RequestTimeout)
}

func newState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating state: %w", err)
	}

	return hex.EncodeToString(b), nil
}
