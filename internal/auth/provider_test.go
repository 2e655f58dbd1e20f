package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

// fakeProvider is a token endpoint that issues numbered access tokens.
type fakeProvider struct {
	srv *httptest.Server

	exchanges atomic.Int32
	refreshes atomic.Int32

	mu sync.Mutex
	// failRefreshes answers the next n refresh requests with 400.
	failRefreshes int
	// rotate issues a new refresh token on every refresh.
	rotate bool
	// expiresIn is the lifetime of issued access tokens, in seconds.
	expiresIn int
	// block, if set, holds refresh requests until closed.
	block   chan struct{}
	entered chan struct{}
	// lastVerifier is the code_verifier of the last exchange.
	lastVerifier string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	p := &fakeProvider{expiresIn: 3600}
	p.srv = httptest.NewServer(http.HandlerFunc(p.serveToken))
	t.Cleanup(p.srv.Close)

	return p
}

func (p *fakeProvider) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    "test-client",
		RedirectURL: "http://localhost:8080/api/v1/onedrive/callback",
		Scopes:      []string{"offline_access", "Files.ReadWrite.All", "User.Read"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.srv.URL + "/authorize",
			TokenURL:  p.srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (p *fakeProvider) serveToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	expiresIn := p.expiresIn
	p.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		n := p.exchanges.Add(1)

		p.mu.Lock()
		p.lastVerifier = r.PostForm.Get("code_verifier")
		p.mu.Unlock()

		if r.PostForm.Get("code") == "bad-code" || r.PostForm.Get("code_verifier") == "" {
			writeTokenError(w, "invalid_grant")
			return
		}

		writeToken(w, "access-"+strconv.Itoa(int(n)), "refresh-initial", expiresIn)

	case "refresh_token":
		n := p.refreshes.Add(1)

		p.mu.Lock()
		block, entered := p.block, p.entered
		fail := p.failRefreshes > 0
		if fail {
			p.failRefreshes--
		}
		rotate := p.rotate
		p.mu.Unlock()

		if entered != nil {
			entered <- struct{}{}
		}

		if block != nil {
			<-block
		}

		if fail {
			writeTokenError(w, "temporarily_unavailable")
			return
		}

		refresh := ""
		if rotate {
			refresh = "refresh-" + strconv.Itoa(int(n))
		}

		writeToken(w, "refreshed-"+strconv.Itoa(int(n)), refresh, expiresIn)

	default:
		writeTokenError(w, "unsupported_grant_type")
	}
}

func writeToken(w http.ResponseWriter, access, refresh string, expiresIn int) {
	body := map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	}
	if refresh != "" {
		body["refresh_token"] = refresh
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func writeTokenError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// memStore is an in-memory Store that records every save.
type memStore struct {
	mu      sync.Mutex
	saved   []Credential
	initial *Credential
	saveErr error
}

func (m *memStore) Load() (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.initial, nil
}

func (m *memStore) Save(c Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saved = append(m.saved, c)

	return m.saveErr
}

func (m *memStore) saves() []Credential {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Credential(nil), m.saved...)
}

// instantTimer fires every retry delay immediately.
type instantTimer struct{}

func (instantTimer) After(time.Duration) <-chan time.Time {
	c := make(chan time.Time, 1)
	c <- time.Now()

	return c
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSession(t *testing.T, p *fakeProvider, store Store) *Session {
	t.Helper()

	s := NewSession(Config{OAuth: p.oauthConfig(), RetryMinDelay: 10 * time.Millisecond}, store, p.srv.Client(), slog.Default(),
		WithClock(func() time.Time { return testNow }))
	s.retryTimer = instantTimer{}

	return s
}
