package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/paperfs/internal/graph"
)

// Prefix is where the handler is mounted.
const Prefix = "/api/v1/onedrive"

// HandlerOptions configures the login endpoints.
type HandlerOptions struct {
	// GraphBaseURL is the Graph API root used by /me.
	GraphBaseURL string
	// HTTPClient is used for Graph calls; nil selects http.DefaultClient.
	HTTPClient *http.Client
	// DebugToken enables GET /token, which prints the raw access token.
	DebugToken bool
}

// envelope is the JSON shape of /me responses.
type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Body any    `json:"body"`
}

// Handler serves the login, callback and session inspection endpoints
// under Prefix.
type Handler struct {
	session *Session
	opts    HandlerOptions
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewHandler returns the HTTP surface of session.
func NewHandler(session *Session, opts HandlerOptions, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.GraphBaseURL == "" {
		opts.GraphBaseURL = graph.DefaultBaseURL
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	h := &Handler{session: session, opts: opts, logger: logger, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET "+Prefix+"/login", h.login)
	h.mux.HandleFunc("POST "+Prefix+"/login", h.login)
	h.mux.HandleFunc("GET "+Prefix+"/callback", h.callback)
	h.mux.HandleFunc("GET "+Prefix+"/me", h.me)
	h.mux.HandleFunc("GET "+Prefix+"/status", h.status)

	if opts.DebugToken {
		h.mux.HandleFunc("GET "+Prefix+"/token", h.token)
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.session.InitiateAuth()
	if err != nil {
		h.logger.Error("initiating login failed", slog.String("error", err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	http.Redirect(w, r, authURL, http.StatusSeeOther)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		h.logger.Warn("login denied by provider",
			slog.String("error", providerErr),
			slog.String("description", q.Get("error_description")),
		)
		http.Error(w, fmt.Sprintf("login failed: %s: %s", providerErr, q.Get("error_description")), http.StatusBadRequest)

		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	if err := h.session.ExchangeCode(r.Context(), state, code); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownState) {
			status = http.StatusBadRequest
		}

		http.Error(w, err.Error(), status)

		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "success")
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	tok, ok := h.session.AccessToken()
	if !ok {
		writeJSON(w, http.StatusNotFound, envelope{Code: http.StatusNotFound, Msg: "user info not found"})
		return
	}

	client := graph.NewClient(h.opts.GraphBaseURL, h.opts.HTTPClient, graph.StaticToken(tok), h.logger)

	user, err := client.Me(r.Context())
	if err != nil {
		h.logger.Error("fetching user profile failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, envelope{
			Code: http.StatusInternalServerError,
			Msg:  "error retrieving user info: " + err.Error(),
		})

		return
	}

	writeJSON(w, http.StatusOK, envelope{Code: http.StatusOK, Msg: "success", Body: user})
}

func (h *Handler) token(w http.ResponseWriter, _ *http.Request) {
	tok, ok := h.session.AccessToken()
	if !ok {
		http.Error(w, ErrNoCredential.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, tok)
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
