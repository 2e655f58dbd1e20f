package dav

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/net/webdav"
)

// DefaultMaxBodySize caps PUT bodies when no limit is configured.
const DefaultMaxBodySize int64 = 64 << 20

// Handler is a webdav.Handler with request normalization in front of it.
type Handler struct {
	dav     *webdav.Handler
	maxBody int64
	logger  *slog.Logger
}

// NewHandler serves fsys under prefix. ls may be shared between handlers so
// locks survive a pipeline swap; nil creates a private in-memory lock
// system. maxBody <= 0 selects DefaultMaxBodySize.
func NewHandler(fsys webdav.FileSystem, ls webdav.LockSystem, prefix string, maxBody int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	if ls == nil {
		ls = webdav.NewMemLS()
	}

	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}

	h := &Handler{maxBody: maxBody, logger: logger}
	h.dav = &webdav.Handler{
		Prefix:     strings.TrimSuffix(prefix, "/"),
		FileSystem: fsys,
		LockSystem: ls,
		Logger:     h.logRequest,
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "MKCOL":
		// Finder sends MKCOL without the trailing slash.
		if !strings.HasSuffix(r.URL.Path, "/") {
			r = r.Clone(r.Context())
			r.URL.Path += "/"

			if r.URL.RawPath != "" {
				r.URL.RawPath += "/"
			}
		}

	case http.MethodPut:
		body, ok := h.readBody(w, r)
		if !ok {
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
	}

	h.dav.ServeHTTP(w, r)
}

// readBody reads the whole PUT body so a truncated upload never reaches
// the backend. It answers the request itself on failure.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.ContentLength > h.maxBody {
		h.rejectTooLarge(w, r)
		return nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.rejectTooLarge(w, r)
			return nil, false
		}

		h.logger.Warn("reading upload body failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		http.Error(w, "incomplete request body", http.StatusBadRequest)

		return nil, false
	}

	return body, true
}

func (h *Handler) rejectTooLarge(w http.ResponseWriter, r *http.Request) {
	h.logger.Warn("upload exceeds size limit",
		slog.String("path", r.URL.Path),
		slog.Int64("content_length", r.ContentLength),
		slog.Int64("limit", h.maxBody),
	)
	http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
}

func (h *Handler) logRequest(r *http.Request, err error) {
	if err != nil {
		h.logger.Warn("webdav request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		return
	}

	h.logger.Debug("webdav request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
}
