package hotswap

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/paperfs/internal/metrics"
)

func TestHandle_NotReadyBeforeInit(t *testing.T) {
	h := New(nil, metrics.New())

	for _, method := range []string{http.MethodGet, "PROPFIND", http.MethodPut} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, "/dav/x", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, RetryAfterSeconds, rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), NotReadyMessage)
	}

	assert.False(t, h.Ready())
	assert.Zero(t, h.Generation())
}

func TestHandle_ForwardsVerbatim(t *testing.T) {
	h := New(nil, nil)

	gen := h.Init(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Seen", r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write(body)
	}))
	assert.Equal(t, uint64(1), gen)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("PROPFIND", "/dav/a", strings.NewReader("payload")))

	assert.Equal(t, http.StatusMultiStatus, rec.Code)
	assert.Equal(t, "PROPFIND /dav/a", rec.Header().Get("X-Seen"))
	assert.Equal(t, "payload", rec.Body.String())
	assert.True(t, h.Ready())
}

func TestHandle_SwapKeepsInFlightRequest(t *testing.T) {
	h := New(nil, nil)

	entered := make(chan struct{})
	release := make(chan struct{})

	h.Init(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release
		_, _ = io.WriteString(w, "old")
	}))

	done := make(chan string)

	go func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		done <- rec.Body.String()
	}()

	<-entered

	gen := h.Init(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "new")
	}))
	assert.Equal(t, uint64(2), gen)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "new", rec.Body.String())

	close(release)
	assert.Equal(t, "old", <-done)
}

func TestHandle_ConcurrentInitAndServe(t *testing.T) {
	h := New(nil, metrics.New())

	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(2)

		go func() {
			defer wg.Done()

			body := fmt.Sprintf("p%d", i)
			h.Init(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, body)
			}))
		}()

		go func() {
			defer wg.Done()

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			if rec.Code != http.StatusServiceUnavailable {
				assert.True(t, strings.HasPrefix(rec.Body.String(), "p"))
			}
		}()
	}

	wg.Wait()

	require.True(t, h.Ready())
	assert.Equal(t, uint64(20), h.Generation())
}
