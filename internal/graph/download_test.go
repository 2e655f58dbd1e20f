package graph

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const downloadPayload = "0123456789abcdefghij"

// newDownloadServer serves item metadata under /me and the content under
// /content, honoring Range only when ranged is true.
func newDownloadServer(t *testing.T, ranged bool, gotRange *string) *httptest.Server {
	t.Helper()

	var srv *httptest.Server

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/content" {
			assert.Empty(t, r.Header.Get("Authorization"))

			if gotRange != nil {
				*gotRange = r.Header.Get("Range")
			}

			if ranged && r.Header.Get("Range") != "" {
				var start, end int
				_, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end)
				if err != nil {
					end = len(downloadPayload) - 1
				}

				w.WriteHeader(http.StatusPartialContent)
				_, _ = io.WriteString(w, downloadPayload[start:end+1])

				return
			}

			_, _ = io.WriteString(w, downloadPayload)

			return
		}

		fmt.Fprintf(w, `{"id":"1","name":"f","size":%d,"file":{},"lastModifiedDateTime":"2024-01-01T00:00:00Z",
			"@microsoft.graph.downloadUrl":"%s/content"}`, len(downloadPayload), srv.URL)
	}))

	return srv
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()

	defer rc.Close()

	b, err := io.ReadAll(rc)
	require.NoError(t, err)

	return string(b)
}

func TestDownload_Whole(t *testing.T) {
	var gotRange string

	srv := newDownloadServer(t, true, &gotRange)
	defer srv.Close()

	rc, err := newTestClient(t, srv.URL).Download(context.Background(), "f", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, downloadPayload, readAll(t, rc))
	assert.Empty(t, gotRange)
}

func TestDownload_Range(t *testing.T) {
	var gotRange string

	srv := newDownloadServer(t, true, &gotRange)
	defer srv.Close()

	rc, err := newTestClient(t, srv.URL).Download(context.Background(), "f", 5, 4)
	require.NoError(t, err)
	assert.Equal(t, "5678", readAll(t, rc))
	assert.Equal(t, "bytes=5-8", gotRange)
}

func TestDownload_RangeIgnoredByServer(t *testing.T) {
	srv := newDownloadServer(t, false, nil)
	defer srv.Close()

	rc, err := newTestClient(t, srv.URL).Download(context.Background(), "f", 10, 3)
	require.NoError(t, err)
	assert.Equal(t, "abc", readAll(t, rc))
}

func TestDownload_OffsetPastEnd(t *testing.T) {
	srv := newDownloadServer(t, true, nil)
	defer srv.Close()

	rc, err := newTestClient(t, srv.URL).Download(context.Background(), "f", 100, 0)
	require.NoError(t, err)
	assert.Empty(t, readAll(t, rc))
}

func TestDownload_NoURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":"1","name":"d","size":5,"folder":{},"lastModifiedDateTime":"2024-01-01T00:00:00Z"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Download(context.Background(), "d", 0, 0)
	require.ErrorIs(t, err, ErrNoDownloadURL)
}

func TestRangeSpec(t *testing.T) {
	assert.Empty(t, rangeSpec(0, 0))
	assert.Equal(t, "bytes=4-", rangeSpec(4, 0))
	assert.Equal(t, "bytes=0-9", rangeSpec(0, 10))
	assert.Equal(t, "bytes=3-4", rangeSpec(3, 2))
}
