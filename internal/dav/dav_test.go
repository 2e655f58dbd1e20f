package dav

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/paperfs/internal/storage"
)

const testMaxBody = 16

func newTestServer(t *testing.T, backend storage.Backend) *httptest.Server {
	t.Helper()

	h := NewHandler(NewFileSystem(backend, nil), nil, "/dav", testMaxBody, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return srv
}

func do(t *testing.T, method, url, body string, headers map[string]string) (int, string) {
	t.Helper()

	var rd io.Reader = http.NoBody
	if body != "" {
		rd = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(b)
}

func TestHandler_PutGetRange(t *testing.T) {
	srv := newTestServer(t, storage.NewMemory(nil))

	status, _ := do(t, http.MethodPut, srv.URL+"/dav/a.txt", "hello", nil)
	require.Equal(t, http.StatusCreated, status)

	status, body := do(t, http.MethodGet, srv.URL+"/dav/a.txt", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello", body)

	status, body = do(t, http.MethodGet, srv.URL+"/dav/a.txt", "", map[string]string{"Range": "bytes=1-3"})
	assert.Equal(t, http.StatusPartialContent, status)
	assert.Equal(t, "ell", body)
}

func TestHandler_PutTooLargeIsNotCommitted(t *testing.T) {
	srv := newTestServer(t, storage.NewMemory(nil))

	status, _ := do(t, http.MethodPut, srv.URL+"/dav/big.bin", strings.Repeat("x", testMaxBody+1), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)

	status, _ = do(t, http.MethodGet, srv.URL+"/dav/big.bin", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHandler_PutIntoMissingCollection(t *testing.T) {
	srv := newTestServer(t, storage.NewMemory(nil))

	status, _ := do(t, http.MethodPut, srv.URL+"/dav/missing/x.txt", "x", nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestHandler_MkcolWithoutTrailingSlash(t *testing.T) {
	srv := newTestServer(t, storage.NewMemory(nil))

	status, _ := do(t, "MKCOL", srv.URL+"/dav/docs", "", nil)
	require.Equal(t, http.StatusCreated, status)

	status, _ = do(t, "MKCOL", srv.URL+"/dav/docs", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, status)

	status, _ = do(t, http.MethodPut, srv.URL+"/dav/docs/n.txt", "note", nil)
	assert.Equal(t, http.StatusCreated, status)
}

func TestHandler_PropfindListsEntries(t *testing.T) {
	srv := newTestServer(t, storage.NewMemory(nil))

	do(t, "MKCOL", srv.URL+"/dav/docs/", "", nil)
	do(t, http.MethodPut, srv.URL+"/dav/a.txt", "hello", nil)

	status, body := do(t, "PROPFIND", srv.URL+"/dav/", "", map[string]string{"Depth": "1"})
	assert.Equal(t, http.StatusMultiStatus, status)
	assert.Contains(t, body, "/dav/docs/")
	assert.Contains(t, body, "/dav/a.txt")
	assert.Contains(t, body, "text/plain")
}

func TestHandler_MoveAndDelete(t *testing.T) {
	srv := newTestServer(t, storage.NewMemory(nil))

	do(t, "MKCOL", srv.URL+"/dav/docs/", "", nil)
	do(t, http.MethodPut, srv.URL+"/dav/a.txt", "hello", nil)

	status, _ := do(t, "MOVE", srv.URL+"/dav/a.txt", "", map[string]string{"Destination": srv.URL + "/dav/docs/b.txt"})
	assert.Equal(t, http.StatusCreated, status)

	status, body := do(t, http.MethodGet, srv.URL+"/dav/docs/b.txt", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello", body)

	status, _ = do(t, http.MethodDelete, srv.URL+"/dav/docs/b.txt", "", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = do(t, http.MethodGet, srv.URL+"/dav/docs/b.txt", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

// failingBackend fails every write after accepting the writer.
type failingBackend struct {
	storage.Backend
	aborted atomic.Bool
}

func (f *failingBackend) Write(context.Context, string) (storage.Writer, error) {
	return &failingWriter{owner: f}, nil
}

type failingWriter struct {
	owner *failingBackend
}

func (*failingWriter) Write(context.Context, []byte) (int, error) {
	return 0, errors.New("quota exceeded")
}

func (*failingWriter) Close(context.Context) (storage.Metadata, error) {
	return storage.Metadata{}, errors.New("must not commit")
}

func (w *failingWriter) Abort(context.Context) error {
	w.owner.aborted.Store(true)
	return nil
}

func TestFileSystem_FailedWriteAbortsAndSkipsCommit(t *testing.T) {
	backend := &failingBackend{Backend: storage.NewMemory(nil)}
	fsys := NewFileSystem(backend, nil)
	ctx := context.Background()

	f, err := fsys.OpenFile(ctx, "/x.txt", os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	require.NoError(t, err)

	_, err = f.Write([]byte("data"))
	require.Error(t, err)
	assert.True(t, backend.aborted.Load())

	err = f.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

// countingBackend counts Stat calls.
type countingBackend struct {
	storage.Backend
	stats atomic.Int32
}

func (c *countingBackend) Stat(ctx context.Context, p string) (storage.Metadata, error) {
	c.stats.Add(1)
	return c.Backend.Stat(ctx, p)
}

func TestFileSystem_ReaddirAnswersStat(t *testing.T) {
	mem := storage.NewMemory(nil)
	ctx := context.Background()

	w, err := mem.Write(ctx, "/a.txt")
	require.NoError(t, err)
	_, err = w.Write(ctx, []byte("abc"))
	require.NoError(t, err)
	_, err = w.Close(ctx)
	require.NoError(t, err)

	backend := &countingBackend{Backend: mem}
	fsys := NewFileSystem(backend, nil)

	dir, err := fsys.OpenFile(ctx, "/", os.O_RDONLY, 0)
	require.NoError(t, err)

	infos, err := dir.Readdir(0)
	require.NoError(t, err)
	require.NoError(t, dir.Close())
	require.Len(t, infos, 1)
	assert.Equal(t, "a.txt", infos[0].Name())

	before := backend.stats.Load()

	fi, err := fsys.Stat(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(3), fi.Size())
	assert.Equal(t, before, backend.stats.Load())

	require.NoError(t, fsys.RemoveAll(ctx, "/a.txt"))

	_, err = fsys.Stat(ctx, "/a.txt")
	assert.True(t, os.IsNotExist(err))
}

func TestFileSystem_ReadSeek(t *testing.T) {
	mem := storage.NewMemory(nil)
	fsys := NewFileSystem(mem, nil)
	ctx := context.Background()

	f, err := fsys.OpenFile(ctx, "/s.txt", os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := fsys.OpenFile(ctx, "/s.txt", os.O_RDONLY, 0)
	require.NoError(t, err)
	defer r.Close()

	end, err := r.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(10), end)

	_, err = r.Seek(6, io.SeekStart)
	require.NoError(t, err)

	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "6789", string(rest))
}

func TestPathErr_MapsToOSErrors(t *testing.T) {
	assert.True(t, os.IsNotExist(pathErr("stat", "/x", storage.ErrNotFound)))
	assert.True(t, os.IsExist(pathErr("mkdir", "/x", storage.ErrExists)))
	assert.ErrorIs(t, pathErr("rename", "/x", storage.ErrUnsupported), storage.ErrUnsupported)
	assert.NoError(t, pathErr("stat", "/x", nil))
}
