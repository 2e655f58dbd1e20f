// Package dav serves a storage.Backend over WebDAV. FileSystem adapts the
// backend to golang.org/x/net/webdav; Handler wraps the webdav handler with
// the request fixes macOS and Windows clients need.
package dav

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/webdav"

	"github.com/tonimelisma/paperfs/internal/storage"
)

// statCacheTTL bounds how long directory listing results answer Stat.
// webdav stats every child after each Readdir.
const statCacheTTL = 5 * time.Second

// FileSystem implements webdav.FileSystem over a storage.Backend.
type FileSystem struct {
	backend storage.Backend
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedStat
}

type cachedStat struct {
	md      storage.Metadata
	expires time.Time
}

var _ webdav.FileSystem = (*FileSystem)(nil)

// NewFileSystem returns a FileSystem serving backend.
func NewFileSystem(backend storage.Backend, logger *slog.Logger) *FileSystem {
	if logger == nil {
		logger = slog.Default()
	}

	return &FileSystem{
		backend: backend,
		logger:  logger,
		now:     time.Now,
		cache:   make(map[string]cachedStat),
	}
}

// pathErr converts a storage error into the os error webdav maps to a
// status code.
func pathErr(op, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return &os.PathError{Op: op, Path: name, Err: os.ErrNotExist}
	case errors.Is(err, fs.ErrExist):
		return &os.PathError{Op: op, Path: name, Err: os.ErrExist}
	default:
		return &os.PathError{Op: op, Path: name, Err: err}
	}
}

// Mkdir creates directory name. The parent must exist.
func (f *FileSystem) Mkdir(ctx context.Context, name string, _ os.FileMode) error {
	name = storage.Clean(name)

	if err := f.requireParent(ctx, "mkdir", name); err != nil {
		return err
	}

	f.invalidate()

	return pathErr("mkdir", name, f.backend.CreateDir(ctx, name))
}

// RemoveAll deletes name and everything beneath it.
func (f *FileSystem) RemoveAll(ctx context.Context, name string) error {
	name = storage.Clean(name)
	if name == "/" {
		return pathErr("removeall", name, storage.ErrUnsupported)
	}

	f.invalidate()

	return pathErr("removeall", name, f.backend.Delete(ctx, name))
}

// Rename moves oldName to newName.
func (f *FileSystem) Rename(ctx context.Context, oldName, newName string) error {
	oldName, newName = storage.Clean(oldName), storage.Clean(newName)

	f.invalidate()

	return pathErr("rename", oldName, f.backend.Rename(ctx, oldName, newName))
}

// Stat describes name.
func (f *FileSystem) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	name = storage.Clean(name)

	md, err := f.stat(ctx, name)
	if err != nil {
		return nil, pathErr("stat", name, err)
	}

	return newFileInfo(name, md), nil
}

// OpenFile opens name for reading, or for writing when flag asks for it.
// A file opened for writing is committed to the backend at Close.
func (f *FileSystem) OpenFile(ctx context.Context, name string, flag int, _ os.FileMode) (webdav.File, error) {
	name = storage.Clean(name)

	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return f.openWrite(ctx, name, flag)
	}

	md, err := f.stat(ctx, name)
	if err != nil {
		return nil, pathErr("open", name, err)
	}

	return &readFile{fsys: f, ctx: ctx, name: name, md: md}, nil
}

func (f *FileSystem) openWrite(ctx context.Context, name string, flag int) (webdav.File, error) {
	if name == "/" {
		return nil, pathErr("open", name, storage.ErrUnsupported)
	}

	md, err := f.stat(ctx, name)

	switch {
	case err == nil && md.IsDir:
		return nil, &os.PathError{Op: "open", Path: name, Err: errors.New("is a directory")}
	case err == nil && flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0:
		return nil, pathErr("open", name, storage.ErrExists)
	case errors.Is(err, fs.ErrNotExist):
		if flag&os.O_CREATE == 0 {
			return nil, pathErr("open", name, err)
		}

		if perr := f.requireParent(ctx, "open", name); perr != nil {
			return nil, perr
		}
	case err != nil:
		return nil, pathErr("open", name, err)
	}

	w, err := f.backend.Write(ctx, name)
	if err != nil {
		return nil, pathErr("open", name, err)
	}

	f.invalidate()

	return &writeFile{fsys: f, ctx: ctx, name: name, w: w, started: f.now()}, nil
}

// requireParent fails with os.ErrNotExist unless the parent of name is an
// existing directory.
func (f *FileSystem) requireParent(ctx context.Context, op, name string) error {
	parent := path.Dir(name)
	if parent == "/" {
		return nil
	}

	md, err := f.stat(ctx, parent)
	if err != nil {
		return pathErr(op, name, err)
	}

	if !md.IsDir {
		return &os.PathError{Op: op, Path: name, Err: os.ErrNotExist}
	}

	return nil
}

func (f *FileSystem) stat(ctx context.Context, name string) (storage.Metadata, error) {
	f.mu.Lock()
	c, ok := f.cache[name]
	f.mu.Unlock()

	if ok && f.now().Before(c.expires) {
		return c.md, nil
	}

	return f.backend.Stat(ctx, name)
}

// remember caches the entries of one listing.
func (f *FileSystem) remember(dir string, entries []storage.Metadata) {
	f.mu.Lock()
	defer f.mu.Unlock()

	expires := f.now().Add(statCacheTTL)
	for _, md := range entries {
		f.cache[path.Join(dir, entryName(md))] = cachedStat{md: md, expires: expires}
	}
}

func (f *FileSystem) invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()

	clear(f.cache)
}

func entryName(md storage.Metadata) string {
	if md.Name != "" {
		return md.Name
	}

	return path.Base(md.Path)
}

// fileInfo adapts storage.Metadata to os.FileInfo. It also answers the
// webdav ETag and content type lookups so PROPFIND never reads content.
type fileInfo struct {
	name string
	md   storage.Metadata
}

var (
	_ webdav.ETager       = fileInfo{}
	_ webdav.ContentTyper = fileInfo{}
)

func newFileInfo(name string, md storage.Metadata) fileInfo {
	base := path.Base(name)
	if name == "/" {
		base = "/"
	}

	return fileInfo{name: base, md: md}
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.md.Size }
func (fi fileInfo) ModTime() time.Time { return fi.md.ModTime }
func (fi fileInfo) IsDir() bool        { return fi.md.IsDir }
func (fi fileInfo) Sys() any           { return nil }

func (fi fileInfo) Mode() os.FileMode {
	if fi.md.IsDir {
		return os.ModeDir | 0o755
	}

	return 0o644
}

// ETag returns the backend's entity tag, quoted, when it has one.
func (fi fileInfo) ETag(context.Context) (string, error) {
	etag := fi.md.ETag
	if etag == "" {
		return "", webdav.ErrNotImplemented
	}

	if strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, `W/"`) {
		return etag, nil
	}

	return `"` + etag + `"`, nil
}

// ContentType guesses from the extension only.
func (fi fileInfo) ContentType(context.Context) (string, error) {
	if ct := mime.TypeByExtension(path.Ext(fi.name)); ct != "" {
		return ct, nil
	}

	return "application/octet-stream", nil
}

// readFile serves a file by ranged backend reads, or a directory by
// listing.
type readFile struct {
	fsys *FileSystem
	ctx  context.Context //nolint:containedctx // webdav.File methods take no context
	name string
	md   storage.Metadata

	pos int64
	rc  io.ReadCloser

	listed  bool
	entries []os.FileInfo
}

func (r *readFile) Read(p []byte) (int, error) {
	if r.md.IsDir {
		return 0, &os.PathError{Op: "read", Path: r.name, Err: errors.New("is a directory")}
	}

	if r.pos >= r.md.Size {
		return 0, io.EOF
	}

	if r.rc == nil {
		rc, err := r.fsys.backend.Read(r.ctx, r.name, storage.Range{Offset: r.pos})
		if err != nil {
			return 0, pathErr("read", r.name, err)
		}

		r.rc = rc
	}

	n, err := r.rc.Read(p)
	r.pos += int64(n)

	return n, err
}

func (r *readFile) Seek(offset int64, whence int) (int64, error) {
	var next int64

	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = r.pos + offset
	case io.SeekEnd:
		next = r.md.Size + offset
	default:
		return r.pos, &os.PathError{Op: "seek", Path: r.name, Err: os.ErrInvalid}
	}

	if next < 0 {
		return r.pos, &os.PathError{Op: "seek", Path: r.name, Err: os.ErrInvalid}
	}

	if next != r.pos {
		r.closeReader()
		r.pos = next
	}

	return next, nil
}

func (r *readFile) Readdir(count int) ([]os.FileInfo, error) {
	if !r.md.IsDir {
		return nil, &os.PathError{Op: "readdir", Path: r.name, Err: errors.New("not a directory")}
	}

	if !r.listed {
		if err := r.list(); err != nil {
			return nil, err
		}
	}

	if count <= 0 {
		out := r.entries
		r.entries = nil

		return out, nil
	}

	if len(r.entries) == 0 {
		return nil, io.EOF
	}

	n := min(count, len(r.entries))
	out := r.entries[:n]
	r.entries = r.entries[n:]

	return out, nil
}

func (r *readFile) list() error {
	lister, err := r.fsys.backend.List(r.ctx, r.name)
	if err != nil {
		return pathErr("readdir", r.name, err)
	}

	mds, err := storage.Collect(r.ctx, lister)
	if err != nil {
		return pathErr("readdir", r.name, err)
	}

	r.fsys.remember(r.name, mds)

	r.entries = make([]os.FileInfo, 0, len(mds))
	for _, md := range mds {
		r.entries = append(r.entries, fileInfo{name: entryName(md), md: md})
	}

	r.listed = true

	return nil
}

func (r *readFile) Stat() (os.FileInfo, error) {
	return newFileInfo(r.name, r.md), nil
}

func (r *readFile) Write([]byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: r.name, Err: os.ErrPermission}
}

func (r *readFile) Close() error {
	r.closeReader()
	return nil
}

func (r *readFile) closeReader() {
	if r.rc != nil {
		r.rc.Close()
		r.rc = nil
	}
}

// writeFile streams into a storage.Writer. A failed Write aborts the
// upload; Close then reports the failure instead of committing.
type writeFile struct {
	fsys    *FileSystem
	ctx     context.Context //nolint:containedctx // webdav.File methods take no context
	name    string
	w       storage.Writer
	started time.Time

	written int64
	err     error
	closed  bool
}

func (w *writeFile) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}

	n, err := w.w.Write(w.ctx, p)
	w.written += int64(n)

	if err != nil {
		w.err = pathErr("write", w.name, err)

		if abortErr := w.w.Abort(w.ctx); abortErr != nil {
			w.fsys.logger.Warn("aborting failed upload",
				slog.String("path", w.name),
				slog.String("error", abortErr.Error()),
			)
		}

		return n, w.err
	}

	return n, nil
}

func (w *writeFile) Close() error {
	if w.closed {
		return nil
	}

	w.closed = true

	if w.err != nil {
		return w.err
	}

	md, err := w.w.Close(w.ctx)
	w.fsys.invalidate()

	if err != nil {
		return pathErr("close", w.name, err)
	}

	w.fsys.logger.Debug("file committed",
		slog.String("path", w.name),
		slog.Int64("size", md.Size),
	)

	return nil
}

func (w *writeFile) Stat() (os.FileInfo, error) {
	return newFileInfo(w.name, storage.Metadata{
		Path:    w.name,
		Name:    path.Base(w.name),
		Size:    w.written,
		ModTime: w.started,
	}), nil
}

func (w *writeFile) Read([]byte) (int, error) {
	return 0, &os.PathError{Op: "read", Path: w.name, Err: os.ErrPermission}
}

func (w *writeFile) Seek(int64, int) (int64, error) {
	return 0, &os.PathError{Op: "seek", Path: w.name, Err: os.ErrInvalid}
}

func (w *writeFile) Readdir(int) ([]os.FileInfo, error) {
	return nil, &os.PathError{Op: "readdir", Path: w.name, Err: errors.New("not a directory")}
}
