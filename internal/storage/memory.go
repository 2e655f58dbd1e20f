package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
)

const memFilePerms = 0o644

// Memory is a process-local backend on an in-memory billy filesystem. It
// holds client scratch files that must never reach durable storage, so its
// contents vanish on restart.
type Memory struct {
	mu     sync.Mutex // memfs is not safe for concurrent use
	fs     billy.Filesystem
	mtimes map[string]time.Time
	logger *slog.Logger
}

// NewMemory returns an empty Memory backend.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}

	return &Memory{fs: memfs.New(), mtimes: make(map[string]time.Time), logger: logger}
}

func memErr(op, p string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("memory: %s %s: %w", op, p, ErrNotFound)
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("memory: %s %s: %w", op, p, ErrExists)
	default:
		return fmt.Errorf("memory: %s %s: %w", op, p, err)
	}
}

// metadata builds Metadata from memfs info. memfs reports the current time
// as every mtime, so commit times are tracked separately. Caller holds mu.
func (m *Memory) metadata(p string, fi os.FileInfo) Metadata {
	p = Clean(p)
	mtime := m.mtimes[p]

	md := Metadata{
		Path:    p,
		Name:    fi.Name(),
		Size:    fi.Size(),
		ModTime: mtime,
		IsDir:   fi.IsDir(),
	}

	if !md.IsDir {
		md.ETag = fmt.Sprintf(`"%x-%x"`, mtime.UnixNano(), fi.Size())
	}

	return md
}

// moveTimes re-keys tracked mtimes at or beneath from. An empty to drops
// them. Caller holds mu.
func (m *Memory) moveTimes(from, to string) {
	moved := make(map[string]time.Time)

	for k, t := range m.mtimes {
		if k != from && !strings.HasPrefix(k, from+"/") {
			continue
		}

		delete(m.mtimes, k)
		moved[to+strings.TrimPrefix(k, from)] = t
	}

	if to == "" {
		return
	}

	for k, t := range moved {
		m.mtimes[k] = t
	}
}

// Read copies the requested range out of the file.
func (m *Memory) Read(_ context.Context, p string, r Range) (io.ReadCloser, error) {
	p = Clean(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	fi, err := m.fs.Stat(p)
	if err != nil {
		return nil, memErr("read", p, err)
	}

	if fi.IsDir() {
		return nil, fmt.Errorf("memory: read %s: %w", p, ErrUnsupported)
	}

	f, err := m.fs.Open(p)
	if err != nil {
		return nil, memErr("read", p, err)
	}
	defer f.Close()

	size := fi.Size()
	start := min(max(r.Offset, 0), size)
	end := size

	if r.Length > 0 {
		end = min(start+r.Length, size)
	}

	buf := make([]byte, end-start)
	if _, err := f.ReadAt(buf, start); err != nil && !errors.Is(err, io.EOF) {
		return nil, memErr("read", p, err)
	}

	return io.NopCloser(bytes.NewReader(buf)), nil
}

// Write returns a writer that commits the file at Close.
func (m *Memory) Write(_ context.Context, p string) (Writer, error) {
	return &memWriter{mem: m, path: Clean(p)}, nil
}

// List returns the entries of directory p. A directory that does not exist
// lists as empty.
func (m *Memory) List(_ context.Context, p string) (Lister, error) {
	p = Clean(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	infos, err := m.fs.ReadDir(p)
	if errors.Is(err, fs.ErrNotExist) {
		return newSliceLister(nil), nil
	}

	if err != nil {
		return nil, memErr("list", p, err)
	}

	entries := make([]Metadata, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, m.metadata(path.Join(p, fi.Name()), fi))
	}

	return newSliceLister(entries), nil
}

// Stat describes p. The root always exists.
func (m *Memory) Stat(_ context.Context, p string) (Metadata, error) {
	p = Clean(p)
	if p == "/" {
		return Metadata{Path: "/", Name: "/", IsDir: true}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	fi, err := m.fs.Stat(p)
	if err != nil {
		return Metadata{}, memErr("stat", p, err)
	}

	return m.metadata(p, fi), nil
}

// Delete removes p and, for a directory, everything beneath it.
func (m *Memory) Delete(_ context.Context, p string) error {
	p = Clean(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.fs.Stat(p); err != nil {
		return memErr("delete", p, err)
	}

	if err := m.removeAll(p); err != nil {
		return memErr("delete", p, err)
	}

	m.moveTimes(p, "")

	return nil
}

func (m *Memory) removeAll(p string) error {
	fi, err := m.fs.Stat(p)
	if err != nil {
		return err
	}

	if fi.IsDir() {
		children, err := m.fs.ReadDir(p)
		if err != nil {
			return err
		}

		for _, c := range children {
			if err := m.removeAll(path.Join(p, c.Name())); err != nil {
				return err
			}
		}
	}

	return m.fs.Remove(p)
}

// CreateDir creates p and any missing parents.
func (m *Memory) CreateDir(_ context.Context, p string) error {
	p = Clean(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.fs.Stat(p); err == nil {
		return memErr("mkdir", p, fs.ErrExist)
	}

	if err := m.fs.MkdirAll(p, os.ModeDir|0o755); err != nil {
		return memErr("mkdir", p, err)
	}

	m.mtimes[p] = time.Now().UTC()

	return nil
}

// Rename moves from to to, replacing any existing object at to.
func (m *Memory) Rename(_ context.Context, from, to string) error {
	from, to = Clean(from), Clean(to)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.fs.Stat(from); err != nil {
		return memErr("rename", from, err)
	}

	if err := m.fs.MkdirAll(path.Dir(to), os.ModeDir|0o755); err != nil {
		return memErr("rename", to, err)
	}

	if err := m.fs.Rename(from, to); err != nil {
		return memErr("rename", from, err)
	}

	m.moveTimes(from, to)

	return nil
}

// commit replaces the content of p with data.
func (m *Memory) commit(p string, data []byte) (Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fs.MkdirAll(path.Dir(p), os.ModeDir|0o755); err != nil {
		return Metadata{}, memErr("write", p, err)
	}

	f, err := m.fs.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, memFilePerms)
	if err != nil {
		return Metadata{}, memErr("write", p, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return Metadata{}, memErr("write", p, err)
	}

	if err := f.Close(); err != nil {
		return Metadata{}, memErr("write", p, err)
	}

	fi, err := m.fs.Stat(p)
	if err != nil {
		return Metadata{}, memErr("write", p, err)
	}

	m.mtimes[p] = time.Now().UTC()

	m.logger.Debug("memory object committed",
		slog.String("path", p),
		slog.Int("size", len(data)),
	)

	return m.metadata(p, fi), nil
}

// memWriter accepts any number of chunks and commits them at Close.
type memWriter struct {
	mem  *Memory
	path string
	buf  bytes.Buffer
	done bool
}

func (w *memWriter) Write(_ context.Context, p []byte) (int, error) {
	if w.done {
		return 0, ErrWriterClosed
	}

	return w.buf.Write(p)
}

func (w *memWriter) Close(_ context.Context) (Metadata, error) {
	if w.done {
		return Metadata{}, ErrWriterClosed
	}

	w.done = true
	md, err := w.mem.commit(w.path, w.buf.Bytes())
	w.buf = bytes.Buffer{}

	return md, err
}

func (w *memWriter) Abort(_ context.Context) error {
	w.done = true
	w.buf = bytes.Buffer{}

	return nil
}
