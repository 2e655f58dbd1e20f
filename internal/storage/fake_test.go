package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// fakeBackend records calls and serves a fixed listing. Writers record
// every chunk so single-shot behavior can be asserted.
type fakeBackend struct {
	name string

	mu       sync.Mutex
	calls    []string
	listing  []Metadata
	listErr  error
	nextErr  error
	writes   [][]byte
	closes   int
	aborts   int
	writeErr error
	closeErr error
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, call)
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) Read(_ context.Context, p string, _ Range) (io.ReadCloser, error) {
	f.record("read " + p)
	return io.NopCloser(strings.NewReader(f.name + ":" + p)), nil
}

func (f *fakeBackend) Write(_ context.Context, p string) (Writer, error) {
	f.record("write " + p)
	return &fakeWriter{be: f, path: p}, nil
}

func (f *fakeBackend) List(_ context.Context, p string) (Lister, error) {
	f.record("list " + p)

	if f.listErr != nil {
		return nil, f.listErr
	}

	return &errAfterLister{inner: newSliceLister(f.listing), err: f.nextErr}, nil
}

func (f *fakeBackend) Stat(_ context.Context, p string) (Metadata, error) {
	f.record("stat " + p)
	return Metadata{Path: p, Name: f.name}, nil
}

func (f *fakeBackend) Delete(_ context.Context, p string) error {
	f.record("delete " + p)
	return nil
}

func (f *fakeBackend) CreateDir(_ context.Context, p string) error {
	f.record("mkdir " + p)
	return nil
}

func (f *fakeBackend) Rename(_ context.Context, from, to string) error {
	f.record("rename " + from + " " + to)
	return nil
}

type fakeWriter struct {
	be   *fakeBackend
	path string
}

func (w *fakeWriter) Write(_ context.Context, p []byte) (int, error) {
	w.be.mu.Lock()
	defer w.be.mu.Unlock()

	if w.be.writeErr != nil {
		return 0, w.be.writeErr
	}

	w.be.writes = append(w.be.writes, bytes.Clone(p))

	return len(p), nil
}

func (w *fakeWriter) Close(_ context.Context) (Metadata, error) {
	w.be.mu.Lock()
	defer w.be.mu.Unlock()

	w.be.closes++

	return Metadata{Path: w.path}, w.be.closeErr
}

func (w *fakeWriter) Abort(_ context.Context) error {
	w.be.mu.Lock()
	defer w.be.mu.Unlock()

	w.be.aborts++

	return nil
}

// errAfterLister yields inner's entries, then err instead of io.EOF when
// err is set.
type errAfterLister struct {
	inner Lister
	err   error
}

func (l *errAfterLister) Next(ctx context.Context) (Metadata, error) {
	md, err := l.inner.Next(ctx)
	if err == io.EOF && l.err != nil {
		return Metadata{}, l.err
	}

	return md, err
}

func (l *errAfterLister) Close() error {
	return l.inner.Close()
}

func names(entries []Metadata) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}

	return out
}

func sortedNames(entries []Metadata) []string {
	out := names(entries)
	sort.Strings(out)

	return out
}
