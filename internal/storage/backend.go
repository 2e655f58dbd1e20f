// Package storage defines the file capability set paperfs serves over WebDAV
// and the backends behind it: an in-memory store for client scratch files,
// a OneDrive store for everything else, a multiplexer that routes between
// them by path, and a write buffer that turns chunked writes into the single
// upload OneDrive needs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"
)

// Sentinel errors. ErrNotFound and ErrExists wrap their io/fs counterparts
// so errors.Is(err, fs.ErrNotExist) holds for callers outside this package.
var (
	ErrNotFound     = fmt.Errorf("storage: not found: %w", fs.ErrNotExist)
	ErrExists       = fmt.Errorf("storage: already exists: %w", fs.ErrExist)
	ErrUnsupported  = errors.New("storage: operation not supported")
	ErrWriterClosed = errors.New("storage: writer already closed")
	ErrHashMismatch = errors.New("storage: uploaded content hash mismatch")
)

// Range selects part of an object. Length <= 0 reads to the end.
type Range struct {
	Offset int64
	Length int64
}

// Metadata describes one object or directory.
type Metadata struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
	ETag    string
}

// Writer receives the content of one object. Nothing is visible to readers
// until Close succeeds; Abort discards everything written so far.
type Writer interface {
	Write(ctx context.Context, p []byte) (int, error)
	Close(ctx context.Context) (Metadata, error)
	Abort(ctx context.Context) error
}

// Lister yields directory entries one at a time. Next returns io.EOF after
// the last entry.
type Lister interface {
	Next(ctx context.Context) (Metadata, error)
	Close() error
}

// Backend is the capability set every store implements. Paths are
// slash-separated and rooted at "/".
type Backend interface {
	Read(ctx context.Context, p string, r Range) (io.ReadCloser, error)
	Write(ctx context.Context, p string) (Writer, error)
	List(ctx context.Context, p string) (Lister, error)
	Stat(ctx context.Context, p string) (Metadata, error)
	Delete(ctx context.Context, p string) error
	CreateDir(ctx context.Context, p string) error
	Rename(ctx context.Context, from, to string) error
}

// Clean returns the canonical form of p: rooted, no trailing slash, no dot
// segments.
func Clean(p string) string {
	return path.Clean("/" + p)
}

// relative strips the leading slash from a cleaned path; the root becomes "".
func relative(p string) string {
	return strings.TrimPrefix(Clean(p), "/")
}

// sliceLister serves a precomputed listing.
type sliceLister struct {
	entries []Metadata
	next    int
}

func newSliceLister(entries []Metadata) *sliceLister {
	return &sliceLister{entries: entries}
}

func (l *sliceLister) Next(ctx context.Context) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	if l.next >= len(l.entries) {
		return Metadata{}, io.EOF
	}

	md := l.entries[l.next]
	l.next++

	return md, nil
}

func (l *sliceLister) Close() error {
	l.entries = nil
	return nil
}

// Collect drains l into a slice and closes it.
func Collect(ctx context.Context, l Lister) ([]Metadata, error) {
	defer l.Close()

	var out []Metadata

	for {
		md, err := l.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}

		if err != nil {
			return out, err
		}

		out = append(out, md)
	}
}
