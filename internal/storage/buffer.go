package storage

import (
	"bytes"
	"context"
	"io"
	"log/slog"
)

// Buffered adapts a backend whose writers accept exactly one Write into one
// that accepts any number of chunks. Chunks are held in memory and sent as a
// single payload at Close. Every other operation passes through untouched.
type Buffered struct {
	inner  Backend
	logger *slog.Logger
}

// NewBuffered wraps inner.
func NewBuffered(inner Backend, logger *slog.Logger) *Buffered {
	if logger == nil {
		logger = slog.Default()
	}

	return &Buffered{inner: inner, logger: logger}
}

// Write opens the underlying writer and returns a buffering writer over it.
func (b *Buffered) Write(ctx context.Context, p string) (Writer, error) {
	w, err := b.inner.Write(ctx, p)
	if err != nil {
		return nil, err
	}

	return &bufferedWriter{inner: w, path: p, logger: b.logger}, nil
}

func (b *Buffered) Read(ctx context.Context, p string, r Range) (io.ReadCloser, error) {
	return b.inner.Read(ctx, p, r)
}

func (b *Buffered) List(ctx context.Context, p string) (Lister, error) {
	return b.inner.List(ctx, p)
}

func (b *Buffered) Stat(ctx context.Context, p string) (Metadata, error) {
	return b.inner.Stat(ctx, p)
}

func (b *Buffered) Delete(ctx context.Context, p string) error {
	return b.inner.Delete(ctx, p)
}

func (b *Buffered) CreateDir(ctx context.Context, p string) error {
	return b.inner.CreateDir(ctx, p)
}

func (b *Buffered) Rename(ctx context.Context, from, to string) error {
	return b.inner.Rename(ctx, from, to)
}

// bufferedWriter is owned by one request; it is not safe for concurrent use.
type bufferedWriter struct {
	inner  Writer
	path   string
	logger *slog.Logger
	buf    bytes.Buffer
	done   bool
}

// Write appends p to the buffer. It never touches the underlying writer.
func (w *bufferedWriter) Write(_ context.Context, p []byte) (int, error) {
	if w.done {
		return 0, ErrWriterClosed
	}

	return w.buf.Write(p)
}

// Close hands the whole payload to the underlying writer in one Write, then
// closes it. The buffer is released whatever the outcome.
func (w *bufferedWriter) Close(ctx context.Context) (Metadata, error) {
	if w.done {
		return Metadata{}, ErrWriterClosed
	}

	w.done = true
	payload := w.buf.Bytes()

	defer func() {
		w.buf = bytes.Buffer{}
	}()

	w.logger.Debug("flushing buffered write",
		slog.String("path", w.path),
		slog.Int("size", len(payload)),
	)

	if _, err := w.inner.Write(ctx, payload); err != nil {
		if abortErr := w.inner.Abort(ctx); abortErr != nil {
			w.logger.Warn("aborting failed write",
				slog.String("path", w.path),
				slog.String("error", abortErr.Error()),
			)
		}

		return Metadata{}, err
	}

	return w.inner.Close(ctx)
}

// Abort drops the buffer; nothing is transmitted.
func (w *bufferedWriter) Abort(ctx context.Context) error {
	if w.done {
		return nil
	}

	w.done = true
	w.buf = bytes.Buffer{}

	return w.inner.Abort(ctx)
}
