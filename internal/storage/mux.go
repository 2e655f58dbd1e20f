package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/tonimelisma/paperfs/internal/metrics"
)

// Metric labels for the two sides of a Multiplexer.
const (
	labelA = "a"
	labelB = "b"
)

// Multiplexer presents two backends as one. Object operations go wholly to
// A when inA(path) holds and to B otherwise. Listings are the entries of A
// followed by the entries of B. Directories are always created in B.
type Multiplexer struct {
	a, b    Backend
	inA     Route
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewMultiplexer creates a Multiplexer. m may be nil.
func NewMultiplexer(a, b Backend, inA Route, logger *slog.Logger, m *metrics.Metrics) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Multiplexer{a: a, b: b, inA: inA, logger: logger, metrics: m}
}

func (m *Multiplexer) pick(p string) (Backend, string) {
	if m.inA(p) {
		return m.a, labelA
	}

	return m.b, labelB
}

func (m *Multiplexer) record(label, op string, err error) {
	m.metrics.StorageOp(label, op, err)
}

// Read delegates to the backend owning p.
func (m *Multiplexer) Read(ctx context.Context, p string, r Range) (io.ReadCloser, error) {
	be, label := m.pick(p)
	rc, err := be.Read(ctx, p, r)
	m.record(label, "read", err)

	return rc, err
}

// Write delegates to the backend owning p.
func (m *Multiplexer) Write(ctx context.Context, p string) (Writer, error) {
	be, label := m.pick(p)
	w, err := be.Write(ctx, p)
	m.record(label, "write", err)

	return w, err
}

// Stat delegates to the backend owning p.
func (m *Multiplexer) Stat(ctx context.Context, p string) (Metadata, error) {
	be, label := m.pick(p)
	md, err := be.Stat(ctx, p)
	m.record(label, "stat", err)

	return md, err
}

// Delete delegates to the backend owning p.
func (m *Multiplexer) Delete(ctx context.Context, p string) error {
	be, label := m.pick(p)
	err := be.Delete(ctx, p)
	m.record(label, "delete", err)

	return err
}

// CreateDir always creates the directory in B.
func (m *Multiplexer) CreateDir(ctx context.Context, p string) error {
	err := m.b.CreateDir(ctx, p)
	m.record(labelB, "mkdir", err)

	return err
}

// Rename delegates when both paths belong to the same backend. Moving an
// object between backends returns ErrUnsupported.
func (m *Multiplexer) Rename(ctx context.Context, from, to string) error {
	src, srcLabel := m.pick(from)
	_, dstLabel := m.pick(to)

	if srcLabel != dstLabel {
		m.logger.Warn("rename across backends refused",
			slog.String("from", from),
			slog.String("to", to),
		)

		return ErrUnsupported
	}

	err := src.Rename(ctx, from, to)
	m.record(srcLabel, "rename", err)

	return err
}

// List opens a listing over both backends. A is opened lazily on the first
// Next, B only once A is exhausted. Any error from A ends the listing.
func (m *Multiplexer) List(_ context.Context, p string) (Lister, error) {
	return &concatLister{mux: m, path: p}, nil
}

type listPhase int

const (
	phaseA listPhase = iota
	phaseB
	phaseDone
)

// concatLister yields every entry of A then every entry of B. Its own mutex
// makes it safe to share between goroutines.
type concatLister struct {
	mux  *Multiplexer
	path string

	mu    sync.Mutex
	phase listPhase
	cur   Lister
}

func (l *concatLister) Next(ctx context.Context) (Metadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.phase != phaseDone {
		if l.cur == nil {
			be, label := l.mux.a, labelA
			if l.phase == phaseB {
				be, label = l.mux.b, labelB
			}

			inner, err := be.List(ctx, l.path)
			l.mux.record(label, "list", err)

			if err != nil {
				l.phase = phaseDone
				return Metadata{}, err
			}

			l.cur = inner
		}

		md, err := l.cur.Next(ctx)
		if err == nil {
			return md, nil
		}

		_ = l.cur.Close()
		l.cur = nil

		if !errors.Is(err, io.EOF) {
			l.phase = phaseDone
			return Metadata{}, err
		}

		l.phase++
	}

	return Metadata{}, io.EOF
}

func (l *concatLister) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.phase = phaseDone

	if l.cur == nil {
		return nil
	}

	err := l.cur.Close()
	l.cur = nil

	return err
}
