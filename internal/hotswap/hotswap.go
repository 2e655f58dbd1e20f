// Package hotswap provides the request dispatcher that fronts the storage
// pipeline. It starts empty, answering 503 until the first pipeline is
// installed, and replaces the pipeline atomically whenever credentials
// change. Requests already dispatched finish on the pipeline they started
// with.
package hotswap

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tonimelisma/paperfs/internal/metrics"
)

// RetryAfterSeconds is advertised to clients while no pipeline is installed.
const RetryAfterSeconds = "30"

// NotReadyMessage is the body of the 503 answered before the first login.
const NotReadyMessage = "service not ready: login required"

// pipeline is immutable once published.
type pipeline struct {
	handler    http.Handler
	generation uint64
	id         uuid.UUID
}

// Handle is an http.Handler whose target can be replaced at any time.
// Reads are lock-free; Init calls are serialized.
type Handle struct {
	current atomic.Pointer[pipeline]
	mu      sync.Mutex // serializes Init
	gen     uint64
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New returns an uninitialized Handle. m may be nil.
func New(logger *slog.Logger, m *metrics.Metrics) *Handle {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handle{logger: logger, metrics: m}
}

// Init installs h as the active pipeline and returns its generation,
// starting at 1. There is no way back to the uninitialized state.
func (s *Handle) Init(h http.Handler) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++

	p := &pipeline{handler: h, generation: s.gen, id: uuid.New()}
	prev := s.current.Swap(p)

	attrs := []any{
		slog.Uint64("generation", p.generation),
		slog.String("pipeline_id", p.id.String()),
	}
	if prev != nil {
		attrs = append(attrs, slog.String("replaced_id", prev.id.String()))
	}

	s.logger.Info("storage pipeline installed", attrs...)
	s.metrics.PipelineSwapped(p.generation)

	return p.generation
}

// ServeHTTP forwards to the active pipeline or answers 503.
func (s *Handle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := s.current.Load()
	if p == nil {
		s.metrics.NotReady()

		w.Header().Set("Retry-After", RetryAfterSeconds)
		http.Error(w, NotReadyMessage, http.StatusServiceUnavailable)

		return
	}

	p.handler.ServeHTTP(w, r)
}

// Ready reports whether a pipeline has been installed.
func (s *Handle) Ready() bool {
	return s.current.Load() != nil
}

// Generation returns the active generation, 0 before the first Init.
func (s *Handle) Generation() uint64 {
	if p := s.current.Load(); p != nil {
		return p.generation
	}

	return 0
}
