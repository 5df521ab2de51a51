// Package server exposes the decoders over HTTP.
//
// Routes:
//
//   - POST /v1/decode: decode one log-probability matrix.
//   - POST /v1/decode/batch: decode several matrices concurrently.
//   - POST /v1/perplexity: score text with the configured language model.
//   - GET /v1/stream: websocket session that decodes rows as they arrive.
//   - GET /v1/vocabulary: the loaded symbol table.
//   - /healthz, /readyz and /metrics when the matching options are set.
//
// The decoding setup lives in an [Engine] that can be swapped at runtime with
// [Server.SetEngine]; requests already in flight finish on the engine they
// started with.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/ctcdecode/internal/health"
	"github.com/MrWong99/ctcdecode/internal/observe"
	"github.com/MrWong99/ctcdecode/internal/resilience"
	"github.com/MrWong99/ctcdecode/pkg/ctc"
	"github.com/MrWong99/ctcdecode/pkg/lm"
	"github.com/MrWong99/ctcdecode/pkg/vocab"
)

// DefaultMaxBodyBytes caps request bodies when [WithMaxBodyBytes] is not used.
const DefaultMaxBodyBytes = 64 << 20

// Streamer starts incremental decodes. [*ctc.BeamSearch] implements it.
type Streamer interface {
	NewStream() *ctc.Stream
}

// Engine is one immutable decoding setup.
type Engine struct {
	// Mode labels metrics and responses ("beam" or "greedy").
	Mode string

	// Decoder serves /v1/decode and /v1/decode/batch.
	Decoder ctc.Decoder

	// NBest is the most hypotheses Decoder returns per input. Requests
	// asking for more are rejected. Zero disables the check.
	NBest int

	// Streamer serves /v1/stream. Nil disables streaming.
	Streamer Streamer

	// Vocabulary is the symbol table shared by every decoder above.
	Vocabulary *vocab.Vocabulary

	// Model serves /v1/perplexity. Nil disables the endpoint.
	Model lm.Model

	// LogBase is the base of Model's log-probabilities. Zero means e.
	LogBase float64
}

// Server handles the HTTP API. Create one with [New].
type Server struct {
	engine atomic.Pointer[Engine]

	sem          *semaphore.Weighted
	maxWeight    int64
	batchWorkers int
	maxTimesteps int
	maxBodyBytes int64

	metrics        *observe.Metrics
	health         *health.Handler
	metricsHandler http.Handler
	log            *slog.Logger
}

// Option configures a [Server].
type Option func(*Server)

// WithMaxConcurrent bounds the number of decodes running at once. A batch
// counts once per worker. n <= 0 means unlimited.
func WithMaxConcurrent(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
			s.maxWeight = int64(n)
		}
	}
}

// WithBatchWorkers caps the workers of a single batch request. n <= 0 means
// one worker per input.
func WithBatchWorkers(n int) Option {
	return func(s *Server) { s.batchWorkers = n }
}

// WithMaxTimesteps rejects inputs longer than n rows. n <= 0 means no limit.
func WithMaxTimesteps(n int) Option {
	return func(s *Server) { s.maxTimesteps = n }
}

// WithMaxBodyBytes overrides [DefaultMaxBodyBytes].
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a Server that decodes with e.
func New(e *Engine, opts ...Option) *Server {
	s := &Server{maxBodyBytes: DefaultMaxBodyBytes}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.engine.Store(e)
	return s
}

// Engine returns the current engine.
func (s *Server) Engine() *Engine { return s.engine.Load() }

// SetEngine replaces the engine for new requests.
func (s *Server) SetEngine(e *Engine) {
	s.engine.Store(e)
	s.log.Info("server: engine replaced", "mode", e.Mode, "language_model", e.Model != nil)
}

// Loaded reports whether an engine with a decoder is installed. It backs the
// readiness check.
func (s *Server) Loaded() bool {
	e := s.engine.Load()
	return e != nil && e.Decoder != nil
}

// Handler returns the routed API wrapped in [observe.Middleware].
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/decode", s.handleDecode)
	mux.HandleFunc("POST /v1/decode/batch", s.handleBatch)
	mux.HandleFunc("POST /v1/perplexity", s.handlePerplexity)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("GET /v1/vocabulary", s.handleVocabulary)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return observe.Middleware(s.metrics)(mux)
}

// acquire reserves n decode slots. The returned release must be called once.
func (s *Server) acquire(ctx context.Context, n int64) (release func(), err error) {
	if s.sem == nil {
		return func() {}, nil
	}
	n = min(n, s.maxWeight)
	if err := s.sem.Acquire(ctx, n); err != nil {
		return nil, err
	}
	return func() { s.sem.Release(n) }, nil
}

// ── Errors ──────────────────────────────────────────────────────────────────

var (
	errBadRequest     = errors.New("server: bad request")
	errNotImplemented = errors.New("server: not available")
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, ctc.ErrInvalidInput),
		errors.Is(err, ctc.ErrInvalidConfiguration),
		errors.Is(err, lm.ErrNoWords):
		return http.StatusBadRequest
	case errors.Is(err, errNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, ctc.ErrLanguageModel),
		errors.Is(err, resilience.ErrAllFailed),
		errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// kindFor extends [observe.ErrorKind] with the server's own errors.
func kindFor(err error) string {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, lm.ErrNoWords):
		return "invalid_input"
	case errors.Is(err, errNotImplemented):
		return "not_implemented"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "language_model"
	}
	return observe.ErrorKind(err)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Warn("server: request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kindFor(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: write response", "err", err)
	}
}
