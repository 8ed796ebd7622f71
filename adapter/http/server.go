// Package http exposes an orchestrator over HTTP and WebSocket.
//
// Routes:
//
//	POST /v1/sessions          run a rule on a message, reply with the terminal session
//	GET  /v1/sessions          list stored sessions (?limit=N)
//	GET  /v1/sessions/{id}     fetch a stored session
//	GET  /v1/sessions/stream   WebSocket: send a submit body, receive each history
//	                           entry followed by the terminal session
//	GET  /health               liveness and roster
//	GET  /metrics              Prometheus exposition
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scttfrdmn/investdesk/desk"
	"github.com/scttfrdmn/investdesk/memory"
	"github.com/scttfrdmn/investdesk/observability"
	"github.com/scttfrdmn/investdesk/patterns"
)

// Version is reported by /health.
const Version = "0.3.0"

// CorrelationHeader lets callers pick the session id.
const CorrelationHeader = "X-Correlation-ID"

const maxBodyBytes = 1 << 20

// SubmitRequest is the body of POST /v1/sessions and the first WebSocket
// frame of a stream.
type SubmitRequest struct {
	Rule          patterns.RuleSpec `json:"rule"`
	Message       any               `json:"message"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// Event is one WebSocket frame sent to a streaming client.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Event types.
const (
	EventMessage = "message"
	EventSession = "session"
	EventError   = "error"
)

// Server serves one orchestrator.
type Server struct {
	orch      *patterns.Orchestrator
	store     memory.SessionStore
	logger    *slog.Logger
	mux       *http.ServeMux
	server    *http.Server
	startedAt time.Time
	mu        sync.Mutex
}

// NewServer creates a server for orch listening on addr. store may be nil,
// in which case the read routes answer 404.
func NewServer(orch *patterns.Orchestrator, store memory.SessionStore, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orch:      orch,
		store:     store,
		logger:    logger,
		mux:       http.NewServeMux(),
		startedAt: time.Now(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("POST /v1/sessions", s.handleSubmit)
	s.mux.HandleFunc("GET /v1/sessions", s.handleList)
	s.mux.HandleFunc("GET /v1/sessions/stream", s.handleStream)
	s.mux.HandleFunc("GET /v1/sessions/{id}", s.handleGet)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler with request context applied.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.ExtractHTTP(r.Context(), r.Header)
		if id := r.Header.Get(CorrelationHeader); id != "" {
			ctx = observability.WithCorrelationID(ctx, id)
		}
		s.mux.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start serves in the background until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.InfoContext(ctx, "http server listening", "addr", s.server.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.InfoContext(ctx, "http server stopping")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": Version,
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"agents":  s.orch.Names(),
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	session, err := s.run(r.Context(), r, req, nil)
	if err != nil {
		s.writeRunError(w, session, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		jsonError(w, "session store disabled", http.StatusNotFound)
		return
	}
	session, err := s.store.Load(r.Context(), r.PathValue("id"))
	if errors.Is(err, memory.ErrNotFound) {
		jsonError(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to load session", "error", err)
		jsonError(w, "failed to load session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []memory.Summary{})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	summaries, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to list sessions", "error", err)
		jsonError(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []memory.Summary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

// run builds the seed from req and runs it. The correlation id comes from the
// body, then the request header, then the message itself.
func (s *Server) run(ctx context.Context, r *http.Request, req SubmitRequest, observe func(desk.Message)) (*desk.Session, error) {
	rule, err := req.Rule.Rule()
	if err != nil {
		return nil, err
	}
	if req.Message == nil {
		return nil, desk.NewConfigurationError("message is required", nil)
	}
	seed, err := patterns.JSONTransform(req.Message)
	if err != nil {
		return nil, err
	}
	switch {
	case req.CorrelationID != "":
		seed.CorrelationID = req.CorrelationID
	case r.Header.Get(CorrelationHeader) != "":
		seed.CorrelationID = r.Header.Get(CorrelationHeader)
	}

	var opts []patterns.RunOption
	if observe != nil {
		opts = append(opts, patterns.WithHistoryObserver(observe))
	}
	return s.orch.Run(ctx, seed, rule, opts...)
}

func (s *Server) writeRunError(w http.ResponseWriter, session *desk.Session, err error) {
	var cfgErr *desk.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		body := map[string]any{"error": cfgErr.Reason}
		if len(cfgErr.Details) > 0 {
			body["details"] = cfgErr.Details
		}
		if session != nil {
			body["session"] = session
		}
		writeJSON(w, http.StatusUnprocessableEntity, body)
	case errors.Is(err, patterns.ErrStopped), errors.Is(err, patterns.ErrNotStarted):
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.logger.Error("session run failed", "error", err)
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
