// Package api exposes the detection pipeline over REST/JSON.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"promptgate/internal/config"
	"promptgate/internal/logging"
	"promptgate/internal/pipeline"
	"promptgate/internal/types"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// SERVER
// =============================================================================

// Server wires the pipeline to HTTP handlers.
type Server struct {
	cfg      config.ServerConfig
	pipeline *pipeline.Pipeline
	registry *prometheus.Registry
	httpSrv  *http.Server
}

// NewServer creates the HTTP surface. registry may be nil to disable the
// /metrics endpoint.
func NewServer(cfg config.ServerConfig, p *pipeline.Pipeline, registry *prometheus.Registry) *Server {
	return &Server{cfg: cfg, pipeline: p, registry: registry}
}

// Routes builds the router. Exposed separately so tests can drive the
// handlers through httptest without binding a port.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)

	r.HandleFunc("/api/detect", s.handleDetect).Methods("POST")
	r.HandleFunc("/api/detect/batch", s.handleDetectBatch).Methods("POST")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	}
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.API("Listening on %s", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	logging.API("Shutting down")
	return s.httpSrv.Shutdown(shutdownCtx)
}

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// DetectRequest is the body of POST /api/detect. Text is a pointer so a
// body that omits the field can be told apart from present-but-blank text:
// the former is malformed, the latter is a valid empty input.
type DetectRequest struct {
	Text    *string           `json:"text"`
	Context map[string]string `json:"context,omitempty"`
}

// DetectResponse wraps a verdict with the request id for correlation.
type DetectResponse struct {
	RequestID string        `json:"request_id"`
	Verdict   types.Verdict `json:"verdict"`
}

// BatchRequest is the body of POST /api/detect/batch.
type BatchRequest struct {
	Items []DetectRequest `json:"items"`
}

// BatchResponse carries one verdict per item, in order.
type BatchResponse struct {
	RequestID string          `json:"request_id"`
	Verdicts  []types.Verdict `json:"verdicts"`
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == nil {
		writeError(w, http.StatusBadRequest, "missing text field")
		return
	}

	requestID := requestIDFrom(r)
	verdict := s.pipeline.Evaluate(r.Context(), types.Request{
		Text:      *req.Text,
		Context:   req.Context,
		RequestID: requestID,
	})

	writeJSON(w, http.StatusOK, DetectResponse{RequestID: requestID, Verdict: verdict})
}

func (s *Server) handleDetectBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "batch is empty")
		return
	}
	if len(req.Items) > s.cfg.BatchLimit {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("batch exceeds limit of %d items", s.cfg.BatchLimit))
		return
	}

	requestID := requestIDFrom(r)
	reqs := make([]types.Request, len(req.Items))
	for i, item := range req.Items {
		if item.Text == nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("item %d missing text field", i))
			return
		}
		reqs[i] = types.Request{
			Text:      *item.Text,
			Context:   item.Context,
			RequestID: fmt.Sprintf("%s/%d", requestID, i),
		}
	}

	verdicts := s.pipeline.EvaluateBatch(r.Context(), reqs)
	writeJSON(w, http.StatusOK, BatchResponse{RequestID: requestID, Verdicts: verdicts})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.pipeline.Health()
	status := http.StatusOK
	state := "ok"
	if !report.Healthy() {
		state = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":     state,
		"tiers":      report,
		"cache_size": s.pipeline.CacheLen(),
	})
}

// =============================================================================
// MIDDLEWARE AND HELPERS
// =============================================================================

type ctxKey int

const requestIDKey ctxKey = 0

// requestIDMiddleware honors a caller-supplied X-Request-ID, minting one
// otherwise, and echoes it on the response.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		logging.APIDebug("%s %s id=%s took=%v", r.Method, r.URL.Path, id, time.Since(start))
	})
}

func requestIDFrom(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
