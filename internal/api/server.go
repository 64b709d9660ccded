// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ficlib/archivist/internal/ingest"
	"github.com/ficlib/archivist/internal/metrics"
)

// Server wires HTTP handlers to the job store.
type Server struct {
	router  chi.Router
	jobs    ingest.JobStore
	matcher *ingest.SiteMatcher
	idGen   ingest.IDGenerator
	clock   ingest.Clock
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs ingest.JobStore,
	matcher *ingest.SiteMatcher,
	idGen ingest.IDGenerator,
	clock ingest.Clock,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:    jobs,
		matcher: matcher,
		idGen:   idGen,
		clock:   clock,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.enqueueJob)
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Delete("/", s.deleteJob)
				r.Post("/subscribers", s.addSubscriber)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type enqueueRequest struct {
	URL         string `json:"url"`
	BatchType   string `json:"batch_type"`
	RequestedBy string `json:"requested_by"`
	Instant     bool   `json:"instant"`
	// Optional: attach the requester as a subscriber in the same call.
	ChannelRef string `json:"channel_ref"`
	MessageRef string `json:"message_ref"`
}

func (s *Server) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	batch, err := s.resolveBatchType(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("generate job id: %v", err))
		return
	}
	now := s.clock.Now()
	job := ingest.Job{
		ID:               jobID,
		SourceURL:        req.URL,
		BatchType:        batch,
		RequestedBy:      req.RequestedBy,
		SubmittedAt:      now,
		UpdatedAt:        now,
		Status:           ingest.StatusPending,
		InstantCandidate: req.Instant,
	}
	if err := s.jobs.CreateJob(r.Context(), job); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("create job: %v", err))
		return
	}

	if req.RequestedBy != "" {
		sub := ingest.Subscriber{
			JobID:      jobID,
			UserID:     req.RequestedBy,
			ChannelRef: req.ChannelRef,
			MessageRef: req.MessageRef,
		}
		if err := s.jobs.AddSubscriber(r.Context(), sub); err != nil {
			s.logger.Warn("attach requester as subscriber failed",
				zap.String("job_id", jobID), zap.Error(err))
		}
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(ingest.StatusPending),
	})
}

// resolveBatchType validates an explicit batch type, or infers one from the
// URL shape when the caller left it out.
func (s *Server) resolveBatchType(req enqueueRequest) (ingest.BatchType, error) {
	switch req.BatchType {
	case string(ingest.BatchSingle):
		return ingest.BatchSingle, nil
	case string(ingest.BatchSeries):
		return ingest.BatchSeries, nil
	case "":
	default:
		return "", fmt.Errorf("batch_type must be %q or %q", ingest.BatchSingle, ingest.BatchSeries)
	}
	if kind, _ := s.matcher.Classify(req.URL); kind == ingest.URLSeries {
		return ingest.BatchSeries, nil
	}
	return ingest.BatchSingle, nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

// listJobs serves the notification contract: callers poll terminal statuses
// and delete jobs once delivered.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		s.writeError(w, http.StatusBadRequest, "status query parameter is required")
		return
	}
	jobs, err := s.jobs.ListByStatus(r.Context(), ingest.Status(status))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("list jobs: %v", err))
		return
	}
	if jobs == nil {
		jobs = []ingest.Job{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobs.DeleteJob(r.Context(), jobID); err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "deleted": "true"})
}

type subscribeRequest struct {
	UserID     string `json:"user_id"`
	ChannelRef string `json:"channel_ref"`
	MessageRef string `json:"message_ref"`
}

func (s *Server) addSubscriber(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.UserID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	sub := ingest.Subscriber{
		JobID:      jobID,
		UserID:     req.UserID,
		ChannelRef: req.ChannelRef,
		MessageRef: req.MessageRef,
	}
	if err := s.jobs.AddSubscriber(r.Context(), sub); err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusCreated, sub)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		duration := time.Since(start)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, duration)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
