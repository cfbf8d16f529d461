// Package api exposes the scan lifecycle over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/logger"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/otel"
)

// ScanStarter launches a new scan job. Implemented by the dispatcher.
type ScanStarter interface {
	StartScan(ctx context.Context, job *posture.Job) error
}

// StatusReader answers job status queries. Implemented by the status tracker.
type StatusReader interface {
	Status(ctx context.Context, jobID uuid.UUID, scopeID string) (posture.StatusRecord, error)
}

// Server routes scan requests to the orchestration services.
type Server struct {
	addr     string
	logger   *logger.Logger
	router   *chi.Mux
	tracer   trace.Tracer
	starter  ScanStarter
	statuses StatusReader
	queue    posture.TaskQueue
	store    posture.FindingStore
}

// NewServer wires the HTTP surface.
func NewServer(
	addr string,
	log *logger.Logger,
	tracer trace.Tracer,
	starter ScanStarter,
	statuses StatusReader,
	queue posture.TaskQueue,
	store posture.FindingStore,
) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(otel.Middleware(tracer))
	r.Use(loggerMiddleware(log))
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		logger:   log,
		router:   r,
		tracer:   tracer,
		starter:  starter,
		statuses: statuses,
		queue:    queue,
		store:    store,
	}

	s.routes()
	return s
}

func loggerMiddleware(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				log.Info(ctx, "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"trace_id", otel.GetTraceID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

func (s *Server) routes() {
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)

		r.Post("/scans", s.handleStartScan)
		r.Get("/scans/{id}/status", s.handleStatus)
		r.Post("/scans/{id}/aggregate", s.handleAggregate)
		r.Get("/scans/{id}/report", s.handleReport)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type startScanRequest struct {
	ScopeKind string `json:"scope_kind"`
	ScopeID   string `json:"scope_id"`
}

type startScanResponse struct {
	JobID     string `json:"job_id"`
	ScopeKind string `json:"scope_kind"`
	ScopeID   string `json:"scope_id"`
	Status    string `json:"status"`
}

// handleStartScan accepts a scan request and dispatches it in the background.
// The 202 promises only that the job exists; clients poll the status endpoint
// to follow it.
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	var req startScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	kind, ok := posture.ParseScopeKind(req.ScopeKind)
	if !ok {
		s.writeError(w, r, http.StatusBadRequest,
			fmt.Sprintf("unknown scope_kind %q: must be organization, folder, or project", req.ScopeKind))
		return
	}

	job, err := posture.NewJob(kind, req.ScopeID)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// The dispatch outlives the request: resolving a large organization can
	// take longer than any sane client timeout.
	go func() {
		ctx := context.WithoutCancel(r.Context())
		if err := s.starter.StartScan(ctx, job); err != nil {
			s.logger.Error(ctx, "background dispatch failed", "job_id", job.JobID(), "error", err)
		}
	}()

	s.writeJSON(w, r, http.StatusAccepted, startScanResponse{
		JobID:     job.JobID().String(),
		ScopeKind: job.ScopeKind().String(),
		ScopeID:   job.ScopeID(),
		Status:    string(posture.PhaseDispatched),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID, scopeID, ok := s.jobParams(w, r)
	if !ok {
		return
	}

	record, err := s.statuses.Status(r.Context(), jobID, scopeID)
	if err != nil {
		s.logger.Error(r.Context(), "status query failed", "job_id", jobID, "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "status unavailable")
		return
	}

	s.writeJSON(w, r, http.StatusOK, record)
}

type aggregateRequest struct {
	ScopeKind string `json:"scope_kind"`
	ScopeID   string `json:"scope_id"`
}

// handleAggregate enqueues report generation for a job whose scans are done.
// The queue, not the request, carries the retry semantics: a job that is not
// ready yet fails its delivery and is retried by the broker.
func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid job id")
		return
	}

	var req aggregateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	kind, ok := posture.ParseScopeKind(req.ScopeKind)
	if !ok || req.ScopeID == "" {
		s.writeError(w, r, http.StatusBadRequest, "scope_kind and scope_id are required")
		return
	}

	task := posture.Task{
		Kind:      posture.TaskKindAggregate,
		JobID:     jobID,
		ScopeKind: kind,
		ScopeID:   req.ScopeID,
	}
	if err := s.queue.Enqueue(r.Context(), task); err != nil {
		if errors.Is(err, posture.ErrNotReady) {
			s.writeError(w, r, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error(r.Context(), "enqueueing aggregation failed", "job_id", jobID, "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "could not enqueue aggregation")
		return
	}

	s.writeJSON(w, r, http.StatusAccepted, map[string]string{
		"job_id": jobID.String(),
		"status": string(posture.PhaseAggregating),
	})
}

// handleReport serves the finished artifacts. Artifact absence is
// indistinguishable from an unfinished job on purpose; the client message
// covers both.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	jobID, scopeID, ok := s.jobParams(w, r)
	if !ok {
		return
	}

	key := posture.ReportKey(jobID, scopeID)
	contentType := "text/html; charset=utf-8"
	if r.URL.Query().Get("format") == "csv" {
		key = posture.ExportKey(jobID, scopeID)
		contentType = "text/csv"
	}

	payload, err := s.store.Get(r.Context(), key)
	if errors.Is(err, posture.ErrRecordNotFound) {
		s.writeError(w, r, http.StatusNotFound, "Report not found or is still generating.")
		return
	}
	if err != nil {
		s.logger.Error(r.Context(), "loading report artifact failed", "job_id", jobID, "error", err)
		s.writeError(w, r, http.StatusInternalServerError, "report unavailable")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		s.logger.Warn(r.Context(), "writing report response", "job_id", jobID, "error", err)
	}
}

func (s *Server) jobParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid job id")
		return uuid.Nil, "", false
	}
	scopeID := r.URL.Query().Get("scope_id")
	if scopeID == "" {
		s.writeError(w, r, http.StatusBadRequest, "scope_id is required")
		return uuid.Nil, "", false
	}
	return jobID, scopeID, true
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(r.Context(), "encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, r, status, map[string]string{"error": msg})
}

// Start serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:     s.addr,
		Handler:  s.router,
		ErrorLog: logger.NewStdLogger(s.logger, logger.LevelError).StdLogger(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(shutdownCtx, "failed to shutdown server", "error", err)
		}
	}()

	s.logger.Info(ctx, "starting server", "addr", server.Addr, "service", "controller")

	return server.ListenAndServe()
}
