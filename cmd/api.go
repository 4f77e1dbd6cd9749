package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/store"
)

// apiConfig holds the HTTP surface settings.
type apiConfig struct {
	APIKey       string
	CORSOrigins  []string
	DefaultLimit int
	LookbackHrs  int
}

// apiServer exposes the pipeline operations over HTTP. Background runs use
// the server context so shutdown cancels them.
type apiServer struct {
	ctx       context.Context
	store     store.Store
	pipeline  *pipeline.Pipeline
	collector *monitoring.Collector
	cfg       apiConfig

	runs   sync.WaitGroup
	mu     sync.Mutex
	active map[string]bool
}

// buildRouter wires the API routes. collector may be nil, in which case
// /stats is not served.
func buildRouter(ctx context.Context, env *appEnv, collector *monitoring.Collector, cfg apiConfig) (http.Handler, *apiServer) {
	s := &apiServer{
		ctx:       ctx,
		store:     env.Store,
		pipeline:  env.Pipeline,
		collector: collector,
		cfg:       cfg,
		active:    make(map[string]bool),
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(requireAPIKey(cfg.APIKey))

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Get("/", s.listJobs)
			r.Get("/{id}", s.jobStatus)
			r.Delete("/{id}", s.deleteJob)
			r.Post("/{id}/advance", s.advanceJob)
			r.Post("/{id}/run", s.runJob)
			r.Get("/{id}/leads", s.jobLeads)
		})
		r.Post("/leads/{id}/requeue", s.requeueLead)
		r.Post("/reconcile", s.reconcile)
		r.Get("/templates", s.listTemplates)
		if collector != nil {
			r.Get("/stats", s.stats)
		}
	})

	return r, s
}

// requireAPIKey checks a bearer token when key is set.
func requireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *apiServer) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createJobRequest struct {
	Query       string `json:"query"`
	ResultLimit int    `json:"result_limit"`
	Template    string `json:"template"`
	Run         bool   `json:"run"`
}

func (s *apiServer) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ResultLimit == 0 {
		req.ResultLimit = s.cfg.DefaultLimit
	}

	job, err := s.pipeline.StartJob(r.Context(), req.Query, req.ResultLimit, req.Template)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !req.Run {
		writeJSON(w, http.StatusCreated, job)
		return
	}
	s.runInBackground(job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *apiServer) listJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		Status: model.JobStatus(r.URL.Query().Get("status")),
		Limit:  50,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *apiServer) jobStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.pipeline.GetJobStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *apiServer) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) advanceJob(w http.ResponseWriter, r *http.Request) {
	out, err := s.pipeline.RunStage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) runJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	if !s.runInBackground(id) {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "running", "job_id": id})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "job_id": id})
}

// runInBackground starts Run for jobID unless this server already runs it.
func (s *apiServer) runInBackground(jobID string) bool {
	s.mu.Lock()
	if s.active[jobID] {
		s.mu.Unlock()
		return false
	}
	s.active[jobID] = true
	s.mu.Unlock()

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, jobID)
			s.mu.Unlock()
		}()

		job, _, err := s.pipeline.Run(s.ctx, jobID)
		if err != nil {
			zap.L().Error("background job run failed", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		zap.L().Info("background job run finished",
			zap.String("job_id", jobID),
			zap.String("status", string(job.Status)),
		)
	}()
	return true
}

// Wait blocks until background runs return.
func (s *apiServer) Wait() { s.runs.Wait() }

func (s *apiServer) jobLeads(w http.ResponseWriter, r *http.Request) {
	var raw []string
	if v := r.URL.Query().Get("status"); v != "" {
		raw = strings.Split(v, ",")
	}
	statuses, err := parseLeadStatuses(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	leads, err := s.pipeline.GetLeads(r.Context(), chi.URLParam(r, "id"), statuses...)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leads)
}

func (s *apiServer) requeueLead(w http.ResponseWriter, r *http.Request) {
	lead, err := s.pipeline.RequeueLead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (s *apiServer) reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.pipeline.Reconcile(r.Context(), r.URL.Query().Get("job"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *apiServer) listTemplates(w http.ResponseWriter, r *http.Request) {
	tmpls, err := s.store.ListTemplates(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpls)
}

func (s *apiServer) stats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collector.Collect(r.Context(), s.cfg.LookbackHrs)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrDuplicateSend):
		return http.StatusConflict
	case resilience.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case resilience.IsTransient(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		zap.L().Error("api request failed", zap.Error(err))
	}
	writeError(w, code, err.Error())
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
