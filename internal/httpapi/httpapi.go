// Package httpapi implements the verification HTTP surface (spec §6):
// health check plus the enqueue/list/get/run endpoints over a
// verification.Workflow, wrapped in the {ok, data}/{ok:false, error}
// response envelope. Routing uses go-chi/chi, grounded on its
// standard documented router/middleware shape (the example pack carries
// go-chi/chi and go-chi/cors in AKJUS-bsc-erigon's go.mod but no direct
// usage site in that repo's source; this package is the first concrete
// consumer in SPEC_FULL.md's domain-stack wiring).
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Th0rgal/explain.md-sub002/internal/logging"
	"github.com/Th0rgal/explain.md-sub002/internal/verification"
)

// Server wires a verification.Workflow behind the HTTP surface.
type Server struct {
	workflow *verification.Workflow
	router   chi.Router
}

// NewServer constructs the router and registers every route (spec §6).
func NewServer(workflow *verification.Workflow) *Server {
	s := &Server{workflow: workflow}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api/verification", func(r chi.Router) {
		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs", s.handleEnqueue)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/run", s.handleRunJob)
		r.Post("/run-next", s.handleRunNext)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Get(logging.CategoryHTTP).Debug("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

// envelope is the {ok, data}/{ok:false, error} response shape (spec §6).
type envelope struct {
	OK    bool          `json:"ok"`
	Data  any           `json:"data,omitempty"`
	Error *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeOK(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{OK: true, Data: data})
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{OK: false, Error: &envelopeError{Code: code, Message: message}})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jobView is the JSON-facing projection of a verification.Job, including
// the reproducibility/job hashes spec §6 requires the listing to carry.
type jobView struct {
	JobID               string  `json:"jobId"`
	QueueSequence        int     `json:"queueSequence"`
	Status               string  `json:"status"`
	LeafID               string  `json:"leafId"`
	ReproducibilityHash  string  `json:"reproducibilityHash"`
	JobHash              string  `json:"jobHash"`
	ReplayCommand        string  `json:"replayCommand"`
}

func toJobView(j verification.Job) jobView {
	return jobView{
		JobID:               j.JobID,
		QueueSequence:        j.QueueSequence,
		Status:               string(j.Status),
		LeafID:               j.Target.LeafID,
		ReproducibilityHash:  verification.ComputeVerificationReproducibilityHash(j.Reproducibility),
		JobHash:              verification.ComputeVerificationJobHash(&j),
		ReplayCommand:        verification.ReplayCommand(j.Reproducibility),
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	leafID := r.URL.Query().Get("leafId")

	var jobs []verification.Job
	if leafID != "" {
		jobs = s.workflow.ListJobsForLeaf(leafID)
	} else {
		jobs = s.workflow.ListJobs()
	}

	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, toJobView(j))
	}
	writeOK(w, http.StatusOK, views)
}

// enqueueRequest is the POST /api/verification/jobs request body.
type enqueueRequest struct {
	JobID            string            `json:"jobId"`
	LeafID           string            `json:"leafId"`
	Description      string            `json:"description"`
	SourceRevision   string            `json:"sourceRevision"`
	WorkingDirectory string            `json:"workingDirectory"`
	Command          string            `json:"command"`
	Args             []string          `json:"args"`
	Env              map[string]string `json:"env"`
	LeanVersion      string            `json:"leanVersion"`
	LakeVersion      string            `json:"lakeVersion"`
	TimeoutMs        int               `json:"timeoutMs"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_request", "malformed JSON body: "+err.Error())
		return
	}
	if req.JobID == "" || req.LeafID == "" || req.Command == "" {
		writeErr(w, http.StatusBadRequest, "invalid_request", "jobId, leafId, and command are required")
		return
	}
	if req.TimeoutMs <= 0 {
		req.TimeoutMs = 30000
	}

	job, err := s.workflow.Enqueue(
		req.JobID,
		verification.Target{LeafID: req.LeafID, Description: req.Description},
		verification.ReproducibilityContract{
			SourceRevision:   req.SourceRevision,
			WorkingDirectory: req.WorkingDirectory,
			Command:          req.Command,
			Args:             req.Args,
			Env:              req.Env,
			Toolchain:        verification.ToolchainInfo{LeanVersion: req.LeanVersion, LakeVersion: req.LakeVersion},
		},
		req.TimeoutMs,
	)
	if err != nil {
		var dup *verification.EnqueueError
		if errors.As(err, &dup) {
			writeErr(w, http.StatusConflict, "duplicate_job_id", err.Error())
			return
		}
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeOK(w, http.StatusCreated, toJobView(*job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.workflow.GetJob(id)
	if !ok {
		writeErr(w, http.StatusNotFound, "not_found", "no job with id "+id)
		return
	}
	writeOK(w, http.StatusOK, toJobView(*job))
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, ok := s.workflow.GetJob(id)
	if !ok {
		writeErr(w, http.StatusNotFound, "not_found", "no job with id "+id)
		return
	}
	if job.Status != verification.StatusQueued {
		writeErr(w, http.StatusConflict, "run_conflict", "job is not queued (status="+string(job.Status)+")")
		return
	}

	ran, err := s.workflow.RunJob(id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeOK(w, http.StatusOK, toJobView(*ran))
}

func (s *Server) handleRunNext(w http.ResponseWriter, r *http.Request) {
	ran, err := s.workflow.RunNextQueuedJob()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if ran == nil {
		writeOK(w, http.StatusOK, nil)
		return
	}
	writeOK(w, http.StatusOK, toJobView(*ran))
}
