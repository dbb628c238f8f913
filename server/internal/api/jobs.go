package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hallyuwire/corehub/server/internal/models"
	"github.com/hallyuwire/corehub/server/internal/queue"
)

// JobQueue is the narrow surface internal/api needs from internal/queue
// (C5). It is satisfied directly by *queue.Queue; the interface exists
// so job handlers can be tested without a live database.
type JobQueue interface {
	CreateJob(ctx context.Context, jobType models.JobType, params any, priority, maxRetries int) (int64, error)
	GetJob(ctx context.Context, jobID int64) (*models.JobQueue, error)
	CancelJob(ctx context.Context, jobID int64) (bool, error)
	ListRecentJobs(ctx context.Context, limit int) ([]models.JobQueue, error)
	GetQueueStats(ctx context.Context) (*queue.Stats, error)
}

type createJobRequest struct {
	JobType    models.JobType `json:"job_type" validate:"required"`
	Params     map[string]any `json:"params"`
	Priority   int            `json:"priority"`
	MaxRetries int            `json:"max_retries"`
}

// createJob handles the job submission surface's create_job operation.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	jobID, err := s.queue.CreateJob(r.Context(), req.JobType, req.Params, req.Priority, maxRetries)
	if err != nil {
		s.logger.Error("api: creating job failed", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"job_id": jobID})
}

// getJob handles GET /jobs/{id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.queue.GetJob(r.Context(), id)
	if err != nil {
		s.logger.Error("api: getting job failed", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// cancelJob handles POST /jobs/{id}/cancel.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	cancelled, err := s.queue.CancelJob(r.Context(), id)
	if err != nil {
		s.logger.Error("api: cancelling job failed", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	if !cancelled {
		writeError(w, http.StatusConflict, "job is not pending")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

// listRecentJobs handles GET /jobs?limit.
func (s *Server) listRecentJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r.URL.Query(), "limit")
	if !ok || limit <= 0 {
		limit = defaultPageSize
	}
	jobs, err := s.queue.ListRecentJobs(r.Context(), limit)
	if err != nil {
		s.logger.Error("api: listing recent jobs failed", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// queueStatsHandler handles GET /jobs/stats.
func (s *Server) queueStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.GetQueueStats(r.Context())
	if err != nil {
		s.logger.Error("api: getting queue stats failed", errField(err))
		writeError(w, http.StatusInternalServerError, "failed to get queue stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
