package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pricesmith/pricesmith/internal/api/response"
	"github.com/pricesmith/pricesmith/internal/provider"
	"github.com/pricesmith/pricesmith/internal/queue"
	"github.com/pricesmith/pricesmith/pkg/models"
)

// JobScheduler is the queue surface the sync handlers depend on.
type JobScheduler interface {
	Enqueue(job *models.SyncJob) error
	Get(id uuid.UUID) (*models.SyncJob, error)
	Cancel(id uuid.UUID) error
	Status() (queue.Status, error)
}

// Default scheduling precedence per job type; lower runs sooner.
var defaultPriority = map[string]int{
	models.JobTypePriceUpdate:       1,
	models.JobTypeAvailabilityCheck: 2,
	models.JobTypeProductDetails:    3,
	models.JobTypeFullSync:          5,
}

// NewTriggerSyncHandler returns the handler for POST /api/v1/sync. It
// enqueues one job per requested provider; unknown providers fail the
// request before anything is enqueued.
func NewTriggerSyncHandler(q JobScheduler, reg *provider.Registry, maxRetries int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Providers []string       `json:"providers"`
			Type      string         `json:"type"`
			Priority  *int           `json:"priority,omitempty"`
			Payload   map[string]any `json:"payload,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.Type == "" {
			req.Type = models.JobTypeFullSync
		}
		if !models.ValidJobType(req.Type) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"type must be one of full_sync, price_update, availability_check, product_details", nil)
			return
		}

		providers := req.Providers
		if len(providers) == 0 {
			providers = reg.Names()
		}
		for _, name := range providers {
			if _, ok := reg.Get(name); !ok {
				response.Error(w, http.StatusBadRequest, "UNKNOWN_PROVIDER",
					"No adapter registered for provider "+name, nil)
				return
			}
		}

		priority := defaultPriority[req.Type]
		if req.Priority != nil {
			priority = *req.Priority
		}

		jobs := make([]*models.SyncJob, 0, len(providers))
		for _, name := range providers {
			job := &models.SyncJob{
				Provider:   name,
				Type:       req.Type,
				Priority:   priority,
				Payload:    req.Payload,
				MaxRetries: maxRetries,
			}
			if err := q.Enqueue(job); err != nil {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Failed to enqueue job", nil)
				return
			}
			jobs = append(jobs, job)
		}

		response.Accepted(w, jobs)
	}
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(q JobScheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a UUID", nil)
			return
		}

		job, err := q.Get(id)
		if errors.Is(err, queue.ErrJobNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "No such job", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}
		response.JSON(w, job)
	}
}

// NewCancelJobHandler returns the handler for DELETE /api/v1/jobs/{jobID}.
// Only pending jobs may be cancelled.
func NewCancelJobHandler(q JobScheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a UUID", nil)
			return
		}

		err = q.Cancel(id)
		switch {
		case errors.Is(err, queue.ErrJobNotFound):
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "No such job", nil)
		case errors.Is(err, queue.ErrJobNotPending):
			response.Error(w, http.StatusConflict, "JOB_NOT_PENDING",
				"Only pending jobs can be cancelled", nil)
		case err != nil:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to cancel job", nil)
		default:
			response.JSON(w, map[string]any{"cancelled": true})
		}
	}
}

// NewQueueStatusHandler returns the handler for GET /api/v1/queue/status.
func NewQueueStatusHandler(q JobScheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := q.Status()
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read queue status", nil)
			return
		}
		response.JSON(w, st)
	}
}
