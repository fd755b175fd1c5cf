package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/learnlyhq/learnly-backend/api/responses"
	"github.com/learnlyhq/learnly-backend/api/validators"
	"github.com/learnlyhq/learnly-backend/internal/syncqueue"
	"github.com/learnlyhq/learnly-backend/pkg/config"
	"github.com/learnlyhq/learnly-backend/pkg/db/models"
	"github.com/learnlyhq/learnly-backend/pkg/enums"
	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/pagination"
)

// ListSyncJobs returns the retry queue for operator inspection, newest first.
func ListSyncJobs(svc syncqueue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync queue service unavailable"))
			return
		}

		var status *enums.SyncJobStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseSyncJobStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			status = &parsed
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		jobs, next, err := svc.ListJobs(r.Context(), status, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSyncJobListResponse(jobs, next))
	}
}

// DrainSyncJobs runs one bounded drain pass on demand, outside the worker
// schedule.
func DrainSyncJobs(svc syncqueue.Service, cfg config.SyncConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync queue service unavailable"))
			return
		}

		stats, err := svc.Drain(r.Context(), cfg.BatchSize)
		if err != nil {
			// err aggregates lease and transport failures; per-job outcomes stay in stats.
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "drain pass incomplete").WithDetails(stats))
			return
		}

		responses.WriteSuccess(w, stats)
	}
}

// ResyncEnrollment pushes one enrollment to the LMS immediately and closes any
// open retry job for it.
func ResyncEnrollment(svc syncqueue.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync queue service unavailable"))
			return
		}

		enrollmentID, err := uuid.Parse(chi.URLParam(r, "enrollmentID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid enrollment id"))
			return
		}

		enrollment, err := svc.ResyncEnrollment(r.Context(), enrollmentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newResyncResponse(enrollment))
	}
}

type syncJobResponse struct {
	ID             uuid.UUID  `json:"id"`
	JobType        string     `json:"job_type"`
	EnrollmentID   uuid.UUID  `json:"enrollment_id"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	NextRetryAt    time.Time  `json:"next_retry_at"`
	LeasedBy       *string    `json:"leased_by,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	LastError      *string    `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type syncJobListResponse struct {
	Jobs       []syncJobResponse `json:"jobs"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func newSyncJobListResponse(jobs []models.SyncJob, next *pagination.Cursor) syncJobListResponse {
	out := syncJobListResponse{Jobs: make([]syncJobResponse, 0, len(jobs))}
	for _, job := range jobs {
		out.Jobs = append(out.Jobs, syncJobResponse{
			ID:             job.ID,
			JobType:        string(job.JobType),
			EnrollmentID:   job.EnrollmentID,
			Status:         string(job.Status),
			Attempts:       job.Attempts,
			MaxAttempts:    job.MaxAttempts,
			NextRetryAt:    job.NextRetryAt,
			LeasedBy:       job.LeasedBy,
			LeaseExpiresAt: job.LeaseExpiresAt,
			LastError:      job.LastError,
			CreatedAt:      job.CreatedAt,
			UpdatedAt:      job.UpdatedAt,
		})
	}
	if next != nil {
		out.NextCursor = pagination.EncodeCursor(*next)
	}
	return out
}

type resyncResponse struct {
	EnrollmentID    uuid.UUID `json:"enrollment_id"`
	SyncStatus      string    `json:"sync_status"`
	LMSEnrollmentID *string   `json:"lms_enrollment_id,omitempty"`
	SyncAttempts    int       `json:"sync_attempts"`
}

func newResyncResponse(enrollment *models.Enrollment) resyncResponse {
	if enrollment == nil {
		return resyncResponse{}
	}
	return resyncResponse{
		EnrollmentID:    enrollment.ID,
		SyncStatus:      string(enrollment.SyncStatus),
		LMSEnrollmentID: enrollment.LMSEnrollmentID,
		SyncAttempts:    enrollment.SyncAttempts,
	}
}
