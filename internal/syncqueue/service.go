package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/learnlyhq/learnly-backend/internal/enrollments"
	"github.com/learnlyhq/learnly-backend/pkg/config"
	"github.com/learnlyhq/learnly-backend/pkg/db/models"
	"github.com/learnlyhq/learnly-backend/pkg/enums"
	pkgerrors "github.com/learnlyhq/learnly-backend/pkg/errors"
	"github.com/learnlyhq/learnly-backend/pkg/lms"
	"github.com/learnlyhq/learnly-backend/pkg/logger"
	"github.com/learnlyhq/learnly-backend/pkg/outbox"
	"github.com/learnlyhq/learnly-backend/pkg/outbox/payloads"
	"github.com/learnlyhq/learnly-backend/pkg/pagination"
)

type lmsEnroller interface {
	Enroll(ctx context.Context, req lms.EnrollRequest) (*lms.EnrollResult, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type courseFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Course, error)
}

type affiliateResolver interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Affiliate, error)
}

type eventEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Stats reports what one drain pass did.
type Stats struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Released  int `json:"released"`
}

type jobOutcome int

const (
	// outcomeRetrying covers both a rescheduled job and one left leased for
	// reclaim after a write error.
	outcomeRetrying jobOutcome = iota
	outcomeCompleted
	outcomeFailed
)

// Service owns the durable LMS sync queue: the synchronous first attempt,
// queued retries with backoff, and the operator resync path.
type Service interface {
	Enqueue(ctx context.Context, enrollmentID uuid.UUID, payload lms.EnrollRequest, initialDelay time.Duration) (*models.SyncJob, error)
	SyncNow(ctx context.Context, enrollment *models.Enrollment, course *models.Course) error
	Drain(ctx context.Context, batchSize int) (Stats, error)
	ResyncEnrollment(ctx context.Context, enrollmentID uuid.UUID) (*models.Enrollment, error)
	ListJobs(ctx context.Context, status *enums.SyncJobStatus, params pagination.Params) ([]models.SyncJob, *pagination.Cursor, error)
}

// ServiceParams groups dependencies for the sync queue service.
type ServiceParams struct {
	Repo        Repository
	Enrollments enrollments.Repository
	Courses     courseFinder
	Affiliates  affiliateResolver
	LMS         lmsEnroller
	TxRunner    txRunner
	Outbox      eventEmitter
	Logger      *logger.Logger
	WorkerID    string
	Config      config.SyncConfig
}

type service struct {
	repo        Repository
	enrollments enrollments.Repository
	courses     courseFinder
	affiliates  affiliateResolver
	lms         lmsEnroller
	tx          txRunner
	outbox      eventEmitter
	logg        *logger.Logger
	workerID    string
	cfg         config.SyncConfig
}

// NewService builds the sync queue service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "sync job repo required")
	}
	if params.Enrollments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "enrollment repo required")
	}
	if params.Courses == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "course finder required")
	}
	if params.Affiliates == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "affiliate resolver required")
	}
	if params.LMS == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "lms client required")
	}
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if strings.TrimSpace(params.WorkerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "worker id required")
	}

	cfg := params.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Minute
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 32 * time.Minute
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 10 * time.Minute
	}

	return &service{
		repo:        params.Repo,
		enrollments: params.Enrollments,
		courses:     params.Courses,
		affiliates:  params.Affiliates,
		lms:         params.LMS,
		tx:          params.TxRunner,
		outbox:      params.Outbox,
		logg:        params.Logger,
		workerID:    strings.TrimSpace(params.WorkerID),
		cfg:         cfg,
	}, nil
}

// Enqueue creates a pending job carrying the marshaled enrollment request so
// queue attempts replay exactly what the synchronous attempt sent.
func (s *service) Enqueue(ctx context.Context, enrollmentID uuid.UUID, payload lms.EnrollRequest, initialDelay time.Duration) (*models.SyncJob, error) {
	if enrollmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "enrollment id is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal sync payload")
	}
	if initialDelay < 0 {
		initialDelay = 0
	}

	job := &models.SyncJob{
		ID:           uuid.New(),
		JobType:      enums.SyncJobTypeLMSEnroll,
		EnrollmentID: enrollmentID,
		Payload:      body,
		Status:       enums.SyncJobStatusPending,
		MaxAttempts:  s.cfg.MaxAttempts,
		NextRetryAt:  time.Now().UTC().Add(initialDelay),
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create sync job")
	}

	logCtx := s.logg.WithJobID(ctx, job.ID.String())
	logCtx = s.logg.WithEnrollmentID(logCtx, enrollmentID.String())
	s.logg.Info(logCtx, "sync job enqueued")
	return job, nil
}

// SyncNow runs the synchronous sync leg after a payment lands: one attempt,
// a short pause, one more attempt, then hand-off to the durable queue. The
// enrollment is already paid; nothing here may fail the caller's transition.
func (s *service) SyncNow(ctx context.Context, enrollment *models.Enrollment, course *models.Course) error {
	if enrollment == nil || course == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "enrollment and course are required")
	}

	logCtx := s.logg.WithEnrollmentID(ctx, enrollment.ID.String())
	req := s.buildEnrollRequest(logCtx, enrollment, course)

	result, err := s.lms.Enroll(ctx, req)
	if err == nil {
		return s.recordSyncSuccess(logCtx, enrollment.ID, result.EnrollmentID)
	}
	s.logg.Error(logCtx, "lms sync failed, retrying once", err)

	if s.pause(ctx, s.cfg.ImmediateRetryDelay) {
		result, err = s.lms.Enroll(ctx, req)
		if err == nil {
			return s.recordSyncSuccess(logCtx, enrollment.ID, result.EnrollmentID)
		}
		s.logg.Error(logCtx, "lms sync retry failed, queueing", err)
	}

	msg := err.Error()
	if uerr := s.enrollments.UpdateSyncProgress(ctx, enrollment.ID, enums.SyncStatusRetrying, 0, &msg); uerr != nil {
		s.logg.Error(logCtx, "update sync progress", uerr)
	}
	if _, qerr := s.Enqueue(ctx, enrollment.ID, req, s.cfg.BaseDelay); qerr != nil {
		return qerr
	}
	return nil
}

// Drain releases stale leases, then claims and runs due jobs until the batch
// is spent or the queue is empty. LMS-level attempt failures are reflected in
// the stats, not the returned error; only unexpected write failures aggregate.
func (s *service) Drain(ctx context.Context, batchSize int) (Stats, error) {
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}

	var stats Stats
	var errs error

	released, err := s.repo.ReleaseStale(ctx, time.Now().UTC())
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("release stale leases: %w", err))
	}
	stats.Released = int(released)

	for stats.Processed < batchSize {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}

		job, err := s.repo.ClaimNext(ctx, s.workerID, time.Now().UTC(), s.cfg.LeaseTimeout)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("claim job: %w", err))
			break
		}
		if job == nil {
			break
		}

		stats.Processed++
		outcome, err := s.processJob(ctx, job)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("job %s: %w", job.ID, err))
		}
		switch outcome {
		case outcomeCompleted:
			stats.Completed++
		case outcomeFailed:
			stats.Failed++
		}
	}
	return stats, errs
}

func (s *service) processJob(ctx context.Context, job *models.SyncJob) (jobOutcome, error) {
	logCtx := s.logg.WithJobID(ctx, job.ID.String())
	logCtx = s.logg.WithEnrollmentID(logCtx, job.EnrollmentID.String())

	var req lms.EnrollRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		// A payload that cannot be decoded will never succeed on a later
		// attempt either.
		return s.failJob(logCtx, job, job.Attempts+1, fmt.Sprintf("decode payload: %v", err))
	}

	result, err := s.lms.Enroll(ctx, req)
	if err == nil {
		if merr := s.enrollments.MarkSyncSucceeded(ctx, job.EnrollmentID, result.EnrollmentID); merr != nil {
			// Leave the lease in place; reclaim retries the write-back.
			return outcomeRetrying, fmt.Errorf("record sync success: %w", merr)
		}
		if merr := s.repo.MarkCompleted(ctx, job.ID); merr != nil {
			return outcomeRetrying, fmt.Errorf("mark completed: %w", merr)
		}
		s.logg.Info(logCtx, "sync job completed")
		return outcomeCompleted, nil
	}

	attempts := job.Attempts + 1
	msg := err.Error()
	if attempts >= job.MaxAttempts {
		return s.failJob(logCtx, job, attempts, msg)
	}

	delay := retryDelay(attempts, s.cfg.BaseDelay, s.cfg.MaxDelay)
	updated, rerr := s.repo.Reschedule(ctx, job.ID, attempts, time.Now().UTC().Add(delay), msg)
	if rerr != nil {
		return outcomeRetrying, fmt.Errorf("reschedule: %w", rerr)
	}
	if !updated {
		s.logg.Info(logCtx, "job resolved elsewhere, skipping retry write")
		return outcomeCompleted, nil
	}
	if uerr := s.enrollments.UpdateSyncProgress(ctx, job.EnrollmentID, enums.SyncStatusRetrying, attempts, &msg); uerr != nil {
		return outcomeRetrying, fmt.Errorf("update sync progress: %w", uerr)
	}

	logCtx = s.logg.WithField(logCtx, "attempts", attempts)
	s.logg.Warn(logCtx, "sync attempt failed, rescheduled")
	return outcomeRetrying, nil
}

// failJob terminally fails a leased job: job row, enrollment sync state, and
// the operator-facing outbox event move together or not at all.
func (s *service) failJob(ctx context.Context, job *models.SyncJob, attempts int, lastError string) (jobOutcome, error) {
	now := time.Now().UTC()
	var resolvedElsewhere bool

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		updated, err := s.repo.WithTx(tx).MarkFailed(ctx, job.ID, attempts, lastError)
		if err != nil {
			return err
		}
		if !updated {
			resolvedElsewhere = true
			return nil
		}
		if err := s.enrollments.WithTx(tx).UpdateSyncProgress(ctx, job.EnrollmentID, enums.SyncStatusFailed, attempts, &lastError); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEnrollmentSyncFailed,
			AggregateType: enums.AggregateEnrollment,
			AggregateID:   job.EnrollmentID,
			Data: payloads.EnrollmentSyncFailedEvent{
				EnrollmentID: job.EnrollmentID,
				JobID:        job.ID,
				Attempts:     attempts,
				LastError:    lastError,
				FailedAt:     now,
			},
			Version:    1,
			OccurredAt: now,
		})
	})
	if err != nil {
		// Lease reclaim re-runs the job and lands back here.
		return outcomeRetrying, fmt.Errorf("fail job: %w", err)
	}
	if resolvedElsewhere {
		s.logg.Info(ctx, "job resolved elsewhere, skipping failure write")
		return outcomeCompleted, nil
	}

	s.logg.Error(ctx, "sync job failed permanently", errors.New(lastError))
	return outcomeFailed, nil
}

// ResyncEnrollment is the operator path: call the LMS directly, and on
// success update the same enrollment fields the queue path updates and close
// any job still tracking the enrollment.
func (s *service) ResyncEnrollment(ctx context.Context, enrollmentID uuid.UUID) (*models.Enrollment, error) {
	if enrollmentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "enrollment id is required")
	}

	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "enrollment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load enrollment")
	}
	if enrollment.Status != enums.EnrollmentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "enrollment is not paid")
	}

	course, err := s.courses.FindByID(ctx, enrollment.CourseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "course not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load course")
	}

	logCtx := s.logg.WithEnrollmentID(ctx, enrollmentID.String())
	result, err := s.lms.Enroll(ctx, s.buildEnrollRequest(logCtx, enrollment, course))
	if err != nil {
		return nil, err
	}
	if err := s.recordSyncSuccess(logCtx, enrollmentID, result.EnrollmentID); err != nil {
		return nil, err
	}

	enrollment.SyncStatus = enums.SyncStatusSuccess
	enrollment.LMSEnrollmentID = &result.EnrollmentID
	enrollment.LastSyncError = nil
	return enrollment, nil
}

func (s *service) ListJobs(ctx context.Context, status *enums.SyncJobStatus, params pagination.Params) ([]models.SyncJob, *pagination.Cursor, error) {
	return s.repo.ListJobs(ctx, status, params)
}

func (s *service) buildEnrollRequest(ctx context.Context, enrollment *models.Enrollment, course *models.Course) lms.EnrollRequest {
	req := lms.EnrollRequest{
		UserEmail:  enrollment.Email,
		CourseID:   course.LMSCourseID,
		PaidStatus: enrollment.Status == enums.EnrollmentStatusPaid,
		PaymentID:  enrollment.ID.String(),
		Amount:     enrollment.Amount.StringFixed(2),
		Currency:   enrollment.Currency,
	}
	if enrollment.StripeSessionID != nil && *enrollment.StripeSessionID != "" {
		req.PaymentID = *enrollment.StripeSessionID
	}
	if enrollment.AffiliateID != nil {
		affiliate, err := s.affiliates.FindByID(ctx, *enrollment.AffiliateID)
		if err != nil {
			// Attribution is already recorded locally; sync without the code.
			s.logg.Error(ctx, "resolve referral code", err)
		} else {
			req.ReferralCode = affiliate.ReferralCode
		}
	}
	return req
}

func (s *service) recordSyncSuccess(ctx context.Context, enrollmentID uuid.UUID, lmsEnrollmentID string) error {
	if err := s.enrollments.MarkSyncSucceeded(ctx, enrollmentID, lmsEnrollmentID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record sync success")
	}
	closed, err := s.repo.CompleteOpenForEnrollment(ctx, enrollmentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close open sync jobs")
	}

	logCtx := s.logg.WithEnrollmentID(ctx, enrollmentID.String())
	if closed > 0 {
		logCtx = s.logg.WithField(logCtx, "closed_jobs", closed)
	}
	s.logg.Info(logCtx, "lms sync succeeded")
	return nil
}

func (s *service) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
