package transcoder

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/videoforge/videoforge/internal/database"
	"github.com/videoforge/videoforge/internal/events"
	"github.com/videoforge/videoforge/internal/metrics"
)

// Identity describes the caller on whose behalf an operation runs. The
// upload/authorization layer authenticates it before it reaches the
// orchestrator.
type Identity struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the identity carries the administrator role.
func (i Identity) IsAdmin() bool {
	return i.Role == "admin"
}

// Authorizer is the policy check point for job access. The orchestrator
// only exposes the hook; policy lives with the caller.
type Authorizer interface {
	CanAccessJob(requester Identity, job *database.TranscodeJob) bool
}

// OwnerOrAdminAuthorizer grants access to the job's owner and to
// administrators.
type OwnerOrAdminAuthorizer struct{}

// CanAccessJob implements Authorizer.
func (OwnerOrAdminAuthorizer) CanAccessJob(requester Identity, job *database.TranscodeJob) bool {
	return requester.IsAdmin() || requester.UserID == job.UserID
}

// CreateJobRequest is a transcode submission.
type CreateJobRequest struct {
	VideoID       string
	InputFilename string
	Quality       string
	Format        string
	Parameters    map[string]string
}

// Service is the orchestrator's caller-facing surface: job creation with
// fire-and-forget dispatch, reads with ownership checks, and cancellation.
type Service struct {
	store  JobStore
	coord  *Coordinator
	authz  Authorizer
	bus    *events.Bus
	logger hclog.Logger
}

// NewService creates the orchestrator service.
func NewService(store JobStore, coord *Coordinator, authz Authorizer, bus *events.Bus, logger hclog.Logger) *Service {
	return &Service{
		store:  store,
		coord:  coord,
		authz:  authz,
		bus:    bus,
		logger: logger.Named("transcoder"),
	}
}

// CreateJob records a pending job and dispatches it for background
// processing. It returns as soon as the record is durable; transcoding
// proceeds asynchronously.
func (s *Service) CreateJob(ctx context.Context, requester Identity, req CreateJobRequest) (*database.TranscodeJob, error) {
	job, err := s.store.Create(ctx, CreateParams{
		UserID:        requester.UserID,
		VideoID:       req.VideoID,
		InputFilename: req.InputFilename,
		Quality:       req.Quality,
		Format:        req.Format,
		Parameters:    req.Parameters,
	})
	if err != nil {
		return nil, err
	}

	metrics.JobsCreatedTotal.Inc()
	s.bus.Publish(events.Event{
		Type:   events.EventTranscodeRequested,
		JobID:  job.ID,
		UserID: job.UserID,
		Status: string(job.Status),
	})

	s.coord.Dispatch(job.ID)
	return job, nil
}

// GetJob returns a job if the requester owns it or is an administrator.
func (s *Service) GetJob(ctx context.Context, requester Identity, id string) (*database.TranscodeJob, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.authz.CanAccessJob(requester, job) {
		return nil, ErrForbidden
	}
	return job, nil
}

// ListJobs returns jobs ordered by creation time descending with optional
// status filtering and pagination. The HTTP layer restricts it to callers
// with the view_all permission.
func (s *Service) ListJobs(ctx context.Context, status database.JobStatus, limit, offset int) ([]database.TranscodeJob, int64, error) {
	return s.store.ListAll(ctx, status, limit, offset)
}

// ListJobsByUser returns a user's jobs if the requester is that user or an
// administrator.
func (s *Service) ListJobsByUser(ctx context.Context, requester Identity, userID string) ([]database.TranscodeJob, error) {
	if !requester.IsAdmin() && requester.UserID != userID {
		return nil, ErrForbidden
	}
	return s.store.ListByUser(ctx, userID)
}

// CancelJob requests early termination of a non-terminal job. The record
// is marked cancelled through the state machine; stopping the underlying
// engine invocation is best-effort and the coordinator drops any further
// progress writes for the job.
func (s *Service) CancelJob(ctx context.Context, requester Identity, id string) (*database.TranscodeJob, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.authz.CanAccessJob(requester, job) {
		return nil, ErrForbidden
	}
	if job.Status.Terminal() {
		return nil, ErrInvalidState
	}

	job, err = s.store.ApplyTransition(ctx, id, database.JobStatusCancelled, TransitionFields{})
	if err != nil {
		if IsInvalidTransition(err) {
			// The job reached a terminal status between the check and
			// the transition.
			return nil, ErrInvalidState
		}
		return nil, err
	}

	s.coord.Stop(id)

	metrics.JobsFinishedTotal.WithLabelValues(string(database.JobStatusCancelled)).Inc()
	s.logger.Info("cancelled job", "job_id", id, "requested_by", requester.UserID)
	s.bus.Publish(events.Event{
		Type:     events.EventTranscodeCancelled,
		JobID:    job.ID,
		UserID:   job.UserID,
		Status:   string(job.Status),
		Progress: job.Progress,
	})
	return job, nil
}
