package transcoder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/videoforge/videoforge/internal/database"
)

// DefaultListLimit is applied when a caller passes a non-positive limit.
const DefaultListLimit = 50

// CreateParams are the inputs for a new job record. The upload and
// authorization layer validates them before they reach the store.
type CreateParams struct {
	UserID        string
	VideoID       string
	InputFilename string
	Quality       string
	Format        string
	Parameters    map[string]string
}

// JobStore provides CRUD plus atomic state transitions over job records.
// Mutations for the same job id are serialized; distinct ids proceed in
// parallel. Implementations are swappable without touching orchestration.
type JobStore interface {
	Create(ctx context.Context, params CreateParams) (*database.TranscodeJob, error)
	GetByID(ctx context.Context, id string) (*database.TranscodeJob, error)
	ListAll(ctx context.Context, status database.JobStatus, limit, offset int) ([]database.TranscodeJob, int64, error)
	ListByUser(ctx context.Context, userID string) ([]database.TranscodeJob, error)
	ApplyTransition(ctx context.Context, id string, to database.JobStatus, fields TransitionFields) (*database.TranscodeJob, error)
	SetProgress(ctx context.Context, id string, value int) (*database.TranscodeJob, error)
}

// GormJobStore is the database-backed job store.
type GormJobStore struct {
	db     *gorm.DB
	logger hclog.Logger

	// Per-job locks so concurrent mutations of the same id serialize
	// without blocking mutations of other jobs.
	jobLocks sync.Map // map[string]*sync.Mutex
}

// NewGormJobStore creates a job store backed by the given database.
func NewGormJobStore(db *gorm.DB, logger hclog.Logger) *GormJobStore {
	return &GormJobStore{
		db:     db,
		logger: logger.Named("job-store"),
	}
}

// Create allocates a fresh job record in pending status.
func (s *GormJobStore) Create(ctx context.Context, params CreateParams) (*database.TranscodeJob, error) {
	job := &database.TranscodeJob{
		ID:            uuid.New().String(),
		UserID:        params.UserID,
		VideoID:       params.VideoID,
		InputFilename: params.InputFilename,
		Quality:       params.Quality,
		Format:        params.Format,
		Status:        database.JobStatusPending,
		Progress:      0,
		CreatedAt:     time.Now().UTC(),
	}
	if job.Quality == "" {
		job.Quality = DefaultQuality
	}
	if job.Format == "" {
		job.Format = "mp4"
	}
	if err := job.SetParameters(params.Parameters); err != nil {
		return nil, fmt.Errorf("failed to serialize job parameters: %w", err)
	}

	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("created job",
		"job_id", job.ID,
		"user_id", job.UserID,
		"quality", job.Quality,
		"format", job.Format)
	return job, nil
}

// GetByID retrieves a job by id.
func (s *GormJobStore) GetByID(ctx context.Context, id string) (*database.TranscodeJob, error) {
	var job database.TranscodeJob
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return &job, nil
}

// ListAll returns jobs ordered by creation time descending, with optional
// status filtering and pagination.
func (s *GormJobStore) ListAll(ctx context.Context, status database.JobStatus, limit, offset int) ([]database.TranscodeJob, int64, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	query := s.db.WithContext(ctx).Model(&database.TranscodeJob{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	var jobs []database.TranscodeJob
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&jobs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, total, nil
}

// ListByUser returns a user's jobs ordered by creation time descending.
func (s *GormJobStore) ListByUser(ctx context.Context, userID string) ([]database.TranscodeJob, error) {
	var jobs []database.TranscodeJob
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs for user %s: %w", userID, err)
	}
	return jobs, nil
}

// ApplyTransition atomically moves a job to a new status, applying the
// transition's side effects. The move is validated against the state
// machine; illegal moves return InvalidTransitionError and leave the
// record untouched.
func (s *GormJobStore) ApplyTransition(ctx context.Context, id string, to database.JobStatus, fields TransitionFields) (*database.TranscodeJob, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !CanTransition(job.Status, to) {
		return nil, &InvalidTransitionError{JobID: id, From: job.Status, To: to}
	}

	oldStatus := job.Status
	applyTransition(job, to, fields, time.Now().UTC())

	if err := s.db.WithContext(ctx).Save(job).Error; err != nil {
		return nil, fmt.Errorf("failed to persist transition for job %s: %w", id, err)
	}

	if to.Terminal() {
		s.jobLocks.Delete(id)
	}

	s.logger.Debug("transitioned job",
		"job_id", id,
		"old_status", oldStatus,
		"new_status", to)
	return job, nil
}

// SetProgress records a progress value, clamped to [0,100]. Updates for
// terminal jobs and updates that would decrease the recorded value are
// ignored, so progress never regresses.
func (s *GormJobStore) SetProgress(ctx context.Context, id string, value int) (*database.TranscodeJob, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if job.Status.Terminal() {
		return job, nil
	}

	if value < 0 {
		value = 0
	} else if value > 100 {
		value = 100
	}
	if value <= job.Progress {
		return job, nil
	}

	job.Progress = value
	err = s.db.WithContext(ctx).Model(&database.TranscodeJob{}).
		Where("id = ?", id).
		Update("progress", value).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update progress for job %s: %w", id, err)
	}
	return job, nil
}

func (s *GormJobStore) lockFor(id string) *sync.Mutex {
	if lock, ok := s.jobLocks.Load(id); ok {
		return lock.(*sync.Mutex)
	}
	actual, _ := s.jobLocks.LoadOrStore(id, &sync.Mutex{})
	return actual.(*sync.Mutex)
}
