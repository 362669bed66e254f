package transcoder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/videoforge/videoforge/internal/database"
	"github.com/videoforge/videoforge/internal/events"
	"github.com/videoforge/videoforge/internal/metrics"
	"github.com/videoforge/videoforge/internal/storage"
)

// CoordinatorConfig contains tuning for the coordinator.
type CoordinatorConfig struct {
	// MaxConcurrent bounds simultaneous engine invocations. Zero means
	// unbounded; queued jobs stay pending until a slot frees.
	MaxConcurrent int

	// JobTimeout force-fails engine invocations that exceed the deadline.
	// Zero disables the timeout.
	JobTimeout time.Duration
}

// DefaultCoordinatorConfig returns the default coordinator configuration.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		MaxConcurrent: 4,
		JobTimeout:    2 * time.Hour,
	}
}

// Coordinator drives jobs from pending to a terminal status by delegating
// to the external engine. Each job runs as an independent cancellable unit
// of work; one job's failure never affects siblings. All shared mutation
// goes through the job store, which serializes per id.
type Coordinator struct {
	store  JobStore
	engine Engine
	paths  storage.Paths
	bus    *events.Bus
	logger hclog.Logger
	config CoordinatorConfig

	// Worker pool semaphore; nil when unbounded.
	slots chan struct{}

	// Per-job cancel funcs for best-effort engine stops.
	cancels sync.Map // map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewCoordinator creates a coordinator.
func NewCoordinator(store JobStore, engine Engine, paths storage.Paths, bus *events.Bus, logger hclog.Logger, config CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		store:  store,
		engine: engine,
		paths:  paths,
		bus:    bus,
		logger: logger.Named("coordinator"),
		config: config,
	}
	if config.MaxConcurrent > 0 {
		c.slots = make(chan struct{}, config.MaxConcurrent)
	}
	return c
}

// Dispatch starts background processing of a job. It returns immediately;
// the caller observes the outcome through the job store or the event bus.
func (c *Coordinator) Dispatch(jobID string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(jobID)
	}()
}

// Stop requests a best-effort termination of a running engine invocation.
// It does not transition the job; cancellation goes through the state
// machine first, then calls Stop.
func (c *Coordinator) Stop(jobID string) {
	if cancel, ok := c.cancels.Load(jobID); ok {
		cancel.(context.CancelFunc)()
	}
}

// ActiveJobs returns the number of engine invocations in flight.
func (c *Coordinator) ActiveJobs() int {
	if c.slots == nil {
		return -1
	}
	return len(c.slots)
}

// Shutdown waits for in-flight jobs to settle, up to the context deadline.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const recoverPageSize = 500

// Recover resumes work after a restart: pending jobs are re-dispatched and
// jobs stranded in processing are failed, since their engine processes died
// with the previous incarnation.
func (c *Coordinator) Recover(ctx context.Context) error {
	return c.recover(ctx, recoverPageSize)
}

func (c *Coordinator) recover(ctx context.Context, pageSize int) error {
	// Failing a stranded job removes it from the processing filter, so
	// each page is re-read from offset zero. A page with no successful
	// transition means the remaining records are stuck; stop rather than
	// spin on them.
	var failed int
	for {
		stranded, _, err := c.store.ListAll(ctx, database.JobStatusProcessing, pageSize, 0)
		if err != nil {
			return err
		}
		if len(stranded) == 0 {
			break
		}
		progressed := false
		for _, job := range stranded {
			if c.failJob(job.ID, "interrupted by server restart") {
				progressed = true
				failed++
			}
		}
		if !progressed {
			break
		}
	}

	// Collect every pending id before dispatching any, so concurrent
	// status changes cannot shift records out of later pages.
	var pendingIDs []string
	for offset := 0; ; offset += pageSize {
		pending, _, err := c.store.ListAll(ctx, database.JobStatusPending, pageSize, offset)
		if err != nil {
			return err
		}
		for _, job := range pending {
			pendingIDs = append(pendingIDs, job.ID)
		}
		if len(pending) < pageSize {
			break
		}
	}
	for _, id := range pendingIDs {
		c.Dispatch(id)
	}

	if failed > 0 || len(pendingIDs) > 0 {
		c.logger.Info("recovered jobs after restart",
			"failed_stranded", failed, "redispatched_pending", len(pendingIDs))
	}
	return nil
}

// run drives a single job to a terminal status. Every failure path is
// captured on the job record; nothing escapes to the process.
func (c *Coordinator) run(jobID string) {
	log := c.logger.With("job_id", jobID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during transcoding", "panic", r)
			c.failJob(jobID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if c.slots != nil {
		c.slots <- struct{}{}
		defer func() { <-c.slots }()
	}

	ctx := context.Background()

	job, err := c.store.GetByID(ctx, jobID)
	if err != nil {
		log.Error("failed to load job for dispatch", "error", err)
		return
	}

	// Double-dispatch guard; also covers jobs cancelled while queued.
	if job.Status != database.JobStatusPending {
		log.Debug("skipping dispatch, job no longer pending", "status", job.Status)
		return
	}

	job, err = c.store.ApplyTransition(ctx, jobID, database.JobStatusProcessing, TransitionFields{})
	if err != nil {
		// Lost the race to a concurrent cancel; nothing to do.
		log.Debug("could not enter processing", "error", err)
		return
	}

	metrics.JobsActive.Inc()
	started := time.Now()
	defer func() {
		metrics.JobsActive.Dec()
		metrics.JobDuration.Observe(time.Since(started).Seconds())
	}()

	preset := ResolvePreset(job.Quality)
	inputPath := c.paths.InputPath(job.InputFilename)
	outputPath := c.paths.OutputPath(job.ID, job.Quality, job.Format)

	if _, err := os.Stat(inputPath); err != nil {
		c.failJob(jobID, fmt.Sprintf("input file not found: %s", job.InputFilename))
		return
	}

	params, err := job.GetParameters()
	if err != nil {
		c.failJob(jobID, fmt.Sprintf("invalid job parameters: %v", err))
		return
	}

	jobCtx, cancel := c.jobContext()
	c.cancels.Store(jobID, cancel)
	defer func() {
		c.cancels.Delete(jobID)
		cancel()
	}()

	log.Info("starting transcoding",
		"input", inputPath,
		"output", outputPath,
		"quality", job.Quality,
		"format", job.Format)

	req := EngineRequest{
		InputPath:  inputPath,
		OutputPath: outputPath,
		Format:     job.Format,
		Preset:     preset,
		Parameters: params,
	}

	runErr := c.engine.Run(jobCtx, req, func(percent float64) {
		c.onProgress(jobCtx, jobID, percent)
	})

	if runErr != nil {
		c.finishWithError(ctx, jobID, outputPath, runErr, log)
		return
	}

	finished, err := c.store.ApplyTransition(ctx, jobID, database.JobStatusCompleted,
		TransitionFields{OutputPath: outputPath})
	if err != nil {
		// The job was cancelled between the engine finishing and the
		// transition; the record stays cancelled.
		log.Warn("completion transition rejected", "error", err)
		return
	}

	metrics.JobsFinishedTotal.WithLabelValues(string(database.JobStatusCompleted)).Inc()
	log.Info("transcoding completed", "output", outputPath)
	c.bus.Publish(events.Event{
		Type:       events.EventTranscodeCompleted,
		JobID:      jobID,
		UserID:     finished.UserID,
		Status:     string(finished.Status),
		Progress:   finished.Progress,
		OutputPath: finished.OutputPath,
	})
}

// onProgress records a single engine progress event. Updates are dropped
// once the job's context is cancelled; the store additionally ignores
// terminal jobs and regressions.
func (c *Coordinator) onProgress(jobCtx context.Context, jobID string, percent float64) {
	if jobCtx.Err() != nil {
		return
	}

	value := int(math.Round(percent))
	if value < 0 {
		value = 0
	} else if value > 100 {
		value = 100
	}

	job, err := c.store.SetProgress(context.Background(), jobID, value)
	if err != nil {
		c.logger.Error("failed to record progress", "job_id", jobID, "error", err)
		return
	}
	if job.Status != database.JobStatusProcessing {
		return
	}

	c.bus.Publish(events.Event{
		Type:     events.EventTranscodeProgress,
		JobID:    jobID,
		UserID:   job.UserID,
		Status:   string(job.Status),
		Progress: job.Progress,
	})
}

// finishWithError resolves an engine error into the job's terminal state.
// A cancelled job keeps its cancelled status; everything else fails with
// the engine's message verbatim.
func (c *Coordinator) finishWithError(ctx context.Context, jobID, outputPath string, runErr error, log hclog.Logger) {
	job, err := c.store.GetByID(ctx, jobID)
	if err == nil && job.Status == database.JobStatusCancelled {
		// Best-effort cleanup of the partial output.
		if removeErr := os.Remove(outputPath); removeErr != nil && !os.IsNotExist(removeErr) {
			log.Warn("failed to remove partial output", "error", removeErr)
		}
		log.Info("transcoding stopped after cancellation")
		return
	}

	message := runErr.Error()
	if errors.Is(runErr, context.DeadlineExceeded) {
		message = "transcode timed out"
	} else if errors.Is(runErr, context.Canceled) {
		// Cancelled context without a cancelled record happens on
		// shutdown; keep a descriptive message.
		message = "transcode aborted"
	}

	log.Error("transcoding failed", "error", message)
	c.failJob(jobID, message)
}

func (c *Coordinator) failJob(jobID, message string) bool {
	job, err := c.store.ApplyTransition(context.Background(), jobID, database.JobStatusFailed,
		TransitionFields{Error: message})
	if err != nil {
		c.logger.Error("failed to record job failure", "job_id", jobID, "error", err)
		return false
	}

	metrics.JobsFinishedTotal.WithLabelValues(string(database.JobStatusFailed)).Inc()
	c.bus.Publish(events.Event{
		Type:     events.EventTranscodeFailed,
		JobID:    jobID,
		UserID:   job.UserID,
		Status:   string(job.Status),
		Progress: job.Progress,
		Error:    job.Error,
	})
	return true
}

func (c *Coordinator) jobContext() (context.Context, context.CancelFunc) {
	if c.config.JobTimeout > 0 {
		return context.WithTimeout(context.Background(), c.config.JobTimeout)
	}
	return context.WithCancel(context.Background())
}
