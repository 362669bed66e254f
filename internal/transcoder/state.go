package transcoder

import (
	"time"

	"github.com/videoforge/videoforge/internal/database"
)

// stateTransitions is the single source of truth for legal status moves.
// Terminal states accept no further transitions. The coordinator and the
// cancellation path must go through ApplyTransition; nothing else mutates
// job status.
var stateTransitions = map[database.JobStatus][]database.JobStatus{
	database.JobStatusPending:    {database.JobStatusProcessing, database.JobStatusCancelled},
	database.JobStatusProcessing: {database.JobStatusCompleted, database.JobStatusFailed, database.JobStatusCancelled},
	database.JobStatusCompleted:  {},
	database.JobStatusFailed:     {},
	database.JobStatusCancelled:  {},
}

// TransitionFields carries the values a transition may set on the record.
// OutputPath is honored only on entry to completed, Error only on failed.
type TransitionFields struct {
	OutputPath string
	Error      string
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to database.JobStatus) bool {
	for _, next := range stateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// applyTransition mutates the job in place for a validated move, applying
// the transition's side effects. Callers must have validated the move with
// CanTransition and hold the per-job lock.
func applyTransition(job *database.TranscodeJob, to database.JobStatus, fields TransitionFields, now time.Time) {
	switch to {
	case database.JobStatusProcessing:
		job.StartedAt = &now
	case database.JobStatusCompleted:
		job.CompletedAt = &now
		job.Progress = 100
		job.OutputPath = fields.OutputPath
	case database.JobStatusFailed:
		job.CompletedAt = &now
		job.Error = fields.Error
	case database.JobStatusCancelled:
		job.CompletedAt = &now
	}
	job.Status = to
}
