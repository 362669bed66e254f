package transcoder

import (
	"errors"
	"fmt"

	"github.com/videoforge/videoforge/internal/database"
)

var (
	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("job not found")

	// ErrForbidden is returned when the requester is neither the job's
	// owner nor an administrator.
	ErrForbidden = errors.New("access denied")

	// ErrInvalidState is returned when cancelling a job that already
	// reached a terminal status.
	ErrInvalidState = errors.New("job already in a terminal state")
)

// InvalidTransitionError is returned when the state machine rejects a
// requested status move.
type InvalidTransitionError struct {
	JobID string
	From  database.JobStatus
	To    database.JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s for job %s", e.From, e.To, e.JobID)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
