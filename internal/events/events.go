// Package events provides the in-process event bus used to observe job
// lifecycle changes without polling the job store.
package events

import (
	"time"
)

// EventType identifies a class of event.
type EventType string

const (
	EventTranscodeRequested EventType = "transcode.requested"
	EventTranscodeProgress  EventType = "transcode.progress"
	EventTranscodeCompleted EventType = "transcode.completed"
	EventTranscodeFailed    EventType = "transcode.failed"
	EventTranscodeCancelled EventType = "transcode.cancelled"

	EventVideoUploaded   EventType = "video.uploaded"
	EventVideoDiscovered EventType = "video.discovered"
)

// Event is a single job-lifecycle or storage notification.
type Event struct {
	Type       EventType `json:"type"`
	JobID      string    `json:"job_id,omitempty"`
	VideoID    string    `json:"video_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Progress   int       `json:"progress,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
