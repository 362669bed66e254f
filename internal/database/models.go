package database

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of a transcoding job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status accepts no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// TranscodeJob is one request to transcode an input video into a
// quality/format output. Job records are never deleted by the orchestrator;
// only file artifacts are subject to administrative cleanup.
type TranscodeJob struct {
	ID            string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID        string     `gorm:"index;type:varchar(64);not null" json:"userId"`
	VideoID       string     `gorm:"index;type:varchar(128);not null" json:"videoId"`
	InputFilename string     `gorm:"type:varchar(512);not null" json:"inputFilename"`
	Quality       string     `gorm:"type:varchar(32);not null" json:"quality"`
	Format        string     `gorm:"type:varchar(32);not null" json:"format"`
	Parameters    string     `gorm:"type:text" json:"-"` // JSON string map
	Status        JobStatus  `gorm:"type:varchar(32);not null;index" json:"status"`
	Progress      int        `gorm:"not null" json:"progress"`
	CreatedAt     time.Time  `gorm:"not null;index" json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	OutputPath    string     `gorm:"type:varchar(512)" json:"outputPath,omitempty"`
	Error         string     `gorm:"type:text" json:"error,omitempty"`
}

// TableName returns the table name for GORM.
func (TranscodeJob) TableName() string {
	return "transcode_jobs"
}

// GetParameters deserializes the Parameters JSON string.
func (j *TranscodeJob) GetParameters() (map[string]string, error) {
	if j.Parameters == "" {
		return nil, nil
	}
	var params map[string]string
	if err := json.Unmarshal([]byte(j.Parameters), &params); err != nil {
		return nil, err
	}
	return params, nil
}

// SetParameters serializes and sets the Parameters.
func (j *TranscodeJob) SetParameters(params map[string]string) error {
	if len(params) == 0 {
		j.Parameters = ""
		return nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	j.Parameters = string(data)
	return nil
}

// Video is an uploaded source file available for transcoding. The ID doubles
// as the stored filename under the upload directory.
type Video struct {
	ID           string    `gorm:"primaryKey;type:varchar(128)" json:"id"`
	OriginalName string    `gorm:"type:varchar(512)" json:"originalName"`
	Description  string    `gorm:"type:text" json:"description,omitempty"`
	Size         int64     `json:"size"`
	MimeType     string    `gorm:"type:varchar(128)" json:"mimetype"`
	UploadedBy   string    `gorm:"index;type:varchar(64)" json:"uploadedBy"`
	UploadedAt   time.Time `gorm:"not null" json:"uploadedAt"`
}

// TableName returns the table name for GORM.
func (Video) TableName() string {
	return "videos"
}

// User is an account that can upload videos and request transcodes.
type User struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Username     string    `gorm:"uniqueIndex;type:varchar(128);not null" json:"username"`
	PasswordHash string    `gorm:"type:varchar(128);not null" json:"-"`
	Role         string    `gorm:"type:varchar(32);not null" json:"role"`
	Permissions  string    `gorm:"type:text" json:"-"` // JSON string array
	CreatedAt    time.Time `gorm:"not null" json:"createdAt"`
}

// TableName returns the table name for GORM.
func (User) TableName() string {
	return "users"
}

// GetPermissions deserializes the Permissions JSON string.
func (u *User) GetPermissions() []string {
	if u.Permissions == "" {
		return nil
	}
	var perms []string
	if err := json.Unmarshal([]byte(u.Permissions), &perms); err != nil {
		return nil
	}
	return perms
}

// SetPermissions serializes and sets the Permissions.
func (u *User) SetPermissions(perms []string) error {
	data, err := json.Marshal(perms)
	if err != nil {
		return err
	}
	u.Permissions = string(data)
	return nil
}
