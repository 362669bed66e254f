package handlers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/videoforge/videoforge/internal/apierrors"
	"github.com/videoforge/videoforge/internal/auth"
	"github.com/videoforge/videoforge/internal/database"
	"github.com/videoforge/videoforge/internal/events"
	"github.com/videoforge/videoforge/internal/transcoder"
)

var allowedVideoTypes = map[string]bool{
	"video/mp4":        true,
	"video/avi":        true,
	"video/x-msvideo":  true,
	"video/mov":        true,
	"video/quicktime":  true,
	"video/wmv":        true,
	"video/flv":        true,
	"video/webm":       true,
	"video/mkv":        true,
	"video/x-matroska": true,
}

// UploadVideo stores an uploaded video under a unique filename and
// registers it for transcoding.
func (h *Handlers) UploadVideo(c *gin.Context) {
	claims := auth.ClaimsFrom(c)

	file, err := c.FormFile("video")
	if err != nil {
		apierrors.HandleValidationError(c, "No video file uploaded", "video")
		return
	}
	if file.Size > h.cfg.Storage.MaxUploadBytes {
		apierrors.NewValidationError("File exceeds the upload size limit", "video").ToGinResponse(c)
		return
	}

	contentType := file.Header.Get("Content-Type")
	if !allowedVideoTypes[contentType] {
		apierrors.HandleValidationError(c, "Invalid file type, only video files are allowed", "video")
		return
	}

	storedName := uuid.New().String() + filepath.Ext(file.Filename)
	dest := h.paths.InputPath(storedName)
	if err := c.SaveUploadedFile(file, dest); err != nil {
		apierrors.HandleInternalError(c, "Upload failed", err)
		return
	}

	video := &database.Video{
		ID:           storedName,
		OriginalName: file.Filename,
		Description:  c.PostForm("description"),
		Size:         file.Size,
		MimeType:     contentType,
		UploadedBy:   claims.UserID,
		UploadedAt:   time.Now().UTC(),
	}
	if err := h.db.Create(video).Error; err != nil {
		apierrors.HandleInternalError(c, "Failed to record upload", err)
		return
	}

	h.bus.Publish(events.Event{Type: events.EventVideoUploaded, VideoID: video.ID, UserID: claims.UserID})
	c.JSON(http.StatusCreated, gin.H{
		"message": "Video uploaded successfully",
		"video":   video,
	})
}

type transcodeRequest struct {
	Quality    string            `json:"quality"`
	Format     string            `json:"format"`
	Parameters map[string]string `json:"parameters"`
}

// StartTranscode creates a transcoding job for an uploaded video and
// returns immediately with 202; the work proceeds in the background.
func (h *Handlers) StartTranscode(c *gin.Context) {
	claims := auth.ClaimsFrom(c)
	videoID := c.Param("videoId")

	var req transcodeRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		apierrors.HandleValidationError(c, "Malformed transcode request", "body")
		return
	}
	if req.Quality == "" {
		req.Quality = transcoder.DefaultQuality
	}
	if req.Format == "" {
		req.Format = "mp4"
	}

	var video database.Video
	if err := h.db.Where("id = ?", videoID).First(&video).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			apierrors.HandleNotFound(c, "Video", videoID)
			return
		}
		apierrors.HandleInternalError(c, "Failed to load video", err)
		return
	}

	job, err := h.service.CreateJob(c.Request.Context(), claims.Identity(), transcoder.CreateJobRequest{
		VideoID:       video.ID,
		InputFilename: video.ID,
		Quality:       req.Quality,
		Format:        req.Format,
		Parameters:    req.Parameters,
	})
	if err != nil {
		apierrors.HandleInternalError(c, "Failed to start transcoding job", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Transcoding job started",
		"job": gin.H{
			"id":            job.ID,
			"inputFilename": job.InputFilename,
			"status":        job.Status,
			"quality":       job.Quality,
			"format":        job.Format,
			"createdAt":     job.CreatedAt,
		},
	})
}

// MyVideos lists the caller's transcoding jobs with their progress.
func (h *Handlers) MyVideos(c *gin.Context) {
	claims := auth.ClaimsFrom(c)

	jobs, err := h.service.ListJobsByUser(c.Request.Context(), claims.Identity(), claims.UserID)
	if err != nil {
		apierrors.HandleServiceError(c, err, "Jobs", claims.UserID)
		return
	}

	c.JSON(http.StatusOK, gin.H{"videos": jobs})
}

// DownloadVideo serves an original upload or a transcoded output.
func (h *Handlers) DownloadVideo(c *gin.Context) {
	videoID := filepath.Base(c.Param("videoId"))

	var path string
	if c.DefaultQuery("type", "original") == "original" {
		path = h.paths.InputPath(videoID)
	} else {
		path = filepath.Join(h.paths.OutputDir, videoID)
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		apierrors.HandleNotFound(c, "Video file", videoID)
		return
	}
	c.File(path)
}

// DeleteVideo removes a video's stored artifacts. Job records are kept;
// deletion is an administrative file operation only.
func (h *Handlers) DeleteVideo(c *gin.Context) {
	videoID := filepath.Base(c.Param("videoId"))

	if err := os.Remove(h.paths.InputPath(videoID)); err != nil && !os.IsNotExist(err) {
		h.logger.Warn("failed to remove original file", "video_id", videoID, "error", err)
	}

	// Remove any outputs derived from this video.
	var jobs []database.TranscodeJob
	if err := h.db.Where("video_id = ?", videoID).Find(&jobs).Error; err == nil {
		for _, job := range jobs {
			if job.OutputPath == "" {
				continue
			}
			name := filepath.Base(job.OutputPath)
			if !strings.HasPrefix(name, job.ID) {
				continue
			}
			if err := os.Remove(filepath.Join(h.paths.OutputDir, name)); err != nil && !os.IsNotExist(err) {
				h.logger.Warn("failed to remove output file", "job_id", job.ID, "error", err)
			}
		}
	}

	if err := h.db.Where("id = ?", videoID).Delete(&database.Video{}).Error; err != nil {
		apierrors.HandleInternalError(c, "Failed to delete video", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Video deleted successfully"})
}
