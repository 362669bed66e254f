package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/videoforge/videoforge/internal/apierrors"
	"github.com/videoforge/videoforge/internal/auth"
	"github.com/videoforge/videoforge/internal/database"
	"github.com/videoforge/videoforge/internal/transcoder"
)

// ListJobs returns all transcoding jobs, newest first, with optional
// status filtering and pagination.
func (h *Handlers) ListJobs(c *gin.Context) {
	status := database.JobStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		apierrors.HandleValidationError(c, "Unknown job status", "status")
		return
	}

	limit := transcoder.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			apierrors.HandleValidationError(c, "limit must be a positive integer", "limit")
			return
		}
		limit = n
	}

	offset := 0
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			apierrors.HandleValidationError(c, "offset must be a non-negative integer", "offset")
			return
		}
		offset = n
	}

	jobs, total, err := h.service.ListJobs(c.Request.Context(), status, limit, offset)
	if err != nil {
		apierrors.HandleInternalError(c, "Failed to list jobs", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetJob returns a single job, visible to its owner or an admin.
func (h *Handlers) GetJob(c *gin.Context) {
	claims := auth.ClaimsFrom(c)
	jobID := c.Param("jobId")

	job, err := h.service.GetJob(c.Request.Context(), claims.Identity(), jobID)
	if err != nil {
		apierrors.HandleServiceError(c, err, "Job", jobID)
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": job})
}

// ListUserJobs returns every job owned by the given user.
func (h *Handlers) ListUserJobs(c *gin.Context) {
	claims := auth.ClaimsFrom(c)
	userID := c.Param("userId")

	jobs, err := h.service.ListJobsByUser(c.Request.Context(), claims.Identity(), userID)
	if err != nil {
		apierrors.HandleServiceError(c, err, "Jobs", userID)
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// CancelJob cancels a pending or processing job owned by the caller.
func (h *Handlers) CancelJob(c *gin.Context) {
	claims := auth.ClaimsFrom(c)
	jobID := c.Param("jobId")

	job, err := h.service.CancelJob(c.Request.Context(), claims.Identity(), jobID)
	if err != nil {
		apierrors.HandleServiceError(c, err, "Job", jobID)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Job cancelled",
		"job":     job,
	})
}
