package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/videoforge/videoforge/internal/apierrors"
	"github.com/videoforge/videoforge/internal/auth"
	"github.com/videoforge/videoforge/internal/database"
	"github.com/videoforge/videoforge/internal/events"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

type progressFrame struct {
	JobID      string `json:"jobId"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	OutputPath string `json:"outputPath,omitempty"`
	Error      string `json:"error,omitempty"`
}

// JobProgressWS streams a job's progress and lifecycle events over a
// websocket. The connection closes once the job reaches a terminal state.
func (h *Handlers) JobProgressWS(c *gin.Context) {
	claims := auth.ClaimsFrom(c)
	jobID := c.Param("jobId")

	job, err := h.service.GetJob(c.Request.Context(), claims.Identity(), jobID)
	if err != nil {
		apierrors.HandleServiceError(c, err, "Job", jobID)
		return
	}

	// Subscribe before the initial snapshot so no event is missed in between.
	sub := h.bus.Subscribe(jobID,
		events.EventTranscodeProgress,
		events.EventTranscodeCompleted,
		events.EventTranscodeFailed,
		events.EventTranscodeCancelled,
	)
	defer h.bus.Unsubscribe(sub.ID)

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	// Drain client frames so close messages are handled.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(frame progressFrame) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(frame)
	}

	snapshot := progressFrame{
		JobID:      job.ID,
		Status:     string(job.Status),
		Progress:   job.Progress,
		OutputPath: job.OutputPath,
		Error:      job.Error,
	}
	if err := write(snapshot); err != nil {
		return
	}
	if job.Status.Terminal() {
		return
	}

	for {
		select {
		case evt, ok := <-sub.Events:
			if !ok {
				return
			}
			frame := progressFrame{
				JobID:      evt.JobID,
				Status:     evt.Status,
				Progress:   evt.Progress,
				OutputPath: evt.OutputPath,
				Error:      evt.Error,
			}
			if err := write(frame); err != nil {
				return
			}
			if database.JobStatus(evt.Status).Terminal() {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
					time.Now().Add(wsWriteTimeout))
				return
			}
		case <-clientGone:
			return
		}
	}
}
