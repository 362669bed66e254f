package handlers

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/process"
)

// Health reports service liveness plus process uptime and memory usage.
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.started).Seconds(),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			resp["memory"] = gin.H{
				"rss": mem.RSS,
				"vms": mem.VMS,
			}
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			resp["cpu_percent"] = cpu
		}
	}

	c.JSON(http.StatusOK, resp)
}
