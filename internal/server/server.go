// Package server wires the HTTP layer: router, middleware, and routes.
package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/videoforge/videoforge/internal/auth"
	"github.com/videoforge/videoforge/internal/config"
	"github.com/videoforge/videoforge/internal/events"
	"github.com/videoforge/videoforge/internal/metrics"
	"github.com/videoforge/videoforge/internal/server/handlers"
	"github.com/videoforge/videoforge/internal/storage"
	"github.com/videoforge/videoforge/internal/transcoder"
)

// Deps are the collaborators the HTTP layer exposes.
type Deps struct {
	Config  *config.Config
	DB      *gorm.DB
	Service *transcoder.Service
	Auth    *auth.Manager
	Bus     *events.Bus
	Paths   storage.Paths
}

// SetupRouter configures and returns the main router.
func SetupRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metricsMiddleware())

	if deps.Config.Server.EnableCORS {
		r.Use(corsMiddleware())
	}

	h := handlers.New(handlers.Deps{
		Config:  deps.Config,
		DB:      deps.DB,
		Service: deps.Service,
		Auth:    deps.Auth,
		Bus:     deps.Bus,
		Paths:   deps.Paths,
	})

	registerRoutes(r, deps, h)
	return r
}

func registerRoutes(r *gin.Engine, deps Deps, h *handlers.Handlers) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/api/health", h.Health)

	authAPI := r.Group("/api/auth")
	{
		authAPI.POST("/login", h.Login)
		authAPI.POST("/register", h.RegisterUser)
		authAPI.GET("/me", deps.Auth.Middleware(), h.CurrentUser)
	}

	videos := r.Group("/api/videos", deps.Auth.Middleware())
	{
		videos.POST("/upload", auth.RequirePermission(auth.PermUpload), h.UploadVideo)
		videos.POST("/:videoId/transcode", auth.RequirePermission(auth.PermTranscode), h.StartTranscode)
		videos.GET("/my-videos", h.MyVideos)
		videos.GET("/:videoId/download", h.DownloadVideo)
		videos.DELETE("/:videoId", auth.RequirePermission(auth.PermDelete), h.DeleteVideo)
	}

	jobs := r.Group("/api/jobs", deps.Auth.Middleware())
	{
		jobs.GET("", auth.RequirePermission(auth.PermViewAll), h.ListJobs)
		jobs.GET("/:jobId", h.GetJob)
		jobs.GET("/user/:userId", h.ListUserJobs)
		jobs.POST("/:jobId/cancel", h.CancelJob)
		jobs.GET("/:jobId/progress/ws", h.JobProgressWS)
	}

	// Completed outputs are served statically; names are unique per job.
	r.Static("/outputs", deps.Paths.OutputDir)
}

// corsMiddleware allows cross-origin API access for browser frontends.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(
			c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
