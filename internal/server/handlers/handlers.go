// Package handlers contains the HTTP request handlers.
package handlers

import (
	"time"

	"gorm.io/gorm"

	"github.com/videoforge/videoforge/internal/auth"
	"github.com/videoforge/videoforge/internal/config"
	"github.com/videoforge/videoforge/internal/events"
	"github.com/videoforge/videoforge/internal/logger"
	"github.com/videoforge/videoforge/internal/storage"
	"github.com/videoforge/videoforge/internal/transcoder"

	"github.com/hashicorp/go-hclog"
)

// Deps are the collaborators handlers need.
type Deps struct {
	Config  *config.Config
	DB      *gorm.DB
	Service *transcoder.Service
	Auth    *auth.Manager
	Bus     *events.Bus
	Paths   storage.Paths
}

// Handlers bundles the HTTP handlers and their dependencies.
type Handlers struct {
	cfg     *config.Config
	db      *gorm.DB
	service *transcoder.Service
	auth    *auth.Manager
	bus     *events.Bus
	paths   storage.Paths
	logger  hclog.Logger
	started time.Time
}

// New creates the handler set.
func New(deps Deps) *Handlers {
	return &Handlers{
		cfg:     deps.Config,
		db:      deps.DB,
		service: deps.Service,
		auth:    deps.Auth,
		bus:     deps.Bus,
		paths:   deps.Paths,
		logger:  logger.Named("http"),
		started: time.Now(),
	}
}
