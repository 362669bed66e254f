package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/videoforge/videoforge/internal/database"
	"github.com/videoforge/videoforge/internal/events"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
	".mkv":  true,
}

// UploadMonitor watches the upload directory and registers video files
// that appear outside the upload API (e.g. dropped onto a shared volume),
// so they become addressable for transcode requests.
type UploadMonitor struct {
	db      *gorm.DB
	paths   Paths
	bus     *events.Bus
	logger  hclog.Logger
	watcher *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUploadMonitor creates a monitor for the upload directory.
func NewUploadMonitor(db *gorm.DB, paths Paths, bus *events.Bus, logger hclog.Logger) (*UploadMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &UploadMonitor{
		db:      db,
		paths:   paths,
		bus:     bus,
		logger:  logger.Named("upload-monitor"),
		watcher: watcher,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins watching the upload directory.
func (m *UploadMonitor) Start() error {
	if err := m.watcher.Add(m.paths.UploadDir); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.watchEvents()

	m.logger.Info("watching upload directory", "dir", m.paths.UploadDir)
	return nil
}

// Stop shuts the monitor down and waits for its goroutine.
func (m *UploadMonitor) Stop() {
	m.cancel()
	m.watcher.Close()
	m.wg.Wait()
}

func (m *UploadMonitor) watchEvents() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				m.handleFile(event.Name)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("watcher error", "error", err)
		}
	}
}

func (m *UploadMonitor) handleFile(path string) {
	name := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(name))
	if !videoExtensions[ext] {
		return
	}

	var existing database.Video
	err := m.db.Where("id = ?", name).First(&existing).Error
	if err == nil {
		return // already registered, write event for a known upload
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		m.logger.Error("failed to look up video", "file", name, "error", err)
		return
	}

	video := &database.Video{
		ID:           name,
		OriginalName: name,
		MimeType:     "video/" + strings.TrimPrefix(ext, "."),
		UploadedAt:   time.Now().UTC(),
	}
	if err := m.db.Create(video).Error; err != nil {
		m.logger.Error("failed to register discovered video", "file", name, "error", err)
		return
	}

	m.logger.Info("registered video discovered in upload directory", "file", name)
	m.bus.Publish(events.Event{Type: events.EventVideoDiscovered, VideoID: name})
}
