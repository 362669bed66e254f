// Package logger holds the process-wide root logger. Components obtain
// named sub-loggers from it so log output carries a consistent prefix.
package logger

import (
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/videoforge/videoforge/internal/config"
)

var (
	root hclog.Logger
	mu   sync.RWMutex
)

// Init builds the root logger from configuration.
func Init(cfg config.LoggingConfig) {
	mu.Lock()
	defer mu.Unlock()
	root = hclog.New(&hclog.LoggerOptions{
		Name:       "videoforge",
		Level:      hclog.LevelFromString(cfg.Level),
		Output:     os.Stdout,
		JSONFormat: cfg.JSON,
	})
}

// Root returns the root logger, initializing a default one if needed.
func Root() hclog.Logger {
	mu.RLock()
	l := root
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		root = hclog.New(&hclog.LoggerOptions{
			Name:   "videoforge",
			Level:  hclog.Info,
			Output: os.Stdout,
		})
	}
	return root
}

// Named returns a named sub-logger of the root logger.
func Named(name string) hclog.Logger {
	return Root().Named(name)
}
