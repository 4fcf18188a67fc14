package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"marketpulse/internal/logger"
)

// ConfigWatcher watches for configuration file changes and reloads automatically
type ConfigWatcher struct {
	configPath    string
	checkInterval time.Duration
	lastModTime   time.Time
	callbacks     []ConfigUpdateCallback
	log           logger.Logger
	mu            sync.RWMutex
	running       bool
}

// ConfigUpdateCallback represents a callback function for configuration updates
type ConfigUpdateCallback func(*Config) error

// NewConfigWatcher creates a new configuration watcher
func NewConfigWatcher(configPath string, checkInterval time.Duration, log logger.Logger) *ConfigWatcher {
	w := &ConfigWatcher{
		configPath:    configPath,
		checkInterval: checkInterval,
		log:           logger.Component(log, "config-watcher"),
	}
	if stat, err := os.Stat(configPath); err == nil {
		w.lastModTime = stat.ModTime()
	}
	return w
}

// AddCallback adds a callback for configuration updates
func (w *ConfigWatcher) AddCallback(callback ConfigUpdateCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start blocks, polling the file until ctx is cancelled.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting configuration watcher", "path", w.configPath)

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return ctx.Err()

		case <-ticker.C:
			if err := w.CheckAndReload(); err != nil {
				w.log.Warn("Error checking configuration", "error", err)
			}
		}
	}
}

// CheckAndReload reloads the file if its mtime moved forward and notifies callbacks.
func (w *ConfigWatcher) CheckAndReload() error {
	stat, err := os.Stat(w.configPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	modTime := stat.ModTime()
	w.mu.RLock()
	changed := modTime.After(w.lastModTime)
	w.mu.RUnlock()
	if !changed {
		return nil
	}

	newConfig, err := Load(w.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	w.mu.Lock()
	w.lastModTime = modTime
	callbacks := make([]ConfigUpdateCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, callback := range callbacks {
		if err := callback(newConfig); err != nil {
			w.log.Warn("Configuration update callback error", "error", err)
		}
	}

	w.log.Info("Configuration reloaded")
	return nil
}

// IsRunning returns whether the watcher is currently running
func (w *ConfigWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
