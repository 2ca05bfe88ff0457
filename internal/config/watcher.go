// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// HOT RELOAD
// =============================================================================

// Watcher re-loads the configuration whenever the file changes on disk and
// hands each valid new configuration to the registered callback. Invalid
// edits are logged and skipped, keeping the last good configuration active.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   *slog.Logger

	fsw      *fsnotify.Watcher
	mu       sync.Mutex
	debounce *time.Timer
	closed   bool
}

// debounceDelay coalesces editor write bursts into one reload.
const debounceDelay = 250 * time.Millisecond

// Watch starts watching the config file at path. The callback runs on the
// watcher goroutine with each successfully loaded configuration.
func Watch(path string, onChange func(*Config), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: atomic saves replace the file and
	// would detach a file-level watch.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		onChange: onChange,
		logger:   logger,
		fsw:      fsw,
	}
	go w.loop()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(debounceDelay, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := LoadFromPath(w.path)
	if err != nil {
		w.logger.Warn("config reload skipped",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}
	w.logger.Info("config reloaded", slog.String("path", w.path))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
