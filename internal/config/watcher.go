// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives a configuration that loaded and validated cleanly.
type ReloadFunc func(cfg *Config)

// Watcher reloads a config file when it changes on disk. Invalid edits are
// logged and ignored; the previous configuration stays in effect.
type Watcher struct {
	path      string
	loader    *Loader
	validator *Validator
	onReload  ReloadFunc
	debounce  time.Duration
	fs        *fsnotify.Watcher
}

// NewWatcher watches path. The parent directory is watched so editors that
// replace the file by rename are seen.
func NewWatcher(path string, debounce time.Duration, onReload ReloadFunc) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	return &Watcher{
		path:      abs,
		loader:    NewLoader(),
		validator: NewValidator(),
		onReload:  onReload,
		debounce:  debounce,
		fs:        fsWatcher,
	}, nil
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	pending := newDebouncer(w.debounce)
	defer pending.stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending.trigger(func() { w.reload(ctx) })

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			log.Printf("config: watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := w.loader.LoadWithDefaults(ctx, w.path)
	if err != nil {
		log.Printf("config: reload %s: %v", w.path, err)
		return
	}
	if err := w.validator.Validate(cfg); err != nil {
		log.Printf("config: reload %s: invalid: %v", w.path, err)
		return
	}
	log.Printf("config: reloaded %s", w.path)
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
