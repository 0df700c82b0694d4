// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package document

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadHandler is called after each debounced reload.
type ReloadHandler func(changes Changes, err error)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is how long to wait for writes to settle. Default: 150ms.
	Debounce time.Duration

	// OnReload is called after every reload attempt. May be nil.
	OnReload ReloadHandler

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Watcher reloads a saved document when its file changes on disk.
//
// # Description
//
// The containing directory is watched rather than the file itself so that
// editors that save by rename are still seen. Events for other files are
// ignored. Bursts of events are collapsed with a debounce timer; each
// flush calls Document.Reload, which emits ordinary change notifications.
//
// # Thread Safety
//
// Safe for concurrent use. Reloads happen on a single goroutine.
type Watcher struct {
	doc      *Document
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onReload ReloadHandler
	logger   *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWatcher prepares a watcher for doc. The document must have been
// saved.
func NewWatcher(doc *Document, opts WatcherOptions) (*Watcher, error) {
	path := doc.FileName()
	if path == "" {
		return nil, fmt.Errorf("watch %s: %w", doc.Name(), ErrNotSaved)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", doc.Name(), err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 150 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		doc:      doc,
		path:     filepath.Clean(path),
		watcher:  fw,
		debounce: opts.Debounce,
		onReload: opts.OnReload,
		logger:   opts.Logger.With("document", doc.Name()),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the watch is registered; events
// are processed until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop ends the watch and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("document watch error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	changes, err := w.doc.Reload()
	if err != nil {
		w.logger.Warn("document reload failed", "error", err)
	} else if !changes.Empty() {
		w.logger.Info("document reloaded",
			slog.Int("created", len(changes.Created)),
			slog.Int("deleted", len(changes.Deleted)),
			slog.Int("changed", len(changes.Changed)),
		)
	}
	if w.onReload != nil {
		w.onReload(changes, err)
	}
}
