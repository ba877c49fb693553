// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package buffer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher bumps buffer edit counters when the backing files change on
// disk outside the editor (git checkout, formatter, generator). The
// editor only reports its own edits; without this, a cache entry could
// survive an external rewrite of the file with a still-matching version.
type Watcher struct {
	registry *Registry
	fw       *fsnotify.Watcher
	onChange func(path string)
	logger   *slog.Logger
}

// NewWatcher creates a watcher over the registry.
//
// onChange is invoked (on the watcher goroutine) with the normalized
// path after the edit counter was bumped; callers typically clear the
// context cache and reschedule prefetch for the buffer. It may be nil.
func NewWatcher(registry *Registry, onChange func(path string), logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		registry: registry,
		fw:       fw,
		onChange: onChange,
		logger:   logger,
	}, nil
}

// Add starts watching a buffer's backing file.
func (w *Watcher) Add(path string) error {
	return w.fw.Add(NormalizePath(path))
}

// Remove stops watching a buffer's backing file.
func (w *Watcher) Remove(path string) error {
	return w.fw.Remove(NormalizePath(path))
}

// Run processes filesystem events until the context is cancelled or the
// underlying watcher closes.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return w.fw.Close()

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			path := NormalizePath(event.Name)
			if w.registry.Version(path) == 0 {
				// Not a tracked buffer (directory noise etc.)
				continue
			}
			version := w.registry.Bump(path)
			w.logger.Debug("external file change detected",
				slog.String("path", path),
				slog.Int64("version", version),
			)
			if w.onChange != nil {
				w.onChange(path)
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}
