// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persona

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/logging"
)

// DefaultDebounce is how long the directory must be quiet before a reload.
const DefaultDebounce = 300 * time.Millisecond

// =============================================================================
// FSNOTIFY WATCHER
// =============================================================================

// Watcher reloads a Store when its directory changes. Bursts of events are
// collapsed into one reload.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onReload func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithDebounce sets the quiet period before reloading.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// OnReload registers a callback run after each successful reload.
func OnReload(fn func()) WatchOption {
	return func(w *Watcher) { w.onReload = fn }
}

// Watch starts watching the store's directory, creating it if needed. The
// watcher stops when ctx is done or Close is called.
func (s *Store) Watch(ctx context.Context, opts ...WatchOption) (*Watcher, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(s.dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{store: s, watcher: fw, debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(w)
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.processEvents(ctx)
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	w.cancel()
	w.wg.Wait()
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	log := w.store.logger

	defer func() {
		if r := recover(); r != nil {
			log.Error("persona watcher panicked", logging.Fn("processEvents"), zap.Any("panic", r))
		}
	}()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isPersonaFile(filepath.Base(event.Name)) || event.Op == fsnotify.Chmod {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("persona watcher error", logging.Fn("processEvents"), zap.Error(err))

		case <-timer.C:
			if err := w.store.Reload(); err != nil {
				log.Warn("persona reload failed", logging.Fn("processEvents"), zap.Error(err))
				continue
			}
			log.Info("personas reloaded", logging.Fn("processEvents"), zap.Int("count", len(w.store.Personas())))
			if w.onReload != nil {
				w.onReload()
			}
		}
	}
}
