// Package watcher turns an inbox directory into an upload source: a video file dropped there
// is handed over once it has stopped growing.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/highlightr/highlightr-agent/internal/clip"
)

// DefaultSettle is how long a file must stay untouched before it counts as complete.
const DefaultSettle = 2 * time.Second

var ErrStopped = errors.New("watcher stopped")

type InboxWatcher struct {
	fs     *fsnotify.Watcher
	settle time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	onReady  func(path string)
	pending  map[string]*time.Timer
	reported map[string]time.Time
	stopped  bool
}

func New(settle time.Duration, logger *slog.Logger) (*InboxWatcher, error) {
	if settle <= 0 {
		settle = DefaultSettle
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	return &InboxWatcher{
		fs:       fw,
		settle:   settle,
		logger:   logger,
		pending:  make(map[string]*time.Timer),
		reported: make(map[string]time.Time),
	}, nil
}

// OnReady registers the callback for settled video files. It runs on a timer goroutine.
func (w *InboxWatcher) OnReady(callback func(path string)) {
	w.mu.Lock()
	w.onReady = callback
	w.mu.Unlock()
}

// Watch starts watching dir, creating it if needed. Files already present are ignored.
// Watching ends when ctx is done or Stop is called.
func (w *InboxWatcher) Watch(ctx context.Context, dir string) error {
	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}
	if err := w.fs.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching inbox", "dir", dir, "settle", w.settle)

	go w.loop(ctx)
	return nil
}

func (w *InboxWatcher) loop(ctx context.Context) {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("inbox watcher error", "error", err)
		case <-ctx.Done():
			w.Stop()
			return
		}
	}
}

func (w *InboxWatcher) handle(ev fsnotify.Event) {
	if !clip.IsVideoFile(ev.Name) || isHidden(ev.Name) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.arm(ev.Name)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.mu.Lock()
		if t, ok := w.pending[ev.Name]; ok {
			t.Stop()
			delete(w.pending, ev.Name)
		}
		delete(w.reported, ev.Name)
		w.mu.Unlock()
	}
}

// arm restarts the settle timer of path; every write pushes readiness back.
func (w *InboxWatcher) arm(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() { w.settled(path) })
}

func (w *InboxWatcher) settled(path string) {
	info, err := os.Stat(path)

	w.mu.Lock()
	delete(w.pending, path)
	if w.stopped || err != nil || info.IsDir() || info.Size() == 0 {
		w.mu.Unlock()
		return
	}
	if last, ok := w.reported[path]; ok && last.Equal(info.ModTime()) {
		w.mu.Unlock()
		return
	}
	w.reported[path] = info.ModTime()
	cb := w.onReady
	w.mu.Unlock()

	w.logger.Info("inbox file ready", "path", path, "size", clip.FormatFileSize(info.Size()))
	if cb != nil {
		cb(path)
	}
}

func (w *InboxWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
	w.mu.Unlock()

	return w.fs.Close()
}

func isHidden(path string) bool {
	base := filepath.Base(path)
	return len(base) > 0 && base[0] == '.'
}
