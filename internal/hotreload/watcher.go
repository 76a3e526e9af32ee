// Package hotreload re-applies a file each time it changes on disk.
package hotreload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 300 * time.Millisecond

// Handler receives the new content of the watched file.
type Handler func(ctx context.Context, content []byte) error

// Watcher follows one file. The parent directory is watched so that
// rename-on-save editors keep triggering.
type Watcher struct {
	path     string
	debounce time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	timer    *time.Timer
	stopped  bool
	inflight sync.WaitGroup
	version  string
}

func New(path string, debounce time.Duration, log *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{path: filepath.Clean(path), debounce: debounce, log: log}
}

// Version is the content hash last handed to a handler.
func (w *Watcher) Version() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.version
}

// Watch calls h whenever the file content changes, until ctx is done.
// Handler errors are logged; the watch continues. On cancellation Watch
// returns once any reload already running has finished.
func (w *Watcher) Watch(ctx context.Context, h Handler) error {
	w.mu.Lock()
	w.stopped = false
	w.mu.Unlock()
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.log.Info("watching file", "path", w.path)
	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			w.inflight.Wait()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			w.log.Debug("file event", "op", ev.Op.String(), "path", ev.Name)
			w.schedule(ctx, h)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("file watcher error", "err", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}
		w.inflight.Add(1)
		w.mu.Unlock()
		defer w.inflight.Done()
		if err := w.Reload(ctx, h); err != nil {
			w.log.Error("reload failed", "path", w.path, "err", err)
		}
	})
}

// stopTimer cancels a pending reload. Reloads that already started are
// left to finish and waited on through inflight.
func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Reload reads the file and calls h unless the content is unchanged since
// the last successful reload. A file that vanished mid-save is ignored.
func (w *Watcher) Reload(ctx context.Context, h Handler) error {
	content, err := os.ReadFile(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	sum := sha256.Sum256(content)
	version := hex.EncodeToString(sum[:8])
	w.mu.Lock()
	same := version == w.version
	w.mu.Unlock()
	if same {
		return nil
	}
	if err := h(ctx, content); err != nil {
		return err
	}
	w.mu.Lock()
	w.version = version
	w.mu.Unlock()
	w.log.Info("file reloaded", "path", w.path, "version", version)
	return nil
}
