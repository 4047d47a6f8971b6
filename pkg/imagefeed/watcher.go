// Package imagefeed keeps the shared image in sync with a file on disk.
//
// The watcher observes the file's directory rather than the file itself so
// that editors and encoders which replace the file by renaming a temporary
// file over it are still picked up.
package imagefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the file must stay quiet before it is read.
const DefaultDebounce = 50 * time.Millisecond

// Sink receives new image content. It reports whether the content changed.
type Sink interface {
	ReplaceImage(blob []byte) bool
}

// Watcher feeds the content of one file into a Sink.
type Watcher struct {
	path     string
	sink     Sink
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
}

// NewWatcher watches path. A debounce of zero selects DefaultDebounce.
func NewWatcher(path string, sink Sink, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:     abs,
		sink:     sink,
		watcher:  watcher,
		debounce: debounce,
		logger:   logger,
	}, nil
}

// Path returns the watched file
func (w *Watcher) Path() string {
	return w.path
}

// Load reads the file once and hands it to the sink. A missing file is
// not an error; the feed simply starts empty.
func (w *Watcher) Load() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.logger.Info("image file not present yet", "path", w.path)
			return nil
		}
		return fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if w.sink.ReplaceImage(data) {
		w.logger.Info("image loaded", "path", w.path, "bytes", len(data))
	}
	return nil
}

// Run processes file events until ctx is cancelled. It closes the
// underlying watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			if err := w.Load(); err != nil {
				w.logger.Warn("image reload failed", "path", w.path, "error", err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("image watcher error", "path", w.path, "error", err)
		}
	}
}
