// Package watcher notices writes to the shared record database made by
// other processes and asks the engine to push them.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// defaultTick is how often pending events are checked.
	defaultTick = 500 * time.Millisecond

	// defaultQuiet is how long the database must stay untouched before
	// the callback fires, so a burst of writes becomes one push.
	defaultQuiet = time.Second
)

// Watcher calls OnChange after writes to a SQLite database file settle.
type Watcher struct {
	path     string
	onChange func(ctx context.Context)
	logger   *slog.Logger

	tick  time.Duration
	quiet time.Duration
}

// New watches the database at dbPath. The database's directory must
// exist; the file itself may not yet.
func New(dbPath string, onChange func(ctx context.Context), logger *slog.Logger) *Watcher {
	return &Watcher{
		path:     dbPath,
		onChange: onChange,
		logger:   logger.With(slog.String("component", "watcher")),
		tick:     defaultTick,
		quiet:    defaultQuiet,
	}
}

// relevant reports whether name is the database or one of its SQLite
// sidecar files (-wal, -journal). -shm changes on reads too and is
// ignored.
func (w *Watcher) relevant(name string) bool {
	base := filepath.Base(w.path)
	got := filepath.Base(name)

	if got == base {
		return true
	}

	suffix, ok := strings.CutPrefix(got, base)

	return ok && (suffix == "-wal" || suffix == "-journal")
}

// Watch blocks until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	w.logger.Info("store watcher started", slog.String("path", w.path))

	var last time.Time

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if !w.relevant(event.Name) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				last = time.Now()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			if last.IsZero() || time.Since(last) < w.quiet {
				continue
			}

			last = time.Time{}

			w.logger.Debug("store changed")
			w.onChange(ctx)
		}
	}
}
