package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher turns file-system events in the documents folder into scan
// requests. Bursts of events are merged: fn runs once the folder has been
// quiet for the settle period.
type Watcher struct {
	w      *fsnotify.Watcher
	ext    string
	settle time.Duration
	logger *slog.Logger
}

func NewWatcher(dir, ext string, settle time.Duration) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	return &Watcher{
		w:      w,
		ext:    ext,
		settle: settle,
		logger: slog.Default().With("component", "crawler-watch"),
	}, nil
}

// Run calls fn after matching files are created, written or renamed into
// the folder. It returns when ctx is cancelled and closes the watcher.
func (w *Watcher) Run(ctx context.Context, fn func()) error {
	defer w.w.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.settle)
			fire = timer.C
			return
		}
		timer.Reset(w.settle)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case <-fire:
			fn()

		case ev, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !matchesExt(ev.Name, w.ext) {
				continue
			}
			w.logger.Debug("document change", "path", ev.Name, "op", ev.Op.String())
			schedule()

		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}
