// Package watcher runs a sync whenever the shell history file settles after
// a write, and optionally on a fixed interval so failed syncs are retried.
package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kuitang/cmdhist/internal/histsync"
	"github.com/kuitang/cmdhist/internal/obs"
)

// DefaultWindow is the quiet period after the last write before syncing.
const DefaultWindow = 2 * time.Second

// Syncer runs one sync. *histsync.Engine satisfies it.
type Syncer interface {
	Sync(ctx context.Context) (histsync.Result, error)
}

// Watcher triggers syncs of one history file.
type Watcher struct {
	Path   string
	Syncer Syncer
	// Window is the debounce quiet period; zero means DefaultWindow.
	Window time.Duration
	// Interval, when positive, also syncs on a timer.
	Interval time.Duration
	// OnSync, when set, is called after every sync attempt.
	OnSync func(histsync.Result, error)
}

// Run syncs once, then watches until ctx is cancelled. Syncs never overlap:
// they all run on the calling goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	log := obs.From(ctx).With("pkg", "watcher")

	target, err := filepath.Abs(w.Path)
	if err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	// Shells often replace the history file on exit, so watch the directory
	// and match the file by name.
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		return err
	}

	window := w.Window
	if window <= 0 {
		window = DefaultWindow
	}
	trigger := make(chan struct{}, 1)
	debouncer := NewDebouncer(window, func(string) {
		select {
		case trigger <- struct{}{}:
		default:
		}
	})
	defer debouncer.Stop()

	var tick <-chan time.Time
	if w.Interval > 0 {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	log.Info("watching history file", "path", target, "window", window.String())
	w.runSync(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debouncer.Feed(target)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Warn("fsnotify error", "error", err)

		case <-trigger:
			w.runSync(ctx)

		case <-tick:
			w.runSync(ctx)
		}
	}
}

func (w *Watcher) runSync(ctx context.Context) {
	ctx = obs.WithCorrelation(ctx, obs.Correlation{RequestID: obs.NewRequestID(), Operation: "sync"})
	log := obs.From(ctx).With("pkg", "watcher")

	res, err := w.Syncer.Sync(ctx)
	switch {
	case err == nil:
		log.Debug("sync finished", "uploaded", len(res.Commands))
	case errors.Is(err, context.Canceled):
	default:
		log.Warn("sync failed; will retry on next change", "error", err)
	}
	if w.OnSync != nil {
		w.OnSync(res, err)
	}
}
