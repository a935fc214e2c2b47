package model

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Reloader is the part of Registry the watcher drives.
type Reloader interface {
	Path(kind Kind) string
	Reload(kind Kind) error
}

// Watcher reloads models when their artefacts change on disk. Events are
// debounced per kind so a file copied in several writes reloads once.
type Watcher struct {
	reloader Reloader
	interval time.Duration

	watcher *fsnotify.Watcher
	targets map[string]Kind // cleaned artefact path -> kind
	dirs    []string

	mu         sync.Mutex
	debouncers map[Kind]*Debouncer
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewWatcher watches the directories holding the reloader's artefacts.
func NewWatcher(r Reloader, interval time.Duration) (*Watcher, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		reloader:   r,
		interval:   interval,
		watcher:    fw,
		targets:    make(map[string]Kind),
		debouncers: make(map[Kind]*Debouncer),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	seen := map[string]bool{}
	for _, k := range Kinds {
		p := r.Path(k)
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = filepath.Clean(p)
		}
		w.targets[abs] = k
		dir := filepath.Dir(abs)
		if !seen[dir] {
			seen[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}
	return w, nil
}

// Watch blocks until ctx is cancelled or Stop is called. The artefacts'
// directories must exist; the files themselves need not.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer close(w.doneCh)

	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	log.WithFields(log.Fields{
		"dirs":        w.dirs,
		"debounce_ms": w.interval.Milliseconds(),
	}).Info("model watcher started")

	for {
		select {
		case <-ctx.Done():
			log.Info("model watcher stopped")
			return nil
		case <-w.stopCh:
			log.Info("model watcher stopped")
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			kind, ok := w.kindFor(ev)
			if !ok {
				continue
			}
			log.WithFields(log.Fields{"kind": kind, "path": ev.Name, "op": ev.Op.String()}).Debug("model file event")
			w.debouncer(kind).Trigger(func() {
				if err := w.reloader.Reload(kind); err != nil {
					log.WithField("kind", kind).WithError(err).Warn("model reload after file change left detector without a model")
					return
				}
				log.WithField("kind", kind).Info("model reloaded after file change")
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			log.WithError(err).Error("model watcher error")
		}
	}
}

// Stop ends Watch and releases the fsnotify watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	w.running = false
	debouncers := w.debouncers
	w.debouncers = map[Kind]*Debouncer{}
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	for _, d := range debouncers {
		d.Stop()
	}
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) kindFor(ev fsnotify.Event) (Kind, bool) {
	if ev.Op == fsnotify.Chmod {
		return "", false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		abs = filepath.Clean(ev.Name)
	}
	k, ok := w.targets[abs]
	return k, ok
}

func (w *Watcher) debouncer(kind Kind) *Debouncer {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.debouncers[kind]
	if !ok {
		d = NewDebouncer(w.interval)
		w.debouncers[kind] = d
	}
	return d
}

// Debouncer runs the most recent callback once events stop arriving for the
// interval.
type Debouncer struct {
	interval time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	callback func()
	stopped  bool
}

func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger schedules callback, replacing any pending one.
func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.callback = callback
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		cb := d.callback
		d.callback = nil
		stopped := d.stopped
		d.mu.Unlock()

		if cb != nil && !stopped {
			cb()
		}
	})
}

// Stop cancels any pending callback.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
