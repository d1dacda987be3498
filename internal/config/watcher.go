package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events editors produce on save.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reports changes to individual files. It watches the parent
// directory so that editors that save by rename are still seen.
type Watcher struct {
	watcher   *fsnotify.Watcher
	debounce  time.Duration
	logger    *slog.Logger
	callbacks []func(string)
	files     map[string]struct{}
	timers    map[string]*time.Timer
	mu        sync.Mutex
	done      chan struct{}
	stopOnce  sync.Once
}

type WatcherOption func(*Watcher)

func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:  fw,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		files:    make(map[string]struct{}),
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Watch registers path. Only events naming a registered file are reported.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Error("failed to watch directory", "path", dir, "error", err)
		return err
	}
	w.mu.Lock()
	w.files[abs] = struct{}{}
	w.mu.Unlock()
	w.logger.Debug("watching file for changes", "path", abs)
	return nil
}

// OnChange registers a callback receiving the changed file path.
func (w *Watcher) OnChange(cb func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start processes events until Stop is called.
func (w *Watcher) Start() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.schedule(ev.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("configuration watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) StartAsync() { go w.Start() }

func (w *Watcher) schedule(name string) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[abs]; !ok {
		return
	}
	if t, ok := w.timers[abs]; ok {
		t.Reset(w.debounce)
		return
	}
	w.timers[abs] = time.AfterFunc(w.debounce, func() { w.fire(abs) })
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	delete(w.timers, path)
	cbs := append([]func(string){}, w.callbacks...)
	w.mu.Unlock()
	select {
	case <-w.done:
		return
	default:
	}
	w.logger.Info("configuration file changed", "path", path)
	for _, cb := range cbs {
		cb(path)
	}
}

// Stop ends event processing and cancels pending notifications.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		for k, t := range w.timers {
			t.Stop()
			delete(w.timers, k)
		}
		w.mu.Unlock()
		err = w.watcher.Close()
	})
	return err
}
