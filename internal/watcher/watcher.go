// Package watcher tracks on-disk changes to files that parsed documents
// depend on. It watches parent directories, filters events down to the
// synced file set, and debounces bursts into a single callback.
package watcher

import (
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes to a synced set of file paths. Events arriving in
// quick succession are folded into one onChange call after a quiet period.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onChange func(paths []string)

	mu    sync.Mutex
	files map[string]struct{}
	dirs  map[string]struct{}

	timerMu sync.Mutex
	timer   *time.Timer
	pending map[string]struct{}

	done chan struct{}
}

// New creates a watcher. onChange receives the sorted batch of changed
// paths after the debounce delay has passed without further events.
func New(debounce time.Duration, onChange func(paths []string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		onChange: onChange,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}

	go w.watchLoop()

	return w, nil
}

// Sync replaces the watched file set. Directories no longer backing any
// watched file are dropped; new ones are added. Paths whose directory
// cannot be watched are logged and skipped.
func (w *Watcher) Sync(paths []string) {
	files := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{})
	for _, p := range paths {
		p = filepath.Clean(p)
		files[p] = struct{}{}
		dirs[filepath.Dir(p)] = struct{}{}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for dir := range w.dirs {
		if _, ok := dirs[dir]; !ok {
			w.fsw.Remove(dir)
		}
	}
	for dir := range dirs {
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			log.Printf("Cannot watch %s: %v", dir, err)
			delete(dirs, dir)
		}
	}

	w.files = files
	w.dirs = dirs
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) {
		return
	}

	path := filepath.Clean(event.Name)
	w.mu.Lock()
	_, watched := w.files[path]
	w.mu.Unlock()
	if !watched {
		return
	}

	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// flush delivers the accumulated batch. Runs on the timer goroutine.
func (w *Watcher) flush() {
	w.timerMu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.timer = nil
	w.timerMu.Unlock()

	if len(paths) == 0 {
		return
	}
	sort.Strings(paths)
	w.onChange(paths)
}

// Close stops event delivery. A flush already scheduled may still fire.
func (w *Watcher) Close() error {
	close(w.done)

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.timerMu.Unlock()

	return w.fsw.Close()
}
