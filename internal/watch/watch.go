// Package watch provides a recursive, debounced filesystem-change source.
// fsnotify itself delivers raw, often-bursty kernel events; this package
// coalesces repeated touches to the same path into a single notification
// per quiet period, the way the dispatch engine expects.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Kind classifies a coalesced change notification.
type Kind int

const (
	// NoticeWrite (raw write) and NoticeRemove (raw remove or rename) fire
	// immediately on every such raw event, before the debounce settles, so
	// a burst yields one notice per raw event and a single final event —
	// callers that want an early, possibly-redundant signal can act on
	// these without waiting out the full window.
	NoticeWrite Kind = iota
	NoticeRemove
	Create
	Write
	Remove
	Rename
)

func (k Kind) String() string {
	switch k {
	case NoticeWrite:
		return "notice-write"
	case NoticeRemove:
		return "notice-remove"
	case Create:
		return "create"
	case Write:
		return "write"
	case Remove:
		return "remove"
	case Rename:
		return "rename"
	default:
		return "unknown"
	}
}

// Event is one coalesced filesystem notification.
type Event struct {
	Kind Kind
	Path string
}

// Watcher recursively watches one or more roots and emits debounced Events.
type Watcher struct {
	log    *zap.Logger
	fsw    *fsnotify.Watcher
	window time.Duration

	events chan Event
	errors chan error
	done   chan struct{}

	mu      sync.Mutex
	sched   *debounceScheduler
	pending map[string]Kind
}

// New starts watching root recursively (every directory under root at
// construction time, plus any created afterward) and coalesces events
// within window of each other. window is typically 50ms, matching the
// filesystem watcher contract the dispatch engine relies on.
func New(log *zap.Logger, root string, window time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		log:     log,
		fsw:     fsw,
		window:  window,
		events:  make(chan Event, 64),
		errors:  make(chan error, 16),
		done:    make(chan struct{}),
		sched:   newDebounceScheduler(),
		pending: make(map[string]Kind),
	}

	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	go w.fire()

	return w, nil
}

// AddFile watches a single file's containing directory's worth of events
// for that exact path — used for the supervisor's explicit watch of the
// script file itself, which may live outside the recursively-watched root.
func (w *Watcher) AddFile(path string) error {
	if err := w.fsw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	return nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}

// Events returns the channel of debounced, coalesced notifications.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors returns the channel of transient watcher errors.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Close stops the watcher and releases its fsnotify handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

// run consumes raw fsnotify events, filters out permission-only changes,
// recurses into newly created directories, and schedules a debounced
// notification for every path of interest.
func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRaw(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handleRaw(ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}

	final := Write
	notice := Kind(-1)

	switch {
	case ev.Op&fsnotify.Remove != 0:
		final = Remove
		notice = NoticeRemove
	case ev.Op&fsnotify.Rename != 0:
		final = Rename
		notice = NoticeRemove
	case ev.Op&fsnotify.Create != 0:
		final = Create
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.log.Warn("failed to watch new directory", zap.String("path", ev.Name), zap.Error(err))
			}
		}
	case ev.Op&fsnotify.Write != 0:
		final = Write
		notice = NoticeWrite
	default:
		return
	}

	w.mu.Lock()
	w.pending[ev.Name] = final
	w.sched.schedule(ev.Name, time.Now().Add(w.window))
	w.mu.Unlock()

	if notice >= 0 {
		select {
		case w.events <- Event{Kind: notice, Path: ev.Name}:
		default:
			w.log.Warn("event channel full, dropping notice event", zap.String("path", ev.Name))
		}
	}
}

// fire periodically pops every path whose debounce window has elapsed and
// emits its coalesced final Event.
func (w *Watcher) fire() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.flushDue()
		}
	}
}

func (w *Watcher) flushDue() {
	now := time.Now()
	for {
		w.mu.Lock()
		path, when, ok := w.sched.next()
		if !ok || when.After(now) {
			w.mu.Unlock()
			return
		}
		w.sched.pop()
		kind := w.pending[path]
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case w.events <- Event{Kind: kind, Path: path}:
		default:
			w.log.Warn("event channel full, dropping event", zap.String("path", path))
		}
	}
}
