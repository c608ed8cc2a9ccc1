// Package watch reports filesystem changes under a directory tree whose
// paths match a set of glob patterns.
//
// Events are read on one goroutine and handed to the handler synchronously,
// so the handler is never invoked concurrently with itself. Matching events
// that arrive close together, or that queue up while the handler runs, are
// coalesced into a single call carrying the last of them. Stop waits for that
// goroutine to exit; no handler call happens after Stop returns.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/benaskins/rerun/internal/config"
)

// Kind is the type of change reported for a path.
type Kind string

const (
	Created  Kind = "created"
	Modified Kind = "modified"
	Deleted  Kind = "deleted"
	Moved    Kind = "moved"
)

// Event is a single matching change. Path is relative to the watched root
// and uses forward slashes.
type Event struct {
	Kind Kind
	Path string
}

// DefaultSettle is how long the watcher waits for further matching events
// before delivering a batch.
const DefaultSettle = 100 * time.Millisecond

// maxSettleFactor bounds a batch kept open by a steady stream of changes.
const maxSettleFactor = 20

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("watcher already started")

// WatchFailure reports that the notification backend broke after Start.
// No further events are delivered once it is sent.
type WatchFailure struct {
	Err error
}

func (f *WatchFailure) Error() string {
	return "watch failure: " + f.Err.Error()
}

func (f *WatchFailure) Unwrap() error {
	return f.Err
}

// Config holds the parameters for a Watcher.
type Config struct {
	// Root is the directory watched recursively.
	Root string
	// Patterns select which paths are reported; see Match.
	Patterns []string
	// Settle is the quiet period that closes a batch. Zero means
	// DefaultSettle.
	Settle time.Duration
	Logger *slog.Logger
}

// adder registers a directory with the notification backend.
type adder interface {
	Add(name string) error
}

// Watcher observes Root and reports matching events.
type Watcher struct {
	root     string
	patterns []string
	settle   time.Duration
	logger   *slog.Logger
	errLog   rate.Sometimes

	mu       sync.Mutex
	started  bool
	stopped  bool
	stop     chan struct{}
	done     chan struct{}
	failures chan error
}

// New validates cfg and returns an unstarted Watcher. It fails with an
// error wrapping config.ErrConfiguration when Root is not an existing
// directory or a pattern is invalid.
func New(cfg Config) (*Watcher, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving watch path %q: %v", config.ErrConfiguration, cfg.Root, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: watch path %q: %v", config.ErrConfiguration, cfg.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: watch path %q is not a directory", config.ErrConfiguration, cfg.Root)
	}

	if len(cfg.Patterns) == 0 {
		return nil, fmt.Errorf("%w: no watch patterns", config.ErrConfiguration)
	}
	if err := validatePatterns(cfg.Patterns); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	settle := cfg.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}

	return &Watcher{
		root:     root,
		patterns: append([]string(nil), cfg.Patterns...),
		settle:   settle,
		logger:   logger.With("component", "watch"),
		errLog:   rate.Sometimes{First: 3, Interval: 10 * time.Second},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		failures: make(chan error, 1),
	}, nil
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string {
	return w.root
}

// Start registers every directory under Root and begins delivering events
// to handler on a background goroutine. It returns immediately.
func (w *Watcher) Start(handler func(Event)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	if err := w.addTree(fsw, w.root); err != nil {
		fsw.Close()
		return err
	}

	w.started = true
	go w.run(fsw, handler)

	w.logger.Debug("watcher started", "root", w.root, "patterns", w.patterns)
	return nil
}

// Stop ends observation and blocks until the event goroutine has exited.
// It is safe to call more than once and before Start.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started || w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stop)
	w.mu.Unlock()

	<-w.done
	w.logger.Debug("watcher stopped")
	return nil
}

// Failures receives at most one *WatchFailure.
func (w *Watcher) Failures() <-chan error {
	return w.failures
}

func (w *Watcher) run(fsw *fsnotify.Watcher, handler func(Event)) {
	defer close(w.done)
	defer fsw.Close()

	for {
		select {
		case <-w.stop:
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				w.fail(errors.New("fsnotify event channel closed"))
				return
			}
			first, matched, alive := w.filter(fsw, ev)
			if !alive {
				return
			}
			if !matched {
				continue
			}
			last, alive := w.collect(fsw, first)
			if !alive {
				return
			}
			handler(last)

		case err, ok := <-fsw.Errors:
			if !w.handleError(err, ok) {
				return
			}
		}
	}
}

// collect gathers the matching events that follow first until none arrives
// for the settle period, and returns the last of them. Events that queued
// while the previous handler call ran are drained here as one batch. It
// reports false when the loop must end.
func (w *Watcher) collect(fsw *fsnotify.Watcher, last Event) (Event, bool) {
	quiet := time.NewTimer(w.settle)
	defer quiet.Stop()
	limit := time.NewTimer(w.settle * maxSettleFactor)
	defer limit.Stop()

	for {
		select {
		case <-w.stop:
			return last, false

		case <-quiet.C:
			return w.closeBatch(last)

		case <-limit.C:
			return w.closeBatch(last)

		case ev, ok := <-fsw.Events:
			if !ok {
				w.fail(errors.New("fsnotify event channel closed"))
				return last, false
			}
			next, matched, alive := w.filter(fsw, ev)
			if !alive {
				return last, false
			}
			if matched {
				w.logger.Debug("coalesced change", "kind", last.Kind, "path", last.Path)
				last = next
				quiet.Reset(w.settle)
			}

		case err, ok := <-fsw.Errors:
			if !w.handleError(err, ok) {
				return last, false
			}
		}
	}
}

func (w *Watcher) closeBatch(last Event) (Event, bool) {
	// Stop may have raced the timer; it wins.
	select {
	case <-w.stop:
		return last, false
	default:
		return last, true
	}
}

// handleError logs or reports a backend error. It reports false when the
// loop must end.
func (w *Watcher) handleError(err error, ok bool) bool {
	if !ok {
		w.fail(errors.New("fsnotify error channel closed"))
		return false
	}
	if isFatal(err) {
		w.fail(err)
		return false
	}
	w.errLog.Do(func() {
		w.logger.Warn("watcher error", "error", err)
	})
	return true
}

// filter turns a raw notification into an Event. matched is false for
// ignored, chmod-only and non-matching changes. alive is false after a
// fatal failure to watch a new directory, which has been sent on Failures.
func (w *Watcher) filter(fsw adder, ev fsnotify.Event) (out Event, matched, alive bool) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		rel = ev.Name
	}
	rel = filepath.ToSlash(rel)

	if isIgnored(rel) {
		return Event{}, false, true
	}

	if ev.Has(fsnotify.Create) {
		if err := w.maybeAddDir(fsw, ev.Name); err != nil {
			w.fail(err)
			return Event{}, false, false
		}
	}

	kind, ok := kindOf(ev.Op)
	if !ok {
		return Event{}, false, true
	}
	if !Match(w.patterns, rel) {
		return Event{}, false, true
	}
	return Event{Kind: kind, Path: rel}, true, true
}

func kindOf(op fsnotify.Op) (Kind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return Created, true
	case op.Has(fsnotify.Write):
		return Modified, true
	case op.Has(fsnotify.Remove):
		return Deleted, true
	case op.Has(fsnotify.Rename):
		return Moved, true
	}
	// chmod only
	return "", false
}

// addTree adds dir and every non-ignored directory below it.
func (w *Watcher) addTree(fsw adder, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("walking %s: %w", path, err)
			}
			w.logger.Warn("skipping inaccessible path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && isIgnoredDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// maybeAddDir extends the watch to directories created after Start. The
// kernel reports watch exhaustion from Add, not on the error channel, so a
// fatal Add error is returned; anything else is logged and skipped.
func (w *Watcher) maybeAddDir(fsw adder, path string) error {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil
	}
	if err := w.addTree(fsw, path); err != nil {
		if isFatal(err) {
			return err
		}
		w.logger.Warn("failed to watch new directory", "path", path, "error", err)
	}
	return nil
}

func (w *Watcher) fail(err error) {
	select {
	case w.failures <- &WatchFailure{Err: err}:
	default:
	}
}
