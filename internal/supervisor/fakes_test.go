package supervisor

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benaskins/rerun/internal/watch"
)

// journal records the order of side effects across fakes.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.entries)
}

type logLine struct {
	level string
	msg   string
}

type recordLogger struct {
	mu    sync.Mutex
	lines []logLine
	j     *journal
}

func (l *recordLogger) log(level, msg string) {
	l.mu.Lock()
	l.lines = append(l.lines, logLine{level, msg})
	l.mu.Unlock()
	if l.j != nil {
		l.j.add(level + ": " + msg)
	}
}

func (l *recordLogger) Debug(msg string, args ...any) { l.log("debug", msg) }
func (l *recordLogger) Info(msg string, args ...any)  { l.log("info", msg) }
func (l *recordLogger) Warn(msg string, args ...any)  { l.log("warn", msg) }
func (l *recordLogger) Error(msg string, args ...any) { l.log("error", msg) }

func (l *recordLogger) all() []logLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.lines)
}

// fakeWatcher delivers events synchronously on the caller's goroutine.
type fakeWatcher struct {
	mu       sync.Mutex
	handler  func(watch.Event)
	started  bool
	stopped  bool
	startErr error
	failures chan error
	j        *journal
}

func newFakeWatcher(j *journal) *fakeWatcher {
	return &fakeWatcher{failures: make(chan error, 1), j: j}
}

func (w *fakeWatcher) Start(handler func(watch.Event)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.startErr != nil {
		return w.startErr
	}
	if w.started {
		return watch.ErrAlreadyStarted
	}
	w.started = true
	w.handler = handler
	return nil
}

func (w *fakeWatcher) Stop() error {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	if w.j != nil {
		w.j.add("watcher stopped")
	}
	return nil
}

func (w *fakeWatcher) Failures() <-chan error {
	return w.failures
}

// emit delivers ev like the real watcher: never after Stop.
func (w *fakeWatcher) emit(ev watch.Event) bool {
	w.mu.Lock()
	h, stopped := w.handler, w.stopped
	w.mu.Unlock()
	if h == nil || stopped {
		return false
	}
	h(ev)
	return true
}

type fakeHandle struct {
	pid        int
	l          *fakeLauncher
	terminates int
}

func (h *fakeHandle) PID() int {
	return h.pid
}

func (h *fakeHandle) Terminate(timeout time.Duration) error {
	h.l.mu.Lock()
	h.terminates++
	wasLive := h.terminates == 1
	if wasLive {
		h.l.live--
	}
	h.l.mu.Unlock()
	if h.l.j != nil {
		h.l.j.add(fmt.Sprintf("terminate %d", h.pid))
	}
	return nil
}

// fakeLauncher counts launches and flags any launch that happens while a
// previous handle is still live.
type fakeLauncher struct {
	mu       sync.Mutex
	launches [][]string
	handles  []*fakeHandle
	live     int
	overlaps int
	fail     bool
	j        *journal
}

func (l *fakeLauncher) Launch(argv []string) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.launches = append(l.launches, slices.Clone(argv))
	if l.fail {
		return nil, errors.New("exec: not found")
	}
	if l.live > 0 {
		l.overlaps++
	}
	l.live++
	h := &fakeHandle{pid: 1000 + len(l.handles), l: l}
	l.handles = append(l.handles, h)
	if l.j != nil {
		l.j.add(fmt.Sprintf("launch %d", h.pid))
	}
	return h, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launches)
}

func (l *fakeLauncher) setFail(fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = fail
}

func (l *fakeLauncher) terminates(i int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handles[i].terminates
}
