// Package supervisor restarts a child command whenever watched files change.
//
// A Supervisor owns one watcher and at most one child process. Watch events
// and operator commands both funnel into RestartProcess, which runs
// StopProcess then StartProcess under a single lock so two children are
// never alive at once.
package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benaskins/rerun/internal/config"
	"github.com/benaskins/rerun/internal/process"
	"github.com/benaskins/rerun/internal/watch"
)

// State is the supervisor lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// ErrInvalidState is returned when an operation is called in a state that
// forbids it, such as a second Start.
var ErrInvalidState = errors.New("invalid supervisor state")

// Logger is the logging capability the supervisor needs. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Watcher delivers filesystem events to a handler, one at a time, until
// stopped. Stop must not return while the handler is running.
type Watcher interface {
	Start(handler func(watch.Event)) error
	Stop() error
	Failures() <-chan error
}

// Handle is a launched child process.
type Handle interface {
	PID() int
	Terminate(timeout time.Duration) error
}

// Launcher starts a child process from an argv.
type Launcher interface {
	Launch(argv []string) (Handle, error)
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(argv []string) (Handle, error)

func (f LauncherFunc) Launch(argv []string) (Handle, error) {
	return f(argv)
}

func launchProcess(argv []string) (Handle, error) {
	p, err := process.Start(argv, process.Options{})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Supervisor coordinates the watcher, the child process and operator
// commands.
type Supervisor struct {
	cfg      config.Config
	logger   Logger
	watcher  Watcher
	launcher Launcher

	mu    sync.Mutex
	state State
	proc  Handle

	failures chan error
	stopFwd  chan struct{}
	fwdDone  chan struct{}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l Logger) Option {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// WithWatcher replaces the filesystem watcher.
func WithWatcher(w Watcher) Option {
	return func(s *Supervisor) {
		s.watcher = w
	}
}

// WithLauncher replaces the process launcher.
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) {
		s.launcher = l
	}
}

// New validates cfg and builds an idle Supervisor. Without WithWatcher it
// watches cfg.Watch, which must be an existing directory.
func New(cfg config.Config, opts ...Option) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Patterns = append([]string(nil), cfg.Patterns...)
	cfg.Args = append([]string(nil), cfg.Args...)

	s := &Supervisor{
		cfg:      cfg,
		state:    StateIdle,
		failures: make(chan error, 1),
		stopFwd:  make(chan struct{}),
		fwdDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.launcher == nil {
		s.launcher = LauncherFunc(launchProcess)
	}
	if s.watcher == nil {
		w, err := watch.New(watch.Config{
			Root:     cfg.Watch,
			Patterns: cfg.Patterns,
			Logger:   s.watchLogger(),
		})
		if err != nil {
			return nil, err
		}
		s.watcher = w
	}

	return s, nil
}

// watchLogger hands the watcher our logger when it is a *slog.Logger, and
// silences it in clean mode.
func (s *Supervisor) watchLogger() *slog.Logger {
	if s.cfg.Clean {
		return slog.New(slog.DiscardHandler)
	}
	if l, ok := s.logger.(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Start begins watching and launches the first process. It may only be
// called once.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("%w: start called while %s", ErrInvalidState, s.state)
	}

	if !s.cfg.Clean {
		s.logger.Warn(fmt.Sprintf("watching path: %s", s.cfg.Watch))
		s.logger.Warn(fmt.Sprintf("watching patterns: %s", strings.Join(s.cfg.Patterns, ", ")))
		s.logger.Warn("enter 'rs' to restart or 'stop' to terminate")
	}

	if err := s.watcher.Start(s.handleEvent); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	s.state = StateRunning

	go s.forwardFailures()

	// A failed first launch is logged; the run waits for the next change.
	_ = s.startProcessLocked()
	return nil
}

// Stop terminates the child, stops the watcher and waits for it to exit.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: stop called while %s", ErrInvalidState, state)
	}
	// Events already queued behind the lock see stopping and do nothing.
	s.state = StateStopping
	_ = s.stopProcessLocked()
	s.mu.Unlock()

	// Not under s.mu: an in-flight handleEvent may be waiting for it.
	err := s.watcher.Stop()

	close(s.stopFwd)
	<-s.fwdDone

	if !s.cfg.Clean {
		s.logger.Error("terminated process")
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("stopping watcher: %w", err)
	}
	return nil
}

// RestartProcess stops the current child, if any, and launches a new one.
func (s *Supervisor) RestartProcess() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return fmt.Errorf("%w: restart called while %s", ErrInvalidState, s.state)
	}
	return s.restartLocked()
}

// StartProcess launches the child. It fails if one is already held.
func (s *Supervisor) StartProcess() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return fmt.Errorf("%w: start process called while %s", ErrInvalidState, s.state)
	}
	if s.proc != nil {
		return fmt.Errorf("%w: process already running", ErrInvalidState)
	}
	return s.startProcessLocked()
}

// StopProcess sends the termination request to the child and forgets it.
// Without a child it does nothing.
func (s *Supervisor) StopProcess() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopProcessLocked()
}

// Failures receives a watcher failure. The caller should Stop and exit.
func (s *Supervisor) Failures() <-chan error {
	return s.failures
}

// State returns the lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the pid of the current child, or 0 when none is held.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.PID()
}

// handleEvent runs on the watcher goroutine.
func (s *Supervisor) handleEvent(ev watch.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return
	}

	if !s.cfg.Clean {
		s.logger.Warn("restarting due to changes detected...")
		if s.cfg.Debug {
			s.logger.Debug(fmt.Sprintf("%s %s", ev.Kind, ev.Path))
		}
	}

	_ = s.restartLocked()
}

func (s *Supervisor) restartLocked() error {
	if err := s.stopProcessLocked(); err != nil {
		return err
	}
	return s.startProcessLocked()
}

func (s *Supervisor) startProcessLocked() error {
	if !s.cfg.Clean {
		s.logger.Info(fmt.Sprintf("starting %s", s.cfg.Command))
	}

	argv := process.Resolve(s.cfg.Command, s.cfg.Interpreter, s.cfg.Args)
	h, err := s.launcher.Launch(argv)
	if err != nil {
		if !s.cfg.Clean {
			s.logger.Error(fmt.Sprintf("failed to start %s: %v", s.cfg.Command, err))
		}
		return err
	}

	s.proc = h
	return nil
}

func (s *Supervisor) stopProcessLocked() error {
	if s.proc == nil {
		return nil
	}
	h := s.proc
	s.proc = nil

	if err := h.Terminate(s.cfg.StopTimeout); err != nil {
		if !s.cfg.Clean {
			s.logger.Error(fmt.Sprintf("failed to stop process %d: %v", h.PID(), err))
		}
		return err
	}
	return nil
}

func (s *Supervisor) forwardFailures() {
	defer close(s.fwdDone)

	select {
	case err := <-s.watcher.Failures():
		if !s.cfg.Clean {
			s.logger.Error(fmt.Sprintf("watcher failed: %v", err))
		}
		s.failures <- err
	case <-s.stopFwd:
	}
}
