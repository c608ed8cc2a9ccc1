package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// State represents the lifecycle state of a child process.
type State string

const (
	StateNotStarted State = "not started"
	StateRunning    State = "running"
	StateTerminated State = "terminated"
)

// ErrLaunch is returned when the child cannot be found or executed.
var ErrLaunch = errors.New("process launch failed")

// Options configures how a child is launched.
type Options struct {
	Dir    string
	Env    []string  // nil inherits the current environment
	Stdout io.Writer // nil means os.Stdout
	Stderr io.Writer // nil means os.Stderr
}

// Process is one launched child.
type Process struct {
	mu       sync.Mutex
	cmd      *exec.Cmd
	state    State
	signaled bool
	exitCode int
	done     chan struct{}
}

// Start launches argv and returns once the child is running. The child is
// reaped in the background.
func Start(argv []string, opts Options) (*Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrLaunch)
	}

	p := &Process{
		state: StateNotStarted,
		done:  make(chan struct{}),
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	cmd.Stdout = opts.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = opts.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	// stdin stays nil: the operator's terminal belongs to the control loop.
	setProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunch, argv[0], err)
	}

	p.cmd = cmd
	p.state = StateRunning

	go p.reap()

	return p, nil
}

func (p *Process) reap() {
	err := p.cmd.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = StateTerminated
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		p.exitCode = exitErr.ExitCode()
	}
	close(p.done)
}

// Terminate asks the child to exit. The signal is sent at most once; later
// calls are no-ops. With timeout <= 0 it returns without waiting. Otherwise
// it waits up to timeout and then kills the process group.
func (p *Process) Terminate(timeout time.Duration) error {
	p.mu.Lock()
	if p.signaled || p.state != StateRunning {
		p.mu.Unlock()
		return nil
	}
	p.signaled = true
	cmd := p.cmd
	p.mu.Unlock()

	if err := signalTerm(cmd); err != nil {
		return fmt.Errorf("terminating pid %d: %w", cmd.Process.Pid, err)
	}

	if timeout <= 0 {
		return nil
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		if err := signalKill(cmd); err != nil {
			return fmt.Errorf("killing pid %d: %w", cmd.Process.Pid, err)
		}
		<-p.done
		return nil
	}
}

// PID returns the OS process id, or 0 before launch.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ExitCode returns the exit code once the child has terminated.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Done is closed once the child has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}
