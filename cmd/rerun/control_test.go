package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benaskins/rerun/internal/watch"
)

type fakeController struct {
	mu       sync.Mutex
	restarts int
	stops    int
	stopErr  error
	failures chan error
}

func newFakeController() *fakeController {
	return &fakeController{failures: make(chan error, 1)}
}

func (c *fakeController) RestartProcess() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restarts++
	return nil
}

func (c *fakeController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return c.stopErr
}

func (c *fakeController) Failures() <-chan error {
	return c.failures
}

func runControl(t *testing.T, ctx context.Context, c controller, in io.Reader, interactive bool) error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		errCh <- control(ctx, c, in, interactive)
	}()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("control loop did not return")
		return nil
	}
}

func TestControlCommands(t *testing.T) {
	c := newFakeController()
	in := strings.NewReader("hello\nrs\n  rs  \nstop\nrs\n")

	if err := runControl(t, context.Background(), c, in, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.restarts != 2 {
		t.Errorf("expected 2 restarts, got %d", c.restarts)
	}
	if c.stops != 1 {
		t.Errorf("expected 1 stop, got %d", c.stops)
	}
}

func TestControlIgnoresInputWhenNotInteractive(t *testing.T) {
	c := newFakeController()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	if err := runControl(t, ctx, c, strings.NewReader("rs\nstop\n"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.restarts != 0 {
		t.Errorf("expected input ignored, got %d restarts", c.restarts)
	}
	if c.stops != 1 {
		t.Errorf("expected stop on cancel, got %d", c.stops)
	}
}

func TestControlStopsOnSignal(t *testing.T) {
	c := newFakeController()
	ctx, cancel := context.WithCancel(context.Background())

	// EOF on stdin must not end the run
	time.AfterFunc(100*time.Millisecond, cancel)

	if err := runControl(t, ctx, c, strings.NewReader(""), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.stops != 1 {
		t.Errorf("expected 1 stop, got %d", c.stops)
	}
}

func TestControlWatchFailure(t *testing.T) {
	c := newFakeController()
	failure := errors.New("watch failure: no space left on device")
	c.failures <- failure

	pr, pw := io.Pipe()
	defer pw.Close()

	err := runControl(t, context.Background(), c, pr, true)
	if !errors.Is(err, failure) {
		t.Errorf("expected watch failure, got %v", err)
	}
	if c.stops != 1 {
		t.Errorf("expected stop after failure, got %d", c.stops)
	}
}

func TestControlWatchFailureKeepsStopError(t *testing.T) {
	c := newFakeController()
	failure := &watch.WatchFailure{Err: errors.New("no space left on device")}
	c.stopErr = errors.New("signal: operation not permitted")
	c.failures <- failure

	err := runControl(t, context.Background(), c, strings.NewReader(""), false)
	var wf *watch.WatchFailure
	if !errors.As(err, &wf) {
		t.Errorf("expected *WatchFailure, got %v", err)
	}
	if !errors.Is(err, c.stopErr) {
		t.Errorf("expected stop error to be joined, got %v", err)
	}
}

func TestMarkLogged(t *testing.T) {
	failure := fmt.Errorf("supervising: %w", &watch.WatchFailure{Err: errors.New("too many open files")})
	other := errors.New("config: missing command")

	tests := []struct {
		name    string
		err     error
		logging bool
		silent  bool
	}{
		{"logged watch failure", failure, true, true},
		{"clean mode watch failure", failure, false, false},
		{"other error", other, true, false},
		{"nil", nil, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := markLogged(tt.err, tt.logging)
			if !errors.Is(err, tt.err) {
				t.Errorf("markLogged lost the cause: %v", err)
			}
			var logged loggedError
			if got := errors.As(err, &logged); got != tt.silent {
				t.Errorf("marked as logged = %v, want %v", got, tt.silent)
			}
		})
	}
}
