package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/benaskins/rerun/internal/watch"
)

// controller is the part of the supervisor the command loop drives.
type controller interface {
	RestartProcess() error
	Stop() error
	Failures() <-chan error
}

// control runs until the operator types "stop", ctx is cancelled, or the
// watcher fails. Operator input is only read when interactive is set.
func control(ctx context.Context, c controller, in io.Reader, interactive bool) error {
	done := make(chan struct{})
	defer close(done)

	var lines chan string
	if interactive {
		lines = make(chan string)
		go readLines(in, lines, done)
	}

	for {
		select {
		case <-ctx.Done():
			return c.Stop()

		case err := <-c.Failures():
			return errors.Join(err, c.Stop())

		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep supervising until signalled
				lines = nil
				continue
			}
			switch strings.TrimSpace(line) {
			case "rs":
				// launch failures are already logged
				_ = c.RestartProcess()
			case "stop":
				return c.Stop()
			}
		}
	}
}

// loggedError is an error the supervisor has already written to the log.
type loggedError struct {
	error
}

func (e loggedError) Unwrap() error {
	return e.error
}

// markLogged wraps watch failures so main exits without printing them a
// second time. When the supervisor is not logging they pass through.
func markLogged(err error, logging bool) error {
	var wf *watch.WatchFailure
	if logging && errors.As(err, &wf) {
		return loggedError{err}
	}
	return err
}

func readLines(in io.Reader, lines chan<- string, done <-chan struct{}) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-done:
			return
		}
	}
}
