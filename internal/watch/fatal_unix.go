//go:build !windows

package watch

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isFatal reports errors that mean the kernel will deliver no more events,
// such as exhausted inotify watches or file descriptors.
func isFatal(err error) bool {
	return errors.Is(err, unix.ENOSPC) ||
		errors.Is(err, unix.EMFILE) ||
		errors.Is(err, unix.ENFILE)
}
