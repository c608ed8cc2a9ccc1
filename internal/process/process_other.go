//go:build windows

package process

import (
	"errors"
	"os"
	"os/exec"
)

func setProcAttr(cmd *exec.Cmd) {}

// Windows has no SIGTERM; both requests end the process.
func signalTerm(cmd *exec.Cmd) error {
	return signalKill(cmd)
}

func signalKill(cmd *exec.Cmd) error {
	err := cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
