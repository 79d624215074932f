//go:build !windows

package relay

import (
	stderrors "errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// killProcessGroup kills the relay server and anything it left behind.
// The child leads its own session, so the negative pid reaches the group.
func killProcessGroup(pid int, cmd *exec.Cmd) error {
	if pid <= 0 {
		if cmd == nil || cmd.Process == nil {
			return nil
		}
		if err := cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
			return err
		}
		return nil
	}

	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return err
	}
	return nil
}

// setProcAttr detaches the relay server from the adapter's terminal signals.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
