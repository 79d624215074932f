//go:build windows

package hook

import (
	stderrors "errors"
	"os"
	"os/exec"
)

// execProgram runs program to completion and exits with its status, since
// Windows cannot replace the running process image.
func execProgram(program string, args []string, environ []string) error {
	cmd := exec.Command(program, args...)
	cmd.Env = environ
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		os.Exit(exitErr.ExitCode())
	}
	if err != nil {
		return err
	}
	os.Exit(0)
	return nil
}
