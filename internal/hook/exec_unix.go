//go:build !windows

package hook

import (
	"golang.org/x/sys/unix"
)

func execProgram(program string, args []string, environ []string) error {
	return unix.Exec(program, append([]string{program}, args...), environ)
}
