// Package platform holds the per-OS behavior deepdbg needs as one
// capability record, chosen once at startup.
package platform

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/ctagard/deepdbg/pkg/types"
)

// Capabilities describes how deepdbg behaves on one operating system.
type Capabilities struct {
	// OS is the GOOS value the record was built for.
	OS string

	// ExeSuffix ends every executable deepdbg writes, such as python drivers.
	ExeSuffix string

	// EnvSetCommand prefixes a variable assignment in a terminal command line.
	EnvSetCommand string

	// ListSeparator separates PATH entries.
	ListSeparator string

	// ChannelDir is where launcher queues and block channels are created.
	ChannelDir string

	// EnvCaseInsensitive is true where environment names ignore case.
	EnvCaseInsensitive bool

	// NativeBackend is the backend tag native binaries are debugged with.
	NativeBackend types.BackendType

	// Quote quotes a value for the platform shell.
	Quote func(s string) string

	// ClassifyBinary inspects a program file and returns BackendBinary,
	// BackendBashdb, or "" when the signature is not recognized.
	ClassifyBinary func(ctx context.Context, program string, run Runner) types.BackendType
}

// Current returns the capabilities of the running OS.
func Current() Capabilities {
	return For(runtime.GOOS)
}

// For returns the capabilities of the given GOOS.
func For(goos string) Capabilities {
	if goos == "windows" {
		return Capabilities{
			OS:                 goos,
			ExeSuffix:          ".exe",
			EnvSetCommand:      "set",
			ListSeparator:      ";",
			ChannelDir:         os.TempDir(),
			EnvCaseInsensitive: true,
			NativeBackend:      types.BackendCppvsdbg,
			Quote:              quoteNone,
			ClassifyBinary:     classifyByExtension,
		}
	}

	return Capabilities{
		OS:            goos,
		EnvSetCommand: "export",
		ListSeparator: ":",
		ChannelDir:    os.TempDir(),
		NativeBackend: types.BackendCppdbg,
		Quote:         quotePosix,
		ClassifyBinary: func(ctx context.Context, program string, run Runner) types.BackendType {
			return classifyByFileSignature(ctx, program, run)
		},
	}
}

// EnvName normalizes an environment variable name for comparison.
func (c Capabilities) EnvName(name string) string {
	if c.EnvCaseInsensitive {
		return strings.ToUpper(name)
	}
	return name
}

// SplitList splits a PATH-style value with the platform separator.
func (c Capabilities) SplitList(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, c.ListSeparator)
}

// ChannelPath returns the socket path of a named channel.
func (c Capabilities) ChannelPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.ChannelDir, name)
}

// SetEnvCommand renders "NAME=value" assignment for a terminal command line.
func (c Capabilities) SetEnvCommand(name, value string) string {
	return c.EnvSetCommand + " " + name + "=" + c.Quote(value)
}

var safeShellWord = regexp.MustCompile(`^[\w@%+=:,./-]+$`)

func quotePosix(s string) string {
	if s == "" || safeShellWord.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func quoteNone(s string) string {
	return s
}

func classifyByExtension(_ context.Context, program string, _ Runner) types.BackendType {
	switch strings.ToLower(filepath.Ext(program)) {
	case ".exe":
		return types.BackendBinary
	case ".sh":
		return types.BackendBashdb
	}
	return ""
}

// file(1) output varies across versions; only the leading description matters.
func classifyByFileSignature(ctx context.Context, program string, run Runner) types.BackendType {
	if run == nil {
		run = ExecRunner{}
	}
	out, err := run.Output(ctx, "file", "-b", program)
	if err != nil {
		return ""
	}
	return ClassifySignature(out)
}

// ClassifySignature maps a `file -b` description to a backend tag. Any ELF
// executable or shared object counts as native, whatever its class or
// byte order.
func ClassifySignature(description string) types.BackendType {
	head, _, _ := strings.Cut(strings.TrimSpace(description), ", ")
	switch {
	case strings.HasPrefix(head, "ELF ") &&
		(strings.HasSuffix(head, " executable") || strings.HasSuffix(head, " shared object")):
		return types.BackendBinary
	case head == "POSIX shell script", head == "Bourne-Again shell script":
		return types.BackendBashdb
	}
	return ""
}

// Runner abstracts command execution for testability.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner implements Runner using os/exec.
type ExecRunner struct{}

// Output runs a command and returns its trimmed standard output.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return strings.TrimSpace(string(out)), err
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, name string, args ...string) (string, error)

func (f RunnerFunc) Output(ctx context.Context, name string, args ...string) (string, error) {
	return f(ctx, name, args...)
}
