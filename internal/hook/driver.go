package hook

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"github.com/ctagard/deepdbg/internal/codec"
	"github.com/ctagard/deepdbg/internal/launchconfig"
	"github.com/ctagard/deepdbg/pkg/types"
)

// ParentConfigName marks a deepdbg copy that stands in for a python
// interpreter. It holds one line, path=<real interpreter>.
const ParentConfigName = "parent.cfg"

// ReadParentConfig returns the interpreter recorded in dir, if any.
func ReadParentConfig(dir string) (string, bool) {
	f, err := os.Open(filepath.Join(dir, ParentConfigName))
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if ok && strings.TrimSpace(key) == "path" {
			if python := strings.TrimSpace(value); python != "" {
				return python, true
			}
		}
	}
	return "", false
}

// WriteParentConfig records the interpreter a driver in dir stands in for.
func WriteParentConfig(dir, python string) error {
	data := fmt.Sprintf("path=%s\n", python)
	if err := os.WriteFile(filepath.Join(dir, ParentConfigName), []byte(data), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", ParentConfigName, err)
	}
	return nil
}

// RunDriver acts as the python interpreter at python. Under a launcher
// queue it reports the interpreter as a native program, so that extension
// modules can be debugged, and waits for that session to end. Otherwise it
// simply runs the interpreter.
func (h *Hook) RunDriver(ctx context.Context, python string, args []string, cwd string, environ []string) error {
	args = lo.Without(args, codec.SwitchConnect)
	rest, sw := codec.StripSwitches(args)

	if lookup(launchconfig.EnvFromOS(environ), h.caps, EnvLauncherQueue) == "" {
		h.log.V(1).Info("No launcher queue, running interpreter", "python", python)
		return h.exec(python, rest, environ)
	}

	res, err := h.Run(ctx, Options{
		Type:    types.BackendBinary,
		Program: python,
		Args:    append(rest, sw.Args()...),
		Cwd:     cwd,
		Environ: environ,
	})
	if err != nil {
		return err
	}
	if !res.Reported {
		return fmt.Errorf("interpreter %s was not reported", python)
	}
	return nil
}
