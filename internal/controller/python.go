package controller

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctagard/deepdbg/internal/codec"
	"github.com/ctagard/deepdbg/internal/errors"
	"github.com/ctagard/deepdbg/internal/hook"
	"github.com/ctagard/deepdbg/internal/launchconfig"
	"github.com/ctagard/deepdbg/internal/lockfile"
)

const defaultPython = "python"

// DefaultDriverRoot is where python drivers are cloned unless configured.
func DefaultDriverRoot() string {
	return filepath.Join(os.TempDir(), "DeepDebugger", "python")
}

// rewritePython points a python configuration at a driver that reports the
// interpreter as a native program, so that breakpoints in extension
// modules work. The session keeps its name and cwd through reserved switches.
func (c *Controller) rewritePython(ctx context.Context, cfg *launchconfig.Configuration) error {
	python := c.interpreter(cfg)
	if python == "" {
		return errors.ProgramUnresolved(defaultPython, cfg.Cwd)
	}

	driver, err := c.cloneDriver(ctx, python)
	if err != nil {
		return err
	}

	cfg.Python = driver
	cfg.PythonPath = ""
	cfg.Args = append(cfg.Args,
		codec.SwitchSessionCwd, cfg.Cwd,
		codec.SwitchSessionName, `"`+cfg.Name+` (binary extensions)"`,
	)
	return nil
}

// interpreter picks the configured interpreter, falling back to PATH.
func (c *Controller) interpreter(cfg *launchconfig.Configuration) string {
	for _, p := range []string{cfg.Python, cfg.PythonPath} {
		if p != "" && p != defaultPython {
			return p
		}
	}

	pathValue, ok := cfg.LookupEnv("PATH", c.deps.Caps.EnvCaseInsensitive)
	if !ok {
		pathValue = os.Getenv("PATH")
	}
	for _, name := range []string{"python3", defaultPython} {
		if found := c.deps.Caps.SearchPath(name, pathValue); found != "" {
			return found
		}
	}
	return ""
}

// cloneDriver copies the deepdbg executable next to a parent.cfg naming
// python and returns the copy's path. The copy is refreshed when the
// executable is newer. An interpreter that already is a driver is returned
// as is.
func (c *Controller) cloneDriver(ctx context.Context, python string) (string, error) {
	opts := c.options()
	root := opts.DriverRoot
	if root == "" {
		root = DefaultDriverRoot()
	}

	if rel, err := filepath.Rel(root, python); err == nil && !strings.HasPrefix(rel, "..") {
		return python, nil
	}

	sum := md5.Sum([]byte(filepath.Dir(opts.Executable) + filepath.Dir(python)))
	dir := filepath.Join(root, hex.EncodeToString(sum[:]))
	suffix := c.deps.Caps.ExeSuffix
	driver := filepath.Join(dir, strings.TrimSuffix(filepath.Base(python), suffix)+suffix)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create driver directory: %w", err)
	}

	err := lockfile.WithLock(ctx, filepath.Join(dir, "driver.lock"), func() error {
		if _, ok := hook.ReadParentConfig(dir); !ok {
			if err := hook.WriteParentConfig(dir, python); err != nil {
				return err
			}
		}
		if !needsUpdate(opts.Executable, driver) {
			return nil
		}
		c.log.Info("Cloning python driver", "driver", driver, "python", python)
		return copyExecutable(opts.Executable, driver)
	})
	if err != nil {
		return "", errors.LockFailed(dir, err)
	}
	return driver, nil
}

func needsUpdate(src, dst string) bool {
	dstInfo, err := os.Stat(dst)
	if err != nil {
		return true
	}
	srcInfo, err := os.Stat(src)
	if err != nil {
		return false
	}
	return srcInfo.ModTime().After(dstInfo.ModTime())
}

func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
