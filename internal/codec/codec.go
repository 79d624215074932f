// Package codec turns hook messages into launch configurations a host
// front-end can start.
//
// The pipeline runs in a fixed order:
//
//  1. decode the versioned payload
//  2. split the command line into program and arguments
//  3. strip reserved trailing switches
//  4. resolve the program to an absolute, existing path
//  5. default the session name
//  6. determine the backend type
//  7. inject environment entries in the backend's shape
//  8. stamp the fixed launch attributes
//
// Steps 4 to 8 also repair configurations that did not come from a hook, see
// Codec.Repair. Any failure drops the launch: the caller gets an error and
// never a half-populated configuration.
package codec

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"

	"github.com/ctagard/deepdbg/internal/backend"
	"github.com/ctagard/deepdbg/internal/errors"
	"github.com/ctagard/deepdbg/internal/launchconfig"
	"github.com/ctagard/deepdbg/internal/platform"
	"github.com/ctagard/deepdbg/internal/wire"
	"github.com/ctagard/deepdbg/pkg/types"
)

const (
	// ConsoleIntegratedTerminal is the console every relayed session runs in.
	ConsoleIntegratedTerminal = "integratedTerminal"

	// EnvPyvenvLauncher tells a base interpreter which venv launcher it replaces.
	EnvPyvenvLauncher = "__PYVENV_LAUNCHER__"

	pyvenvConfig = "pyvenv.cfg"
)

// Codec decodes and repairs launch configurations.
type Codec struct {
	caps     platform.Capabilities
	backends *backend.Registry
	runner   platform.Runner
	log      logr.Logger
}

// New creates a codec. A nil runner executes real commands.
func New(caps platform.Capabilities, backends *backend.Registry, runner platform.Runner, log logr.Logger) *Codec {
	if runner == nil {
		runner = platform.ExecRunner{}
	}
	return &Codec{
		caps:     caps,
		backends: backends,
		runner:   runner,
		log:      log.WithName("codec"),
	}
}

// Decode turns a start message into a configuration ready for dispatch.
// inject lists variables to add to the child's environment.
func (c *Codec) Decode(ctx context.Context, msg wire.Message, inject []launchconfig.EnvEntry) (*launchconfig.Configuration, error) {
	if !msg.IsStart() || msg.Bare() {
		return nil, errors.MessageMalformed("not a start message", nil)
	}

	p, err := wire.DecodePayload(msg.Payload)
	if err != nil {
		return nil, err
	}

	cfg := &launchconfig.Configuration{
		Type:            types.BackendType(p.Type),
		Name:            p.Name,
		Program:         p.Program,
		Cwd:             p.Cwd,
		Environment:     append([]launchconfig.EnvEntry(nil), p.Environment...),
		ParentSessionID: p.ParentSessionID,
		HookPipe:        p.HookPipe,
	}

	tokens := append(SplitCommandLine(p.Cmdline), p.Args...)
	if cfg.Program == "" {
		if len(tokens) == 0 {
			return nil, errors.EmptyCommandLine()
		}
		cfg.Program, tokens = tokens[0], tokens[1:]
	}

	args, sw := StripSwitches(tokens)
	cfg.Args = args
	if sw.SessionName != "" {
		cfg.Name = sw.SessionName
	}
	if sw.SessionCwd != "" {
		cfg.Cwd = sw.SessionCwd
	}

	c.log.V(1).Info("Decoded hook payload",
		"command", msg.Command, "program", cfg.Program, "args", cfg.Args, "cwd", cfg.Cwd, "switches", sw.Present)

	if err := c.repair(ctx, cfg, inject, sw); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Repair resolves, completes and stamps an existing configuration in place.
func (c *Codec) Repair(ctx context.Context, cfg *launchconfig.Configuration, inject []launchconfig.EnvEntry) error {
	return c.repair(ctx, cfg, inject, Switches{})
}

func (c *Codec) repair(ctx context.Context, cfg *launchconfig.Configuration, inject []launchconfig.EnvEntry, sw Switches) error {
	program, err := c.resolveProgram(cfg)
	if err != nil {
		return err
	}
	cfg.Program = program

	inject = append([]launchconfig.EnvEntry(nil), inject...)
	if sw.Present {
		if base, ok := c.pyvenvBase(cfg.Program); ok {
			c.log.V(1).Info("Program is a venv launcher", "launcher", cfg.Program, "base", base)
			inject = append(inject, launchconfig.EnvEntry{Name: EnvPyvenvLauncher, Value: cfg.Program})
			cfg.Program = base
		}
	}

	if cfg.Name == "" {
		cfg.Name = filepath.Base(cfg.Program)
	}

	c.resolveType(ctx, cfg)

	shape := c.backends.EnvShape(cfg.Type)
	cfg.Reshape(shape)
	cfg.InjectEnv(shape, inject)

	cfg.Request = "launch"
	cfg.StopAtEntry = launchconfig.BoolPtr(false)
	cfg.Console = ConsoleIntegratedTerminal

	return nil
}

// resolveProgram returns the absolute path of the configuration's program.
// Relative names are tried against cwd first, then bare names are looked up
// in the PATH the child would have seen.
func (c *Codec) resolveProgram(cfg *launchconfig.Configuration) (string, error) {
	program := cfg.Program
	if program == "" {
		return "", errors.ProgramUnresolved(program, cfg.Cwd)
	}

	candidate := program
	if !filepath.IsAbs(candidate) && cfg.Cwd != "" {
		candidate = filepath.Join(cfg.Cwd, program)
	}

	if !filepath.IsAbs(candidate) || !platform.FileExists(candidate) {
		candidate = ""
		if platform.IsBareName(program) {
			if pathValue, ok := cfg.LookupEnv("PATH", c.caps.EnvCaseInsensitive); ok {
				candidate = c.caps.SearchPath(program, pathValue)
			}
		}
	}

	if candidate == "" || !filepath.IsAbs(candidate) {
		return "", errors.ProgramUnresolved(program, cfg.Cwd)
	}
	return filepath.Clean(candidate), nil
}

// pyvenvBase returns the base interpreter behind a venv launcher, found via
// the pyvenv.cfg next to the program or one directory up.
func (c *Codec) pyvenvBase(program string) (string, bool) {
	dir := filepath.Dir(program)
	for _, d := range []string{dir, filepath.Dir(dir)} {
		home, ok := readPyvenvHome(filepath.Join(d, pyvenvConfig))
		if ok {
			return filepath.Join(home, filepath.Base(program)), true
		}
	}
	return "", false
}

func readPyvenvHome(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "home") {
			continue
		}
		if home := strings.TrimSpace(value); home != "" {
			return home, true
		}
	}
	return "", false
}

// resolveType fills cfg.Type. An explicit tag is trusted; otherwise the
// extension decides, and native executables are classified by signature.
// An unrecognized program leaves the type empty for the host to reject.
func (c *Codec) resolveType(ctx context.Context, cfg *launchconfig.Configuration) {
	if cfg.Type == "" {
		switch strings.ToLower(filepath.Ext(cfg.Program)) {
		case ".py":
			cfg.Type = types.BackendPython
		case ".js":
			cfg.Type = types.BackendNode
		default:
			cfg.Type = c.caps.ClassifyBinary(ctx, cfg.Program, c.runner)
		}
		c.log.V(1).Info("Inferred backend type", "program", cfg.Program, "type", cfg.Type)
	}
	if cfg.Type == "" {
		return
	}

	cfg.Type = c.backends.Resolve(cfg.Type)
	if b, err := c.backends.Get(cfg.Type); err == nil {
		b.Stamp(cfg)
	}
}
