// Package hook implements the program injected into a debuggee's
// environment in place of an interpreter or loader.
//
// Instead of starting its target right away, a hook reports the launch to
// the relay server named by DEEPDEBUGGER_LAUNCHER_QUEUE so that the
// controller can start a debug session for it. A blocking hook then waits
// on a private channel until that session ends. Without a launcher queue a
// hook reports nothing, which makes it safe to leave in every environment.
package hook

import (
	"context"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/ctagard/deepdbg/internal/launchconfig"
	"github.com/ctagard/deepdbg/internal/platform"
	"github.com/ctagard/deepdbg/internal/relay"
	"github.com/ctagard/deepdbg/internal/wire"
	"github.com/ctagard/deepdbg/pkg/types"
)

// Options describes one intercepted launch.
type Options struct {
	// Type is the backend tag to request; empty lets the controller infer it.
	Type types.BackendType

	// NoBlock returns right after reporting instead of waiting for the
	// session to end.
	NoBlock bool

	// Exec runs the target after reporting (and after release when blocking).
	Exec bool

	Program string
	Args    []string
	Cwd     string

	// Environ is the environment in os.Environ form.
	Environ []string

	// DialTimeout bounds connecting to the launcher queue.
	DialTimeout time.Duration
}

// Result tells what a hook run did.
type Result struct {
	// Reported is true when a start message reached the relay server.
	Reported bool

	// Program is the resolved target.
	Program string

	// BlockChannel is the private channel waited on, if any.
	BlockChannel string
}

// ExecFunc replaces the current process with program.
type ExecFunc func(program string, args []string, environ []string) error

// Hook reports intercepted launches.
type Hook struct {
	caps platform.Capabilities
	log  logr.Logger
	exec ExecFunc

	// onListening is called once the block channel is open; tests use it.
	onListening func(path string)
}

// New creates a hook. A nil exec uses the platform's process replacement.
func New(caps platform.Capabilities, exec ExecFunc, log logr.Logger) *Hook {
	if exec == nil {
		exec = execProgram
	}
	return &Hook{caps: caps, exec: exec, log: log.WithName("hook")}
}

// Run reports the launch described by opts. Failing to report is not
// fatal: the error is returned for logging and, in pass-through mode, the
// target still runs.
func (h *Hook) Run(ctx context.Context, opts Options) (Result, error) {
	res, err := h.report(ctx, opts)
	if !opts.Exec {
		return res, err
	}
	if err != nil {
		h.log.Error(err, "Launch was not reported, running target anyway", "program", opts.Program)
	}

	program := res.Program
	if program == "" {
		program = opts.Program
	}
	return res, h.exec(program, opts.Args, opts.Environ)
}

func (h *Hook) report(ctx context.Context, opts Options) (Result, error) {
	env := launchconfig.EnvFromOS(opts.Environ)
	queue := lookup(env, h.caps, EnvLauncherQueue)
	if queue == "" {
		h.log.V(1).Info("No launcher queue, nothing to report")
		return Result{}, nil
	}

	program, ok := h.resolve(opts.Program, opts.Cwd, lookup(env, h.caps, "PATH"))
	if !ok {
		h.log.V(1).Info("Program not found, nothing to report", "program", opts.Program)
		return Result{}, nil
	}
	res := Result{Program: program}

	parentID := lookup(env, h.caps, EnvSessionID)
	payload := wire.Payload{
		Type:            string(opts.Type),
		Program:         program,
		Cwd:             opts.Cwd,
		Args:            opts.Args,
		Environment:     env,
		ParentSessionID: parentID,
	}

	var block *relay.BlockChannel
	if !opts.NoBlock {
		path := BlockChannelPath(h.caps.ChannelPath(queue), parentID)
		b, err := relay.ListenBlock(path)
		if err != nil {
			return res, err
		}
		defer b.Close()
		block = b
		payload.HookPipe = path
		res.BlockChannel = path
		if h.onListening != nil {
			h.onListening(path)
		}
	}

	data, err := wire.EncodeStart(payload)
	if err != nil {
		return res, err
	}
	if err := relay.Send(ctx, h.caps.ChannelPath(queue), data, opts.DialTimeout); err != nil {
		return res, err
	}
	res.Reported = true
	h.log.Info("Reported launch", "program", program, "parent", parentID, "blockChannel", res.BlockChannel)

	if block == nil {
		return res, nil
	}
	if err := block.Wait(ctx); err != nil {
		return res, err
	}
	h.log.V(1).Info("Released", "blockChannel", res.BlockChannel)
	return res, nil
}

// resolve returns the absolute target path. Bare names are looked up in
// pathValue first, as exec would; scripts handed to an interpreter hook are
// bare too, so a PATH miss falls back to cwd. A miss is reported as not found.
func (h *Hook) resolve(program, cwd, pathValue string) (string, bool) {
	if program == "" {
		return "", false
	}

	if platform.IsBareName(program) {
		if found := h.caps.SearchPath(program, pathValue); found != "" {
			return found, true
		}
	}

	candidate := program
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(cwd, program)
	}
	if filepath.IsAbs(candidate) && platform.FileExists(candidate) {
		return candidate, true
	}
	return "", false
}

// BlockChannelPath derives the private channel of one hook from the launcher
// queue and the parent session id. A random suffix keeps siblings apart.
func BlockChannelPath(queuePath, parentID string) string {
	if parentID == "" {
		parentID = "0"
	}
	return queuePath + "." + parentID + "." + uuid.NewString()[:8]
}
