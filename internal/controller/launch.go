package controller

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ctagard/deepdbg/internal/codec"
	"github.com/ctagard/deepdbg/internal/errors"
	"github.com/ctagard/deepdbg/internal/launchconfig"
)

// MissingConfigurationMessage is shown when the launch argument cannot be used.
const MissingConfigurationMessage = `Cannot find a start configuration. Please use "launch": "<name of a configuration to launch>".`

// launchPrimary starts the top-level debuggee. A launch.json configuration
// gets the hook environment and is started directly; a plain command line
// runs in a terminal with the environment exported by hand.
func (c *Controller) launchPrimary(ctx context.Context) error {
	opts := c.options()

	switch v := opts.Launch.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			break
		}
		cfg, workspace, err := c.findConfiguration(v)
		if err == nil {
			return c.startNamed(ctx, cfg, workspace)
		}
		if errors.CodeOf(err) == errors.CodeConfigInvalid {
			return err
		}
		c.log.V(1).Info("No configuration matches, treating launch as a command line", "launch", v, "reason", err.Error())
		return c.runInTerminal(ctx, codec.SplitCommandLine(v))
	case []string:
		if len(v) > 0 {
			return c.runInTerminal(ctx, v)
		}
	case []interface{}:
		args := make([]string, 0, len(v))
		for _, a := range v {
			s, ok := a.(string)
			if !ok {
				return errors.ConfigInvalid("launch", fmt.Sprintf("command line entries must be strings, got %T", a))
			}
			args = append(args, s)
		}
		if len(args) > 0 {
			return c.runInTerminal(ctx, args)
		}
	}

	return errors.ConfigNotFound(fmt.Sprint(opts.Launch), nil).WithDetails("message", MissingConfigurationMessage)
}

// findConfiguration looks name up in launch.json and resolves its variables.
func (c *Controller) findConfiguration(name string) (*launchconfig.Configuration, string, error) {
	opts := c.options()

	var (
		lj   *launchconfig.LaunchJSON
		path string
		err  error
	)
	if opts.LaunchJSON != "" {
		path = opts.LaunchJSON
		lj, err = launchconfig.LoadFromPath(path)
	} else {
		lj, path, err = launchconfig.LoadAndDiscover(opts.WorkspaceFolder)
	}
	if err != nil {
		return nil, "", err
	}

	cfg, err := launchconfig.FindConfiguration(lj, name)
	if err != nil {
		return nil, "", errors.ConfigNotFound(name, launchconfig.ListConfigurationNames(lj))
	}
	if err := launchconfig.ValidateConfiguration(cfg); err != nil {
		return nil, "", errors.ConfigInvalid(name, err.Error())
	}

	workspace := opts.WorkspaceFolder
	if workspace == "" {
		workspace = launchconfig.GetWorkspaceFolder(path)
	}
	if err := launchconfig.ResolveConfiguration(cfg, &launchconfig.ResolutionContext{WorkspaceFolder: workspace}); err != nil {
		return nil, "", errors.ConfigInvalid(name, err.Error())
	}
	return cfg, workspace, nil
}

// startNamed starts a launch.json configuration as the root session.
func (c *Controller) startNamed(ctx context.Context, cfg *launchconfig.Configuration, workspace string) error {
	cfg.Name = cfg.Program
	if cfg.Cwd == "" {
		cfg.Cwd = workspace
	}

	id := c.nextSessionID()
	cfg.SessionID = strconv.Itoa(id)

	if err := c.deps.Codec.Repair(ctx, cfg, c.hookEnv(id)); err != nil {
		return err
	}

	if c.options().BinaryExtensions && isPython(cfg.Type) {
		if err := c.rewritePython(ctx, cfg); err != nil {
			c.log.Error(err, "Binary extension debugging unavailable", "program", cfg.Program)
		}
	}

	c.log.Info("Starting primary session", "session", id, "name", cfg.Name, "type", cfg.Type)
	return c.deps.Host.StartDebugging(ctx, cfg, nil)
}

// runInTerminal runs a literal command line with the relay environment
// exported in front of it.
func (c *Controller) runInTerminal(ctx context.Context, args []string) error {
	caps := c.deps.Caps
	opts := c.options()

	parts := make([]string, 0, 5)
	for _, e := range opts.HookVars.Entries(caps, opts.Executable, c.Channel()) {
		parts = append(parts, caps.SetEnvCommand(e.Name, e.Value))
	}
	parts = append(parts, codec.JoinCommandLine(args))

	req := TerminalRequest{
		Title:   "Deep Debugger",
		Cwd:     opts.WorkspaceFolder,
		Command: strings.Join(parts, " && "),
	}
	c.log.Info("Running command line in terminal", "command", req.Command)
	return c.deps.Host.RunInTerminal(ctx, req)
}
