package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ctagard/deepdbg/internal/backend"
	"github.com/ctagard/deepdbg/internal/codec"
	"github.com/ctagard/deepdbg/internal/hook"
	"github.com/ctagard/deepdbg/internal/logger"
	"github.com/ctagard/deepdbg/internal/platform"
	"github.com/ctagard/deepdbg/pkg/types"
)

func newHookCmd(st *state) *cobra.Command {
	var (
		typ     string
		noBlock bool
		execute bool
	)

	cmd := &cobra.Command{
		Use:   "hook --type <tag> [--no-block] [--exec] -- <program> [args...]",
		Short: "Reports a child launch to the launcher queue",
		Long: `Reports <program> to the launcher queue named by DEEPDEBUGGER_LAUNCHER_QUEUE
and waits until its debug session ends. Without a queue it does nothing, or
just runs the program with --exec.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkBackendType(st, types.BackendType(typ)); err != nil {
				// Let the adapter infer the type rather than fail the launch.
				st.log.Error(err, "Ignoring --type")
				typ = ""
			}
			return runHook(cmd.Context(), st, hook.Options{
				Type:        types.BackendType(typ),
				NoBlock:     noBlock,
				Exec:        execute,
				Program:     args[0],
				Args:        args[1:],
				DialTimeout: st.cfg.DialTimeout,
			})
		},
	}

	cmd.Flags().StringVar(&typ, "type", "", "Backend type tag to request, e.g. binary, python, bashdb")
	cmd.Flags().BoolVar(&noBlock, "no-block", false, "Return as soon as the launch is reported")
	cmd.Flags().BoolVar(&execute, "exec", false, "Run the program after reporting (after release when blocking)")
	return cmd
}

// checkBackendType reports a --type the host front-end would not recognize.
func checkBackendType(st *state, typ types.BackendType) error {
	if typ == "" {
		return nil
	}
	registry := backend.NewRegistry(st.caps)
	if registry.Known(typ) {
		return nil
	}
	return fmt.Errorf("unknown backend type %q, expected %s or one of %v", typ, types.BackendBinary, registry.Types())
}

func runHook(ctx context.Context, st *state, opts hook.Options) error {
	// The shared log file may be smuggled in the target's own arguments.
	if _, sw := codec.StripSwitches(opts.Args); sw.LogFile != "" && st.logFile == "" {
		_ = st.log.WithLogFile(sw.LogFile)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	opts.Cwd = cwd
	opts.Environ = os.Environ()

	h := hook.New(st.caps, nil, st.log.Logger)
	res, err := h.Run(ctx, opts)
	if err != nil && !opts.Exec {
		// Reporting is best effort; the parent must not fail because of it.
		st.log.Error(err, "Launch was not reported", "program", opts.Program)
		return nil
	}
	if res.Reported {
		st.log.V(1).Info("Launch reported", "program", res.Program, "blockChannel", res.BlockChannel)
	}
	return err
}

// RunDriver handles the case where this executable is a python driver
// clone, recognized by a parent.cfg next to it. It reports whether it did.
func RunDriver(ctx context.Context, log *logger.Logger) (bool, error) {
	exe, err := os.Executable()
	if err != nil {
		return false, nil
	}
	python, ok := hook.ReadParentConfig(filepath.Dir(exe))
	if !ok {
		return false, nil
	}

	args := os.Args[1:]
	if _, sw := codec.StripSwitches(args); sw.LogFile != "" {
		_ = log.WithLogFile(sw.LogFile)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return true, err
	}

	h := hook.New(platform.Current(), nil, log.Logger.WithName("driver"))
	return true, h.RunDriver(ctx, python, args, cwd, os.Environ())
}
