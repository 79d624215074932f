package commands

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/ctagard/deepdbg/internal/backend"
	"github.com/ctagard/deepdbg/internal/codec"
	"github.com/ctagard/deepdbg/internal/controller"
	"github.com/ctagard/deepdbg/internal/dap"
	"github.com/ctagard/deepdbg/internal/platform"
)

func newAdapterCmd(st *state) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "adapter",
		Short: "Runs the debug adapter on stdio",
		Long: `Runs the debug adapter. The front-end speaks the Debug Adapter Protocol on
stdin/stdout, or on a TCP address when --listen is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAdapter(cmd.Context(), st, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Serve one front-end connection on this TCP address instead of stdio")
	return cmd
}

func runAdapter(ctx context.Context, st *state, listen string) error {
	log := st.log.Logger.WithName("adapter")

	exe, err := executable()
	if err != nil {
		return err
	}

	transport, err := adapterTransport(ctx, listen)
	if err != nil {
		return err
	}
	defer transport.Close()

	c := codec.New(st.caps, backend.NewRegistry(st.caps), platform.ExecRunner{}, st.log.Logger)

	startRelay := func(ctx context.Context, channel string) (controller.Relay, error) {
		opts := st.cfg.RelayOptions(exe)
		opts.ExtraArgs = append(opts.ExtraArgs, st.verbosity...)
		return controller.ProcessRelayStarter(opts, st.log.Logger)(ctx, channel)
	}

	srv := dap.NewServer(transport, dap.ServerOptions{
		Caps: st.caps,
		Base: st.cfg.ControllerOptions(exe),
		NewController: func(host controller.Host) *controller.Controller {
			return controller.New(controller.Deps{
				Caps:       st.caps,
				Codec:      c,
				Host:       host,
				StartRelay: startRelay,
			}, st.log.Logger)
		},
		OnLaunch: func(args dap.LaunchArguments) {
			if args.Trace {
				st.log.SetLevel(zapcore.DebugLevel)
				st.verbosity = []string{"--verbosity=debug"}
			}
			if args.LogFile != "" && st.cfg.LogFile == "" {
				// Relay servers started from now on share the file.
				st.cfg.LogFile = args.LogFile
				_ = st.log.WithLogFile(args.LogFile)
			}
		},
	}, st.log.Logger)

	log.Info("Debug adapter started", "pid", os.Getpid())
	return srv.Serve(ctx)
}

func adapterTransport(ctx context.Context, listen string) (*dap.Transport, error) {
	if listen == "" {
		return dap.NewTransport(os.Stdin, os.Stdout), nil
	}

	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", listen, err)
	}
	defer l.Close()

	// Print the bound address so that a front-end can use port 0.
	fmt.Fprintln(os.Stderr, l.Addr().String())

	conn, err := l.Accept()
	if err != nil {
		return nil, fmt.Errorf("failed to accept front-end connection: %w", err)
	}
	return dap.NewConnTransport(conn), nil
}
