package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/ctagard/deepdbg/internal/relay"
)

func newRelayCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay server and client for launcher queues",
	}
	cmd.AddCommand(newRelayServeCmd(st), newRelaySendCmd(st))
	return cmd
}

func newRelayServeCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "serve <queue>",
		Short: "Listens on a launcher queue and copies every message to stdout",
		Long: `Listens on the launcher queue socket. Each connection is read to the end and
written to stdout in one piece. A connection carrying "stop" ends the server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelayServe(cmd.Context(), st, args[0])
		},
	}
}

func runRelayServe(ctx context.Context, st *state, queue string) error {
	srv := relay.NewServer(st.caps.ChannelPath(queue), os.Stdout, st.log.Logger)
	if err := srv.Listen(); err != nil {
		return err
	}
	defer func() {
		if err := srv.Shutdown(context.Background()); err != nil {
			st.log.Error(err, "Failed to shut relay server down")
		}
	}()

	st.log.Info("Relay server listening", "queue", srv.Path())
	return srv.Serve(ctx)
}

func newRelaySendCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "send <channel> <payload>",
		Short: "Writes one message to a channel and closes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return relay.Send(cmd.Context(), st.caps.ChannelPath(args[0]), []byte(args[1]), st.cfg.DialTimeout)
		},
	}
}
