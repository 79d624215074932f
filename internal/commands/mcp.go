package commands

import (
	"github.com/spf13/cobra"

	"github.com/ctagard/deepdbg/internal/backend"
	"github.com/ctagard/deepdbg/internal/codec"
	"github.com/ctagard/deepdbg/internal/mcp"
	"github.com/ctagard/deepdbg/internal/platform"
)

func newMCPCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serves the relay tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			c := codec.New(st.caps, backend.NewRegistry(st.caps), platform.ExecRunner{}, st.log.Logger)
			srv := mcp.NewServer(c, st.caps, st.cfg.DialTimeout, st.log.Logger)
			st.log.Info("MCP server starting")
			return srv.ServeStdio()
		},
	}
}
