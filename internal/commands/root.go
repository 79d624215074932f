// Package commands implements the deepdbg command line.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/ctagard/deepdbg/internal/config"
	"github.com/ctagard/deepdbg/internal/logger"
	"github.com/ctagard/deepdbg/internal/platform"
)

// state is shared by every subcommand once the root has parsed its flags.
type state struct {
	log        *logger.Logger
	cfg        *config.Config
	caps       platform.Capabilities
	configPath string
	logFile    string
	verbosity  []string
}

func NewRootCmd(log *logger.Logger) (*cobra.Command, error) {
	st := &state{log: log, cfg: config.DefaultConfig(), caps: platform.Current()}

	rootCmd := &cobra.Command{
		Use:   "deepdbg",
		Short: "Debugs whole process trees by turning every child launch into a debug session",
		Long: `deepdbg is a debug adapter that follows a program into the processes it starts.

	Children report their launches through a small hook on a local channel, and
	each report becomes a new debug session under the session that spawned it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return st.setup(cmd)
		},
	}

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&st.configPath, "config", "", "Path to a deepdbg.{yaml,json,toml} settings file")
	rootCmd.PersistentFlags().StringVar(&st.logFile, "log-file", "", "Shared log file; records from all deepdbg processes are appended under a lock")
	log.AddLevelFlag(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newAdapterCmd(st),
		newRelayCmd(st),
		newHookCmd(st),
		newMCPCmd(st),
		newVersionCmd(),
	)

	return rootCmd, nil
}

func (st *state) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(st.configPath)
	if err != nil {
		return err
	}
	st.cfg = cfg

	flags := cmd.Flags()
	if !flags.Changed("verbosity") && os.Getenv(logger.EnvLogLevel) == "" && cfg.LogLevel != "" {
		level, err := logger.StringToLevel(cfg.LogLevel, zapcore.InfoLevel)
		if err != nil {
			return fmt.Errorf("logLevel: %w", err)
		}
		st.log.SetLevel(level)
	}
	st.verbosity = logger.VerbosityArgs(flags)

	if st.logFile == "" {
		st.logFile = cfg.LogFile
	}
	st.cfg.LogFile = st.logFile
	if st.logFile != "" {
		// The file is optional; WithLogFile already reported why it is not used.
		_ = st.log.WithLogFile(st.logFile)
	}

	if cfg.QueueDir != "" {
		st.caps.ChannelDir = cfg.QueueDir
	}
	return nil
}

// executable is the deepdbg binary hooks and relay servers run.
func executable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate deepdbg executable: %w", err)
	}
	return exe, nil
}
