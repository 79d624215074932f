package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ctagard/deepdbg/internal/commands"
	"github.com/ctagard/deepdbg/internal/logger"
)

const (
	errCommandError = 1
	errSetup        = 2
)

func main() {
	log := logger.New("deepdbg")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if handled, err := commands.RunDriver(ctx, log); handled {
		exit(log, err, errCommandError)
	}

	root, err := commands.NewRootCmd(log)
	if err != nil {
		exit(log, err, errSetup)
	}

	exit(log, root.ExecuteContext(ctx), errCommandError)
}

func exit(log *logger.Logger, err error, code int) {
	if err != nil {
		log.Error(err, "Command failed")
		fmt.Fprintln(os.Stderr, err)
		log.Flush()
		os.Exit(code)
	}
	log.Flush()
	os.Exit(0)
}
