// Package main provides the montracker command: API server, poller and one-off sweeps.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/montracker/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	logger := log.WithModule("montracker")

	cmd := &cli.Command{
		Name:                  "montracker",
		Usage:                 "Track search-and-rescue actions and their probability models",
		EnableShellCompletion: true,
		Flags:                 flags(),
		Commands: []*cli.Command{
			APICommand(),
			PollCommand(),
			SweepCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error("montracker failed", "error", err)
		os.Exit(1)
	}
}
