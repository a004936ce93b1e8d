package main

import (
	"context"
	"fmt"

	"github.com/dukex/montracker/pkg/config"
	"github.com/dukex/montracker/pkg/log"
	cli "github.com/urfave/cli/v3"
)

// start builds the runtime for a command and hands it to run. apply adjusts
// and checks the configuration first. The runtime is closed when run returns.
func start(ctx context.Context, command *cli.Command, module string, apply func(*config.Config) error, run func(*runtime) error) error {
	cfg := configFrom(command)
	if apply != nil {
		if err := apply(&cfg); err != nil {
			return err
		}
	}

	log.Setup(cfg.LogLevel)

	logger := log.WithModule(module)

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Error("Failed to close runtime", "error", err)
		}
	}()

	return run(rt)
}

func APICommand() *cli.Command {
	return &cli.Command{
		Name:    "api",
		Aliases: []string{"a"},
		Usage:   "Start the HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   config.DefaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.BoolFlag{
				Name:    "activate-scheduler",
				Usage:   "Run the result poller inside the API process",
				Value:   true,
				Sources: cli.EnvVars("ACTIVATE_SCHEDULER"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			apply := func(cfg *config.Config) error {
				cfg.Port = command.Int("port")
				cfg.ActivateScheduler = command.Bool("activate-scheduler")

				return nil
			}

			return start(ctx, command, "api", apply, func(rt *runtime) error {
				rt.logger.Info("Initializing Montracker API", "port", rt.config.Port)

				if err := rt.listen(ctx); err != nil {
					return err
				}

				if rt.config.ActivateScheduler {
					if err := rt.poller.Start(ctx); err != nil {
						return err
					}

					defer func() {
						if err := rt.poller.Stop(context.WithoutCancel(ctx)); err != nil {
							rt.logger.Error("Failed to stop poller", "error", err)
						}
					}()
				}

				return NewAPI(rt).Start(ctx, rt.config.Port)
			})
		},
	}
}

// worker rejects backends that a process beside the API cannot share.
func worker(cfg *config.Config) error {
	return cfg.ValidateWorker()
}

func PollCommand() *cli.Command {
	return &cli.Command{
		Name:  "poll",
		Usage: "Poll the calculation service for in-flight model results",
		Action: func(ctx context.Context, command *cli.Command) error {
			return start(ctx, command, "poller", worker, func(rt *runtime) error {
				if err := rt.poller.Start(ctx); err != nil {
					return err
				}

				rt.logger.Info("Poller started", "interval", rt.config.PollInterval)
				<-ctx.Done()

				return rt.poller.Stop(context.WithoutCancel(ctx))
			})
		},
	}
}

func SweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Merge the results of every in-flight model once",
		Action: func(ctx context.Context, command *cli.Command) error {
			return start(ctx, command, "sweep", worker, func(rt *runtime) error {
				report, err := rt.poller.Sweep(ctx)
				if err != nil {
					return err
				}

				fmt.Fprintf(command.Root().Writer, "sweep %s: %d merged, %d failed\n", report.ID, report.Merged, report.Failed)

				return nil
			})
		},
	}
}
