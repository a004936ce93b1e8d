package main

import (
	"github.com/dukex/montracker/pkg/config"
	cli "github.com/urfave/cli/v3"
)

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL for persistence (postgres://... or a file path)",
			Value:   config.DefaultDatabaseURL,
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "cache-url",
			Usage:   "Status cache URL (redis://...), in-process cache when empty",
			Sources: cli.EnvVars("CACHE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   config.DefaultEventBus,
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "catalog",
			Usage:   "YAML file seeding the model and person type catalog",
			Sources: cli.EnvVars("CATALOG_PATH"),
		},
		&cli.StringFlag{
			Name:    "calc-server",
			Usage:   "Base address of the calculation service",
			Sources: cli.EnvVars("CALC_SERVER_ADDRESS"),
		},
		&cli.StringFlag{
			Name:    "calc-api-version",
			Usage:   "API version of the calculation service",
			Value:   config.DefaultAPIVersion,
			Sources: cli.EnvVars("CALC_SERVER_API_VERSION"),
		},
		&cli.DurationFlag{
			Name:    "calc-timeout",
			Usage:   "Timeout of each calculation service call",
			Value:   config.DefaultCallTimeout,
			Sources: cli.EnvVars("CALC_SERVER_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "default-weight",
			Usage:   "Edge weight of simple models created without one",
			Value:   config.DefaultWeight,
			Sources: cli.EnvVars("DEFAULT_WEIGHT"),
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "Time between two poll sweeps",
			Value:   config.DefaultPollInterval,
			Sources: cli.EnvVars("POLL_INTERVAL"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

// configFrom collects the shared flags. Flags are looked up through the command lineage.
func configFrom(command *cli.Command) config.Config {
	cfg := config.Default()

	cfg.DatabaseURL = command.String("database-url")
	cfg.CacheURL = command.String("cache-url")
	cfg.EventBus = command.String("event-bus")
	cfg.KafkaBrokers = command.String("kafka-brokers")
	cfg.CatalogPath = command.String("catalog")
	cfg.CalcServer.Address = command.String("calc-server")
	cfg.CalcServer.APIVersion = command.String("calc-api-version")
	cfg.CalcServer.Timeout = command.Duration("calc-timeout")
	cfg.DefaultWeight = command.Int("default-weight")
	cfg.PollInterval = command.Duration("poll-interval")
	cfg.Tracing = command.Bool("tracing")
	cfg.LogLevel = command.String("log-level")

	return cfg
}
