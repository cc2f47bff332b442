package cmd

import (
	"strings"

	"github.com/dukex/crmflow/pkg/engine"
	crmlog "github.com/dukex/crmflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

// CommonFlags are shared by every binary.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (file://<dir> or postgres://...)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel)",
			Value:   "kafka",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	}
}

// EngineFlags configure the orchestrator, retries and recovery.
func EngineFlags() []cli.Flag {
	defaults := engine.DefaultConfig()

	return []cli.Flag{
		&cli.IntFlag{
			Name:    "max-retries",
			Usage:   "Attempts after the first failure before a step gives up",
			Value:   defaults.MaxRetries,
			Sources: cli.EnvVars("MAX_RETRIES"),
		},
		&cli.DurationFlag{
			Name:    "retry-delay",
			Usage:   "Wait between attempts of a failing step",
			Value:   defaults.RetryDelay,
			Sources: cli.EnvVars("RETRY_DELAY"),
		},
		&cli.DurationFlag{
			Name:    "action-timeout",
			Usage:   "Bound on a single action invocation",
			Value:   defaults.ActionTimeout,
			Sources: cli.EnvVars("ACTION_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "Executions re-entered in parallel by recovery",
			Value:   defaults.Concurrency,
			Sources: cli.EnvVars("WORKER_CONCURRENCY"),
		},
		&cli.DurationFlag{
			Name:    "stall-after",
			Usage:   "Idle time after which an unfinished execution is recovered",
			Value:   defaults.StallAfter,
			Sources: cli.EnvVars("STALL_AFTER"),
		},
	}
}

// SetupLogging configures the default slog logger from the common flags.
func SetupLogging(command *cli.Command) {
	crmlog.Setup(command.String("log-level"), command.String("log-format"))
}

// Brokers splits the kafka-brokers flag.
func Brokers(command *cli.Command) []string {
	return strings.Split(command.String("kafka-brokers"), ",")
}

// EngineConfig reads EngineFlags into an engine.Config.
func EngineConfig(command *cli.Command) engine.Config {
	config := engine.DefaultConfig()
	config.MaxRetries = command.Int("max-retries")
	config.RetryDelay = command.Duration("retry-delay")
	config.ActionTimeout = command.Duration("action-timeout")
	config.Concurrency = command.Int("concurrency")
	config.StallAfter = command.Duration("stall-after")

	return config
}
