package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/eventbus"
	"github.com/dukex/crmflow/pkg/events"
	crmlog "github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/models"
	"github.com/dukex/crmflow/pkg/schedule"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "crmflow-scheduler"

func main() {
	flags := cmd.CommonFlags()
	flags = append(flags,
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "How often scheduled definitions are checked for due runs",
			Value:   15 * time.Second,
			Sources: cli.EnvVars("POLL_INTERVAL"),
		},
	)

	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Emit scheduled trigger events for cron-scheduled workflows",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			cmd.SetupLogging(command)

			logger := crmlog.WithModule(serviceName)
			logger.InfoContext(ctx, "Initializing crmflow scheduler")

			// The bus reads the global provider, which this installs when enabled.
			_, shutdownTracing := cmd.NewTracer(ctx, logger, serviceName, command.Bool("otel-enabled"))
			defer func() {
				err := shutdownTracing(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to flush traces", "error", err)
				}
			}()

			store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := store.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(logger, command.String("event-bus"), serviceName, cmd.Brokers(command))
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			planner := schedule.NewPlanner(logger, store.DefinitionRepository(), publishTo(eventBus))
			planner.Run(ctx, command.Duration("poll-interval"))

			logger.InfoContext(context.WithoutCancel(ctx), "Scheduler stopped")

			return nil
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		panic(err)
	}
}

// publishTo emits scheduled events on the bus for the workers to dispatch.
func publishTo(publisher eventbus.EventPublisher) schedule.EmitFunc {
	return func(ctx context.Context, event models.EntityEvent) error {
		return publisher.Publish(ctx, event.EntityID, events.NewEntityChanged(event))
	}
}
