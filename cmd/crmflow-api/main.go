package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dukex/crmflow/pkg/cmd"
	crmlog "github.com/dukex/crmflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const (
	serviceName = "crmflow-api"
	defaultPort = 9091
)

func main() {
	flags := cmd.CommonFlags()
	flags = append(flags,
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:    "callback-url",
			Usage:   "Base URL the CRM business actions are forwarded to, listed by GET /actions",
			Sources: cli.EnvVars("ACTION_CALLBACK_URL"),
		},
	)

	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Ingest entity events and query the execution audit trail",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			cmd.SetupLogging(command)

			logger := crmlog.WithModule("api")
			logger.InfoContext(ctx, "Initializing crmflow API")

			// The bus reads the global provider, which this installs when enabled.
			_, shutdownTracing := cmd.NewTracer(ctx, logger, serviceName, command.Bool("otel-enabled"))
			defer func() {
				err := shutdownTracing(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to flush traces", "error", err)
				}
			}()

			registry, err := cmd.NewRegistry(logger, command.String("callback-url"))
			if err != nil {
				return err
			}

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

			app := NewAPI(logger, store, registry, eventBus).App()

			go func() {
				<-ctx.Done()

				err := app.Shutdown()
				if err != nil {
					logger.ErrorContext(context.WithoutCancel(ctx), "Failed to shut down API", "error", err)
				}
			}()

			err = app.Listen(":" + strconv.Itoa(command.Int("port")))
			if err != nil {
				logger.ErrorContext(ctx, "API server stopped", "error", err)
			}

			return err
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		panic(err)
	}
}
