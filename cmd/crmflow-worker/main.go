package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/crmflow/pkg/cmd"
	"github.com/dukex/crmflow/pkg/conditions"
	"github.com/dukex/crmflow/pkg/delay"
	"github.com/dukex/crmflow/pkg/engine"
	crmlog "github.com/dukex/crmflow/pkg/log"
	"github.com/dukex/crmflow/pkg/trigger"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "crmflow-worker"

func main() {
	flags := cmd.CommonFlags()
	flags = append(flags, cmd.EngineFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.StringFlag{
			Name:    "delay-queue-url",
			Usage:   "Delay queue URL (redis://... or memory://)",
			Value:   "memory://",
			Sources: cli.EnvVars("DELAY_QUEUE_URL"),
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "How often the delay queue is polled for due resumes",
			Value:   time.Second,
			Sources: cli.EnvVars("POLL_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "recover-interval",
			Usage:   "How often stalled executions are looked for",
			Value:   time.Minute,
			Sources: cli.EnvVars("RECOVER_INTERVAL"),
		},
		&cli.StringFlag{
			Name:    "callback-url",
			Usage:   "Base URL the CRM business actions are forwarded to",
			Sources: cli.EnvVars("ACTION_CALLBACK_URL"),
		},
	)

	command := &cli.Command{
		Name:                  serviceName,
		EnableShellCompletion: true,
		Usage:                 "Dispatch entity events and execute workflows",
		Flags:                 flags,
		Action:                run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	cmd.SetupLogging(command)

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := crmlog.WithModule(serviceName).With("worker_id", workerID)
	logger.InfoContext(ctx, "Initializing crmflow worker")

	config := cmd.EngineConfig(command)
	tracer, shutdownTracing := cmd.NewTracer(ctx, logger, serviceName, command.Bool("otel-enabled"))
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

	queue, err := cmd.NewDelayQueue(ctx, logger, command.String("delay-queue-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := queue.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close delay queue", "error", err)
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

	evaluator := conditions.NewEvaluator(engine.ErrorDiagnostics(logger))
	orchestrator := engine.NewOrchestrator(logger, store, evaluator, registry, queue, config,
		engine.WithPublisher(eventBus),
		engine.WithTracer(tracer),
	)
	matcher := trigger.NewMatcher(logger, store.DefinitionRepository(), evaluator)
	dispatcher := engine.NewDispatcher(logger, store, matcher, orchestrator, eventBus, config)
	recoverer := engine.NewRecoverer(logger, store.ExecutionRepository(), orchestrator, config)
	poller := delay.NewPoller(logger, queue, command.Duration("poll-interval"), 0)

	worker := NewWorkerManager(
		workerID,
		logger,
		eventBus,
		dispatcher,
		orchestrator,
		poller,
		recoverer,
		command.Duration("recover-interval"),
	)

	return worker.Start(ctx)
}
