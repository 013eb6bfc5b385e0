package main

import (
	"context"
	"errors"
	"os"
	"time"

	"recurrent/internal/amqp"
	"recurrent/internal/cli"
	"recurrent/internal/core"
	"recurrent/internal/log"
	"recurrent/internal/services"
	"recurrent/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	logger.Info("Starting recurring-worker")

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("Invalid timezone", log.FieldError, err)
		os.Exit(1)
	}

	backend := cli.InitStore(context.Background(), logger, cfg)

	// The worker both publishes lifecycle events and consumes generate
	// requests when a broker is configured.
	var publisher services.Publisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, running on the ticker only", log.FieldError, err)
		} else {
			publisher = amqpClient
		}
	} else {
		logger.Info("AMQP disabled - generate requests will not be consumed")
	}

	engine := services.NewEngine(backend.Store, nil,
		services.SchedulerConfig{
			Interval:    cfg.SchedulerInterval,
			Concurrency: cfg.SchedulerConcurrency,
		},
		services.Options{
			Location:      loc,
			HorizonCycles: cfg.HorizonCycles,
			AnchorPolicy:  core.AnchorPolicy(cfg.MonthlyAnchorPolicy),
			StaleAfter:    cfg.StaleAfter,
			Publisher:     publisher,
			Logger:        logger,
		})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		logger.Info("Shutting down recurring-worker...")
		engine.Scheduler.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if err := backend.Cleanup(); err != nil {
			logger.Warn("Store close error", log.FieldError, err)
		}
	})

	// The ticker runs immediately on start, then every SCHEDULER_INTERVAL.
	engine.Scheduler.Start(ctx)

	if amqpClient != nil {
		generateWorker := worker.NewGenerateWorker(engine, loc, time.Now, logger)
		go func() {
			for {
				err := amqpClient.Consume(ctx, cfg.AMQPQueue, generateWorker.EventTypes(), generateWorker.HandleEvent)
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				logger.Error("Message consumption failed, retrying", log.FieldError, err, "queue", cfg.AMQPQueue)
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
			}
		}()
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Recurring-worker shutdown complete")
}
