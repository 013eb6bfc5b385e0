package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"recurrent/internal/amqp"
	"recurrent/internal/cache"
	"recurrent/internal/cli"
	"recurrent/internal/core"
	apphttp "recurrent/internal/http"
	"recurrent/internal/log"
	"recurrent/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("Invalid timezone", log.FieldError, err)
		os.Exit(1)
	}

	backend := cli.InitStore(context.Background(), logger, cfg)

	// Lifecycle events are optional; the engine works without a broker.
	var publisher services.Publisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", log.FieldError, err)
		} else {
			publisher = amqpClient
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "routing_key", cfg.AMQPRoutingKey)
		}
	} else {
		logger.Info("AMQP disabled - lifecycle events will not be published")
	}

	projection := cache.NewLRUCache[[]services.RecurringView](cfg.CacheSize, cfg.CacheTTL)
	caches := cache.NewManager()
	caches.Register(projection)
	caches.StartCleanup(cfg.CacheTTL)

	engine := services.NewEngine(backend.Store, projection,
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

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Options{
		Engine:             engine,
		Store:              backend.Store,
		Location:           loc,
		Logger:             logger,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		engine.Scheduler.Stop()
		caches.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if err := backend.Cleanup(); err != nil {
			logger.Warn("Store close error", log.FieldError, err)
		}
	})

	if cfg.SchedulerEnabled {
		engine.Scheduler.Start(ctx)
	}

	logger.Info("Starting recurrent server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"timezone", loc.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
