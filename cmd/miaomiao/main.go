package main

import (
	"context"
	"os"
	"time"

	"miaomiao/internal/aggregate"
	"miaomiao/internal/amqp"
	"miaomiao/internal/auth"
	"miaomiao/internal/backend"
	"miaomiao/internal/cache"
	"miaomiao/internal/cli"
	"miaomiao/internal/console"
	"miaomiao/internal/export"
	"miaomiao/internal/log"
	"miaomiao/internal/services"
	"miaomiao/internal/session"
	"miaomiao/internal/stats"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting miaomiao", log.FieldOperation, log.OpStartup, "backend", cfg.DataBackend)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to create backend", log.FieldError, err)
		os.Exit(1)
	}
	store := result.Store

	sess := session.New()

	limiter := auth.NewLimiter(cfg.LoginMaxAttempts, cfg.LoginLockout)
	caches := cache.NewManager(logger)
	caches.Register(limiter.Cleaner())
	caches.StartCleanup(time.Minute)

	var ledgerOpts []services.Option
	var amqpClient *amqp.Client
	if cfg.AMQPEnabled() {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without change messages", log.FieldError, err)
		} else {
			ledgerOpts = append(ledgerOpts, services.WithPublisher(amqpClient))
			logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	updater := stats.NewUpdater(store, sess, logger)
	engine := aggregate.NewEngine(store, sess, logger)

	writer, err := backend.NewExportWriter(context.Background(), cfg)
	if err != nil {
		logger.Error("Failed to initialize export", log.FieldError, err)
		os.Exit(1)
	}

	cleanup := func() {
		engine.Stop()
		caches.Stop()
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Error("Failed to close AMQP client", log.FieldError, err)
			}
		}
		if err := result.Cleanup(); err != nil {
			logger.Error("Failed to close store", log.FieldError, err)
		}
	}
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	ctx, done := cli.GracefulShutdown(runCtx, logger, 10*time.Second, cleanup)

	if err := engine.Start(ctx); err != nil {
		logger.Error("Failed to start aggregation engine", log.FieldError, err)
		os.Exit(1)
	}

	app := console.New(console.Deps{
		Session:  sess,
		Auth:     auth.NewService(store, sess, logger, auth.WithLimiter(limiter)),
		Ledger:   services.NewLedgerService(store, sess, updater, logger, ledgerOpts...),
		Engine:   engine,
		Stats:    updater,
		Exporter: export.NewExporter(writer, logger),
		Printer:  cli.NewPrinter(os.Stdout),
		Logger:   logger,
	}, os.Stdout)

	// Stdin reads cannot be interrupted, so the console runs on its own
	// goroutine and a signal ends the process without waiting for it.
	go func() {
		if err := app.Run(ctx, os.Stdin); err != nil {
			logger.Error("Console stopped", log.FieldError, err)
		}
		stop()
	}()

	cli.WaitForShutdown(ctx, done)
}
