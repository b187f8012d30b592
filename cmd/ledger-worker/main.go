package main

import (
	"context"
	"os"
	"time"

	"miaomiao/internal/amqp"
	"miaomiao/internal/backend"
	"miaomiao/internal/cli"
	"miaomiao/internal/log"
	"miaomiao/internal/stats"
	"miaomiao/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting ledger-worker", log.FieldOperation, log.OpStartup)

	if cfg.DataBackend != backend.SQLiteBackend.String() {
		logger.Error("ledger-worker needs a shared store, set DATA_BACKEND=sqlite", "backend", cfg.DataBackend)
		os.Exit(1)
	}

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

	var consumer worker.Consumer
	var amqpClient *amqp.Client
	if cfg.AMQPEnabled() {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		consumer = amqpClient
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided, running periodic sweeps only")
	}

	// Statistics here are written for users who are not signed in to this
	// process, so there is no session to refresh.
	reconciler := worker.NewStatsReconciler(
		stats.NewUpdater(result.Store, nil, logger),
		result.Store,
		consumer,
		cfg.ReconcileInterval,
		logger,
	)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	ctx, done := cli.GracefulShutdown(runCtx, logger, 30*time.Second, func() {
		if amqpClient != nil {
			amqpClient.Close()
		}
		if err := result.Cleanup(); err != nil {
			logger.Error("Failed to close store", log.FieldError, err)
		}
	})

	if err := reconciler.Run(ctx); err != nil {
		logger.Error("Reconciler stopped", log.FieldError, err)
	}
	stop()

	cli.WaitForShutdown(ctx, done)
}
