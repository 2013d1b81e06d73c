package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/dispatch-core/internal/bootstrap"
	"github.com/kursadbilgin/dispatch-core/internal/config"
	"github.com/kursadbilgin/dispatch-core/internal/handler"
	"github.com/kursadbilgin/dispatch-core/internal/infra/postgresql"
	"github.com/kursadbilgin/dispatch-core/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/dispatch-core/internal/infra/redis"
	"github.com/kursadbilgin/dispatch-core/internal/observability"
	"github.com/kursadbilgin/dispatch-core/internal/queue"
	"github.com/kursadbilgin/dispatch-core/internal/service"
	"github.com/kursadbilgin/dispatch-core/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, bootstrap.PostgresOptions(cfg), logger)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rabbit.Close()

	metrics := observability.NewMetrics()

	components, err := bootstrap.Build(cfg, db, rdb, metrics, logger)
	if err != nil {
		return fmt.Errorf("dispatcher initialization failed: %w", err)
	}

	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerPrefetch, logger.Named("consumer"))

	scheduler, err := service.NewScheduler(components.Notifications, publisher, cfg.ScanInterval, cfg.ScanLimit, logger.Named("scheduler"))
	if err != nil {
		return err
	}
	scheduler.SetMetrics(metrics)

	retryScanner, err := service.NewRetryScanner(components.Notifications, publisher, cfg.ScanInterval, cfg.ScanLimit, logger.Named("retry_scanner"))
	if err != nil {
		return err
	}
	retryScanner.SetMetrics(metrics)

	workers, err := service.NewWorkerService(consumer, components.Dispatcher, cfg.WorkerConcurrency, logger.Named("worker"))
	if err != nil {
		return err
	}

	recovery, err := service.NewRecoveryJob(components.Dispatcher, cfg.RecoveryCron, cfg.StaleAfter, logger.Named("recovery"))
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:               "dispatch-core-worker",
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb, rabbit)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Start(gctx) })
	g.Go(func() error { return retryScanner.Start(gctx) })
	g.Go(func() error { return workers.Start(gctx) })
	g.Go(func() error { return recovery.Start(gctx) })
	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.WorkerPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down worker")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	logger.Info("dispatch-core worker started",
		zap.Int("port", cfg.WorkerPort),
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Strings("queues", queue.WorkQueueNames()),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
