// Command authd serves the work order auth API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/goliatone/go-router"

	auth "github.com/goliatone/go-workorder-auth"
	"github.com/goliatone/go-workorder-auth/activitymap"
	"github.com/goliatone/go-workorder-auth/config"
	"github.com/goliatone/go-workorder-auth/httpapi"
	"github.com/goliatone/go-workorder-auth/notifier"
	"github.com/goliatone/go-workorder-auth/persistence"
)

const purgeInterval = time.Hour

func main() {
	configPath := flag.String("config", os.Getenv("AUTH_CONFIG"), "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "dotenv file loaded before the environment")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, envFile string) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := cfg.Logging.NewLogger(os.Stdout, "authd")
	slog.SetDefault(log)
	logger := auth.NewSlogLogger(log)

	db, err := persistence.Open(ctx, persistence.Options{
		Dialect:      cfg.Database.Dialect,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if cfg.Database.AutoMigrate {
		if err := auth.Migrate(ctx, db, logger); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	codec, err := auth.NewTokenCodecFromConfig(cfg, auth.WithCodecLogger(logger))
	if err != nil {
		return fmt.Errorf("creating token codec: %w", err)
	}

	dispatcher := notifier.NewDispatcher(newPublisher(cfg, logger),
		notifier.WithLogger(logger),
		notifier.WithQueueSize(cfg.Notifier.QueueSize),
		notifier.WithWorkers(cfg.Notifier.Workers),
	)
	dispatcher.Start(ctx)

	activitySink, closeActivity := newActivitySink(cfg, logger)
	defer closeActivity()

	activity := activitymap.NewQueue(activitySink,
		activitymap.WithQueueLogger(logger),
		activitymap.WithQueueSize(cfg.Notifier.QueueSize),
		activitymap.WithQueueWorkers(cfg.Notifier.Workers),
	)
	activity.Start(ctx)

	svc := auth.NewService(auth.NewRepositoryManager(db), codec, cfg).
		WithLogger(logger).
		WithNotificationSender(dispatcher).
		WithRolePolicy(cfg.RolePolicy()).
		WithActivitySink(activity)

	go purgeLoop(ctx, svc.Ledger(), log)

	srv := router.NewFiberAdapter(func(*fiber.App) *fiber.App {
		app := fiber.New(fiber.Config{
			AppName:               "workorder-auth",
			ReadTimeout:           cfg.HTTP.ReadTimeout,
			WriteTimeout:          cfg.HTTP.WriteTimeout,
			DisableStartupMessage: true,
			ErrorHandler:          httpapi.ErrorHandler(logger),
		})
		app.Use(recover.New())
		return app
	})
	httpapi.RegisterRoutes(srv.Router(), httpapi.NewController(svc, httpapi.WithLogger(logger)))

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTP.Addr)
		errCh <- srv.Serve(cfg.HTTP.Addr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Error("notifier shutdown failed", "error", err)
	}
	if err := activity.Close(shutdownCtx); err != nil {
		log.Error("activity shutdown failed", "error", err)
	}
	return nil
}

func newPublisher(cfg *config.Config, logger auth.Logger) notifier.Publisher {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Warn("no kafka brokers configured, notifications are only logged")
		return notifier.NewLogPublisher(logger)
	}
	return notifier.NewKafkaPublisher(notifier.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
}

func newActivitySink(cfg *config.Config, logger auth.Logger) (auth.ActivitySink, func()) {
	if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.ActivityTopic == "" {
		return activitymap.LogSink(logger), func() {}
	}
	writer := notifier.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.ActivityTopic)
	return activitymap.NewKafkaSink(writer), func() {
		if err := writer.Close(); err != nil {
			logger.Error("activity writer close failed", "error", err)
		}
	}
}

// purgeLoop drops expired verification tokens until ctx ends
func purgeLoop(ctx context.Context, ledger *auth.VerificationLedger, log *slog.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := ledger.PurgeExpired(ctx)
			if err != nil {
				log.Error("purging expired verification tokens", "error", err)
				continue
			}
			if n > 0 {
				log.Info("purged expired verification tokens", "count", n)
			}
		}
	}
}
