package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"campuslib/internal/config"
	"campuslib/internal/notification"
	"campuslib/internal/store"
	"campuslib/internal/telemetry"
	"campuslib/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		log.Fatal("KAFKA_BROKERS is required")
	}

	logger, err := telemetry.NewLogger(cfg.Server.Env)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	reader := notification.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications, cfg.Kafka.ConsumerGroup)
	inbox := notification.NewService(db, notification.NewRepository(db))
	w := worker.NewNotificationWorker(notification.NewConsumer(reader, logger), inbox, logger)

	logger.Info("Notifier consuming",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.TopicNotifications),
		zap.String("group", cfg.Kafka.ConsumerGroup),
	)
	if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Notification worker error", zap.Error(err))
	}
	if err := w.Stop(); err != nil {
		logger.Error("Failed to close consumer", zap.Error(err))
	}
	logger.Info("Notifier exited")
}
