package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"campuslib/internal/config"
	"campuslib/internal/httpapi"
	"campuslib/internal/notification"
	"campuslib/internal/reservation"
	"campuslib/internal/store"
	"campuslib/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.Server.Env)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting campuslib server", zap.String("env", cfg.Server.Env))

	ctx := context.Background()
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Observ.ServiceName, cfg.Observ.OTLPEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database ready", zap.String("driver", cfg.Database.Driver))

	var infra httpapi.Infra
	if cfg.Redis.Addr != "" {
		rdb, err := reservation.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		infra.Cache = reservation.NewRedisCache(rdb, cfg.Redis.TTL)
		logger.Info("Redis queue cache enabled", zap.String("addr", cfg.Redis.Addr))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		sink := notification.NewKafkaSink(
			notification.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.TopicNotifications), logger)
		defer sink.Close()
		infra.Sink = sink
		logger.Info("Kafka notifications enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	app, err := httpapi.NewApp(cfg, db, infra, logger)
	if err != nil {
		logger.Fatal("Failed to build services", zap.Error(err))
	}

	if cfg.Auth.BootstrapEmail != "" {
		if _, err := app.Membership.EnsureLibrarian(ctx, cfg.Auth.BootstrapEmail, cfg.Auth.BootstrapPassword); err != nil {
			logger.Fatal("Failed to bootstrap librarian", zap.Error(err))
		}
		logger.Info("Librarian account ready", zap.String("email", cfg.Auth.BootstrapEmail))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go func() {
		if err := app.Sweeper.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Sweeper stopped", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           httpapi.NewRouter(app, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	workerCancel()

	logger.Info("Server exited")
}
