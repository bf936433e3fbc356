package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"campuslib/internal/audit"
	"campuslib/internal/config"
	"campuslib/internal/store"
	"campuslib/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	watch := flag.Duration("watch", 0, "re-run the audit at this interval instead of exiting")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	auditor := audit.NewAuditor(db, logger)
	auditor.RegisterDefaults()

	if *watch > 0 {
		err := auditor.Watch(ctx, *watch, func(r *audit.Report) {
			logger.Info("audit finished", zap.Time("at", r.FinishedAt), zap.Bool("passed", r.Passed))
			audit.Print(os.Stdout, r)
		})
		if err != nil && ctx.Err() == nil {
			logger.Fatal("Audit failed", zap.Error(err))
		}
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	report, err := auditor.Run(runCtx)
	if err != nil {
		logger.Fatal("Audit failed", zap.Error(err))
	}
	audit.Print(os.Stdout, report)
	if !report.Passed {
		os.Exit(1)
	}
}
