package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pattersonrw/menuvault/internal/api"
	"github.com/pattersonrw/menuvault/internal/audit"
	"github.com/pattersonrw/menuvault/internal/comparison"
	"github.com/pattersonrw/menuvault/internal/config"
	"github.com/pattersonrw/menuvault/internal/db"
	"github.com/pattersonrw/menuvault/internal/middleware"
	"github.com/pattersonrw/menuvault/internal/repository"
	"github.com/pattersonrw/menuvault/internal/trigger"
	"github.com/pattersonrw/menuvault/internal/versioning"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.DB, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.DB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	// Create repositories
	versionRepo := repository.NewVersionRepository(conn.Pool)
	snapshotRepo := repository.NewSnapshotRepository(conn.Pool)
	auditRepo := repository.NewAuditLogRepository(conn.Pool)
	catalogRepo := repository.NewCatalogRepository(conn.Pool)

	// Wire the engine
	compareEngine := comparison.NewEngine(snapshotRepo, versionRepo, logger)
	auditor := audit.NewLogger(auditRepo, logger)
	service := versioning.NewService(conn, versionRepo, snapshotRepo, catalogRepo, auditor, compareEngine, logger)
	monitor := trigger.NewMonitor(trigger.Config{
		Threshold: cfg.TriggerThreshold,
		BulkLimit: cfg.TriggerBulkLimit,
	}, service, service, logger)

	// Scheduled publish loop
	go func() {
		ticker := time.NewTicker(cfg.SchedulerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := service.CheckScheduledPublishes(ctx); err != nil {
					logger.Error("scheduled publish check failed", zap.Error(err))
				}
			}
		}
	}()

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	handler := api.NewHandler(service, auditor, monitor, logger)
	root := corsHandler.Handler(middleware.Logging(logger)(handler.Routes()))

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", cfg.ServerAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}
