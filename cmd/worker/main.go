// Package main provides the reconciliation worker entry point for the Know
// Me backend.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/know-me-server/internal/config"
	"github.com/know-me-server/internal/logging"
	"github.com/know-me-server/internal/service"
	"github.com/know-me-server/internal/storage"
	"github.com/know-me-server/internal/verifier"
	"github.com/know-me-server/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	logger.Info("Reconciliation worker starting...")

	// Initialize database connections
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Initialize repositories and services
	emailRepo := storage.NewEmailRepository(postgres)
	subscriptionRepo := storage.NewSubscriptionRepository(postgres)
	receiptRepo := storage.NewReceiptRepository(postgres)

	subscriptionCache := storage.NewSubscriptionCache(redis, 5*time.Minute)

	subscriptionService := service.NewSubscriptionService(
		subscriptionRepo,
		receiptRepo,
		emailRepo,
		&cfg.Premium,
		subscriptionCache,
	)

	reconcileWorker, err := worker.NewReconcileWorker(&worker.ReconcileWorkerConfig{
		Receipts:      receiptRepo,
		Subscriptions: subscriptionRepo,
		Verifier:      verifier.NewClient(&cfg.Apple),
		Legacy:        subscriptionService,
		Cache:         subscriptionCache,
		Interval:      cfg.Worker.ReconcileInterval,
		RenewalWindow: cfg.Worker.RenewalWindow,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create reconciliation worker")
	}

	ctx := context.Background()
	if err := reconcileWorker.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start reconciliation worker")
	}

	logger.WithFields(map[string]interface{}{
		"interval":       cfg.Worker.ReconcileInterval.String(),
		"renewal_window": cfg.Worker.RenewalWindow.String(),
	}).Info("Reconciliation worker started")

	// Set up graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutdown signal received, stopping worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := reconcileWorker.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error stopping worker")
	}

	logger.Info("Worker stopped")
}
