// Package main provides the API server entry point for the Know Me backend.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/know-me-server/internal/api"
	"github.com/know-me-server/internal/config"
	"github.com/know-me-server/internal/events"
	"github.com/know-me-server/internal/logging"
	"github.com/know-me-server/internal/mail"
	"github.com/know-me-server/internal/service"
	"github.com/know-me-server/internal/storage"
	"github.com/know-me-server/internal/verifier"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

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

	// Initialize repositories
	userRepo := storage.NewUserRepository(postgres)
	emailRepo := storage.NewEmailRepository(postgres)
	subscriptionRepo := storage.NewSubscriptionRepository(postgres)
	receiptRepo := storage.NewReceiptRepository(postgres)
	accessorRepo := storage.NewAccessorRepository(postgres)
	contentRepo := storage.NewContentRepository(postgres)

	subscriptionCache := storage.NewSubscriptionCache(redis, 5*time.Minute)

	// Initialize services
	logger.Info("Initializing services...")

	bus := events.NewBus()
	mailer := mail.NewLogMailer()
	verifierClient := verifier.NewClient(&cfg.Apple)

	receiptService := service.NewReceiptService(verifierClient, receiptRepo, emailRepo, subscriptionCache)
	subscriptionService := service.NewSubscriptionService(subscriptionRepo, receiptRepo, emailRepo, &cfg.Premium, subscriptionCache)
	transferService := service.NewTransferService(subscriptionRepo, receiptRepo, emailRepo, subscriptionCache)
	accessorService := service.NewAccessorService(accessorRepo, emailRepo, subscriptionService, &cfg.Premium, mailer)
	authzService := service.NewAuthorizationService(subscriptionService, accessorRepo, &cfg.Premium)
	userService := service.NewUserService(userRepo, emailRepo, emailRepo, bus)

	// Email verification drives legacy promotion and accessor binding;
	// registration seeds the account's root profile
	subscriptionService.RegisterEventHandlers(bus)
	accessorService.RegisterEventHandlers(bus)
	service.NewProfileBootstrap(contentRepo).RegisterEventHandlers(bus)

	logger.Info("Services initialized")

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		FreeTierRPS:     cfg.RateLimit.FreeTier,
		PremiumTierRPS:  cfg.RateLimit.PremiumTier,
	}

	server := api.NewServer(
		serverConfig,
		receiptService,
		subscriptionService,
		transferService,
		accessorService,
		userService,
		authzService,
		contentRepo,
	)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
