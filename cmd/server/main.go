package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"botmarket-backend/internal/clients"
	"botmarket-backend/internal/config"
	"botmarket-backend/internal/db"
	"botmarket-backend/internal/engine"
	"botmarket-backend/internal/events"
	"botmarket-backend/internal/handlers"
	"botmarket-backend/internal/middleware"
	"botmarket-backend/internal/repository"
	"botmarket-backend/internal/router"
	"botmarket-backend/internal/services"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default config.yaml, config.local.yaml wins if present)")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(level)
	}

	db.InitDB()

	// NATS is optional: without it the engine still settles, deposits just
	// have to arrive through another channel and events stay websocket-only.
	var natsClient *clients.NATSClient
	if config.AppConfig.NATS.URL != "" {
		var err error
		natsClient, err = clients.NewNATSClient(config.AppConfig.NATS, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to NATS")
		}
		defer natsClient.Close()
	} else {
		logger.Warn("NATS URL not configured, running without message bus")
	}

	orderRepo := repository.NewOrderRepository(db.DB)
	tokenRepo := repository.NewTokenRepository(db.DB)
	platformRepo := repository.NewPlatformConfigRepository(db.DB)
	custody := services.NewCustodyService(db.DB, logger)

	pushService := services.NewWebSocketPushService(logger)
	go pushService.Run()

	publisher := events.NewPublisher(natsClient, config.AppConfig.NATS.EventPrefix, pushService, logger)

	eng, err := engine.New(
		context.Background(),
		orderRepo, tokenRepo, platformRepo,
		custody, publisher, logger,
		config.AppConfig.Engine.OwnerAddress,
		config.AppConfig.Engine.TreasuryAddress,
		config.AppConfig.Engine.DefaultFeeBps,
	)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize settlement engine")
	}

	if natsClient != nil {
		consumer := events.NewDepositConsumer(natsClient, custody, config.AppConfig.NATS.DepositSubject, logger)
		if err := consumer.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to subscribe to deposit events")
		}
		logger.WithField("subject", config.AppConfig.NATS.DepositSubject).Info("Deposit consumer started")
	}

	auth := middleware.NewAuthMiddleware(logger)
	r := router.SetupRouter(router.Handlers{
		Auth:      handlers.NewAuthHandler(eng, logger),
		Order:     handlers.NewOrderHandler(eng, orderRepo, custody, logger),
		Admin:     handlers.NewAdminHandler(eng, logger),
		Payment:   handlers.NewPaymentHandler(eng),
		WebSocket: handlers.NewWebSocketHandler(pushService, logger),
	}, auth)

	addr := fmt.Sprintf("%s:%d", config.AppConfig.Server.Host, config.AppConfig.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logger.WithField("addr", addr).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Forced shutdown")
	}
	logger.Info("Server stopped")
}
