package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/swiftride/service-tracking/internal/application"
	"github.com/swiftride/service-tracking/internal/auth"
	"github.com/swiftride/service-tracking/internal/config"
	"github.com/swiftride/service-tracking/internal/database"
	"github.com/swiftride/service-tracking/internal/dispatch"
	"github.com/swiftride/service-tracking/internal/domain/tracking"
	trackingEvents "github.com/swiftride/service-tracking/internal/events"
	"github.com/swiftride/service-tracking/internal/handler"
	"github.com/swiftride/service-tracking/internal/health"
	"github.com/swiftride/service-tracking/internal/ingest"
	"github.com/swiftride/service-tracking/internal/kafka"
	"github.com/swiftride/service-tracking/internal/logger"
	"github.com/swiftride/service-tracking/internal/middleware"
	"github.com/swiftride/service-tracking/internal/repository"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewNamed(cfg.AppEnv, "service-tracking")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting service-tracking",
		zap.String("port", cfg.Port),
	)

	// Connect to database
	dbConfig := database.PostgresConfig{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		DBName:   cfg.DB.DBName,
		SSLMode:  cfg.DB.SSLMode,
	}
	db, err := database.Connect(dbConfig, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	// Run database migrations
	if cfg.AppEnv == "development" {
		if err := db.AutoMigrate(&repository.TripModel{}, &repository.DeviationAlertModel{}); err != nil {
			log.Fatal("failed to run auto-migration", zap.Error(err))
		}
		log.Info("database migration completed (dev auto-migrate)")
	} else {
		dbURL := dbConfig.DatabaseURL()
		if err := database.RunMigrations(dbURL, "migrations", log); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(
		cfg.JWT.Secret,
		15*time.Minute,
		7*24*time.Hour,
	)

	// Initialize Kafka producer
	kafkaProducer := kafka.NewProducer(cfg.Kafka.Brokers, log)
	defer func() { _ = kafkaProducer.Close() }()

	// Initialize RabbitMQ alert publisher
	rabbitPublisher, err := dispatch.NewRabbitAlertPublisher(cfg.Rabbit.URL, cfg.Rabbit.Exchange, cfg.Rabbit.Queue, log)
	if err != nil {
		log.Fatal("failed to connect to rabbitmq", zap.Error(err))
	}
	defer func() { _ = rabbitPublisher.Close() }()

	// Initialize the alert dispatcher with both outbound channels
	dispatcher := dispatch.NewDispatcher(
		time.Duration(cfg.Monitor.DispatchCooldownSeconds)*time.Second,
		cfg.Monitor.DispatchQueueSize,
		log,
		dispatch.NewKafkaAlertPublisher(kafkaProducer),
		rabbitPublisher,
	)
	defer dispatcher.Close()

	// Initialize repositories
	tripRepo := repository.NewGormTripRepository(db)
	alertRepo := repository.NewGormAlertRepository(db)

	// Initialize the monitoring session registry
	registry := tracking.NewRegistry(tracking.Thresholds{
		MinorMeters:       cfg.Monitor.MinorThresholdMeters,
		SignificantMeters: cfg.Monitor.SignificantThresholdMeters,
		CriticalMeters:    cfg.Monitor.CriticalThresholdMeters,
		AlertAfterCount:   cfg.Monitor.AlertAfterCount,
	})

	// Initialize application service
	trackingService := application.NewTrackingService(
		registry,
		tripRepo,
		alertRepo,
		dispatcher,
		log,
	)

	// Initialize and start trip event consumer in a goroutine
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	groupID := cfg.Kafka.GroupPrefix + "tracking-service"
	tripConsumer := trackingEvents.NewTripEventConsumer(
		cfg.Kafka.Brokers,
		groupID,
		trackingService,
		log,
	)
	defer func() { _ = tripConsumer.Close() }()

	go func() {
		log.Info("starting trip event consumer")
		if err := tripConsumer.Start(ctx); err != nil && err != context.Canceled {
			log.Error("trip event consumer error", zap.Error(err))
		}
	}()

	// Initialize and connect the MQTT location subscriber
	locationSubscriber, err := ingest.NewLocationSubscriber(cfg.MQTT, trackingService, log)
	if err != nil {
		log.Fatal("failed to build mqtt subscriber", zap.Error(err))
	}
	if err := locationSubscriber.Start(); err != nil {
		log.Fatal("failed to connect to mqtt broker", zap.Error(err))
	}

	// Initialize HTTP handlers
	trackingHandler := handler.NewTrackingHandler(trackingService)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Apply global middleware
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	// Register health check routes
	healthHandler := health.NewHandler(db, "service-tracking")
	healthHandler.AddCheck("mqtt", func(ctx context.Context) error {
		if !locationSubscriber.IsConnected() {
			return errors.New("mqtt broker disconnected")
		}
		return nil
	})
	healthHandler.AddCheck("rabbitmq", func(ctx context.Context) error {
		if !rabbitPublisher.IsOpen() {
			return errors.New("rabbitmq connection closed")
		}
		return nil
	})
	healthHandler.RegisterRoutes(router)

	// Register routes
	trackingHandler.RegisterRoutes(&router.RouterGroup, jwtManager)

	// Register admin handler routes
	adminTrackingHandler := handler.NewAdminTrackingHandler(trackingService)
	adminTrackingHandler.RegisterRoutes(&router.RouterGroup, jwtManager)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down service-tracking...")

	// Stop ingestion first so no new fixes arrive while draining
	cancel()
	locationSubscriber.Close()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced shutdown", zap.Error(err))
	}

	log.Info("service-tracking stopped")
}
