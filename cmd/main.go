package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jacobbs10/responder-dispatch/internal/config"
	"github.com/jacobbs10/responder-dispatch/internal/events"
	"github.com/jacobbs10/responder-dispatch/internal/geocode"
	v1 "github.com/jacobbs10/responder-dispatch/internal/handler/http/v1"
	"github.com/jacobbs10/responder-dispatch/internal/metrics"
	"github.com/jacobbs10/responder-dispatch/internal/repository"
	"github.com/jacobbs10/responder-dispatch/internal/routing"
	"github.com/jacobbs10/responder-dispatch/internal/service"
	"github.com/jacobbs10/responder-dispatch/internal/simulation"
	"github.com/jacobbs10/responder-dispatch/internal/webhook"
	"github.com/jacobbs10/responder-dispatch/pkg/logger"
	"github.com/jacobbs10/responder-dispatch/pkg/postgres"
	redisclient "github.com/jacobbs10/responder-dispatch/pkg/redis"
	"github.com/sirupsen/logrus"

	_ "github.com/jacobbs10/responder-dispatch/docs"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title Responder Dispatch API
// @version 1.0
// @description Incident intake, responder dispatch and position simulation server.
// @host localhost:8080
// @BasePath /api/v1
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
func runMigrations(cfg *config.Config, log *logrus.Logger) error {
	log.Info("Running database migrations...")

	migrationURL := cfg.DatabaseURL
	if !strings.HasPrefix(migrationURL, "pgx5://") {
		migrationURL = strings.Replace(migrationURL, "postgres://", "pgx5://", 1)
	}

	m, err := migrate.New(
		"file://migrations",
		migrationURL,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("Database migrations applied successfully")
	return nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	log := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runMigrations(cfg, log); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	dbpool, err := postgres.NewPostgresDB(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer dbpool.Close()
	log.Info("Successfully connected to PostgreSQL")

	redisClient, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Info("Successfully connected to Redis")

	publisher := events.NewRedisPublisher(redisClient)

	webhookWorker := webhook.NewWorker(redisClient, log, cfg)
	webhookWorker.Start(ctx)

	incidentRepo := repository.NewIncidentRepository(dbpool, redisClient)
	unitRepo := repository.NewUnitRepository(dbpool)

	sink, err := metrics.NewPromSink(nil)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	geocoder := geocode.NewNominatimClient(cfg.GeocoderURL, cfg.GeocoderTimeout, log)
	router := routing.NewOSRMClient(cfg.RouterURL, cfg.RouterTimeout, cfg.MinRouteDurationSecs, log)

	simManager := simulation.NewManager(unitRepo, incidentRepo, publisher, sink, log, cfg.TickInterval)

	incidentService := service.NewIncidentService(incidentRepo, log)
	unitService := service.NewUnitService(unitRepo, log)
	dispatchService := service.NewDispatchService(
		incidentRepo, unitRepo, geocoder, router, simManager, publisher, sink, log, cfg.SearchRadiusMeters,
	)

	handler := v1.NewHandler(dispatchService, incidentService, unitService, log, cfg)

	engine := gin.Default()
	api := engine.Group("/api/v1")
	handler.RegisterRoutes(api)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:    serverAddr,
		Handler: engine,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Error starting HTTP server: %v", err)
		}
	}()
	log.Infof("HTTP server started on port %s", cfg.HTTPPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Received shutdown signal, shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// stop all travel simulations after the HTTP surface is closed
	simManager.Shutdown()

	log.Info("Server gracefully stopped")
}
