package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freshstock/freshstock-backend/internal/stock/consumers"
	"github.com/freshstock/freshstock-backend/internal/stock/events"
	"github.com/freshstock/freshstock-backend/internal/stock/handler"
	"github.com/freshstock/freshstock-backend/internal/stock/memstore"
	"github.com/freshstock/freshstock-backend/internal/stock/repository"
	"github.com/freshstock/freshstock-backend/internal/stock/service"
	"github.com/freshstock/freshstock-backend/migrations"
	"github.com/freshstock/freshstock-backend/pkg/config"
	"github.com/freshstock/freshstock-backend/pkg/database"
	"github.com/freshstock/freshstock-backend/pkg/httputil"
	"github.com/freshstock/freshstock-backend/pkg/logger"
	"github.com/freshstock/freshstock-backend/pkg/messaging"
	"github.com/freshstock/freshstock-backend/pkg/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
)

const serviceName = "stock-service"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Str("storage", cfg.Storage.Driver).Msg("starting Stock Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, serviceName, cfg.Observability)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup tracing")
	}

	// Storage
	health := map[string]func(context.Context) map[string]string{}
	var stores service.Stores
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		stores = memstore.New().Stores()
	default:
		log.Info().Str("database", cfg.Database.Redacted()).Msg("connecting to database")
		db, err := database.New(&cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		if cfg.Database.AutoMigrate {
			if err := migrations.Apply(ctx, db.DB); err != nil {
				log.Fatal().Err(err).Msg("failed to apply migrations")
			}
		}
		stores = repository.NewStores(db)
		health["database"] = db.Health
	}

	// Messaging is optional; without a broker events are dropped
	var (
		publisher service.EventPublisher
		rmq       *messaging.RabbitMQ
	)
	if cfg.RabbitMQ.URL != "" {
		rmq, err = messaging.New(ctx, &cfg.RabbitMQ, events.Topology, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		pub, err := events.NewStockEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
		publisher = pub
		health["rabbitmq"] = func(context.Context) map[string]string { return rmq.Health() }
	} else {
		log.Warn().Msg("RabbitMQ not configured, stock events will not be published")
	}

	// Services
	batchService := service.NewBatchService(stores, publisher, log)
	ledgerService := service.NewLedgerService(stores, batchService, publisher, log)
	locationService := service.NewLocationService(stores, publisher, log)
	consolidationService := service.NewConsolidationService(stores, ledgerService, locationService, publisher,
		decimal.NewFromFloat(cfg.Consolidation.DefaultThreshold), log)
	auditService := service.NewInventoryAuditService(stores, publisher, log)

	if rmq != nil {
		sensorConsumer, err := consumers.NewSensorEventConsumer(rmq, locationService, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create sensor event consumer")
		}
		if err := sensorConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start sensor event consumer")
		}
	}

	var sweeper *service.ExpirySweeper
	if cfg.Scheduler.Enabled {
		sweeper = service.NewExpirySweeper(batchService, cfg.Scheduler.ExpirySweep, log)
		if err := sweeper.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start expiry sweeper")
		}
	}

	// Create router
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", httputil.HeaderRequestID, httputil.HeaderSellerID,
			httputil.HeaderUserID, httputil.HeaderUserEmail, httputil.HeaderUserName},
		ExposedHeaders:   []string{httputil.HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httputil.SellerMiddleware)
	r.Use(httputil.ActorMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":  "healthy",
			"service": serviceName,
			"storage": cfg.Storage.Driver,
		}
		for name, check := range health {
			status[name] = check(r.Context())
		}
		httputil.JSON(w, http.StatusOK, status)
	})

	handler.Mount(r, handler.Services{
		Batches:       batchService,
		Ledger:        ledgerService,
		Locations:     locationService,
		Consolidation: consolidationService,
		Audits:        auditService,
	}, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stops the sensor consumer
	cancel()
	if sweeper != nil {
		sweeper.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to flush traces")
	}

	log.Info().Msg("server stopped")
}
