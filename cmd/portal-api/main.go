// Package main provides the portal API service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/luminacare/twinpulse/internal/adherence"
	"github.com/luminacare/twinpulse/internal/api/handlers"
	"github.com/luminacare/twinpulse/internal/api/middleware"
	"github.com/luminacare/twinpulse/internal/config"
	"github.com/luminacare/twinpulse/internal/engagement"
	"github.com/luminacare/twinpulse/internal/eventstore"
	"github.com/luminacare/twinpulse/internal/infrastructure/postgres"
	"github.com/luminacare/twinpulse/internal/infrastructure/stream"
	"github.com/luminacare/twinpulse/internal/observability/metrics"
	"github.com/luminacare/twinpulse/internal/observability/tracing"
	"github.com/luminacare/twinpulse/internal/pipeline"
	"github.com/luminacare/twinpulse/internal/predictions"
	"github.com/luminacare/twinpulse/internal/readmodel"
	"github.com/luminacare/twinpulse/internal/seed"
	"github.com/luminacare/twinpulse/pkg/circuitbreaker"
	"github.com/luminacare/twinpulse/pkg/clock"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg := config.FromEnv()

	ctx := context.Background()

	// Initialize tracing
	tp, err := tracing.Init(ctx, tracing.DefaultConfig("portal-api", cfg.OTLPEndpoint))
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer tp.Shutdown(context.Background())
	}

	// Initialize metrics
	m := metrics.New()

	// Event store: Postgres when reachable, in-memory otherwise so the demo
	// dataset works without infrastructure.
	var (
		store eventstore.Store
		pool  *pgxpool.Pool
	)
	pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
	if err == nil {
		err = pool.Ping(ctx)
	}
	if err == nil {
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal("schema migration failed", zap.Error(err))
		}
		store = postgres.NewEventStore(pool, m, logger)
		defer pool.Close()
		logger.Info("connected to database")
	} else {
		logger.Warn("database unavailable, using in-memory event store", zap.Error(err))
		pool = nil
		store = eventstore.NewMemory()
	}

	// Alert fan-out: durable outbox when Postgres is up, direct produce when
	// only Kafka is up, otherwise none.
	var notifier pipeline.Notifier
	var producer *stream.Producer
	if pool != nil {
		notifier = postgres.NewAlertOutboxNotifier(pool, stream.TopicAlertNotifications)
	} else if stream.HealthCheck(ctx, cfg.KafkaBrokers) == nil {
		producerCfg := stream.DefaultProducerConfig()
		producerCfg.Brokers = cfg.KafkaBrokers
		producer, err = stream.NewProducer(producerCfg, m, logger)
		if err != nil {
			logger.Warn("alert fan-out disabled", zap.Error(err))
		} else {
			defer producer.Close()
			notifier = stream.NewAlertNotifier(producer)
		}
	}

	// Risk scorer behind a circuit breaker
	cbCfg := circuitbreaker.DefaultConfig("risk-scorer")
	cbCfg.OnStateChange = func(name string, state circuitbreaker.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(state.GaugeValue())
	}
	breaker, err := circuitbreaker.New(cbCfg, logger)
	if err != nil {
		logger.Fatal("circuit breaker init failed", zap.Error(err))
	}
	scorer := predictions.NewHTTPScorer(cfg.ScorerURL, cfg.ScorerTimeout, breaker, logger)

	// Demo dataset
	now := time.Now().UTC()
	registry := seed.Registry(now)
	for _, e := range seed.Events(now) {
		if _, err := store.Append(ctx, e); err != nil {
			logger.Warn("seed event rejected", zap.String("event_id", e.ID), zap.Error(err))
		}
	}
	surveys := engagement.NewStore()
	seed.Surveys(surveys, now)

	// Pipeline and read model
	pipe := pipeline.New(registry, store, seed.AlertRules(), seed.ActionRules(), cfg, pipeline.Options{
		Scorer:   scorer,
		Metrics:  m,
		Notifier: notifier,
		Logger:   logger,
	})
	assembler := readmodel.NewAssembler(registry, store, adherence.NewCalculator(clock.System{}), surveys, pipe,
		cfg.AdherenceWindow(), cfg.LateThreshold(), clock.System{})

	// Initialize handlers
	patientHandler := handlers.NewPatientHandler(registry, pipe, assembler, surveys, m, logger)
	carePlanHandler := handlers.NewCarePlanHandler(pipe, m, logger)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing("portal-api"))

	// Health check (no auth)
	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	clients := make(map[string]middleware.Client, len(cfg.APIClients))
	for key, c := range cfg.APIClients {
		clients[key] = middleware.Client{ID: c.ID, Role: middleware.Role(c.Role)}
	}

	// API routes (with auth). Channel gateways may report events and read
	// snapshots; care-plan mutations are reserved for care-team clients.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(clients))
		r.Use(middleware.RateLimit(rate.Limit(50), 100))
		r.Mount("/patients", patientHandler.Routes())
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleCareTeam))
			r.Mount("/careplan", carePlanHandler.Routes())
		})
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting portal API", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"portal-api","version":"1.0.0"}`)
}
