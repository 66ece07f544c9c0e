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

	"github.com/rs/zerolog/log"

	"github.com/carebridge-hub/backend/internal/adapters/cache"
	"github.com/carebridge-hub/backend/internal/adapters/database"
	"github.com/carebridge-hub/backend/internal/adapters/events"
	"github.com/carebridge-hub/backend/internal/adapters/geolocation"
	"github.com/carebridge-hub/backend/internal/adapters/svi"
	"github.com/carebridge-hub/backend/internal/api/handlers"
	"github.com/carebridge-hub/backend/internal/api/routes"
	"github.com/carebridge-hub/backend/internal/application/services"
	"github.com/carebridge-hub/backend/internal/domain/providers"
	"github.com/carebridge-hub/backend/internal/infrastructure/clients/postgres"
	"github.com/carebridge-hub/backend/internal/infrastructure/clients/redis"
	"github.com/carebridge-hub/backend/internal/infrastructure/clients/transcription"
	"github.com/carebridge-hub/backend/internal/infrastructure/observability"
	"github.com/carebridge-hub/backend/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Server.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry if enabled
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
			log.Info().Str("endpoint", cfg.OTEL.Endpoint).Msg("OpenTelemetry initialized")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize PostgreSQL client")
	}
	defer pgClient.Close()

	if err := pgClient.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Redis backs the extraction cache and the progress event bus. Without
	// it both fall back to process memory, which only works for one replica.
	var (
		cacheProvider providers.CacheProvider
		eventBus      providers.EventBus
	)
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, using in-memory cache and event bus")
		cacheProvider = cache.NewMemoryAdapter()
		eventBus = events.NewMemoryEventBus()
	} else {
		defer redisClient.Close()
		cacheProvider = cache.NewRedisAdapter(redisClient)
		eventBus = events.NewRedisEventBus(redisClient, log.With().Str("component", "event_bus").Logger())
	}

	transcriber, err := transcription.NewClient(&cfg.Transcription, log.With().Str("component", "transcription").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize transcription client")
	}

	sessionOpts := []services.SessionServiceOption{
		services.WithExtractionCache(cacheProvider, cfg.Review.ExtractionCacheTTL),
		services.WithEventBus(eventBus),
		services.WithSessionMetrics(metrics),
		services.WithSessionLogger(log.With().Str("component", "session_service").Logger()),
	}

	// SVI enrichment needs the county table; without it extraction runs as is.
	if cfg.SVI.Enabled() {
		table, err := svi.LoadTable(cfg.SVI.TablePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.SVI.TablePath).Msg("failed to load SVI table")
		}
		resolver := geolocation.NewCountyResolver(cacheProvider, geolocation.CountyResolverOptions{
			ZIPLookupURL:  cfg.SVI.ZIPLookupURL,
			CountyAreaURL: cfg.SVI.CountyAreaURL,
			Timeout:       cfg.SVI.Timeout,
			CacheTTL:      cfg.SVI.LookupCacheTTL,
		})
		sviService := services.NewSVIService(resolver, table,
			services.WithSVIMetrics(metrics),
			services.WithSVILogger(log.With().Str("component", "svi_service").Logger()),
		)
		sessionOpts = append(sessionOpts, services.WithSVI(sviService))
		log.Info().Int("counties", table.Len()).Msg("SVI enrichment enabled")
	}

	sessionRepo := database.NewSessionAdapter(pgClient, metrics)
	sessionService := services.NewSessionService(sessionRepo, transcriber, transcriber, sessionOpts...)

	router := routes.NewRouter(
		handlers.NewSessionHandler(sessionService),
		handlers.NewSSEHandler(eventBus, sessionService, handlers.WithStreamMetrics(metrics)),
		cfg.Server.AllowedOrigins,
		metrics,
	)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router.SetupRoutes(),
		ReadHeaderTimeout: 15 * time.Second,
		// No write timeout: the stop endpoint answers only after transcription
		// and extraction, and event streams stay open.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", serverAddr).Str("environment", cfg.Server.Environment).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	if err := eventBus.Close(); err != nil {
		log.Error().Err(err).Msg("error closing event bus")
	}

	log.Info().Msg("server stopped")
}
