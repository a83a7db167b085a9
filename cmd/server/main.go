// Onboarding Voice - new hire join page and voice session server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/onboarding-voice/internal/api"
	"github.com/ashureev/onboarding-voice/internal/backend"
	"github.com/ashureev/onboarding-voice/internal/config"
	"github.com/ashureev/onboarding-voice/internal/elevenlabs"
	"github.com/ashureev/onboarding-voice/internal/join"
	"github.com/ashureev/onboarding-voice/internal/middleware"
	"github.com/ashureev/onboarding-voice/internal/page"
	"github.com/ashureev/onboarding-voice/internal/session"
	"github.com/ashureev/onboarding-voice/internal/store"
	"github.com/ashureev/onboarding-voice/internal/telemetry"
	"github.com/ashureev/onboarding-voice/internal/transcript"
	"github.com/ashureev/onboarding-voice/internal/visit"
	"github.com/ashureev/onboarding-voice/internal/voice"
	"github.com/ashureev/onboarding-voice/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

const serviceName = "onboarding-voice"

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		slog.Warn("Unknown log level, using info", "log_level", cfg.LogLevel)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "elevenlabs", cfg.ElevenLabsConfigured())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdownTracer, err := telemetry.InitTracer(serviceName, os.Stderr, logger)
		if err != nil {
			slog.Error("Failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(flushCtx); err != nil {
				slog.Warn("Failed to flush traces", "error", err)
			}
		}()
	}

	// Initialize dependencies.
	var repo *store.SQLiteStore
	var journal transcript.Journal
	if cfg.Journal.Enabled {
		repo, err = store.NewSQLite(cfg.DBPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()

		if err := repo.Ping(ctx); err != nil {
			slog.Error("Database health check failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Journal database connected", "path", cfg.DBPath)

		journal = repo
		store.StartSweeper(ctx, repo, cfg.Journal.Retention, store.DefaultSweepInterval)
	} else {
		slog.Info("Local journal disabled")
	}

	backendClient := backend.NewClient(cfg.Backend.URL, cfg.Backend.Timeout, backend.WithLogger(logger))
	validator := session.NewValidator(backendClient, logger)

	fetcher := elevenlabs.NewFetcher(
		cfg.ElevenLabs.APIBase, cfg.ElevenLabs.APIKey, cfg.ElevenLabs.AgentID,
		elevenlabs.WithFetcherLogger(logger),
	)

	// The controller signs in-process unless an external proxy is configured.
	var signer voice.SignedURLSource
	switch {
	case strings.TrimSpace(cfg.ElevenLabs.SignedURLEndpoint) != "":
		signer = elevenlabs.NewProxyClient(cfg.ElevenLabs.SignedURLEndpoint, nil)
		slog.Info("Using external signed URL proxy", "endpoint", cfg.ElevenLabs.SignedURLEndpoint)
	case fetcher.Configured():
		signer = fetcher
	default:
		slog.Warn("ElevenLabs API key not set, sessions fall back to the backend agent id")
	}

	catalog, err := page.ParseCatalog(web.CopyCatalog())
	if err != nil {
		slog.Error("Failed to load copy catalog", "error", err)
		os.Exit(1)
	}
	renderer, err := page.NewRenderer(web.Templates(), catalog)
	if err != nil {
		slog.Error("Failed to load templates", "error", err)
		os.Exit(1)
	}

	visits := visit.NewManager(cfg.Voice.PendingVisitTTL)
	visits.StartSweeper(ctx, time.Minute)

	deps := visit.Deps{
		Backend:      backendClient,
		SignedURLs:   signer,
		Journal:      journal,
		JournalQueue: cfg.Journal.QueueSize,
		NewClient: func() visit.AudioClient {
			return elevenlabs.NewConvAIClient(elevenlabs.ConvAIConfig{
				WSBase: cfg.ElevenLabs.WSBase,
				APIKey: cfg.ElevenLabs.APIKey,
				Logger: logger,
			})
		},
		ConnectTimeout: cfg.Voice.ConnectTimeout,
		Logger:         logger,
	}

	// Initialize handlers.
	joinHandler := join.NewHandler(join.Config{
		Validator:      validator,
		Visits:         visits,
		Deps:           deps,
		Renderer:       renderer,
		AllowedOrigins: middleware.AllowedOrigins(cfg.FrontendURL),
		IsDev:          cfg.IsDevelopment(),
		Logger:         logger,
	})
	signedURLHandler := api.NewSignedURLHandler(fetcher,
		api.NewRateLimiter(ctx, cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration))

	var journalReader api.JournalReader
	var pinger api.Pinger
	if repo != nil {
		journalReader = repo
		pinger = repo
	}
	conversationHandler := api.NewConversationHandler(backendClient, journalReader, backendClient)
	healthHandler := api.NewHealthHandler(pinger, cfg.ElevenLabsConfigured(), visits.Len)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	if cfg.TracingEnabled {
		r.Use(middleware.Tracing(serviceName))
	}

	// JSON API.
	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS(middleware.AllowedOrigins(cfg.FrontendURL)))
		healthHandler.RegisterHealth(r)
		signedURLHandler.RegisterRoutes(r)
		conversationHandler.RegisterRoutes(r)
	})

	// Join page and its socket.
	joinHandler.RegisterRoutes(r)
	r.Handle("/static/*", http.StripPrefix("/static", web.StaticHandler()))

	// Create server.
	// Note: join sockets are long-lived (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	// Hijacked sockets are not tracked by Shutdown; close the visits directly.
	visits.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
