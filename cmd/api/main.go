package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/multibank/internal/api/handlers"
	"github.com/dvloznov/multibank/internal/api/middleware"
	"github.com/dvloznov/multibank/internal/app"
	"github.com/dvloznov/multibank/internal/auth"
	"github.com/dvloznov/multibank/internal/config"
	"github.com/dvloznov/multibank/internal/logger"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", os.Getenv("MULTIBANK_CONFIG"), "Path to YAML config file (or set MULTIBANK_CONFIG env)")
		port       = flag.String("port", "", "HTTP server port (overrides config)")
	)
	flag.Parse()

	boot := logger.New()
	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("Failed to load config")
	}
	if *port != "" {
		cfg.Port = *port
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		boot.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("Invalid log level")
	}
	log := logger.NewLevel(level)
	ctx := logger.WithContext(context.Background(), log)

	if err := cfg.ValidateServer(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	var client auth.Client
	if cfg.Auth.URL != "" {
		client = auth.NewHTTPClient(cfg.Auth.URL, cfg.Auth.Key, &http.Client{Timeout: 10 * time.Second}).
			WithJWTSecret(cfg.Auth.JWTSecret)
		if cfg.Auth.JWTSecret == "" {
			log.Warn().Msg("No auth JWT secret configured - session fallback is disabled")
		}
	} else {
		log.Warn().Msg("auth.insecure_dev is set - bearer tokens are taken as auth user IDs")
		client = auth.BearerIdentity{}
	}

	a, err := app.New(ctx, cfg, client)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	if a.Exporter == nil {
		log.Warn().Msg("No export bucket configured - ledger exports will be disabled")
	}

	var exporter handlers.Exporter
	if a.Exporter != nil {
		exporter = a.Exporter
	}
	h := handlers.NewHandler(a.Reader, a.Registrar, a.Accounts, a.Bus, exporter)
	mux := h.Routes()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth("/health")(mux),
				),
			),
		),
	)

	// The events stream is long-lived, so there is no write timeout.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.Port).Str("store", cfg.StoreScheme()).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Closing the bus ends open event streams before shutdown waits on them.
	if err := a.Bus.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close event bus")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
