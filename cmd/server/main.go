// tradefeed - trade offer event reconciler and publisher
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/tradefeed/tradefeed/internal/api"
	"github.com/tradefeed/tradefeed/internal/classify"
	"github.com/tradefeed/tradefeed/internal/config"
	"github.com/tradefeed/tradefeed/internal/domain"
	"github.com/tradefeed/tradefeed/internal/engine"
	"github.com/tradefeed/tradefeed/internal/middleware"
	"github.com/tradefeed/tradefeed/internal/platform"
	"github.com/tradefeed/tradefeed/internal/publish"
	"github.com/tradefeed/tradefeed/internal/reconcile"
	"github.com/tradefeed/tradefeed/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
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

	slog.Info("Starting tradefeed", "port", cfg.Port, "platform", cfg.PlatformURL)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	client := platform.NewHTTPClient(cfg.PlatformURL, cfg.PlatformAPIKey, cfg.PlatformTimeout)

	// Outward event channel.
	hub := publish.NewHub(logger)

	// Session engine, reconciler, sweep machinery. The scheduler is created
	// after the poller but the poller's callbacks close over it, so wire
	// through a variable.
	var (
		reconciler *reconcile.Reconciler
		scheduler  *reconcile.Scheduler
	)

	poller := engine.NewPoller(client, repo, engine.Callbacks{
		OnNewOffer: func(offer *domain.OfferSnapshot) {
			reconciler.HandleLive(context.Background(), offer, nil)
		},
		OnOfferChanged: func(offer *domain.OfferSnapshot, prior domain.OfferState) {
			reconciler.HandleLive(context.Background(), offer, &prior)
		},
		OnPollCycleCompleted: func() {
			scheduler.OnPollCycleCompleted()
		},
	}, cfg.PollInterval, logger)

	reconciler = reconcile.New(poller, repo, classify.New(nil), hub, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue := reconcile.NewQueue(reconciler.Reconcile, logger)
	queue.Start(ctx)
	scheduler = reconcile.NewScheduler(poller, queue, cfg.QuietInterval, logger)

	if err := poller.Restore(context.Background()); err != nil {
		slog.Error("Failed to restore poll state", "error", err)
		os.Exit(1)
	}
	poller.Start(ctx)
	slog.Info("Session engine started", "poll_interval", cfg.PollInterval, "quiet_interval", cfg.QuietInterval)

	// Initialize handlers.
	offersHandler := api.NewOffersHandler(client, poller, poller, logger)
	healthHandler := api.NewHealthHandler(repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{cfg.AllowedOrigin}))

	healthHandler.RegisterHealth(r)
	offersHandler.RegisterRoutes(r)

	// WebSocket event stream.
	r.Get("/ws/events", hub.ServeHTTP)

	// Create server. No WriteTimeout: event stream connections are long-lived.
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

	scheduler.Stop()
	poller.Wait()
	queue.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
