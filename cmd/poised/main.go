// Poise - real-time coaching session engine daemon
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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/poiselabs/poise/internal/analysis"
	"github.com/poiselabs/poise/internal/api"
	"github.com/poiselabs/poise/internal/capture"
	"github.com/poiselabs/poise/internal/coach"
	"github.com/poiselabs/poise/internal/config"
	"github.com/poiselabs/poise/internal/device"
	"github.com/poiselabs/poise/internal/session"
	"github.com/poiselabs/poise/internal/store"
	"github.com/poiselabs/poise/internal/syncworker"
	"github.com/poiselabs/poise/internal/transport"
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

	slog.Info("Starting engine", "port", cfg.Port, "dev", cfg.IsDevelopment())

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

	// Capability profile is fixed for the process lifetime.
	profiler := device.NewProfiler(device.HostSource{})
	profile := profiler.Detect()

	power := device.NewSimulatedPowerSource(80, time.Now().UnixNano())
	throttle := device.NewThrottleController(profile, power, cfg.BatteryInterval, cfg.ThermalInterval)

	var capMgr capture.Manager
	if cfg.CaptureBackend == "mock" {
		capMgr = capture.NewMockManager()
	} else {
		capMgr = capture.NewDeviceManager()
	}

	analyzers := analysis.NewAnalyzerSet(profile, analysis.VariantNative)

	// Coaching provider: premium tier uses the gRPC service when reachable,
	// everything falls back to the local rule-based provider.
	var provider coach.Provider = coach.NewLocalProvider()
	if cfg.CoachTier == config.CoachTierPremium {
		grpcProvider, err := coach.NewGRPCProvider(coach.DefaultGRPCConfig(cfg.CoachGRPCAddr), logger)
		if err != nil {
			slog.Warn("Premium coaching unavailable, using local provider", "error", err)
		} else {
			defer func() {
				if closeErr := grpcProvider.Close(); closeErr != nil {
					slog.Warn("Failed to close coaching provider", "error", closeErr)
				}
			}()
			provider = grpcProvider
		}
	}

	var syncer session.Syncer = session.FailingSyncer{}
	if cfg.SyncURL != "" {
		syncer = syncworker.NewHTTPSyncer(cfg.SyncURL, cfg.AuthToken)
	}

	stats := session.NoopStats{}
	quota := session.NewMemoryQuota(cfg.SessionQuota)

	controller := session.NewController(session.Deps{
		Profile:   profile,
		Throttle:  throttle,
		Analyzers: analyzers,
		Capture:   capMgr,
		Stream: func() session.Transport {
			return transport.NewStream(cfg.RemoteURL, cfg.AuthToken, cfg.ConnectTimeout)
		},
		Repo:     repo,
		Quota:    quota,
		Stats:    stats,
		Syncer:   syncer,
		Provider: provider,
	})

	handler := api.NewHandler(controller, repo)

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	handler.RegisterRoutes(r)
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background loops.
	go throttle.Run(ctx)
	syncworker.New(repo, syncer, stats, cfg.SyncInterval, cfg.SyncRetention).Start(ctx)

	go func() {
		slog.Info("Control plane listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	// An active session must be ended and persisted before exit.
	if controller.State() == session.StateActive {
		if _, err := controller.End(context.Background()); err != nil {
			slog.Error("Failed to end active session on shutdown", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Engine stopped successfully")
}
