package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/breachymba/hub/internal/api"
	"github.com/breachymba/hub/internal/auth"
	"github.com/breachymba/hub/internal/config"
	"github.com/breachymba/hub/internal/db"
	"github.com/breachymba/hub/internal/monitor"
	"github.com/breachymba/hub/internal/probe"
	"github.com/breachymba/hub/internal/service"
	"github.com/breachymba/hub/internal/sources/steam"
	"github.com/breachymba/hub/internal/store"
	hubsync "github.com/breachymba/hub/internal/sync"
	"github.com/breachymba/hub/internal/sync/coordinator"
	"github.com/breachymba/hub/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hub API server",
	Long: `Start the hub API server to serve the community feed and admin endpoints.

The server requires a configuration file (--config) that specifies:
- Database connection parameters
- Sync schedule for workshop content and server monitoring
- Telegram authentication and admin accounts
- All other operational settings

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 10 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second // Must be > serverRequestTimeout to let middleware handle timeout
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	address := viper.GetString("address")
	configPath := viper.GetString("config")

	slog.Info("Starting hub API server", "address", address)

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration", "path", configPath, "sync_enabled", cfg.SyncEnabled())

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down telemetry", "error", err)
		}
	}()

	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	st := store.New(pool)

	botToken, err := cfg.Auth.GetBotToken()
	if err != nil {
		return fmt.Errorf("failed to resolve bot token: %w", err)
	}
	sessionSecret, err := cfg.Auth.GetSessionSecret()
	if err != nil {
		return fmt.Errorf("failed to resolve session secret: %w", err)
	}
	verifier := auth.NewVerifier(botToken)
	sessions := auth.NewSessions(sessionSecret, auth.WithSessionTTL(cfg.Auth.GetSessionTTL()))

	feedSvc := service.NewFeedService(st, service.WithCacheTTL(cfg.Feed.GetCacheTTL()))
	statusSvc := service.NewStatusService(st)

	// Background sync and monitoring
	var coord coordinator.Coordinator
	if cfg.SyncEnabled() {
		coord, err = buildCoordinator(cfg, st, tel)
		if err != nil {
			return err
		}

		syncCtx, syncCancel := context.WithCancel(context.Background())
		defer syncCancel()
		go func() {
			if err := coord.Start(syncCtx); err != nil {
				slog.Error("Background coordinator failed", "error", err)
			}
		}()
	} else {
		slog.Info("Background sync disabled, serving stored content only")
	}

	httpMetrics, err := telemetry.NewHTTPMetrics(tel.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	routes := api.NewRoutes(st, feedSvc, statusSvc, verifier, sessions, cfg.Auth.IsAdmin)
	router := api.NewServer(routes,
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			httpMetrics.Middleware,
			api.LoggingMiddleware,
		),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	if coord != nil {
		if err := coord.Stop(); err != nil {
			slog.Error("Failed to stop background coordinator", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Server shutdown complete")
	return nil
}

// buildCoordinator assembles the content syncers and the server monitor into
// scheduled job groups.
func buildCoordinator(cfg *config.Config, st *store.Store, tel *telemetry.Telemetry) (coordinator.Coordinator, error) {
	syncMetrics, err := telemetry.NewSyncMetrics(tel.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}
	monitorMetrics, err := telemetry.NewMonitorMetrics(tel.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create monitor metrics: %w", err)
	}

	steamClient := steam.NewClient()

	workshopSyncer := hubsync.NewWorkshopSyncer(st, steamClient,
		hubsync.WithItemBatchSize(cfg.Sync.GetItemBatchSize()),
		hubsync.WithItemBatchDelay(cfg.Sync.GetBatchDelay()),
	)
	collectionSyncer := hubsync.NewCollectionSyncer(st, steamClient,
		hubsync.WithCollectionBatchSize(cfg.Sync.GetCollectionBatchSize()),
		hubsync.WithCollectionBatchDelay(cfg.Sync.GetBatchDelay()),
	)

	prober := probe.New(cfg.Sync.GetProbeTimeout())
	mon := monitor.New(st, prober,
		monitor.WithOfflineThreshold(cfg.Sync.GetOfflineThreshold()),
		monitor.WithRetention(cfg.Sync.GetSnapshotRetention()),
		monitor.WithMetrics(monitorMetrics),
	)

	contentJobs := []coordinator.Job{
		{Name: "workshop", Run: workshopSyncer.Run},
		{Name: "collections", Run: collectionSyncer.Run},
	}
	monitorJobs := []coordinator.Job{
		{Name: "monitor", Run: mon.Run},
	}

	return coordinator.New(contentJobs, monitorJobs,
		coordinator.WithContentInterval(cfg.Sync.GetContentInterval()),
		coordinator.WithMonitorInterval(cfg.Sync.GetMonitorInterval()),
		coordinator.WithMetrics(syncMetrics),
	), nil
}
