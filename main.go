/*
Package main runs the mark status service.

It loads the home timeline, mounts one status reconciler per post and keeps
each card's "marked" flag in sync with the remote API while respecting the
API's rate limits. A local sandbox API can be started in-process for
development.

Run the application:

	$ go run main.go

Endpoints:
  - GET /feed: Mounted cards with their mark status.
  - POST /feed/reload: Reload the timeline and remount every card.
  - GET /items/{id}/status: Cached mark status of an item.
  - PUT /items/{id}/mark: Mark or unmark an item.
  - GET /limiter: Status check limiter stats.
*/
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Nexora-Open-Source/markstatus/config"
	_ "github.com/Nexora-Open-Source/markstatus/docs"
	"github.com/Nexora-Open-Source/markstatus/handlers"
	"github.com/Nexora-Open-Source/markstatus/handlers/health"
	"github.com/Nexora-Open-Source/markstatus/middleware"
	"github.com/Nexora-Open-Source/markstatus/monitoring"
	"github.com/Nexora-Open-Source/markstatus/reconciler"
	"github.com/Nexora-Open-Source/markstatus/sandbox"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger/v2"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to load .env file: %v", err)
	}

	// Initialize configuration and services
	appConfig, err := config.NewAppConfig()
	if err != nil {
		log.Fatalf("Failed to initialize application configuration: %v", err)
	}
	cfg := appConfig.Config
	logger := appConfig.Services.Logger
	logger.WithField("service", cfg.ServiceName).Info("Starting mark status service")

	// Initialize tracing
	tracerProvider, err := monitoring.InitTracing(cfg.ServiceName)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sandboxServer *http.Server
	if cfg.Sandbox.Enabled {
		sandboxServer = startSandbox(ctx, cfg, logger)
	}

	container := appConfig.Services.Container
	manager, err := container.GetManager()
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize reconciler manager")
	}
	host, err := container.GetHost()
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize feed host")
	}
	reloader, err := container.GetReloader()
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize timeline reloader")
	}
	statusCache, err := container.GetStatusCache()
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize status cache")
	}
	checkLimiter, err := container.GetLimiter()
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize check limiter")
	}

	// Initialize alert manager
	alertManager := monitoring.NewAlertManager(logger, cfg.AlertInterval)
	armAlerts(alertManager, manager)

	// An unreachable timeline is not fatal: POST /feed/reload can retry it
	if count, err := reloader.Reload(ctx, cfg.Timeline.URL); err != nil {
		logger.WithError(err).WithField("url", cfg.Timeline.URL).Warn("Initial timeline load failed")
	} else {
		logger.WithField("items_count", count).Info("Timeline mounted")
	}

	handler := handlers.NewHandler(host, reloader, statusCache, checkLimiter, cfg.Timeline.URL, logger)
	healthHandler := health.NewHandler(host, checkLimiter, logger)

	// Initialize the router
	router := mux.NewRouter()
	router.Use(middleware.MonitoringMiddleware)

	monitoring.SetupMetricsEndpoint(router)

	router.HandleFunc("/health", healthHandler.HandleHealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/health/live", healthHandler.HandleLivenessCheck).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", healthHandler.HandleReadinessCheck).Methods(http.MethodGet)

	router.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           middleware.LoggingMiddleware(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	alertManager.Stop()
	if err := appConfig.Services.Close(); err != nil {
		logger.WithError(err).Error("Failed to close services")
	}
	if sandboxServer != nil {
		if err := sandboxServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Sandbox shutdown failed")
		}
	}
	monitoring.ShutdownTracing(shutdownCtx, tracerProvider, logger)
	logger.WithFields(logrus.Fields{
		"checks":            manager.Stats().Checks,
		"mutations":         manager.Stats().Mutations,
		"mutation_failures": manager.Stats().MutationFailures,
	}).Info("Stopped")
}

// startSandbox serves the in-process stand-in API on its own port
func startSandbox(ctx context.Context, cfg *config.Config, logger *logrus.Logger) *http.Server {
	sandboxConfig := sandbox.DefaultConfig()
	sandboxConfig.Viewer = cfg.Sandbox.Viewer
	sandboxConfig.Posts = cfg.Sandbox.Posts
	sandboxConfig.OwnEvery = cfg.Sandbox.OwnEvery
	sandboxConfig.MarkedEvery = cfg.Sandbox.MarkedEvery
	sandboxConfig.RatePerSecond = cfg.Sandbox.RatePerSecond
	sandboxConfig.Burst = cfg.Sandbox.Burst
	sandboxConfig.Latency = cfg.Sandbox.Latency

	stub := sandbox.NewServer(sandboxConfig, logger)
	go stub.RunCleanup(ctx, cfg.ClientCleanupInterval)

	server := &http.Server{
		Addr:              ":" + cfg.Sandbox.Port,
		Handler:           stub.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.WithField("addr", server.Addr).Info("Sandbox API starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Sandbox API failed")
		}
	}()

	// the timeline load right after this must not race the listener
	waitForListener(ctx, "localhost:"+cfg.Sandbox.Port)
	return server
}

func waitForListener(ctx context.Context, addr string) {
	client := &http.Client{Timeout: 200 * time.Millisecond}
	for i := 0; i < 25; i++ {
		resp, err := client.Get("http://" + addr + "/timeline.xml")
		if err == nil {
			resp.Body.Close()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// armAlerts points the default alert rules at the reconciler counters
func armAlerts(am *monitoring.AlertManager, manager *reconciler.Manager) {
	am.UpdateRuleCondition(monitoring.RuleRateLimited, monitoring.DeltaAbove(func() uint64 {
		return manager.Stats().RateLimited
	}, 5))
	am.UpdateRuleCondition(monitoring.RuleCheckFailures, monitoring.DeltaAbove(func() uint64 {
		return manager.Stats().CheckFailures
	}, 10))
	am.UpdateRuleCondition(monitoring.RuleLimiterSaturated, monitoring.DeltaAbove(func() uint64 {
		return manager.Stats().LimiterSaturated
	}, 50))
	am.UpdateRuleCondition(monitoring.RuleMutationFailures, monitoring.DeltaAbove(func() uint64 {
		return manager.Stats().MutationFailures
	}, 3))
}
