package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	httpapi "ollamachat/internal/adapters/api/http"
	"ollamachat/internal/pkg/constants"
	"ollamachat/internal/pkg/factory"
	"ollamachat/internal/pkg/httputil"
	"ollamachat/internal/pkg/logutil"
	"ollamachat/pkg/config"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		logutil.Fatal("Failed to load configuration", logutil.Fields{"error": err.Error()})
	}

	logger := factory.NewLogger(cfg.Logging)
	logutil.SetGlobalLogger(logger)

	logger.Info("Starting server", logutil.Fields{
		"version":  constants.ServiceVersion,
		"host":     cfg.Server.Host,
		"port":     cfg.Server.Port,
		"provider": cfg.Backend.Provider,
		"storage":  cfg.Storage.Driver,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := factory.NewServiceFactory(logger).Initialize(ctx, factory.InitializationOptions{
		Config:                cfg,
		ValidateConfiguration: true,
		EnableHealthChecks:    true,
		StartServices:         true,
		Logger:                logger,
	})
	if err != nil {
		logger.Fatal("Failed to initialize services", logutil.Fields{"error": err.Error()})
	}

	// Initialize HTTP server
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	timeouts := httputil.DefaultTimeouts
	if cfg.Backend.RequestTimeout > 0 {
		timeouts.Long = cfg.Backend.RequestTimeout
	}
	middleware := httputil.DefaultMiddlewareConfig
	middleware.Timeouts = timeouts
	middleware.EnableCORS = cfg.Server.CORSEnabled

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httputil.RequestLogger(logger))
	router.Use(httputil.CORSMiddleware(middleware))
	router.Use(httputil.TimeoutMiddleware(timeouts))

	deps := httpapi.Dependencies{
		Store:        container.Store,
		Orchestrator: container.Orchestrator,
		Registry:     container.Registry,
		Benchmarker:  container.Benchmarker,
		Collector:    container.Collector,
		Analytics:    container.Analytics,
		Hub:          container.Hub,
		Events:       container.Events,
		Checks:       container.HealthChecks(),
	}
	if container.Exporter != nil {
		router.Use(container.Exporter.Middleware())
		deps.Metrics = container.Exporter.Handler()
	}
	if cfg.Server.RateLimit > 0 {
		router.Use(httputil.RateLimitMiddleware(httputil.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.BurstLimit)))
	}

	httpapi.NewAPIHandlers(deps, logger).SetupRoutes(router)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server listening", logutil.Fields{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", logutil.Fields{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", logutil.Fields{"error": err.Error()})
	}
	container.Shutdown(shutdownCtx)

	logger.Info("Server exited")
}
